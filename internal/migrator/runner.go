package migrator

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Runner wires ledger, loader, resolver and executor for one invocation.
// It holds no state between runs.
type Runner struct {
	Ledger *Ledger
	Source ChangeSource
	Log    zerolog.Logger
}

func NewRunner(ledger *Ledger, source ChangeSource, log zerolog.Logger) *Runner {
	return &Runner{Ledger: ledger, Source: source, Log: log}
}

// Run reads the ledger, resolves the plan for dir and target, and applies it.
func (r *Runner) Run(ctx context.Context, conn Conn, dir Direction, target string) (Outcome, error) {
	applied, err := r.Ledger.ListApplied(ctx, conn)
	if err != nil {
		return Outcome{Direction: dir, Target: target, State: Failed}, err
	}
	changes, err := r.Source.ListChanges(dir)
	if err != nil {
		return Outcome{Direction: dir, Target: target, State: Failed}, err
	}
	plan := Resolve(changes, AppliedNames(applied), dir, target)
	r.Log.Debug().
		Str("direction", string(dir)).
		Str("target", target).
		Int("applied", len(applied)).
		Int("available", len(changes)).
		Int("planned", len(plan)).
		Msg("Resolved plan")

	ex := &Executor{Ledger: r.Ledger, Source: r.Source, Log: r.Log}
	return ex.Apply(ctx, conn, plan, dir, target)
}

// Change states reported by Status.
const (
	StatusApplied = "applied"
	StatusPending = "pending"
	StatusMissing = "missing"
)

// StatusRow describes one change name.
type StatusRow struct {
	Version   string     `yaml:"version"`
	Name      string     `yaml:"name"`
	Status    string     `yaml:"status"`
	AppliedAt *time.Time `yaml:"applied_at,omitempty"`
}

// Status lists every up change with its state, plus ledger records whose
// up file no longer exists, ordered by version then name.
func (r *Runner) Status(ctx context.Context, q Querier) ([]StatusRow, error) {
	applied, err := r.Ledger.ListApplied(ctx, q)
	if err != nil {
		return nil, err
	}
	changes, err := r.Source.ListChanges(Up)
	if err != nil {
		return nil, err
	}
	at := make(map[string]time.Time, len(applied))
	for _, a := range applied {
		at[a.Name] = a.AppliedAt
	}

	rows := make([]StatusRow, 0, len(changes)+len(applied))
	seen := make(map[string]struct{}, len(changes))
	for _, c := range changes {
		seen[c.Name] = struct{}{}
		row := StatusRow{Version: c.Version, Name: c.Name, Status: StatusPending}
		if t, ok := at[c.Name]; ok {
			row.Status = StatusApplied
			row.AppliedAt = &t
		}
		rows = append(rows, row)
	}
	for _, a := range applied {
		if _, ok := seen[a.Name]; ok {
			continue
		}
		t := a.AppliedAt
		rows = append(rows, StatusRow{Version: versionOf(a.Name), Name: a.Name, Status: StatusMissing, AppliedAt: &t})
	}
	slices.SortFunc(rows, func(a, b StatusRow) int {
		if n := cmp.Compare(a.Version, b.Version); n != 0 {
			return n
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return rows, nil
}

// Version returns the version of the most recently applied change, or ""
// when the ledger is empty.
func (r *Runner) Version(ctx context.Context, q Querier) (string, error) {
	applied, err := r.Ledger.ListApplied(ctx, q)
	if err != nil {
		return "", err
	}
	if len(applied) == 0 {
		return "", nil
	}
	return versionOf(applied[0].Name), nil
}

func versionOf(name string) string {
	v, _, _ := strings.Cut(name, "_")
	return v
}
