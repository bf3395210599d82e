package migrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Ledger reads and writes applied-change records. It never opens a
// transaction of its own; writes join whatever Querier the caller passes.
type Ledger struct {
	table      string
	nameColumn string
	timeColumn string
}

// NewLedger validates the configured identifiers and returns a ledger over
// them. The table may be schema qualified (schema.table).
func NewLedger(table, nameColumn, timeColumn string) (*Ledger, error) {
	tableParts := strings.Split(table, ".")
	if len(tableParts) > 2 {
		return nil, &Error{Kind: KindConfig, Subject: fmt.Sprintf("ledger table %q", table)}
	}
	for _, part := range tableParts {
		if !identRe.MatchString(part) {
			return nil, &Error{Kind: KindConfig, Subject: fmt.Sprintf("ledger table %q", table)}
		}
	}
	for _, col := range []string{nameColumn, timeColumn} {
		if !identRe.MatchString(col) {
			return nil, &Error{Kind: KindConfig, Subject: fmt.Sprintf("ledger column %q", col)}
		}
	}
	return &Ledger{
		table:      pgx.Identifier(tableParts).Sanitize(),
		nameColumn: pgx.Identifier{nameColumn}.Sanitize(),
		timeColumn: pgx.Identifier{timeColumn}.Sanitize(),
	}, nil
}

// ListApplied returns every record, most recently applied first.
func (l *Ledger) ListApplied(ctx context.Context, q Querier) ([]AppliedRecord, error) {
	rows, err := q.Query(ctx, fmt.Sprintf("SELECT %s, %s FROM %s ORDER BY %s DESC",
		l.nameColumn, l.timeColumn, l.table, l.timeColumn))
	if err != nil {
		return nil, Classify(err, KindUnknown, "")
	}
	defer rows.Close()
	res := []AppliedRecord{}
	for rows.Next() {
		var r AppliedRecord
		var at *time.Time
		if err := rows.Scan(&r.Name, &at); err != nil {
			return nil, Classify(err, KindUnknown, "")
		}
		if at != nil {
			r.AppliedAt = *at
		}
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify(err, KindUnknown, "")
	}
	return res, nil
}

// RecordApplied inserts a record for name. clock_timestamp keeps records
// written in the same transaction distinct in time.
func (l *Ledger) RecordApplied(ctx context.Context, q Querier, name string) error {
	_, err := q.Exec(ctx, fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES ($1, clock_timestamp())",
		l.table, l.nameColumn, l.timeColumn), name)
	return Classify(err, KindUnknown, name)
}

// RecordReverted deletes the record for name.
func (l *Ledger) RecordReverted(ctx context.Context, q Querier, name string) error {
	_, err := q.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = $1", l.table, l.nameColumn), name)
	return Classify(err, KindUnknown, name)
}

// CreateSQL returns the statement that creates the ledger table if missing.
func (l *Ledger) CreateSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id  BIGSERIAL PRIMARY KEY,
    %s  TEXT NOT NULL UNIQUE,
    %s  TIMESTAMPTZ NOT NULL DEFAULT now()
)`, l.table, l.nameColumn, l.timeColumn)
}
