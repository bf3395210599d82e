package migrator

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Direction represents the direction of a migration (up or down).
type Direction string

const (
	// Up applies changes.
	Up Direction = "up"
	// Down reverts changes.
	Down Direction = "down"
)

// Change is a single directional SQL file.
type Change struct {
	Version   string
	Name      string
	Direction Direction
	File      string
}

// AppliedRecord is one row of the ledger table.
type AppliedRecord struct {
	Name      string
	AppliedAt time.Time
}

// Querier is the subset of a pgx connection or transaction used by the ledger.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Tx is the transaction a run executes in. pgx.Tx satisfies it.
type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Conn is the single database connection owned by one run.
type Conn interface {
	Querier
	Begin(ctx context.Context) (Tx, error)
}

// State is the terminal state of a run.
type State int

const (
	Succeeded State = iota
	Failed
)

func (s State) String() string {
	if s == Failed {
		return "failed"
	}
	return "succeeded"
}

// Outcome describes what a run did.
type Outcome struct {
	Direction Direction
	Target    string
	Planned   []Change
	Done      []Change
	// Reached is set when the run stopped at Target.
	Reached bool
	State   State
}
