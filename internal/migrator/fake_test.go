package migrator

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB is an in-memory database with transactional ledger and schema state.
// Bodies containing failOn ("FAIL" by default) fail with a syntax error.
// onExec, when set, sees every statement sent inside a transaction before it runs.
type fakeDB struct {
	ledger []AppliedRecord
	schema []string
	clock  time.Time

	failOn    string
	queryErr  error
	ledgerErr error
	beginErr  error
	onExec    func(sql string)

	statements []string
	begun      int
	committed  int
	rolledBack int
}

func newFakeDB(applied ...string) *fakeDB {
	db := &fakeDB{clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), failOn: "FAIL"}
	for _, name := range applied {
		db.ledger = append(db.ledger, AppliedRecord{Name: name, AppliedAt: db.tick()})
		db.schema = append(db.schema, name)
	}
	return db
}

func (db *fakeDB) tick() time.Time {
	db.clock = db.clock.Add(time.Second)
	return db.clock
}

func (db *fakeDB) names() []string {
	out := make([]string, 0, len(db.ledger))
	for _, r := range db.ledger {
		out = append(out, r.Name)
	}
	slices.Sort(out)
	return out
}

func (db *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	st := &state{ledger: db.ledger, schema: db.schema}
	tag, err := db.exec(st, sql, args...)
	db.ledger, db.schema = st.ledger, st.schema
	return tag, err
}

func (db *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return db.query(db.ledger, sql)
}

func (db *fakeDB) Begin(ctx context.Context) (Tx, error) {
	if db.beginErr != nil {
		return nil, db.beginErr
	}
	db.begun++
	return &fakeTx{db: db, st: state{
		ledger: slices.Clone(db.ledger),
		schema: slices.Clone(db.schema),
	}}, nil
}

type state struct {
	ledger []AppliedRecord
	schema []string
}

func (db *fakeDB) exec(st *state, sql string, args ...any) (pgconn.CommandTag, error) {
	db.statements = append(db.statements, sql)
	switch {
	case strings.HasPrefix(sql, "INSERT INTO "):
		if db.ledgerErr != nil {
			return pgconn.CommandTag{}, db.ledgerErr
		}
		name := args[0].(string)
		for _, r := range st.ledger {
			if r.Name == name {
				return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505", Message: "duplicate key"}
			}
		}
		st.ledger = append(st.ledger, AppliedRecord{Name: name, AppliedAt: db.tick()})
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case strings.HasPrefix(sql, "DELETE FROM "):
		if db.ledgerErr != nil {
			return pgconn.CommandTag{}, db.ledgerErr
		}
		name := args[0].(string)
		st.ledger = slices.DeleteFunc(st.ledger, func(r AppliedRecord) bool { return r.Name == name })
		return pgconn.NewCommandTag("DELETE 1"), nil
	}
	if db.failOn != "" && strings.Contains(sql, db.failOn) {
		return pgconn.CommandTag{}, &pgconn.PgError{Code: "42601", Message: "syntax error at or near \"FAIL\""}
	}
	st.schema = append(st.schema, strings.TrimSpace(sql))
	return pgconn.NewCommandTag("OK"), nil
}

func (db *fakeDB) query(ledger []AppliedRecord, sql string) (pgx.Rows, error) {
	db.statements = append(db.statements, sql)
	if db.queryErr != nil {
		return nil, db.queryErr
	}
	recs := slices.Clone(ledger)
	slices.SortFunc(recs, func(a, b AppliedRecord) int { return b.AppliedAt.Compare(a.AppliedAt) })
	return &fakeRows{recs: recs, idx: -1}, nil
}

type fakeTx struct {
	db     *fakeDB
	st     state
	closed bool
}

var errTxClosed = errors.New("tx is closed")

func (tx *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx.closed {
		return pgconn.CommandTag{}, errTxClosed
	}
	if tx.db.onExec != nil {
		tx.db.onExec(sql)
	}
	if err := ctx.Err(); err != nil {
		return pgconn.CommandTag{}, err
	}
	return tx.db.exec(&tx.st, sql, args...)
}

func (tx *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx.closed {
		return nil, errTxClosed
	}
	return tx.db.query(tx.st.ledger, sql)
}

func (tx *fakeTx) Commit(ctx context.Context) error {
	if tx.closed {
		return errTxClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.closed = true
	tx.db.committed++
	tx.db.ledger, tx.db.schema = tx.st.ledger, tx.st.schema
	return nil
}

func (tx *fakeTx) Rollback(ctx context.Context) error {
	if tx.closed {
		return errTxClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.closed = true
	tx.db.rolledBack++
	return nil
}

type fakeRows struct {
	recs []AppliedRecord
	idx  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx < len(r.recs)
}

func (r *fakeRows) Scan(dest ...any) error {
	rec := r.recs[r.idx]
	*dest[0].(*string) = rec.Name
	at := rec.AppliedAt
	*dest[1].(**time.Time) = &at
	return nil
}

func (r *fakeRows) Values() ([]any, error) {
	rec := r.recs[r.idx]
	return []any{rec.Name, rec.AppliedAt}, nil
}
