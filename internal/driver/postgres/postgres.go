package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	im "ledgermig/internal/migrator"
)

// DB owns the pool for one process invocation.
type DB struct {
	Pool *pgxpool.Pool
}

// Connect parses dsn, opens a pool and pings the server so that connection
// and credential problems surface before any transaction is opened.
func Connect(ctx context.Context, dsn string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, im.Classify(err, im.KindConfig, "dsn")
	}
	// one run never needs more than its own session
	cfg.MaxConns = 1
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, im.Classify(err, im.KindConnection, "")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, im.Classify(err, im.KindConnection, "")
	}
	return &DB{Pool: pool}, nil
}

func (d *DB) Close() { d.Pool.Close() }

// Acquire takes the single connection a run is executed on. The caller must
// Release it on every path.
func (d *DB) Acquire(ctx context.Context) (*Session, error) {
	conn, err := d.Pool.Acquire(ctx)
	if err != nil {
		return nil, im.Classify(err, im.KindConnection, "")
	}
	return &Session{Conn: conn}, nil
}

// Session adapts a pooled connection to migrator.Conn.
type Session struct {
	*pgxpool.Conn
}

func (s *Session) Begin(ctx context.Context) (im.Tx, error) {
	return s.Conn.Begin(ctx)
}

// EnsureLedger creates the ledger table if it does not exist.
func (s *Session) EnsureLedger(ctx context.Context, l *im.Ledger) error {
	_, err := s.Conn.Exec(ctx, l.CreateSQL())
	return im.Classify(err, im.KindUnknown, "")
}
