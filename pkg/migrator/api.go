// Package migrator provides the public API for running migrations.
package migrator

import (
	"context"
	"os"

	"github.com/rs/zerolog"

	icfg "ledgermig/internal/config"
	ipg "ledgermig/internal/driver/postgres"
	im "ledgermig/internal/migrator"
)

// Re-exported so callers outside this module can inspect results.
type (
	Direction = im.Direction
	Outcome   = im.Outcome
	StatusRow = im.StatusRow
	Error     = im.Error
)

const (
	Up   = im.Up
	Down = im.Down
)

// session opens the database, takes one connection and builds a runner.
// The returned release func must be called on every path.
func session(ctx context.Context, c icfg.Config, log zerolog.Logger) (*im.Runner, *ipg.Session, func(), error) {
	if err := c.Validate(); err != nil {
		return nil, nil, nil, err
	}
	ledger, err := im.NewLedger(c.Ledger.Table, c.Ledger.NameColumn, c.Ledger.TimeColumn)
	if err != nil {
		return nil, nil, nil, err
	}
	if st, err := os.Stat(c.Path); err != nil || !st.IsDir() {
		if err == nil {
			err = &os.PathError{Op: "open", Path: c.Path, Err: os.ErrInvalid}
		}
		return nil, nil, nil, &im.Error{Kind: im.KindIO, Subject: c.Path, Err: err}
	}
	db, err := ipg.Connect(ctx, c.ConnString())
	if err != nil {
		return nil, nil, nil, err
	}
	sess, err := db.Acquire(ctx)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	release := func() {
		sess.Release()
		db.Close()
	}
	if c.Ledger.Create {
		if err := sess.EnsureLedger(ctx, ledger); err != nil {
			release()
			return nil, nil, nil, err
		}
	}
	r := im.NewRunner(ledger, im.NewDirLoader(os.DirFS(c.Path), c.Ext), log)
	return r, sess, release, nil
}

// Run applies (up) or reverts (down) pending changes, stopping at target
// when it names an available version.
func Run(ctx context.Context, c icfg.Config, dir Direction, target string, log zerolog.Logger) (Outcome, error) {
	r, sess, release, err := session(ctx, c, log)
	if err != nil {
		return Outcome{Direction: dir, Target: target, State: im.Failed}, err
	}
	defer release()
	return r.Run(ctx, sess, dir, target)
}

// Status returns the state of every known change.
func Status(ctx context.Context, c icfg.Config, log zerolog.Logger) ([]StatusRow, error) {
	r, sess, release, err := session(ctx, c, log)
	if err != nil {
		return nil, err
	}
	defer release()
	return r.Status(ctx, sess)
}

// Version returns the version of the most recently applied change.
func Version(ctx context.Context, c icfg.Config, log zerolog.Logger) (string, error) {
	r, sess, release, err := session(ctx, c, log)
	if err != nil {
		return "", err
	}
	defer release()
	return r.Version(ctx, sess)
}
