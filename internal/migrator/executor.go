package migrator

import (
	"context"

	"github.com/rs/zerolog"
)

// Executor applies a plan inside one transaction. Either every step of the
// plan is committed together with its ledger write, or nothing is.
type Executor struct {
	Ledger *Ledger
	Source ChangeSource
	Log    zerolog.Logger
}

// Apply runs plan in dir. When target is set the run stops after the first
// step whose version equals it. On any failure the whole transaction is
// rolled back and the returned outcome is Failed.
func (e *Executor) Apply(ctx context.Context, conn Conn, plan []Change, dir Direction, target string) (Outcome, error) {
	out := Outcome{Direction: dir, Target: target, Planned: plan}
	if len(plan) == 0 {
		return out, nil
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		out.State = Failed
		return out, Classify(err, KindConnection, "")
	}

	fail := func(err error) (Outcome, error) {
		e.Log.Error().Err(unwrapCause(err)).Int("undone", len(out.Done)).Msg("Rolling back")
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			e.Log.Error().Err(rbErr).Msg("Rollback failed")
		}
		out.Done = nil
		out.State = Failed
		return out, err
	}

	for _, c := range plan {
		log := e.Log.With().Str("file", c.File).Str("version", c.Version).Logger()
		if dir == Up {
			log.Info().Msg("Executing migration")
		} else {
			log.Info().Msg("Reverting migration")
		}

		body, err := e.Source.ReadBody(c)
		if err != nil {
			return fail(err)
		}
		if _, err := tx.Exec(ctx, body); err != nil {
			return fail(&Error{Kind: KindStatement, Subject: c.File, Err: err})
		}
		if dir == Up {
			err = e.Ledger.RecordApplied(ctx, tx, c.Name)
		} else {
			err = e.Ledger.RecordReverted(ctx, tx, c.Name)
		}
		if err != nil {
			return fail(err)
		}
		out.Done = append(out.Done, c)

		if dir == Up {
			log.Info().Msg("Migration executed successfully")
		} else {
			log.Info().Msg("Migration reverted successfully")
		}
		if target != "" && c.Version == target {
			out.Reached = true
			log.Info().Str("target", target).Msg("Reached target version")
			break
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(Classify(err, KindUnknown, ""))
	}
	return out, nil
}

func unwrapCause(err error) error {
	if e, ok := err.(*Error); ok && e.Err != nil {
		return e.Err
	}
	return err
}
