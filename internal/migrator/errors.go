package migrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies every error a run can report.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindConnection
	KindSchema
	KindAuth
	KindIO
	KindStatement
)

var kindNames = [...]string{"unknown", "config", "connection", "schema", "auth", "io", "statement"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the only error type returned from a run. Err keeps the original
// cause for logging; Error() never prints raw driver text.
type Error struct {
	Kind Kind
	// Subject names the change, file or path involved, if any.
	Subject string
	// Missing lists absent configuration keys for KindConfig.
	Missing []string
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindConfig:
		if len(e.Missing) > 0 {
			return "missing required configuration: " + strings.Join(e.Missing, ", ")
		}
		if e.Subject != "" {
			return "invalid configuration: " + e.Subject
		}
		return "invalid configuration"
	case KindConnection:
		return "cannot connect to the database"
	case KindSchema:
		return "ledger table or column does not exist; check the ledger configuration"
	case KindAuth:
		return "the database rejected the supplied credentials"
	case KindIO:
		if e.Subject != "" {
			return "cannot read migration files: " + e.Subject
		}
		return "cannot read migration files"
	case KindStatement:
		msg := "migration " + e.Subject + " failed"
		var pgErr *pgconn.PgError
		if errors.As(e.Err, &pgErr) {
			msg += ": " + pgErr.Message
		}
		return msg
	}
	return "migration failed"
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Postgres SQLSTATE codes mapped to error kinds.
const (
	codeUndefinedTable       = "42P01"
	codeUndefinedColumn      = "42703"
	codeInvalidSchemaName    = "3F000"
	codeInvalidPassword      = "28P01"
	codeInvalidAuthorization = "28000"
	codeInvalidCatalogName   = "3D000"
)

// Classify maps a driver error onto an *Error. Errors that are already
// classified pass through; unrecognised errors get fallback.
func Classify(err error, fallback Kind, subject string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	kind := fallback
	var pgErr *pgconn.PgError
	var connErr *pgconn.ConnectError
	var parseErr *pgconn.ParseConfigError
	var netErr net.Error
	switch {
	case errors.As(err, &pgErr):
		switch pgErr.Code {
		case codeUndefinedTable, codeUndefinedColumn, codeInvalidSchemaName:
			kind = KindSchema
		case codeInvalidPassword, codeInvalidAuthorization:
			kind = KindAuth
		case codeInvalidCatalogName:
			kind = KindConnection
		}
	case errors.As(err, &parseErr):
		kind = KindConfig
		subject = "malformed connection string"
	case errors.As(err, &connErr), errors.As(err, &netErr):
		kind = KindConnection
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = KindConnection
	}
	return &Error{Kind: kind, Subject: subject, Err: err}
}
