// Package backingstore defines the relational backing-store contract the
// core requires (transactions with DEFERRED/IMMEDIATE semantics, a
// distinguishable Busy error), and a concrete SQLite-backed
// implementation of it.
package backingstore

import (
	"context"
	"database/sql"
	"errors"
)

// ErrBusy is returned when an IMMEDIATE transaction cannot be acquired
// because another writer already holds the lock. Callers choose whether
// to retry.
var ErrBusy = errors.New("backing store is busy")

// Tx is a single backing-store transaction: parameterized SQL execution,
// plus commit/rollback. Row-scanning helpers mirror database/sql's own
// shape so a *sql.Tx satisfies this trivially.
type Tx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Commit() error
	Rollback() error
}

// Backing is the connection-level contract: it can start DEFERRED
// transactions (for reads) and IMMEDIATE transactions (for writers,
// failing fast with ErrBusy rather than blocking indefinitely).
type Backing interface {
	BeginDeferred(ctx context.Context) (Tx, error)
	BeginImmediate(ctx context.Context) (Tx, error)
	Close() error
}
