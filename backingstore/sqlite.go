package backingstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/mattn/go-sqlite3"
)

// sqliteOpenMu serializes sql.Open/Ping of new SQLite databases. SQLite is
// a bit fickle about raced opens of a newly created database, often
// returning "database is locked" errors; ensuring one open completes
// before the next starts avoids that class of spurious failure. This is
// only required for SQLite, not other drivers.
var sqliteOpenMu sync.Mutex

// SQLiteBacking is the *database/sql standard implementation of Backing,
// using the mattn/go-sqlite3 driver.
type SQLiteBacking struct {
	db *sql.DB
}

// OpenSQLite opens (creating if absent) a SQLite database at path, which
// may be ":memory:" for an ephemeral, process-local database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteBacking, error) {
	sqliteOpenMu.Lock()
	db, err := sql.Open("sqlite3", path)
	if err == nil {
		err = db.PingContext(ctx)
	}
	sqliteOpenMu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %q: %w", path, err)
	}

	// A Store allows only one in-flight transaction at a time, and
	// database/sql's pool would otherwise hand BEGIN IMMEDIATE and its
	// subsequent statements to different underlying connections.
	// Capping the pool at one connection per SQLiteBacking keeps a
	// transaction pinned to the connection it began on.
	db.SetMaxOpenConns(1)

	return &SQLiteBacking{db: db}, nil
}

// Close releases the underlying *sql.DB.
func (b *SQLiteBacking) Close() error {
	return b.db.Close()
}

// DB returns the underlying *sql.DB, for bootstrap DDL that runs outside
// of any single transaction.
func (b *SQLiteBacking) DB() *sql.DB {
	return b.db
}

func (b *SQLiteBacking) begin(ctx context.Context, stmt string) (Tx, error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}

	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		_ = conn.Close()
		if isBusyErr(err) {
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("%s: %w", stmt, err)
	}

	return &sqliteTx{conn: conn}, nil
}

// BeginDeferred starts a DEFERRED transaction: the read lock is acquired
// lazily, on first statement, and other readers and writers may proceed
// concurrently until then.
func (b *SQLiteBacking) BeginDeferred(ctx context.Context) (Tx, error) {
	return b.begin(ctx, "BEGIN DEFERRED")
}

// BeginImmediate starts an IMMEDIATE transaction: a reserved lock is
// acquired up front, so competing writers fail fast with ErrBusy instead
// of blocking (or deadlocking against a subsequent upgrade attempt).
//
// database/sql's BeginTx does not expose SQLite's transaction modes, so
// this issues "BEGIN IMMEDIATE" directly against a connection pinned for
// the lifetime of the transaction.
func (b *SQLiteBacking) BeginImmediate(ctx context.Context) (Tx, error) {
	return b.begin(ctx, "BEGIN IMMEDIATE")
}

// sqliteTx adapts a single pinned *sql.Conn plus raw BEGIN/COMMIT/ROLLBACK
// statements to the Tx interface.
type sqliteTx struct {
	conn *sql.Conn
	done bool
}

func (t *sqliteTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.conn.ExecContext(ctx, query, args...)
}

func (t *sqliteTx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.conn.QueryContext(ctx, query, args...)
}

func (t *sqliteTx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.conn.QueryRowContext(ctx, query, args...)
}

func (t *sqliteTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	_, err := t.conn.ExecContext(context.Background(), "COMMIT")
	if cerr := t.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

func (t *sqliteTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	_, err := t.conn.ExecContext(context.Background(), "ROLLBACK")
	if cerr := t.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// isBusyErr reports whether err reflects SQLite's SQLITE_BUSY or
// SQLITE_LOCKED condition.
func isBusyErr(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}
