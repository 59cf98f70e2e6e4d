package conn

import (
	"context"

	"github.com/estuary/datomcore/backingstore"
)

// Store bundles a backing store with the Conn connected to it, for
// callers that want single-process ownership of both lifetimes together.
type Store struct {
	Backing *backingstore.SQLiteBacking
	Conn    *Conn
}

// Open opens a SQLite backing store at path and connects to it,
// returning both halves as a single Store. Close releases the backing
// store's pooled connection.
func Open(ctx context.Context, path string, deps Dependencies) (*Store, error) {
	backing, err := backingstore.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}

	c, err := Connect(ctx, backing, deps)
	if err != nil {
		_ = backing.Close()
		return nil, err
	}

	return &Store{Backing: backing, Conn: c}, nil
}

// Close releases the backing store's resources.
func (s *Store) Close() error {
	return s.Backing.Close()
}
