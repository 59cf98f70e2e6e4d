package backingstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/datomcore/backingstore"
)

func openTemp(t *testing.T) *backingstore.SQLiteBacking {
	t.Helper()
	b, err := backingstore.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, b.Close()) })
	return b
}

func TestBootstrapIsIdempotent(t *testing.T) {
	b := openTemp(t)
	ctx := context.Background()

	pm1, sch1, err := backingstore.Bootstrap(ctx, b)
	require.NoError(t, err)
	require.Equal(t, 0, sch1.Len())

	pm2, _, err := backingstore.Bootstrap(ctx, b)
	require.NoError(t, err)
	require.Equal(t, pm1, pm2)
}

func TestImmediateTransactionCommits(t *testing.T) {
	b := openTemp(t)
	ctx := context.Background()
	_, _, err := backingstore.Bootstrap(ctx, b)
	require.NoError(t, err)

	tx, err := b.BeginImmediate(ctx)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, `INSERT INTO datomcore_partitions (name, start, end, next_index) VALUES ('probe', 0, 1, 0)`)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	row := b.DB().QueryRowContext(ctx, `SELECT next_index FROM datomcore_partitions WHERE name = 'probe'`)
	var next int64
	require.NoError(t, row.Scan(&next))
	require.Equal(t, int64(0), next)
}

func TestPersistWithinTxRoundTrips(t *testing.T) {
	b := openTemp(t)
	ctx := context.Background()
	pm, sch, err := backingstore.Bootstrap(ctx, b)
	require.NoError(t, err)

	tx, err := b.BeginImmediate(ctx)
	require.NoError(t, err)

	require.NoError(t, backingstore.PersistWithinTx(ctx, tx, pm, sch))
	require.NoError(t, tx.Commit())

	_, reloaded, err := backingstore.Bootstrap(ctx, b)
	require.NoError(t, err)
	require.Equal(t, sch.Len(), reloaded.Len())
}

// TestSecondImmediateTransactionFailsBusyWithoutBlocking exercises the race
// scenario with two independent connections against the same on-disk file,
// since an in-process ":memory:" database is never shared across separate
// *sql.DB handles.
func TestSecondImmediateTransactionFailsBusyWithoutBlocking(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "race.db")

	a, err := backingstore.OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer a.Close()
	_, _, err = backingstore.Bootstrap(ctx, a)
	require.NoError(t, err)

	bb, err := backingstore.OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer bb.Close()

	txA, err := a.BeginImmediate(ctx)
	require.NoError(t, err)
	defer txA.Rollback()

	_, err = bb.BeginImmediate(ctx)
	require.ErrorIs(t, err, backingstore.ErrBusy)
}
