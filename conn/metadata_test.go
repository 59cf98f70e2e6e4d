package conn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/datomcore/backingstore"
	"github.com/estuary/datomcore/partition"
	"github.com/estuary/datomcore/schema"
)

func TestMetadataCommitAdvancesGeneration(t *testing.T) {
	ctx := context.Background()
	b, err := backingstore.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer b.Close()
	_, _, err = backingstore.Bootstrap(ctx, b)
	require.NoError(t, err)

	pm := partition.Bootstrap()
	sch := schema.New()
	m := newMetadata(pm, sch)

	gen, draftPm, draftSch, err := m.snapshot()
	require.NoError(t, err)
	require.Equal(t, uint64(0), gen)

	tx, err := b.BeginImmediate(ctx)
	require.NoError(t, err)

	newGen, err := m.commit(ctx, tx, gen, draftPm, draftSch)
	require.NoError(t, err)
	require.Equal(t, uint64(1), newGen)
}

func TestMetadataCommitDetectsRace(t *testing.T) {
	ctx := context.Background()
	b, err := backingstore.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer b.Close()
	_, _, err = backingstore.Bootstrap(ctx, b)
	require.NoError(t, err)

	pm := partition.Bootstrap()
	sch := schema.New()
	m := newMetadata(pm, sch)

	// Two snapshots are taken, as if two writers began concurrently.
	gen1, pm1, sch1, err := m.snapshot()
	require.NoError(t, err)
	gen2, pm2, sch2, err := m.snapshot()
	require.NoError(t, err)
	require.Equal(t, gen1, gen2)

	tx1, err := b.BeginImmediate(ctx)
	require.NoError(t, err)
	_, err = m.commit(ctx, tx1, gen1, pm1, sch1)
	require.NoError(t, err)

	tx2, err := b.BeginImmediate(ctx)
	require.NoError(t, err)
	_, err = m.commit(ctx, tx2, gen2, pm2, sch2)
	require.Error(t, err)
	require.True(t, IsKind(err, KindRace))
	require.NoError(t, tx2.Rollback())
}
