package cache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/datomcore/backingstore"
	"github.com/estuary/datomcore/cache"
	"github.com/estuary/datomcore/schema"
)

const personName schema.Entid = 1

func TestRegisterEagerPrefetchesOnce(t *testing.T) {
	c := cache.New(0)
	calls := 0
	fetchAll := func(ctx context.Context, tx backingstore.Tx, attr schema.Entid) (map[schema.Entid][]schema.Value, error) {
		calls++
		return map[schema.Entid][]schema.Value{
			10: {schema.NewString("alice")},
		}, nil
	}

	require.NoError(t, c.Register(context.Background(), nil, personName, cache.ModeEager, fetchAll))
	require.NoError(t, c.Register(context.Background(), nil, personName, cache.ModeEager, fetchAll))
	require.Equal(t, 1, calls, "re-registering an already-registered attribute must not re-fetch")

	mode, ok := c.Registered(personName)
	require.True(t, ok)
	require.Equal(t, cache.ModeEager, mode)

	values, cached, err := c.GetAll(context.Background(), nil, 10, personName, nil)
	require.NoError(t, err)
	require.True(t, cached)
	require.Equal(t, []schema.Value{schema.NewString("alice")}, values)
}

func TestLazyModeMemoizesOnFirstMiss(t *testing.T) {
	c := cache.New(0)
	require.NoError(t, c.Register(context.Background(), nil, personName, cache.ModeLazy, nil))

	calls := 0
	fetchOne := func(ctx context.Context, tx backingstore.Tx, entity, attr schema.Entid) ([]schema.Value, error) {
		calls++
		return []schema.Value{schema.NewLong(30)}, nil
	}

	v1, cached, err := c.GetAll(context.Background(), nil, 5, personName, fetchOne)
	require.NoError(t, err)
	require.True(t, cached)
	require.Equal(t, []schema.Value{schema.NewLong(30)}, v1)
	require.Equal(t, 1, calls)

	v2, cached, err := c.GetAll(context.Background(), nil, 5, personName, fetchOne)
	require.NoError(t, err)
	require.True(t, cached)
	require.Equal(t, v1, v2)
	require.Equal(t, 1, calls, "second lookup of the same entity must be a memoized hit")
}

func TestGetAllMissWhenUnregistered(t *testing.T) {
	c := cache.New(0)
	_, cached, err := c.GetAll(context.Background(), nil, 5, personName, nil)
	require.NoError(t, err)
	require.False(t, cached)
}

func TestDeregisterUnknownReturnsErrNotCached(t *testing.T) {
	c := cache.New(0)
	err := c.Deregister(personName)
	require.ErrorIs(t, err, cache.ErrNotCached)
}

func TestDeregisterThenReregisterRefetches(t *testing.T) {
	c := cache.New(0)
	calls := 0
	fetchAll := func(ctx context.Context, tx backingstore.Tx, attr schema.Entid) (map[schema.Entid][]schema.Value, error) {
		calls++
		return map[schema.Entid][]schema.Value{}, nil
	}

	require.NoError(t, c.Register(context.Background(), nil, personName, cache.ModeEager, fetchAll))
	require.NoError(t, c.Deregister(personName))
	require.NoError(t, c.Register(context.Background(), nil, personName, cache.ModeEager, fetchAll))
	require.Equal(t, 2, calls)
}

func TestWriteHandlePassthroughDoesNotDeadlock(t *testing.T) {
	c := cache.New(0)
	handle := c.Lock()
	defer handle.Release()

	fetchAll := func(ctx context.Context, tx backingstore.Tx, attr schema.Entid) (map[schema.Entid][]schema.Value, error) {
		return map[schema.Entid][]schema.Value{7: {schema.NewBoolean(true)}}, nil
	}
	require.NoError(t, handle.Register(context.Background(), nil, personName, cache.ModeEager, fetchAll))

	values, cached, err := handle.GetAll(context.Background(), nil, 7, personName, nil)
	require.NoError(t, err)
	require.True(t, cached)
	require.Equal(t, []schema.Value{schema.NewBoolean(true)}, values)
}
