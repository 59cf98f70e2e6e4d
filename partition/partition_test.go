package partition_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/datomcore/partition"
	"github.com/estuary/datomcore/schema"
)

func TestBootstrapAllocatesFromUser0(t *testing.T) {
	pm := partition.Bootstrap()

	id, err := pm.Allocate(partition.User)
	require.NoError(t, err)
	require.Equal(t, partition.USER0, id)

	id, err = pm.Allocate(partition.User)
	require.NoError(t, err)
	require.Equal(t, partition.USER0+1, id)
}

func TestAllocateUnknownPartition(t *testing.T) {
	pm := partition.Bootstrap()
	_, err := pm.Allocate(":db.part/nonsense")
	require.Error(t, err)
}

func TestCloneIsIndependent(t *testing.T) {
	pm := partition.Bootstrap()
	clone := pm.Clone()

	_, err := clone.Allocate(partition.User)
	require.NoError(t, err)

	original := pm[partition.User]
	require.Equal(t, partition.USER0, original.NextIndex)
}

func TestContainsAndPartitionOf(t *testing.T) {
	pm := partition.Bootstrap()
	id, err := pm.Allocate(partition.User)
	require.NoError(t, err)

	require.True(t, pm.Contains(partition.User, id))
	require.False(t, pm.Contains(partition.User, id+1))

	name, ok := pm.PartitionOf(id)
	require.True(t, ok)
	require.Equal(t, partition.User, name)

	_, ok = pm.PartitionOf(schema.Entid(-1))
	require.False(t, ok)
}
