package conn

import (
	"context"
	"fmt"
	"sync"

	"github.com/estuary/datomcore/backingstore"
	"github.com/estuary/datomcore/partition"
	"github.com/estuary/datomcore/schema"
)

// metadata is the process-wide authoritative triple {generation,
// partitions, schema}, guarded by a single exclusive mutex. Critical
// sections are short: a snapshot on transaction begin, and a publish on
// commit. The mutex is held across the backing-store COMMIT call itself
// so the generation advance is observably atomic with the persisted
// state change.
type metadata struct {
	mu sync.Mutex

	generation uint64
	partitions partition.Map
	schema     *schema.Schema

	// broken is set if a panic unwound out of the commit critical
	// section, so every subsequent acquirer observes the same
	// unrecoverable state rather than silently proceeding against it.
	broken bool
}

func newMetadata(pm partition.Map, sch *schema.Schema) *metadata {
	return &metadata{
		generation: 0,
		partitions: pm,
		schema:     sch,
	}
}

// snapshot copies out (generation, partitions, schema) under a single,
// short lock acquisition.
func (m *metadata) snapshot() (uint64, partition.Map, *schema.Schema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.broken {
		return 0, nil, nil, errBroken
	}
	return m.generation, m.partitions.Clone(), m.schema, nil
}

// currentSchema clones the shared schema handle under the metadata lock.
func (m *metadata) currentSchema() (*schema.Schema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.broken {
		return nil, errBroken
	}
	return m.schema, nil
}

// commit implements the commit protocol's critical section: verify the
// generation hasn't moved since begin, commit the backing-store
// transaction (with the draft state persisted inside that same backing
// transaction), then publish the new partition map and, if changed, a new
// schema snapshot, and advance the generation by exactly one.
func (m *metadata) commit(
	ctx context.Context,
	tx backingstore.Tx,
	snapshotGeneration uint64,
	draftPartitions partition.Map,
	draftSchema *schema.Schema,
) (newGeneration uint64, err error) {
	m.mu.Lock()
	defer func() {
		if r := recover(); r != nil {
			// A panic inside the critical section leaves metadata in an
			// indeterminate state; mark it broken for every subsequent
			// acquirer, then re-panic so the failure isn't swallowed.
			m.broken = true
			m.mu.Unlock()
			panic(r)
		}
		m.mu.Unlock()
	}()

	if m.broken {
		return 0, errBroken
	}

	if snapshotGeneration != m.generation {
		return 0, raceError()
	}

	if err := backingstore.PersistWithinTx(ctx, tx, draftPartitions, draftSchema); err != nil {
		return 0, newError(KindDbError, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapBacking(err)
	}

	m.generation++
	m.partitions = draftPartitions
	if !m.schema.Equal(draftSchema) {
		m.schema = draftSchema
	}

	return m.generation, nil
}

var errBroken = newError(KindDbError, fmt.Errorf("metadata is broken: a prior commit panicked mid-critical-section"))
