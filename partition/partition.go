// Package partition holds the entid-allocation partition map: the
// mapping from partition name to an allocation range an InProgress
// draws new entity ids from.
package partition

import (
	"fmt"

	"github.com/estuary/datomcore/schema"
)

// Well-known partition names, matching the bootstrap layout any
// datomcore-backed store is initialized with.
const (
	DB   = ":db.part/db"
	Tx   = ":db.part/tx"
	User = ":db.part/user"
)

// USER0 is the first entid of the user partition in a freshly bootstrapped
// store.
const USER0 schema.Entid = 0x10000

// DB0 and Tx0 are the first entids of the schema and transaction
// partitions respectively. DB0 lies below USER0 and Tx0 above the user
// range, so that user, schema, and transaction entids never collide.
const (
	DB0 schema.Entid = 0
	Tx0 schema.Entid = 0x10000000
)

// Allocation is a single partition's range: [Start, End) bounds the
// partition, and NextIndex is the next entid that will be handed out.
// Invariant: Start <= NextIndex <= End.
type Allocation struct {
	Start     schema.Entid
	End       schema.Entid
	NextIndex schema.Entid
}

// Map is the partition name -> Allocation mapping. It is always cloned
// in and moved back out of an InProgress by value; it is never shared
// mutably between goroutines.
type Map map[string]Allocation

// Bootstrap returns the partition map a fresh, never-before-used store is
// initialized with.
func Bootstrap() Map {
	return Map{
		DB:   {Start: DB0, End: USER0, NextIndex: DB0 + 1},
		Tx:   {Start: Tx0, End: 1 << 62, NextIndex: Tx0 + 1},
		User: {Start: USER0, End: Tx0, NextIndex: USER0},
	}
}

// Clone returns an independent copy of the map; entries are plain structs
// so the copy is a genuine deep copy.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Allocate draws the next entid from the named partition, advancing its
// NextIndex. It returns an error if the partition is unknown or exhausted.
func (m Map) Allocate(partition string) (schema.Entid, error) {
	alloc, ok := m[partition]
	if !ok {
		return 0, fmt.Errorf("unknown partition %q", partition)
	}
	if alloc.NextIndex >= alloc.End {
		return 0, fmt.Errorf("partition %q is exhausted", partition)
	}
	id := alloc.NextIndex
	alloc.NextIndex++
	m[partition] = alloc
	return id, nil
}

// Contains reports whether entid e falls within the named partition's
// allocated range [Start, NextIndex).
func (m Map) Contains(partition string, e schema.Entid) bool {
	alloc, ok := m[partition]
	if !ok {
		return false
	}
	return e >= alloc.Start && e < alloc.NextIndex
}

// PartitionOf returns the name of the partition containing entid e, if any.
func (m Map) PartitionOf(e schema.Entid) (string, bool) {
	for name, alloc := range m {
		if e >= alloc.Start && e < alloc.NextIndex {
			return name, true
		}
	}
	return "", false
}
