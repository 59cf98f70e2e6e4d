// Package cache implements the attribute-value cache: a mapping from
// attribute entid to either an eagerly-prefetched or lazily-memoized set
// of entity->value(s), guarded by a read-write lock shared with any
// active writer transaction.
package cache

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/estuary/datomcore/backingstore"
	"github.com/estuary/datomcore/schema"
)

// Mode is how a registered attribute's values are obtained.
type Mode int

const (
	// ModeEager prefetches every current value on Register.
	ModeEager Mode = iota
	// ModeLazy memoizes values on first lookup.
	ModeLazy
)

func (m Mode) String() string {
	if m == ModeEager {
		return "eager"
	}
	return "lazy"
}

// DefaultLazyCapacity bounds the number of entities memoized per
// lazily-registered attribute.
const DefaultLazyCapacity = 4096

type entry struct {
	mode  Mode
	eager map[schema.Entid][]schema.Value
	lazy  *lru.Cache[schema.Entid, []schema.Value]
}

// Cache is the attribute-value cache. The zero value is not usable; build
// one with New.
type Cache struct {
	mu           sync.RWMutex
	entries      map[schema.Entid]*entry
	lazyCapacity int
}

// New returns an empty cache whose lazily-registered attributes memoize
// up to lazyCapacity entities each.
func New(lazyCapacity int) *Cache {
	if lazyCapacity <= 0 {
		lazyCapacity = DefaultLazyCapacity
	}
	return &Cache{
		entries:      make(map[schema.Entid]*entry),
		lazyCapacity: lazyCapacity,
	}
}

// WriteHandle is exclusive access to the cache, held for the duration of
// an active writer InProgress so the cache cannot observe a partially
// committed schema/attribute state. Release must be called exactly once.
type WriteHandle struct {
	c *Cache
}

// Lock acquires exclusive access to the cache. It blocks until no readers
// and no other writer hold it.
func (c *Cache) Lock() *WriteHandle {
	c.mu.Lock()
	return &WriteHandle{c: c}
}

// Release relinquishes the exclusive handle.
func (h *WriteHandle) Release() {
	h.c.mu.Unlock()
}

// FetchAllFunc eagerly prefetches every current value of an attribute.
type FetchAllFunc func(ctx context.Context, tx backingstore.Tx, attr schema.Entid) (map[schema.Entid][]schema.Value, error)

// FetchOneFunc fetches the current value(s) of a single entity/attribute.
type FetchOneFunc func(ctx context.Context, tx backingstore.Tx, entity, attr schema.Entid) ([]schema.Value, error)

// Register installs attr in the given mode. If attr is already registered
// in the same mode, this is a no-op (idempotent). If attr is registered in
// a *different* mode, the existing mode is kept and Register still
// returns success — re-registering under a different mode never errors
// and never switches modes.
//
// fetchAll is called to eagerly prefetch values when mode is ModeEager and
// attr is not already registered; it is not called for ModeLazy or for an
// already-registered attribute.
func (c *Cache) Register(ctx context.Context, tx backingstore.Tx, attr schema.Entid, mode Mode, fetchAll FetchAllFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registerLocked(ctx, tx, attr, mode, fetchAll)
}

// Register is the WriteHandle counterpart of Cache.Register, for use by a
// caller that already holds the exclusive handle (an active InProgress)
// and so must not re-acquire the mutex.
func (h *WriteHandle) Register(ctx context.Context, tx backingstore.Tx, attr schema.Entid, mode Mode, fetchAll FetchAllFunc) error {
	return h.c.registerLocked(ctx, tx, attr, mode, fetchAll)
}

func (c *Cache) registerLocked(ctx context.Context, tx backingstore.Tx, attr schema.Entid, mode Mode, fetchAll FetchAllFunc) error {
	if _, ok := c.entries[attr]; ok {
		return nil // idempotent no-op regardless of requested mode
	}

	e := &entry{mode: mode}
	switch mode {
	case ModeEager:
		values, err := fetchAll(ctx, tx, attr)
		if err != nil {
			return fmt.Errorf("prefetching attribute %d: %w", attr, err)
		}
		e.eager = values
	case ModeLazy:
		l, err := lru.New[schema.Entid, []schema.Value](c.lazyCapacity)
		if err != nil {
			return fmt.Errorf("allocating lazy cache for attribute %d: %w", attr, err)
		}
		e.lazy = l
	}

	c.entries[attr] = e
	return nil
}

// ErrNotCached is returned by Deregister when attr is not currently
// registered.
var ErrNotCached = fmt.Errorf("attribute is not cached")

// Deregister removes attr from the cache. Returns ErrNotCached if absent.
func (c *Cache) Deregister(attr schema.Entid) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deregisterLocked(attr)
}

// Deregister is the WriteHandle counterpart of Cache.Deregister.
func (h *WriteHandle) Deregister(attr schema.Entid) error {
	return h.c.deregisterLocked(attr)
}

func (c *Cache) deregisterLocked(attr schema.Entid) error {
	if _, ok := c.entries[attr]; !ok {
		return ErrNotCached
	}
	delete(c.entries, attr)
	return nil
}

// Get returns the single value an entity asserts for a cardinality-one
// attribute, fetching and memoizing on a lazy miss. found reports whether
// the entity has a value. cached reports a cache hit (attribute
// registered, regardless of whether the entity itself has a value);
// cached=false means the caller should fall back to an uncached
// backing-store query.
func (c *Cache) Get(ctx context.Context, tx backingstore.Tx, entity, attr schema.Entid, fetchOne FetchOneFunc) (value schema.Value, found bool, cached bool, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return firstOf(c.getAllLocked(ctx, tx, entity, attr, fetchOne))
}

// GetAll returns every value an entity asserts for attr.
func (c *Cache) GetAll(ctx context.Context, tx backingstore.Tx, entity, attr schema.Entid, fetchOne FetchOneFunc) (values []schema.Value, cached bool, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.getAllLocked(ctx, tx, entity, attr, fetchOne)
}

// Get is the WriteHandle counterpart of Cache.Get.
func (h *WriteHandle) Get(ctx context.Context, tx backingstore.Tx, entity, attr schema.Entid, fetchOne FetchOneFunc) (value schema.Value, found bool, cached bool, err error) {
	return firstOf(h.c.getAllLocked(ctx, tx, entity, attr, fetchOne))
}

// GetAll is the WriteHandle counterpart of Cache.GetAll.
func (h *WriteHandle) GetAll(ctx context.Context, tx backingstore.Tx, entity, attr schema.Entid, fetchOne FetchOneFunc) (values []schema.Value, cached bool, err error) {
	return h.c.getAllLocked(ctx, tx, entity, attr, fetchOne)
}

func firstOf(values []schema.Value, cached bool, err error) (schema.Value, bool, bool, error) {
	if err != nil || !cached {
		return schema.Value{}, false, cached, err
	}
	if len(values) == 0 {
		return schema.Value{}, false, true, nil
	}
	return values[0], true, true, nil
}

func (c *Cache) getAllLocked(ctx context.Context, tx backingstore.Tx, entity, attr schema.Entid, fetchOne FetchOneFunc) ([]schema.Value, bool, error) {
	e, ok := c.entries[attr]
	if !ok {
		return nil, false, nil
	}

	switch e.mode {
	case ModeEager:
		return e.eager[entity], true, nil
	case ModeLazy:
		if values, ok := e.lazy.Get(entity); ok {
			return values, true, nil
		}
		values, err := fetchOne(ctx, tx, entity, attr)
		if err != nil {
			return nil, true, fmt.Errorf("lazily fetching entity %d attribute %d: %w", entity, attr, err)
		}
		e.lazy.Add(entity, values)
		return values, true, nil
	default:
		return nil, false, nil
	}
}

// Registered reports whether attr currently has a cache entry, and if so
// its mode.
func (c *Cache) Registered(attr schema.Entid) (Mode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registeredLocked(attr)
}

// Registered is the WriteHandle counterpart of Cache.Registered.
func (h *WriteHandle) Registered(attr schema.Entid) (Mode, bool) {
	return h.c.registeredLocked(attr)
}

func (c *Cache) registeredLocked(attr schema.Entid) (Mode, bool) {
	e, ok := c.entries[attr]
	if !ok {
		return 0, false
	}
	return e.mode, true
}
