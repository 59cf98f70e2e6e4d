// Package conn is the core of the datom store connector: Conn and
// InProgress, the metadata singleton they share, and their interaction
// with the attribute cache. See the package-level design notes in
// SPEC_FULL.md for the ACID properties this package preserves.
package conn

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/estuary/datomcore/backingstore"
	"github.com/estuary/datomcore/cache"
	"github.com/estuary/datomcore/schema"
	"github.com/estuary/datomcore/txdata"
)

// Dependencies bundles the external collaborators a Conn delegates to:
// the transactor, the transaction-text parser, the datalog query engine,
// and the direct attribute fetcher the cache uses to populate itself.
// None of these are the core's concern beyond the contracts in package
// txdata; a real deployment supplies its own implementations.
type Dependencies struct {
	Transactor       txdata.Transactor
	Parser           txdata.Parser
	QueryEngine      txdata.QueryEngine
	AttributeFetcher txdata.AttributeFetcher

	// LazyCacheCapacity bounds the per-attribute lazy memo table. Zero
	// selects cache.DefaultLazyCapacity.
	LazyCacheCapacity int
}

// Conn is the process-wide holder of Metadata and the AttributeCache: the
// gate for beginning transactions and running read-only queries.
type Conn struct {
	backing  *backingstore.SQLiteBacking
	metadata *metadata
	cache    *cache.Cache

	transactor  txdata.Transactor
	parser      txdata.Parser
	queryEngine txdata.QueryEngine
	attrFetch   txdata.AttributeFetcher

	log *log.Entry
}

// Connect runs schema-bootstrap on the backing store (idempotent; creates
// tables/indices if absent; loads persisted schema and partitions) and
// returns a ready Conn with initial generation 0. Failure during bootstrap
// is reported as KindBootstrap.
func Connect(ctx context.Context, backing *backingstore.SQLiteBacking, deps Dependencies) (*Conn, error) {
	pm, sch, err := backingstore.Bootstrap(ctx, backing)
	if err != nil {
		return nil, newError(KindBootstrap, err)
	}

	return &Conn{
		backing:     backing,
		metadata:    newMetadata(pm, sch),
		cache:       cache.New(deps.LazyCacheCapacity),
		transactor:  deps.Transactor,
		parser:      deps.Parser,
		queryEngine: deps.QueryEngine,
		attrFetch:   deps.AttributeFetcher,
		log:         log.WithField("component", "conn"),
	}, nil
}

// CurrentSchema briefly acquires the metadata lock and returns the
// current shared schema snapshot.
func (c *Conn) CurrentSchema() (*schema.Schema, error) {
	return c.metadata.currentSchema()
}

// QOnce runs a single datalog query against the backing store's implicit
// read view (a DEFERRED transaction, discarded once the query returns).
func (c *Conn) QOnce(ctx context.Context, query string, inputs []schema.Value) (txdata.Scalar, error) {
	sch, err := c.metadata.currentSchema()
	if err != nil {
		return txdata.Scalar{}, err
	}

	tx, err := c.backing.BeginDeferred(ctx)
	if err != nil {
		return txdata.Scalar{}, wrapBacking(err)
	}
	defer tx.Rollback()

	result, err := c.queryEngine.QueryOnce(ctx, tx, sch, query, inputs)
	if err != nil {
		return txdata.Scalar{}, newError(KindDbError, err)
	}
	return result, nil
}

// PreparedQuery is a query plan bound to the read-only transaction it was
// planned against; Close discards that transaction once the caller is
// done running it.
type PreparedQuery struct {
	inner txdata.PreparedQuery
	tx    backingstore.Tx
}

// Run executes the prepared plan against fresh inputs.
func (p *PreparedQuery) Run(ctx context.Context, inputs []schema.Value) (txdata.Scalar, error) {
	result, err := p.inner.Run(ctx, inputs)
	if err != nil {
		return txdata.Scalar{}, newError(KindDbError, err)
	}
	return result, nil
}

// Close discards the prepared query's backing transaction.
func (p *PreparedQuery) Close() error {
	return p.tx.Rollback()
}

// QPrepare plans query against the backing store's implicit read view.
// The returned PreparedQuery must be Closed once the caller is done
// re-running it.
func (c *Conn) QPrepare(ctx context.Context, query string) (*PreparedQuery, error) {
	sch, err := c.metadata.currentSchema()
	if err != nil {
		return nil, err
	}

	tx, err := c.backing.BeginDeferred(ctx)
	if err != nil {
		return nil, wrapBacking(err)
	}

	prepared, err := c.queryEngine.Prepare(ctx, tx, sch, query)
	if err != nil {
		_ = tx.Rollback()
		return nil, newError(KindDbError, err)
	}
	return &PreparedQuery{inner: prepared, tx: tx}, nil
}

// QExplain returns the query engine's execution-plan description for
// query, without running it.
func (c *Conn) QExplain(ctx context.Context, query string, inputs []schema.Value) (string, error) {
	sch, err := c.metadata.currentSchema()
	if err != nil {
		return "", err
	}

	tx, err := c.backing.BeginDeferred(ctx)
	if err != nil {
		return "", wrapBacking(err)
	}
	defer tx.Rollback()

	plan, err := c.queryEngine.Explain(ctx, tx, sch, query, inputs)
	if err != nil {
		return "", newError(KindDbError, err)
	}
	return plan, nil
}

// LookupValueForAttribute returns the single cardinality-one value entity
// asserts for ident, preferring the attribute cache when registered.
func (c *Conn) LookupValueForAttribute(ctx context.Context, entity schema.Entid, ident schema.Ident) (schema.Value, bool, error) {
	values, found, err := c.LookupValuesForAttribute(ctx, entity, ident)
	if err != nil || !found {
		return schema.Value{}, false, err
	}
	if len(values) == 0 {
		return schema.Value{}, false, nil
	}
	return values[0], true, nil
}

// LookupValuesForAttribute returns every value entity asserts for ident.
func (c *Conn) LookupValuesForAttribute(ctx context.Context, entity schema.Entid, ident schema.Ident) ([]schema.Value, bool, error) {
	sch, err := c.metadata.currentSchema()
	if err != nil {
		return nil, false, err
	}
	attr, ok := sch.AttributeByIdent(ident)
	if !ok {
		return nil, false, unknownAttributeError(ident.String())
	}

	tx, err := c.backing.BeginDeferred(ctx)
	if err != nil {
		return nil, false, wrapBacking(err)
	}
	defer tx.Rollback()

	values, cached, err := c.cache.GetAll(ctx, tx, entity, attr.Entid, c.fetchOne)
	if err != nil {
		return nil, false, newError(KindDbError, err)
	}
	if cached {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
		return values, true, nil
	}

	cacheLookupsTotal.WithLabelValues("miss").Inc()
	values, err = c.attrFetch.FetchAttributeValue(ctx, tx, sch, entity, attr.Entid)
	if err != nil {
		return nil, false, newError(KindDbError, err)
	}
	return values, true, nil
}

func (c *Conn) fetchOne(ctx context.Context, tx backingstore.Tx, entity, attr schema.Entid) ([]schema.Value, error) {
	sch, err := c.metadata.currentSchema()
	if err != nil {
		return nil, err
	}
	return c.attrFetch.FetchAttributeValue(ctx, tx, sch, entity, attr)
}

func (c *Conn) fetchAll(ctx context.Context, tx backingstore.Tx, attr schema.Entid) (map[schema.Entid][]schema.Value, error) {
	sch, err := c.metadata.currentSchema()
	if err != nil {
		return nil, err
	}
	return c.attrFetch.FetchAttributeValues(ctx, tx, sch, attr)
}

// CacheAction selects Register or Deregister for Conn.Cache.
type CacheAction int

const (
	CacheRegister CacheAction = iota
	CacheDeregister
)

// Cache registers or deregisters ident with the attribute cache. Register
// is idempotent; Deregister fails with KindNotCached if absent; an
// unknown ident fails with KindUnknownAttribute.
func (c *Conn) Cache(ctx context.Context, ident schema.Ident, action CacheAction, mode cache.Mode) error {
	sch, err := c.metadata.currentSchema()
	if err != nil {
		return err
	}
	attr, ok := sch.AttributeByIdent(ident)
	if !ok {
		return unknownAttributeError(ident.String())
	}

	switch action {
	case CacheRegister:
		tx, err := c.backing.BeginDeferred(ctx)
		if err != nil {
			return wrapBacking(err)
		}
		defer tx.Rollback()
		if err := c.cache.Register(ctx, tx, attr.Entid, mode, c.fetchAll); err != nil {
			return newError(KindDbError, err)
		}
		return nil
	case CacheDeregister:
		if err := c.cache.Deregister(attr.Entid); err != nil {
			return newError(KindNotCached, notCachedErr)
		}
		return nil
	default:
		return newError(KindDbError, errUnknownCacheAction)
	}
}

var errUnknownCacheAction = errUnknownCacheActionErr{}

type errUnknownCacheActionErr struct{}

func (errUnknownCacheActionErr) Error() string { return "unknown cache action" }

// BeginRead starts a DEFERRED backing-store transaction and returns a
// read-only InProgressRead.
func (c *Conn) BeginRead(ctx context.Context) (*InProgressRead, error) {
	ip, err := c.begin(ctx, false)
	if err != nil {
		return nil, err
	}
	return &InProgressRead{ip: ip}, nil
}

// BeginTransaction starts an IMMEDIATE backing-store transaction: readers
// from other connections continue, but competing writers from other
// connections fail fast with KindBacking wrapping backingstore.ErrBusy.
func (c *Conn) BeginTransaction(ctx context.Context) (*InProgress, error) {
	return c.begin(ctx, true)
}

// begin implements begin_transaction_with_behavior: start the
// backing-store transaction with the requested behavior, snapshot
// metadata under a short critical section, then (for writers only)
// acquire the cache's exclusive write handle before constructing the
// InProgress.
func (c *Conn) begin(ctx context.Context, immediate bool) (*InProgress, error) {
	var tx backingstore.Tx
	var err error
	if immediate {
		tx, err = c.backing.BeginImmediate(ctx)
	} else {
		tx, err = c.backing.BeginDeferred(ctx)
	}
	if err != nil {
		return nil, wrapBacking(err)
	}

	gen, pm, sch, err := c.metadata.snapshot()
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	var handle *cache.WriteHandle
	if immediate {
		handle = c.cache.Lock()
	}

	return &InProgress{
		conn:               c,
		tx:                 tx,
		snapshotGeneration: gen,
		draftPartitions:    pm,
		currentSchema:      sch,
		draftSchema:        sch.Clone(),
		cacheHandle:        handle,
		writer:             immediate,
	}, nil
}

// Transact parses text (so a parse error doesn't waste a write slot),
// then begins an IMMEDIATE transaction, applies the parsed entities, and
// commits.
func (c *Conn) Transact(ctx context.Context, text string) (txdata.TxReport, error) {
	entities, err := c.parser.Parse(text)
	if err != nil {
		return txdata.TxReport{}, classifyParseErr(err)
	}

	ip, err := c.BeginTransaction(ctx)
	if err != nil {
		return txdata.TxReport{}, err
	}

	report, err := ip.TransactEntities(ctx, entities)
	if err != nil {
		_ = ip.Rollback()
		return txdata.TxReport{}, err
	}

	if _, err := ip.Commit(ctx); err != nil {
		return txdata.TxReport{}, err
	}
	return report, nil
}
