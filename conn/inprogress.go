package conn

import (
	"context"

	"github.com/estuary/datomcore/backingstore"
	"github.com/estuary/datomcore/cache"
	"github.com/estuary/datomcore/partition"
	"github.com/estuary/datomcore/schema"
	"github.com/estuary/datomcore/txdata"
)

// InProgress is a single open backing-store transaction plus the draft
// partition map and schema it may mutate before committing. A writer
// InProgress (begun via Conn.BeginTransaction) holds the cache's
// exclusive WriteHandle for its entire lifetime, so every cache access it
// makes must go through that handle rather than re-acquiring the cache's
// own lock — see cache.WriteHandle's passthrough methods.
type InProgress struct {
	conn *Conn
	tx   backingstore.Tx

	snapshotGeneration uint64
	draftPartitions    partition.Map
	currentSchema      *schema.Schema
	draftSchema        *schema.Schema

	cacheHandle *cache.WriteHandle
	writer      bool

	done bool
}

func (ip *InProgress) checkOpen() error {
	if ip.done {
		return newError(KindDbError, errTxClosed)
	}
	return nil
}

var errTxClosed = errClosedErr{}

type errClosedErr struct{}

func (errClosedErr) Error() string { return "transaction is no longer open" }

// TransactEntities applies already-parsed entities within this
// transaction, folding the transactor's returned partition map and
// (possibly updated) schema into this InProgress's draft state. It does
// not commit; call Commit separately.
func (ip *InProgress) TransactEntities(ctx context.Context, entities []txdata.Entity) (txdata.TxReport, error) {
	if err := ip.checkOpen(); err != nil {
		return txdata.TxReport{}, err
	}
	if !ip.writer {
		return txdata.TxReport{}, newError(KindDbError, errReadOnlyTx)
	}

	// The transactor works on clones, so allocations or schema edits it
	// makes before failing never reach this InProgress's draft state.
	report, pm, sch, err := ip.conn.transactor.Transact(
		ctx, ip.tx, ip.draftPartitions.Clone(), ip.currentSchema, ip.draftSchema.Clone(), entities,
	)
	if err != nil {
		// A transactor rejection (conflicting upsert, unrecognized
		// entid, cardinality violation, not-yet-implemented path) is a
		// DbError. TxParse is reserved for the parser's own
		// well-formed-EDN-but-invalid-shape condition, classified in
		// Transact below.
		return txdata.TxReport{}, newError(KindDbError, err)
	}

	ip.draftPartitions = pm
	if sch != nil {
		ip.draftSchema = sch
	}
	return report, nil
}

var errReadOnlyTx = errReadOnlyErr{}

type errReadOnlyErr struct{}

func (errReadOnlyErr) Error() string { return "transaction is read-only" }

// Transact parses text and applies the resulting entities, as
// TransactEntities.
func (ip *InProgress) Transact(ctx context.Context, text string) (txdata.TxReport, error) {
	entities, err := ip.conn.parser.Parse(text)
	if err != nil {
		return txdata.TxReport{}, classifyParseErr(err)
	}
	return ip.TransactEntities(ctx, entities)
}

// QOnce runs query against this transaction's view, which includes its
// own uncommitted writes (read-your-writes).
func (ip *InProgress) QOnce(ctx context.Context, query string, inputs []schema.Value) (txdata.Scalar, error) {
	if err := ip.checkOpen(); err != nil {
		return txdata.Scalar{}, err
	}
	result, err := ip.conn.queryEngine.QueryOnce(ctx, ip.tx, ip.draftSchema, query, inputs)
	if err != nil {
		return txdata.Scalar{}, newError(KindDbError, err)
	}
	return result, nil
}

// QPrepare plans query against this transaction's view. The returned plan
// is only valid for the remaining lifetime of this InProgress.
func (ip *InProgress) QPrepare(ctx context.Context, query string) (txdata.PreparedQuery, error) {
	if err := ip.checkOpen(); err != nil {
		return nil, err
	}
	prepared, err := ip.conn.queryEngine.Prepare(ctx, ip.tx, ip.draftSchema, query)
	if err != nil {
		return nil, newError(KindDbError, err)
	}
	return prepared, nil
}

// QExplain describes the execution plan query would use against this
// transaction's view.
func (ip *InProgress) QExplain(ctx context.Context, query string, inputs []schema.Value) (string, error) {
	if err := ip.checkOpen(); err != nil {
		return "", err
	}
	plan, err := ip.conn.queryEngine.Explain(ctx, ip.tx, ip.draftSchema, query, inputs)
	if err != nil {
		return "", newError(KindDbError, err)
	}
	return plan, nil
}

// LookupValueForAttribute behaves as Conn.LookupValueForAttribute, but
// observes this transaction's own writes and, for a writer, goes through
// the held WriteHandle rather than the cache's shared lock.
func (ip *InProgress) LookupValueForAttribute(ctx context.Context, entity schema.Entid, ident schema.Ident) (schema.Value, bool, error) {
	values, found, err := ip.LookupValuesForAttribute(ctx, entity, ident)
	if err != nil || !found {
		return schema.Value{}, false, err
	}
	if len(values) == 0 {
		return schema.Value{}, false, nil
	}
	return values[0], true, nil
}

// LookupValuesForAttribute behaves as Conn.LookupValuesForAttribute,
// scoped to this transaction's view.
func (ip *InProgress) LookupValuesForAttribute(ctx context.Context, entity schema.Entid, ident schema.Ident) ([]schema.Value, bool, error) {
	if err := ip.checkOpen(); err != nil {
		return nil, false, err
	}

	attr, ok := ip.draftSchema.AttributeByIdent(ident)
	if !ok {
		return nil, false, unknownAttributeError(ident.String())
	}

	fetchOne := func(ctx context.Context, tx backingstore.Tx, entity, attr schema.Entid) ([]schema.Value, error) {
		return ip.conn.attrFetch.FetchAttributeValue(ctx, tx, ip.draftSchema, entity, attr)
	}

	var values []schema.Value
	var cached bool
	var err error
	if ip.cacheHandle != nil {
		values, cached, err = ip.cacheHandle.GetAll(ctx, ip.tx, entity, attr.Entid, fetchOne)
	} else {
		values, cached, err = ip.conn.cache.GetAll(ctx, ip.tx, entity, attr.Entid, fetchOne)
	}
	if err != nil {
		return nil, false, newError(KindDbError, err)
	}
	if cached {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
		return values, true, nil
	}

	cacheLookupsTotal.WithLabelValues("miss").Inc()
	values, err = ip.conn.attrFetch.FetchAttributeValue(ctx, ip.tx, ip.draftSchema, entity, attr.Entid)
	if err != nil {
		return nil, false, newError(KindDbError, err)
	}
	return values, true, nil
}

// Rollback discards this transaction's writes and releases the cache
// write handle (if any) without publishing any metadata change.
func (ip *InProgress) Rollback() error {
	if ip.done {
		return nil
	}
	ip.done = true

	err := ip.tx.Rollback()
	if ip.cacheHandle != nil {
		ip.cacheHandle.Release()
	}
	rollbacksTotal.Inc()
	if err != nil {
		return wrapBacking(err)
	}
	return nil
}

// Commit runs the metadata commit protocol: verify the snapshot
// generation still matches, persist the draft partitions/schema and
// commit the backing-store transaction together, then publish the new
// generation. A generation mismatch yields KindRace and leaves the
// backing-store transaction rolled back. The cache write handle, if any,
// is released in every case.
func (ip *InProgress) Commit(ctx context.Context) (uint64, error) {
	if err := ip.checkOpen(); err != nil {
		return 0, err
	}
	ip.done = true
	defer func() {
		if ip.cacheHandle != nil {
			ip.cacheHandle.Release()
		}
	}()

	gen, err := ip.conn.metadata.commit(ctx, ip.tx, ip.snapshotGeneration, ip.draftPartitions, ip.draftSchema)
	if err != nil {
		_ = ip.tx.Rollback()
		if IsKind(err, KindRace) {
			raceTotal.Inc()
		}
		return 0, err
	}

	commitsTotal.Inc()
	return gen, nil
}
