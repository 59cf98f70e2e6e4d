package conn

import (
	"context"

	"github.com/estuary/datomcore/schema"
	"github.com/estuary/datomcore/txdata"
)

// InProgressRead wraps an InProgress begun with Conn.BeginRead. It does
// not embed *InProgress: embedding would promote TransactEntities/Commit,
// letting a caller holding only a read handle mutate state it was never
// given write access to. Every exposed method here is read-only.
type InProgressRead struct {
	ip *InProgress
}

// QOnce runs query against this read transaction's consistent snapshot.
func (r *InProgressRead) QOnce(ctx context.Context, query string, inputs []schema.Value) (txdata.Scalar, error) {
	return r.ip.QOnce(ctx, query, inputs)
}

// QPrepare plans query against this read transaction's snapshot.
func (r *InProgressRead) QPrepare(ctx context.Context, query string) (txdata.PreparedQuery, error) {
	return r.ip.QPrepare(ctx, query)
}

// QExplain describes the execution plan query would use.
func (r *InProgressRead) QExplain(ctx context.Context, query string, inputs []schema.Value) (string, error) {
	return r.ip.QExplain(ctx, query, inputs)
}

// LookupValueForAttribute reads through the shared attribute cache.
func (r *InProgressRead) LookupValueForAttribute(ctx context.Context, entity schema.Entid, ident schema.Ident) (schema.Value, bool, error) {
	return r.ip.LookupValueForAttribute(ctx, entity, ident)
}

// LookupValuesForAttribute reads through the shared attribute cache.
func (r *InProgressRead) LookupValuesForAttribute(ctx context.Context, entity schema.Entid, ident schema.Ident) ([]schema.Value, bool, error) {
	return r.ip.LookupValuesForAttribute(ctx, entity, ident)
}

// CurrentSchema returns the schema snapshot this read transaction began
// against.
func (r *InProgressRead) CurrentSchema() *schema.Schema {
	return r.ip.draftSchema
}

// Close discards the underlying DEFERRED transaction. A read transaction
// never advances the metadata generation, so there is no commit
// protocol: Close is always a rollback of the backing-store view.
func (r *InProgressRead) Close() error {
	return r.ip.Rollback()
}
