// Package txdata defines the external collaborators the core treats as
// opaque: the transaction-data parser, the lower-level transactor, and
// the datalog query engine. None of their internals are the core's
// concern; the core only depends on the shapes declared here.
package txdata

import (
	"context"

	"github.com/estuary/datomcore/backingstore"
	"github.com/estuary/datomcore/partition"
	"github.com/estuary/datomcore/schema"
)

// EntityRef identifies which entity a Statement is about: either a
// user-supplied tempid placeholder, or an already-resolved entid.
type EntityRef struct {
	TempID   string
	Entid    schema.Entid
	IsTempID bool
}

// Entity is one element of the opaque "entity list" the parser produces
// and the transactor consumes. The core never inspects its fields; it is
// exported here only so a concrete parser/transactor pair can agree on a
// shape.
type Entity struct {
	Ref       EntityRef
	Attribute schema.Ident
	Value     schema.Value
}

// TxReport is produced by a successful transact call. Tempids resolves
// user-supplied placeholders to the entids the transactor allocated for
// them.
type TxReport struct {
	TxID    schema.Entid
	Tempids map[string]schema.Entid
}

// Parser turns transaction text into an entity list. A distinguishable
// parse-error kind (EdnParse vs TxParse) is the caller's responsibility
// to classify; Parser implementations wrap valid-syntax-wrong-shape errors
// in ShapeError and return malformed-syntax errors unwrapped, so callers
// can tell the two apart.
type Parser interface {
	Parse(text string) ([]Entity, error)
}

// ShapeError marks a Parser error as "the text was well-formed EDN, but
// it does not describe a valid transaction" — the TxParse case of the
// core's error kinds. A Parser error that is not a ShapeError (nor wraps
// one) is assumed to be malformed EDN syntax itself — the EdnParse case.
type ShapeError struct {
	Cause error
}

func (e *ShapeError) Error() string { return e.Cause.Error() }
func (e *ShapeError) Unwrap() error { return e.Cause }

// Transactor applies a batch of entities against the backing store inside
// an already-open transaction, and returns the resulting report plus the
// partition map and (if the schema changed) schema the caller should
// adopt on success. The transactor owns tempid resolution, upsert
// semantics, and schema-altering assertions; the core only plumbs its
// inputs through and adopts its outputs.
type Transactor interface {
	Transact(
		ctx context.Context,
		tx backingstore.Tx,
		partitions partition.Map,
		current *schema.Schema,
		draft *schema.Schema,
		entities []Entity,
	) (TxReport, partition.Map, *schema.Schema, error)
}

// Scalar is the result of a scalar-valued datalog query (`:find ?x .`).
// A nil Value represents Scalar(None).
type Scalar struct {
	Value *schema.Value
}

// PreparedQuery is a query plan produced by QueryEngine.Prepare, which can
// be re-run against varying inputs without re-planning.
type PreparedQuery interface {
	Run(ctx context.Context, inputs []schema.Value) (Scalar, error)
}

// QueryEngine is the opaque datalog query engine. Implementations run
// against the backing store's implicit read view when called from Conn,
// or against an in-progress transaction's uncommitted writes when called
// from InProgress.
type QueryEngine interface {
	QueryOnce(ctx context.Context, tx backingstore.Tx, sch *schema.Schema, query string, inputs []schema.Value) (Scalar, error)
	Prepare(ctx context.Context, tx backingstore.Tx, sch *schema.Schema, query string) (PreparedQuery, error)
	Explain(ctx context.Context, tx backingstore.Tx, sch *schema.Schema, query string, inputs []schema.Value) (string, error)
}

// AttributeFetcher answers the direct attribute-value lookups the
// AttributeCache needs to populate itself, independent of the general
// datalog query engine. Cardinality-many attributes return more than one
// value; cardinality-one attributes return at most one.
type AttributeFetcher interface {
	// FetchAttributeValues returns, for every entity currently asserting
	// attribute attr, its value(s). Used to eagerly prefetch a Register.
	FetchAttributeValues(ctx context.Context, tx backingstore.Tx, sch *schema.Schema, attr schema.Entid) (map[schema.Entid][]schema.Value, error)
	// FetchAttributeValue returns entity's value(s) for attribute attr.
	// Used for a lazy cache miss and for uncached lookups.
	FetchAttributeValue(ctx context.Context, tx backingstore.Tx, sch *schema.Schema, entity, attr schema.Entid) ([]schema.Value, error)
}
