package txdatatest

import (
	"context"
	"fmt"

	"github.com/estuary/datomcore/backingstore"
	"github.com/estuary/datomcore/partition"
	"github.com/estuary/datomcore/schema"
	"github.com/estuary/datomcore/txdata"
)

// Transactor applies a parsed entity list against datomcore_test_datoms.
// It recognizes one schema-altering shape: any group of entities sharing
// a Ref that includes a :db/ident assertion is installed as a new
// attribute (:db/ident, :db/valueType, :db/cardinality, :db/unique,
// :db/index, :db/noHistory) rather than written as ordinary datoms.
// Everything else is an ordinary [entity attribute value] assertion.
type Transactor struct{}

// NewTransactor returns a ready Transactor.
func NewTransactor() *Transactor { return &Transactor{} }

func (Transactor) Transact(
	ctx context.Context,
	tx backingstore.Tx,
	partitions partition.Map,
	current *schema.Schema,
	draft *schema.Schema,
	entities []txdata.Entity,
) (txdata.TxReport, partition.Map, *schema.Schema, error) {
	if err := ensureTable(ctx, tx); err != nil {
		return txdata.TxReport{}, nil, nil, err
	}

	txID, err := partitions.Allocate(partition.Tx)
	if err != nil {
		return txdata.TxReport{}, nil, nil, fmt.Errorf("allocating tx id: %w", err)
	}

	refKeys := make(map[string]txdata.EntityRef)
	var refOrder []string
	isSchemaRef := make(map[string]bool)
	for _, e := range entities {
		key := refKey(e.Ref)
		if _, seen := refKeys[key]; !seen {
			refOrder = append(refOrder, key)
		}
		refKeys[key] = e.Ref
		if e.Attribute.Namespace == "db" && e.Attribute.Name == "ident" {
			isSchemaRef[key] = true
		}
	}

	tempids := make(map[string]schema.Entid)
	for _, key := range refOrder {
		ref := refKeys[key]
		if !ref.IsTempID {
			continue
		}
		part := partition.User
		if isSchemaRef[key] {
			part = partition.DB
		}
		id, err := partitions.Allocate(part)
		if err != nil {
			return txdata.TxReport{}, nil, nil, fmt.Errorf("allocating entid for tempid %q: %w", ref.TempID, err)
		}
		tempids[ref.TempID] = id
	}

	resolve := func(ref txdata.EntityRef) schema.Entid {
		if ref.IsTempID {
			return tempids[ref.TempID]
		}
		return ref.Entid
	}

	builders := make(map[string]*schemaBuilder)
	for _, e := range entities {
		key := refKey(e.Ref)
		if !isSchemaRef[key] {
			continue
		}
		b, ok := builders[key]
		if !ok {
			b = &schemaBuilder{entid: resolve(e.Ref)}
			builders[key] = b
		}
		if err := b.apply(e.Attribute, e.Value); err != nil {
			return txdata.TxReport{}, nil, nil, err
		}
	}

	for _, b := range builders {
		attr, err := b.build()
		if err != nil {
			return txdata.TxReport{}, nil, nil, err
		}
		draft.PutAttribute(attr)
	}

	for _, e := range entities {
		key := refKey(e.Ref)
		if isSchemaRef[key] {
			continue
		}

		attr, ok := draft.AttributeByIdent(e.Attribute)
		if !ok {
			return txdata.TxReport{}, nil, nil, fmt.Errorf("unrecognized attribute %s", e.Attribute)
		}

		entity := resolve(e.Ref)
		value, err := coerceValue(attr, e.Value, tempids, partitions)
		if err != nil {
			return txdata.TxReport{}, nil, nil, err
		}

		if err := insertDatom(ctx, tx, entity, attr.Entid, value); err != nil {
			return txdata.TxReport{}, nil, nil, err
		}
	}

	report := txdata.TxReport{TxID: txID, Tempids: tempids}
	return report, partitions, draft, nil
}

func refKey(ref txdata.EntityRef) string {
	if ref.IsTempID {
		return "t:" + ref.TempID
	}
	return fmt.Sprintf("e:%d", ref.Entid)
}

// coerceValue interprets a parser's literal Value against attr's declared
// value type. A Ref-typed attribute accepts a Long literal as a
// pre-existing entid, or a String literal as a tempid, resolving (and, if
// unseen, allocating) it against tempids/partitions.
func coerceValue(attr schema.Attribute, v schema.Value, tempids map[string]schema.Entid, partitions partition.Map) (schema.Value, error) {
	if attr.ValueType != schema.ValueTypeRef {
		return v, nil
	}

	if n, ok := v.Long(); ok {
		return schema.NewRef(schema.Entid(n)), nil
	}
	if s, ok := v.String(); ok {
		if id, ok := tempids[s]; ok {
			return schema.NewRef(id), nil
		}
		id, err := partitions.Allocate(partition.User)
		if err != nil {
			return schema.Value{}, fmt.Errorf("allocating entid for forward tempid %q: %w", s, err)
		}
		tempids[s] = id
		return schema.NewRef(id), nil
	}
	return schema.Value{}, fmt.Errorf("attribute %s is a ref and requires a long or string literal", attr.Ident)
}

// schemaBuilder accumulates the :db/* fields asserted about one new
// attribute before it is installed into the draft schema.
type schemaBuilder struct {
	entid       schema.Entid
	ident       *schema.Ident
	valueType   *schema.ValueType
	cardinality *schema.Cardinality
	unique      bool
	indexed     bool
	noHistory   bool
}

func (b *schemaBuilder) apply(attribute schema.Ident, value schema.Value) error {
	switch attribute.Name {
	case "ident":
		kw, ok := value.Keyword()
		if !ok {
			return fmt.Errorf(":db/ident requires a keyword value")
		}
		b.ident = &kw
	case "valueType":
		kw, ok := value.Keyword()
		if !ok {
			return fmt.Errorf(":db/valueType requires a keyword value")
		}
		vt, err := parseValueTypeKeyword(kw)
		if err != nil {
			return err
		}
		b.valueType = &vt
	case "cardinality":
		kw, ok := value.Keyword()
		if !ok {
			return fmt.Errorf(":db/cardinality requires a keyword value")
		}
		c, err := parseCardinalityKeyword(kw)
		if err != nil {
			return err
		}
		b.cardinality = &c
	case "unique":
		bv, ok := value.Boolean()
		if !ok {
			return fmt.Errorf(":db/unique requires a boolean value")
		}
		b.unique = bv
	case "index":
		bv, ok := value.Boolean()
		if !ok {
			return fmt.Errorf(":db/index requires a boolean value")
		}
		b.indexed = bv
	case "noHistory":
		bv, ok := value.Boolean()
		if !ok {
			return fmt.Errorf(":db/noHistory requires a boolean value")
		}
		b.noHistory = bv
	default:
		return fmt.Errorf("unrecognized schema-install field :db/%s", attribute.Name)
	}
	return nil
}

func (b *schemaBuilder) build() (schema.Attribute, error) {
	if b.ident == nil {
		return schema.Attribute{}, fmt.Errorf("schema install is missing :db/ident")
	}
	if b.valueType == nil {
		return schema.Attribute{}, fmt.Errorf("schema install of %s is missing :db/valueType", *b.ident)
	}
	cardinality := schema.CardinalityOne
	if b.cardinality != nil {
		cardinality = *b.cardinality
	}
	return schema.Attribute{
		Ident:       *b.ident,
		Entid:       b.entid,
		ValueType:   *b.valueType,
		Cardinality: cardinality,
		Unique:      b.unique,
		Indexed:     b.indexed,
		NoHistory:   b.noHistory,
	}, nil
}

func parseValueTypeKeyword(kw schema.Ident) (schema.ValueType, error) {
	if kw.Namespace != "db.type" {
		return 0, fmt.Errorf("unrecognized :db/valueType %s", kw)
	}
	switch kw.Name {
	case "ref":
		return schema.ValueTypeRef, nil
	case "long":
		return schema.ValueTypeLong, nil
	case "double":
		return schema.ValueTypeDouble, nil
	case "string":
		return schema.ValueTypeString, nil
	case "boolean":
		return schema.ValueTypeBoolean, nil
	case "keyword":
		return schema.ValueTypeKeyword, nil
	case "instant":
		return schema.ValueTypeInstant, nil
	case "uuid":
		return schema.ValueTypeUUID, nil
	default:
		return 0, fmt.Errorf("unrecognized :db/valueType %s", kw)
	}
}

func parseCardinalityKeyword(kw schema.Ident) (schema.Cardinality, error) {
	if kw.Namespace != "db.cardinality" {
		return 0, fmt.Errorf("unrecognized :db/cardinality %s", kw)
	}
	switch kw.Name {
	case "one":
		return schema.CardinalityOne, nil
	case "many":
		return schema.CardinalityMany, nil
	default:
		return 0, fmt.Errorf("unrecognized :db/cardinality %s", kw)
	}
}
