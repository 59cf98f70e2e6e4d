package txdatatest

import (
	"context"
	"fmt"
	"regexp"

	"github.com/estuary/datomcore/backingstore"
	"github.com/estuary/datomcore/schema"
	"github.com/estuary/datomcore/txdata"
)

// QueryEngine answers one query shape: a single [?e attribute ?v]
// pattern, binding whichever of entity/value isn't the :find variable
// from the caller's single input. It is enough to drive a scalar
// point-lookup in either direction:
//
//	[:find ?e . :where [?e :person/name ?v]]   (value bound via inputs[0])
//	[:find ?v . :where [?e :person/name ?v]]   (entity bound via inputs[0])
type QueryEngine struct{}

// NewQueryEngine returns a ready QueryEngine.
func NewQueryEngine() *QueryEngine { return &QueryEngine{} }

var queryPattern = regexp.MustCompile(`^\s*\[:find\s+(\?\w+)\s*\.\s*:where\s*\[(\?\w+)\s+(:[\w.\-]+/[\w.\-]+)\s+(\?\w+)\]\]\s*$`)

type parsedQuery struct {
	findVar  string
	entVar   string
	ident    schema.Ident
	valueVar string
}

func parseQuery(query string) (parsedQuery, error) {
	m := queryPattern.FindStringSubmatch(query)
	if m == nil {
		return parsedQuery{}, fmt.Errorf("unsupported query shape: %s", query)
	}
	ident, err := schema.ParseIdent(m[3])
	if err != nil {
		return parsedQuery{}, err
	}
	pq := parsedQuery{findVar: m[1], entVar: m[2], ident: ident, valueVar: m[4]}
	if pq.findVar != pq.entVar && pq.findVar != pq.valueVar {
		return parsedQuery{}, fmt.Errorf(":find variable %s does not appear in :where clause", pq.findVar)
	}
	return pq, nil
}

func (QueryEngine) runQuery(ctx context.Context, tx backingstore.Tx, sch *schema.Schema, query string, inputs []schema.Value) (txdata.Scalar, error) {
	if err := ensureTable(ctx, tx); err != nil {
		return txdata.Scalar{}, err
	}

	pq, err := parseQuery(query)
	if err != nil {
		return txdata.Scalar{}, err
	}
	attr, ok := sch.AttributeByIdent(pq.ident)
	if !ok {
		return txdata.Scalar{}, fmt.Errorf("unrecognized attribute %s", pq.ident)
	}
	if len(inputs) != 1 {
		return txdata.Scalar{}, fmt.Errorf("query requires exactly one bound input, got %d", len(inputs))
	}

	if pq.findVar == pq.entVar {
		// entity unbound, value bound: find the entity asserting attr = inputs[0]
		vType, vRef, vLong, vDouble, vString, vBoolean, vKwNS, vKwName, vInstant, vUUID := encodeValue(inputs[0])
		row := tx.QueryRowContext(ctx, `
			SELECT e FROM datomcore_test_datoms
			WHERE a = ? AND v_type = ? AND v_ref IS ? AND v_long IS ? AND v_double IS ?
			  AND v_string IS ? AND v_boolean IS ? AND v_kw_ns IS ? AND v_kw_name IS ?
			  AND v_instant IS ? AND v_uuid IS ?
			LIMIT 1`,
			int64(attr.Entid), vType, vRef, vLong, vDouble, vString, vBoolean, vKwNS, vKwName, vInstant, vUUID)

		var e int64
		if err := row.Scan(&e); err != nil {
			return txdata.Scalar{}, nil // Scalar(None): no matching entity
		}
		v := schema.NewRef(schema.Entid(e))
		return txdata.Scalar{Value: &v}, nil
	}

	// value unbound, entity bound: find the value(s) entity asserts for attr
	entity, ok := inputs[0].Ref()
	if !ok {
		if n, ok := inputs[0].Long(); ok {
			entity = schema.Entid(n)
		} else {
			return txdata.Scalar{}, fmt.Errorf("expected a ref or long entity input")
		}
	}

	row := tx.QueryRowContext(ctx, `
		SELECT v_type, v_ref, v_long, v_double, v_string, v_boolean, v_kw_ns, v_kw_name, v_instant, v_uuid
		FROM datomcore_test_datoms WHERE e = ? AND a = ? LIMIT 1`, int64(entity), int64(attr.Entid))

	v, err := decodeValue(row)
	if err != nil {
		return txdata.Scalar{}, nil // Scalar(None): entity has no value for attr
	}
	return txdata.Scalar{Value: &v}, nil
}

func (q QueryEngine) QueryOnce(ctx context.Context, tx backingstore.Tx, sch *schema.Schema, query string, inputs []schema.Value) (txdata.Scalar, error) {
	return q.runQuery(ctx, tx, sch, query, inputs)
}

func (q QueryEngine) Prepare(ctx context.Context, tx backingstore.Tx, sch *schema.Schema, query string) (txdata.PreparedQuery, error) {
	if _, err := parseQuery(query); err != nil {
		return nil, err
	}
	return &preparedQuery{engine: q, ctx: ctx, tx: tx, sch: sch, query: query}, nil
}

func (q QueryEngine) Explain(ctx context.Context, tx backingstore.Tx, sch *schema.Schema, query string, inputs []schema.Value) (string, error) {
	pq, err := parseQuery(query)
	if err != nil {
		return "", err
	}
	if pq.findVar == pq.entVar {
		return fmt.Sprintf("scan datomcore_test_datoms by (a, value) for %s", pq.ident), nil
	}
	return fmt.Sprintf("scan datomcore_test_datoms by (e, a) for %s", pq.ident), nil
}

type preparedQuery struct {
	engine QueryEngine
	ctx    context.Context
	tx     backingstore.Tx
	sch    *schema.Schema
	query  string
}

func (p *preparedQuery) Run(ctx context.Context, inputs []schema.Value) (txdata.Scalar, error) {
	return p.engine.runQuery(ctx, p.tx, p.sch, p.query, inputs)
}
