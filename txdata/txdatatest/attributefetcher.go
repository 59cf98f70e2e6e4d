package txdatatest

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/estuary/datomcore/backingstore"
	"github.com/estuary/datomcore/schema"
)

// AttributeFetcher answers the cache's prefetch and lazy-miss queries
// directly against datomcore_test_datoms.
type AttributeFetcher struct{}

// NewAttributeFetcher returns a ready AttributeFetcher.
func NewAttributeFetcher() *AttributeFetcher { return &AttributeFetcher{} }

func (AttributeFetcher) FetchAttributeValues(ctx context.Context, tx backingstore.Tx, sch *schema.Schema, attr schema.Entid) (map[schema.Entid][]schema.Value, error) {
	if err := ensureTable(ctx, tx); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT e, v_type, v_ref, v_long, v_double, v_string, v_boolean, v_kw_ns, v_kw_name, v_instant, v_uuid
		FROM datomcore_test_datoms WHERE a = ?`, int64(attr))
	if err != nil {
		return nil, fmt.Errorf("prefetching attribute %d: %w", attr, err)
	}
	defer rows.Close()

	out := make(map[schema.Entid][]schema.Value)
	for rows.Next() {
		var e int64
		var vType int
		var vRef, vLong, vBoolean, vInstant sql.NullInt64
		var vDouble sql.NullFloat64
		var vString, vKwNS, vKwName, vUUID sql.NullString
		if err := rows.Scan(&e, &vType, &vRef, &vLong, &vDouble, &vString, &vBoolean, &vKwNS, &vKwName, &vInstant, &vUUID); err != nil {
			return nil, err
		}
		v, err := decodeFields(vType, vRef, vLong, vDouble, vString, vBoolean, vKwNS, vKwName, vInstant, vUUID)
		if err != nil {
			return nil, err
		}
		entity := schema.Entid(e)
		out[entity] = append(out[entity], v)
	}
	return out, rows.Err()
}

func (AttributeFetcher) FetchAttributeValue(ctx context.Context, tx backingstore.Tx, sch *schema.Schema, entity, attr schema.Entid) ([]schema.Value, error) {
	if err := ensureTable(ctx, tx); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT v_type, v_ref, v_long, v_double, v_string, v_boolean, v_kw_ns, v_kw_name, v_instant, v_uuid
		FROM datomcore_test_datoms WHERE e = ? AND a = ?`, int64(entity), int64(attr))
	if err != nil {
		return nil, fmt.Errorf("fetching entity %d attribute %d: %w", entity, attr, err)
	}
	defer rows.Close()

	var values []schema.Value
	for rows.Next() {
		v, err := decodeValue(rows)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}
