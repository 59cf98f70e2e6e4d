// Package txdatatest is a minimal, in-SQLite implementation of the
// txdata contracts (Parser, Transactor, QueryEngine, AttributeFetcher),
// built to exercise the core's commit protocol and attribute cache
// end-to-end against a real backing store rather than mocks. It is not
// a general datalog engine: the parser accepts one small transaction-data
// grammar, and the query engine answers one small query shape. Both are
// enough to drive the scenarios the core's own tests describe.
package txdatatest

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/estuary/datomcore/backingstore"
	"github.com/estuary/datomcore/schema"
)

const createDatomsTable = `
CREATE TABLE IF NOT EXISTS datomcore_test_datoms (
	e          INTEGER NOT NULL,
	a          INTEGER NOT NULL,
	v_type     INTEGER NOT NULL,
	v_ref      INTEGER,
	v_long     INTEGER,
	v_double   REAL,
	v_string   TEXT,
	v_boolean  INTEGER,
	v_kw_ns    TEXT,
	v_kw_name  TEXT,
	v_instant  INTEGER,
	v_uuid     TEXT
);
`

const createDatomsIndex = `
CREATE INDEX IF NOT EXISTS datomcore_test_datoms_ea ON datomcore_test_datoms (e, a);
`

func ensureTable(ctx context.Context, tx backingstore.Tx) error {
	if _, err := tx.ExecContext(ctx, createDatomsTable); err != nil {
		return fmt.Errorf("creating test datoms table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, createDatomsIndex); err != nil {
		return fmt.Errorf("creating test datoms index: %w", err)
	}
	return nil
}

// encodeValue decomposes a schema.Value into the wide-row column set
// datomcore_test_datoms stores it under.
func encodeValue(v schema.Value) (vType int, vRef sql.NullInt64, vLong sql.NullInt64, vDouble sql.NullFloat64, vString sql.NullString, vBoolean sql.NullInt64, vKwNS, vKwName sql.NullString, vInstant sql.NullInt64, vUUID sql.NullString) {
	vType = int(v.Type())
	switch v.Type() {
	case schema.ValueTypeRef:
		e, _ := v.Ref()
		vRef = sql.NullInt64{Int64: int64(e), Valid: true}
	case schema.ValueTypeLong:
		n, _ := v.Long()
		vLong = sql.NullInt64{Int64: n, Valid: true}
	case schema.ValueTypeDouble:
		f, _ := v.Double()
		vDouble = sql.NullFloat64{Float64: f, Valid: true}
	case schema.ValueTypeString:
		s, _ := v.String()
		vString = sql.NullString{String: s, Valid: true}
	case schema.ValueTypeBoolean:
		b, _ := v.Boolean()
		n := int64(0)
		if b {
			n = 1
		}
		vBoolean = sql.NullInt64{Int64: n, Valid: true}
	case schema.ValueTypeKeyword:
		kw, _ := v.Keyword()
		vKwNS = sql.NullString{String: kw.Namespace, Valid: true}
		vKwName = sql.NullString{String: kw.Name, Valid: true}
	case schema.ValueTypeInstant:
		t, _ := v.Instant()
		vInstant = sql.NullInt64{Int64: t.UnixNano(), Valid: true}
	case schema.ValueTypeUUID:
		u, _ := v.UUID()
		vUUID = sql.NullString{String: u.String(), Valid: true}
	}
	return
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func decodeValue(row rowScanner) (schema.Value, error) {
	var vType int
	var vRef, vLong, vBoolean, vInstant sql.NullInt64
	var vDouble sql.NullFloat64
	var vString, vKwNS, vKwName, vUUID sql.NullString

	if err := row.Scan(&vType, &vRef, &vLong, &vDouble, &vString, &vBoolean, &vKwNS, &vKwName, &vInstant, &vUUID); err != nil {
		return schema.Value{}, err
	}

	return decodeFields(vType, vRef, vLong, vDouble, vString, vBoolean, vKwNS, vKwName, vInstant, vUUID)
}

func decodeFields(
	vType int,
	vRef, vLong sql.NullInt64,
	vDouble sql.NullFloat64,
	vString sql.NullString,
	vBoolean sql.NullInt64,
	vKwNS, vKwName sql.NullString,
	vInstant sql.NullInt64,
	vUUID sql.NullString,
) (schema.Value, error) {
	switch schema.ValueType(vType) {
	case schema.ValueTypeRef:
		return schema.NewRef(schema.Entid(vRef.Int64)), nil
	case schema.ValueTypeLong:
		return schema.NewLong(vLong.Int64), nil
	case schema.ValueTypeDouble:
		return schema.NewDouble(vDouble.Float64), nil
	case schema.ValueTypeString:
		return schema.NewString(vString.String), nil
	case schema.ValueTypeBoolean:
		return schema.NewBoolean(vBoolean.Int64 != 0), nil
	case schema.ValueTypeKeyword:
		return schema.NewKeyword(schema.Ident{Namespace: vKwNS.String, Name: vKwName.String}), nil
	case schema.ValueTypeInstant:
		return schema.NewInstant(timeFromUnixNano(vInstant.Int64)), nil
	case schema.ValueTypeUUID:
		parsed, err := uuid.Parse(vUUID.String)
		if err != nil {
			return schema.Value{}, err
		}
		return schema.NewUUID(parsed), nil
	default:
		return schema.Value{}, fmt.Errorf("unrecognized stored value type %d", vType)
	}
}

func insertDatom(ctx context.Context, tx backingstore.Tx, e, a schema.Entid, v schema.Value) error {
	vType, vRef, vLong, vDouble, vString, vBoolean, vKwNS, vKwName, vInstant, vUUID := encodeValue(v)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO datomcore_test_datoms
			(e, a, v_type, v_ref, v_long, v_double, v_string, v_boolean, v_kw_ns, v_kw_name, v_instant, v_uuid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(e), int64(a), vType, vRef, vLong, vDouble, vString, vBoolean, vKwNS, vKwName, vInstant, vUUID)
	if err != nil {
		return fmt.Errorf("inserting datom (%d %d): %w", e, a, err)
	}
	return nil
}
