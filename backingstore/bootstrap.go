package backingstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/estuary/datomcore/partition"
	"github.com/estuary/datomcore/schema"
)

const createPartitionsTable = `
CREATE TABLE IF NOT EXISTS datomcore_partitions (
	name       TEXT    PRIMARY KEY,
	start      INTEGER NOT NULL,
	end        INTEGER NOT NULL,
	next_index INTEGER NOT NULL
);`

const createSchemaTable = `
CREATE TABLE IF NOT EXISTS datomcore_schema (
	ident       TEXT    PRIMARY KEY,
	entid       INTEGER NOT NULL,
	value_type  INTEGER NOT NULL,
	cardinality INTEGER NOT NULL,
	is_unique   INTEGER NOT NULL,
	indexed     INTEGER NOT NULL,
	no_history  INTEGER NOT NULL
);`

// Bootstrap creates the core's metadata tables if absent and loads any
// persisted partition map and schema. A never-before-used database is
// initialized with the built-in partitions and an empty schema. Bootstrap
// does not add tables beyond its own metadata tables: datom storage
// itself remains entirely the external transactor's concern.
func Bootstrap(ctx context.Context, b *SQLiteBacking) (partition.Map, *schema.Schema, error) {
	db := b.DB()

	if _, err := db.ExecContext(ctx, createPartitionsTable); err != nil {
		return nil, nil, fmt.Errorf("creating partitions table: %w", err)
	}
	if _, err := db.ExecContext(ctx, createSchemaTable); err != nil {
		return nil, nil, fmt.Errorf("creating schema table: %w", err)
	}

	pm, err := loadPartitions(ctx, db)
	if err != nil {
		return nil, nil, fmt.Errorf("loading partitions: %w", err)
	}
	if pm == nil {
		pm = partition.Bootstrap()
		if err := persistPartitions(ctx, db, pm); err != nil {
			return nil, nil, fmt.Errorf("persisting initial partitions: %w", err)
		}
	}

	sch, err := loadSchema(ctx, db)
	if err != nil {
		return nil, nil, fmt.Errorf("loading schema: %w", err)
	}

	return pm, sch, nil
}

func loadPartitions(ctx context.Context, db *sql.DB) (partition.Map, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, start, end, next_index FROM datomcore_partitions;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pm := partition.Map{}
	for rows.Next() {
		var name string
		var alloc partition.Allocation
		if err := rows.Scan(&name, &alloc.Start, &alloc.End, &alloc.NextIndex); err != nil {
			return nil, err
		}
		pm[name] = alloc
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(pm) == 0 {
		return nil, nil
	}
	return pm, nil
}

func loadSchema(ctx context.Context, db *sql.DB) (*schema.Schema, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT ident, entid, value_type, cardinality, is_unique, indexed, no_history
			FROM datomcore_schema;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sch := schema.New()
	for rows.Next() {
		var identText string
		var a schema.Attribute
		var valueType, cardinality int
		var isUnique, indexed, noHistory bool
		if err := rows.Scan(&identText, &a.Entid, &valueType, &cardinality, &isUnique, &indexed, &noHistory); err != nil {
			return nil, err
		}
		ident, err := schema.ParseIdent(identText)
		if err != nil {
			return nil, fmt.Errorf("persisted ident %q: %w", identText, err)
		}
		a.Ident = ident
		a.ValueType = schema.ValueType(valueType)
		a.Cardinality = schema.Cardinality(cardinality)
		a.Unique = isUnique
		a.Indexed = indexed
		a.NoHistory = noHistory
		sch.PutAttribute(a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sch, nil
}

func persistPartitions(ctx context.Context, db *sql.DB, pm partition.Map) error {
	for name, alloc := range pm {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO datomcore_partitions (name, start, end, next_index)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(name) DO UPDATE SET
					start=excluded.start, end=excluded.end, next_index=excluded.next_index;
			`, name, alloc.Start, alloc.End, alloc.NextIndex); err != nil {
			return err
		}
	}
	return nil
}

// PersistWithinTx upserts the given partition map and schema into the
// metadata tables using tx, so that persistence of the derived state is
// atomic with the backing-store transaction's own commit.
func PersistWithinTx(ctx context.Context, tx Tx, pm partition.Map, sch *schema.Schema) error {
	for name, alloc := range pm {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO datomcore_partitions (name, start, end, next_index)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(name) DO UPDATE SET
					start=excluded.start, end=excluded.end, next_index=excluded.next_index;
			`, name, alloc.Start, alloc.End, alloc.NextIndex); err != nil {
			return fmt.Errorf("persisting partition %q: %w", name, err)
		}
	}

	for _, a := range sch.Attributes() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO datomcore_schema
				(ident, entid, value_type, cardinality, is_unique, indexed, no_history)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(ident) DO UPDATE SET
					entid=excluded.entid, value_type=excluded.value_type,
					cardinality=excluded.cardinality, is_unique=excluded.is_unique,
					indexed=excluded.indexed, no_history=excluded.no_history;
			`, a.Ident.String(), a.Entid, int(a.ValueType), int(a.Cardinality),
			a.Unique, a.Indexed, a.NoHistory); err != nil {
			return fmt.Errorf("persisting attribute %s: %w", a.Ident, err)
		}
	}

	return nil
}
