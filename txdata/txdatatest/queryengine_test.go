package txdatatest_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/datomcore/backingstore"
	"github.com/estuary/datomcore/partition"
	"github.com/estuary/datomcore/schema"
	"github.com/estuary/datomcore/txdata/txdatatest"
)

func TestQueryEngineFindsEntityByValueAndValueByEntity(t *testing.T) {
	ctx := context.Background()
	b, err := backingstore.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer b.Close()

	transactor := txdatatest.NewTransactor()
	parser := txdatatest.NewParser()
	engine := txdatatest.NewQueryEngine()

	tx, err := b.BeginImmediate(ctx)
	require.NoError(t, err)

	pm := partition.Bootstrap()
	sch := schema.New()
	draft := sch.Clone()

	installEntities, err := parser.Parse(`[{:db/ident :person/name :db/valueType :db.type/string :db/cardinality :db.cardinality/one}]`)
	require.NoError(t, err)
	_, pm, draft, err = transactor.Transact(ctx, tx, pm, sch, draft, installEntities)
	require.NoError(t, err)

	addEntities, err := parser.Parse(`[[:db/add "alice" :person/name "Alice"]]`)
	require.NoError(t, err)
	report, _, draft, err := transactor.Transact(ctx, tx, pm, draft, draft, addEntities)
	require.NoError(t, err)
	aliceID := report.Tempids["alice"]

	require.NoError(t, tx.Commit())

	readTx, err := b.BeginDeferred(ctx)
	require.NoError(t, err)
	defer readTx.Rollback()

	byValue, err := engine.QueryOnce(ctx, readTx, draft,
		`[:find ?e . :where [?e :person/name ?v]]`, []schema.Value{schema.NewString("Alice")})
	require.NoError(t, err)
	require.NotNil(t, byValue.Value)
	ref, ok := byValue.Value.Ref()
	require.True(t, ok)
	require.Equal(t, aliceID, ref)

	byEntity, err := engine.QueryOnce(ctx, readTx, draft,
		`[:find ?v . :where [?e :person/name ?v]]`, []schema.Value{schema.NewRef(aliceID)})
	require.NoError(t, err)
	require.NotNil(t, byEntity.Value)
	s, ok := byEntity.Value.String()
	require.True(t, ok)
	require.Equal(t, "Alice", s)
}

func TestQueryEngineRejectsUnsupportedShape(t *testing.T) {
	ctx := context.Background()
	b, err := backingstore.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer b.Close()

	engine := txdatatest.NewQueryEngine()
	tx, err := b.BeginDeferred(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = engine.QueryOnce(ctx, tx, schema.New(), `[:find ?x :where [?x]]`, nil)
	require.Error(t, err)
}
