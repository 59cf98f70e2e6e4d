package txdatatest_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/datomcore/schema"
	"github.com/estuary/datomcore/txdata/txdatatest"
)

func TestParseAddVector(t *testing.T) {
	p := txdatatest.NewParser()
	entities, err := p.Parse(`[[:db/add "alice" :person/name "Alice"]]`)
	require.NoError(t, err)
	require.Len(t, entities, 1)

	e := entities[0]
	require.True(t, e.Ref.IsTempID)
	require.Equal(t, "alice", e.Ref.TempID)
	require.Equal(t, schema.Ident{Namespace: "person", Name: "name"}, e.Attribute)
	s, ok := e.Value.String()
	require.True(t, ok)
	require.Equal(t, "Alice", s)
}

func TestParseMapFormSharesOneRef(t *testing.T) {
	p := txdatatest.NewParser()
	entities, err := p.Parse(`[{:db/ident :person/age :db/valueType :db.type/long :db/cardinality :db.cardinality/one}]`)
	require.NoError(t, err)
	require.Len(t, entities, 3)
	for _, e := range entities[1:] {
		require.Equal(t, entities[0].Ref, e.Ref)
	}
}

func TestParseRejectsUnterminatedString(t *testing.T) {
	p := txdatatest.NewParser()
	_, err := p.Parse(`[[:db/add "alice :person/name "Alice"]]`)
	require.Error(t, err)
}

func TestParseNumberLiterals(t *testing.T) {
	p := txdatatest.NewParser()
	entities, err := p.Parse(`[[:db/add 100 :person/age 34]]`)
	require.NoError(t, err)
	require.False(t, entities[0].Ref.IsTempID)
	require.Equal(t, schema.Entid(100), entities[0].Ref.Entid)
	n, ok := entities[0].Value.Long()
	require.True(t, ok)
	require.Equal(t, int64(34), n)
}
