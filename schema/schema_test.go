package schema_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/datomcore/schema"
)

func TestParseIdent(t *testing.T) {
	ident, err := schema.ParseIdent(":person/name")
	require.NoError(t, err)
	require.Equal(t, schema.Ident{Namespace: "person", Name: "name"}, ident)
	require.Equal(t, ":person/name", ident.String())

	_, err = schema.ParseIdent("person/name")
	require.Error(t, err)

	_, err = schema.ParseIdent(":personname")
	require.Error(t, err)
}

func TestValueAccessors(t *testing.T) {
	v := schema.NewLong(42)
	require.Equal(t, schema.ValueTypeLong, v.Type())
	n, ok := v.Long()
	require.True(t, ok)
	require.Equal(t, int64(42), n)

	_, ok = v.String()
	require.False(t, ok)
}

func TestSchemaCloneIsIndependent(t *testing.T) {
	sch := schema.New()
	ident := schema.Ident{Namespace: "person", Name: "name"}
	sch.PutAttribute(schema.Attribute{Ident: ident, Entid: 100, ValueType: schema.ValueTypeString})

	clone := sch.Clone()
	clone.PutAttribute(schema.Attribute{Ident: ident, Entid: 100, ValueType: schema.ValueTypeLong})

	original, ok := sch.AttributeByIdent(ident)
	require.True(t, ok)
	require.Equal(t, schema.ValueTypeString, original.ValueType)

	require.False(t, sch.Equal(clone))
}

func TestSchemaEntidLookup(t *testing.T) {
	sch := schema.New()
	ident := schema.Ident{Namespace: "person", Name: "age"}
	sch.PutAttribute(schema.Attribute{Ident: ident, Entid: 200, ValueType: schema.ValueTypeLong})

	id, ok := sch.Entid(ident)
	require.True(t, ok)
	require.Equal(t, schema.Entid(200), id)

	attr, ok := sch.AttributeByEntid(200)
	require.True(t, ok)
	require.Equal(t, ident, attr.Ident)

	require.Equal(t, 1, sch.Len())
}
