package conn_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/datomcore/conn"
	"github.com/estuary/datomcore/partition"
	"github.com/estuary/datomcore/schema"
)

// Allocation does not collide with pre-existing entids: a fresh store's
// user partition starts at USER0, and each later transact's tempid is
// handed the next entid after the previous one.
func TestAllocationStartsAtUser0AndIsSequential(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	require.NoError(t, firstRun(store, ctx))

	report, err := store.Conn.Transact(ctx, `[[:db/add "one" :person/name "One"]]`)
	require.NoError(t, err)

	one, ok := report.Tempids["one"]
	require.True(t, ok)
	require.Equal(t, partition.USER0, one)

	report2, err := store.Conn.Transact(ctx, `[[:db/add "two" :person/name "Two"]]`)
	require.NoError(t, err)
	two, ok := report2.Tempids["two"]
	require.True(t, ok)
	require.Equal(t, partition.USER0+1, two)
}

// A compound transact applies multiple statements atomically, distinct
// tempids within one transact resolve to distinct entids, and a
// mid-transaction query observes the transaction's own uncommitted
// writes (read-your-writes) before it is ever committed.
func TestCompoundTransactAndMidTransactionReadYourWrites(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	require.NoError(t, firstRun(store, ctx))

	ip, err := store.Conn.BeginTransaction(ctx)
	require.NoError(t, err)

	report, err := ip.Transact(ctx, `[[:db/add "one" :person/name "One"] [:db/add "two" :person/name "Two"]]`)
	require.NoError(t, err)
	one, okOne := report.Tempids["one"]
	two, okTwo := report.Tempids["two"]
	require.True(t, okOne)
	require.True(t, okTwo)
	require.NotEqual(t, one, two)

	nameIdent := schema.Ident{Namespace: "person", Name: "name"}
	value, found, err := ip.LookupValueForAttribute(ctx, one, nameIdent)
	require.NoError(t, err)
	require.True(t, found)
	s, _ := value.String()
	require.Equal(t, "One", s)

	scalar, err := ip.QOnce(ctx, `[:find ?v . :where [?e :person/name ?v]]`, []schema.Value{schema.NewRef(two)})
	require.NoError(t, err)
	require.NotNil(t, scalar.Value)
	s2, _ := scalar.Value.String()
	require.Equal(t, "Two", s2)

	_, err = ip.Commit(ctx)
	require.NoError(t, err)
}

// Rolling back an InProgress hides its work entirely: the external query
// engine, run fresh after rollback, sees nothing of the discarded writes.
func TestRollbackHidesUncommittedWork(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	require.NoError(t, firstRun(store, ctx))

	ip, err := store.Conn.BeginTransaction(ctx)
	require.NoError(t, err)

	report, err := ip.Transact(ctx, `[[:db/add "ghost" :person/name "Ghost"]]`)
	require.NoError(t, err)
	ghost, ok := report.Tempids["ghost"]
	require.True(t, ok)

	require.NoError(t, ip.Rollback())

	scalar, err := store.Conn.QOnce(ctx, `[:find ?v . :where [?e :person/name ?v]]`, []schema.Value{schema.NewRef(ghost)})
	require.NoError(t, err)
	require.Nil(t, scalar.Value)

	_, found, err := store.Conn.LookupValueForAttribute(ctx, ghost, schema.Ident{Namespace: "person", Name: "name"})
	require.NoError(t, err)
	require.False(t, found)
}

// tx ids are monotonically increasing across successful transacts, and a
// malformed-EDN transact in between does not consume a tx id.
func TestTxIDsMonotonicAcrossMalformedTransact(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	require.NoError(t, firstRun(store, ctx))

	report1, err := store.Conn.Transact(ctx, `[]`)
	require.NoError(t, err)
	firstTx := report1.TxID

	_, err = store.Conn.Transact(ctx, `[[:db/add "broken" :person/name "Broken"]`) // missing ']'
	require.Error(t, err)
	require.True(t, conn.IsKind(err, conn.KindEdnParse))

	report2, err := store.Conn.Transact(ctx, `[[:db/add "t" :person/name "T"]]`)
	require.NoError(t, err)
	require.Equal(t, firstTx+1, report2.TxID)
}

func firstRun(store *conn.Store, ctx context.Context) error {
	_, err := store.Conn.Transact(ctx, installNameAndAge)
	return err
}
