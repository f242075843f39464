package sharedtable_test

import (
	"context"
	"testing"

	"github.com/acksell/mtdynamo"
	"github.com/acksell/mtdynamo/mtcontext"
	"github.com/acksell/mtdynamo/sharedtable"
	"github.com/acksell/mtdynamo/tablerepo"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFacade(t *testing.T) (*sharedtable.Facade, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	repo := tablerepo.NewInMemory()
	f := sharedtable.New(mtdynamo.NewConfig(mtdynamo.WithPrecreateTables(true)), store, repo)
	return f, store
}

func createT1(t *testing.T, f *sharedtable.Facade, ctx context.Context) {
	t.Helper()
	err := f.CreateTable(ctx, mtdynamo.VirtualTableDescription{
		TableName: "T1",
		Keys:      mtdynamo.KeySchema{Hash: mtdynamo.KeyDef{Name: "hk", Kind: mtdynamo.KeyKindS}},
	})
	require.NoError(t, err)
}

// S1 — basic isolation, and the physical hash key shape the scenario names.
func TestFacade_S1_BasicIsolation(t *testing.T) {
	f, store := newTestFacade(t)
	ctxO1 := mtcontext.WithTenant(context.Background(), "o1")
	ctxO2 := mtcontext.WithTenant(context.Background(), "o2")
	createT1(t, f, ctxO1)
	createT1(t, f, ctxO2)

	_, err := f.PutItem(ctxO1, sharedtable.PutItemInput{
		VirtualTableName: "T1",
		Item:             mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "a"}, "f": &types.AttributeValueMemberS{Value: "o1v"}},
	})
	require.NoError(t, err)
	_, err = f.PutItem(ctxO2, sharedtable.PutItemInput{
		VirtualTableName: "T1",
		Item:             mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "a"}, "f": &types.AttributeValueMemberS{Value: "o2v"}},
	})
	require.NoError(t, err)

	got1, err := f.GetItem(ctxO1, sharedtable.GetItemInput{VirtualTableName: "T1", Key: mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "a"}}})
	require.NoError(t, err)
	assert.Equal(t, "o1v", got1.Item["f"].(*types.AttributeValueMemberS).Value)

	got2, err := f.GetItem(ctxO2, sharedtable.GetItemInput{VirtualTableName: "T1", Key: mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "a"}}})
	require.NoError(t, err)
	assert.Equal(t, "o2v", got2.Item["f"].(*types.AttributeValueMemberS).Value)

	table := store.tables["mt_dynamo_shared"]
	require.NotNil(t, table)
	_, hasO1Row := table.items["o1.T1.a"]
	_, hasO2Row := table.items["o2.T1.a"]
	assert.True(t, hasO1Row)
	assert.True(t, hasO2Row)
}

// S2 — conditional delete success.
func TestFacade_S2_ConditionalDeleteSuccess(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := mtcontext.WithTenant(context.Background(), "o1")
	createT1(t, f, ctx)
	_, err := f.PutItem(ctx, sharedtable.PutItemInput{
		VirtualTableName: "T1",
		Item:             mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "a"}, "f": &types.AttributeValueMemberS{Value: "x"}},
	})
	require.NoError(t, err)

	_, err = f.DeleteItem(ctx, sharedtable.DeleteItemInput{
		VirtualTableName:         "T1",
		Key:                      mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "a"}},
		ConditionExpression:      "attribute_exists(#f)",
		ExpressionAttributeNames: map[string]string{"#f": "f"},
	})
	require.NoError(t, err)

	got, err := f.GetItem(ctx, sharedtable.GetItemInput{VirtualTableName: "T1", Key: mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "a"}}})
	require.NoError(t, err)
	assert.Nil(t, got.Item)
}

// S3 — conditional delete failure.
func TestFacade_S3_ConditionalDeleteFailure(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := mtcontext.WithTenant(context.Background(), "o1")
	createT1(t, f, ctx)
	_, err := f.PutItem(ctx, sharedtable.PutItemInput{
		VirtualTableName: "T1",
		Item:             mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "a"}, "f": &types.AttributeValueMemberS{Value: "x"}},
	})
	require.NoError(t, err)

	_, err = f.DeleteItem(ctx, sharedtable.DeleteItemInput{
		VirtualTableName:         "T1",
		Key:                      mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "a"}},
		ConditionExpression:      "attribute_exists(#f)",
		ExpressionAttributeNames: map[string]string{"#f": "does_not_exist"},
	})
	require.Error(t, err)
	kind, ok := mtdynamo.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, mtdynamo.KindConditionalCheckFailed, kind)

	got, err := f.GetItem(ctx, sharedtable.GetItemInput{VirtualTableName: "T1", Key: mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "a"}}})
	require.NoError(t, err)
	assert.NotNil(t, got.Item)
}

// S4 — hash-key condition rewrite: attribute_exists on the virtual hash
// key attribute must be treated as constant-true after rewrite, since the
// rewriter simply renames it to the always-present physical hash column.
func TestFacade_S4_HashKeyConditionRewrite(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := mtcontext.WithTenant(context.Background(), "o1")
	createT1(t, f, ctx)
	_, err := f.PutItem(ctx, sharedtable.PutItemInput{
		VirtualTableName: "T1",
		Item:             mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "a"}},
	})
	require.NoError(t, err)

	_, err = f.DeleteItem(ctx, sharedtable.DeleteItemInput{
		VirtualTableName:         "T1",
		Key:                      mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "a"}},
		ConditionExpression:      "attribute_exists(#h)",
		ExpressionAttributeNames: map[string]string{"#h": "hk"},
	})
	require.NoError(t, err)
}

// Request immutability: PutItemInput's maps are not mutated by the call.
func TestFacade_RequestImmutability(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := mtcontext.WithTenant(context.Background(), "o1")
	createT1(t, f, ctx)

	names := map[string]string{"#f": "f"}
	values := map[string]types.AttributeValue{}
	in := sharedtable.PutItemInput{
		VirtualTableName:          "T1",
		Item:                      mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "a"}, "f": &types.AttributeValueMemberS{Value: "x"}},
		ConditionExpression:       "attribute_not_exists(#f)",
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}
	before := map[string]string{"#f": "f"}

	_, err := f.PutItem(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, before, names)
	assert.Len(t, in.Item, 2)
	assert.Equal(t, "a", in.Item["hk"].(*types.AttributeValueMemberS).Value)
}

func TestFacade_DescribeTable_NotFound(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := mtcontext.WithTenant(context.Background(), "o1")
	_, err := f.DescribeTable(ctx, "Nope")
	require.Error(t, err)
	kind, _ := mtdynamo.KindOf(err)
	assert.Equal(t, mtdynamo.KindTableNotFound, kind)
}

func TestFacade_NoTenantContext(t *testing.T) {
	f, _ := newTestFacade(t)
	_, err := f.GetItem(context.Background(), sharedtable.GetItemInput{VirtualTableName: "T1"})
	require.Error(t, err)
	kind, _ := mtdynamo.KindOf(err)
	assert.Equal(t, mtdynamo.KindNoTenantContext, kind)
}

func TestFacade_DeleteTable_ThenGetFails(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := mtcontext.WithTenant(context.Background(), "o1")
	createT1(t, f, ctx)
	require.NoError(t, f.DeleteTable(ctx, "T1"))

	_, err := f.DescribeTable(ctx, "T1")
	require.Error(t, err)
	kind, _ := mtdynamo.KindOf(err)
	assert.Equal(t, mtdynamo.KindTableNotFound, kind)
}

// Query rewrites a key condition on the virtual hash key (given through a
// #name placeholder) to the physical composite key, and returns the
// caller's row with its virtual attributes.
func TestFacade_Query(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := mtcontext.WithTenant(context.Background(), "o1")
	createT1(t, f, ctx)
	_, err := f.PutItem(ctx, sharedtable.PutItemInput{
		VirtualTableName: "T1",
		Item:             mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "a"}, "f": &types.AttributeValueMemberS{Value: "x"}},
	})
	require.NoError(t, err)

	out, err := f.Query(ctx, sharedtable.QueryInput{
		VirtualTableName:          "T1",
		KeyConditionExpression:    "#h = :v",
		ExpressionAttributeNames:  map[string]string{"#h": "hk"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: "a"}},
	})
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.Equal(t, "x", out.Items[0]["f"].(*types.AttributeValueMemberS).Value)
}

func TestFacade_Query_HashPerTable_Unsupported(t *testing.T) {
	store := newFakeStore()
	repo := tablerepo.NewInMemory()
	f := sharedtable.New(mtdynamo.NewConfig(mtdynamo.WithPrecreateTables(true)), store, repo,
		sharedtable.WithCreateTableRequestFactory(sharedtable.PrefixQueryCreateTableRequestFactory))
	ctx := mtcontext.WithTenant(context.Background(), "o1")
	require.NoError(t, f.CreateTable(ctx, mtdynamo.VirtualTableDescription{
		TableName: "Events",
		Keys:      mtdynamo.KeySchema{Hash: mtdynamo.KeyDef{Name: "hk", Kind: mtdynamo.KeyKindS}},
	}))

	_, err := f.Query(ctx, sharedtable.QueryInput{
		VirtualTableName:          "Events",
		KeyConditionExpression:    "#h = :v",
		ExpressionAttributeNames:  map[string]string{"#h": "hk"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: "a"}},
	})
	require.Error(t, err)
	kind, ok := mtdynamo.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, mtdynamo.KindUnsupportedOperation, kind)
}

// Scan under the default HashPerRow layout falls back to a full physical
// scan with a post-filter, since the physical hash key is unique per row.
func TestFacade_Scan_FullScanFallback(t *testing.T) {
	f, _ := newTestFacade(t)
	ctxO1 := mtcontext.WithTenant(context.Background(), "o1")
	ctxO2 := mtcontext.WithTenant(context.Background(), "o2")
	createT1(t, f, ctxO1)
	createT1(t, f, ctxO2)
	_, err := f.PutItem(ctxO1, sharedtable.PutItemInput{
		VirtualTableName: "T1",
		Item:             mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "a"}, "f": &types.AttributeValueMemberS{Value: "o1v"}},
	})
	require.NoError(t, err)
	_, err = f.PutItem(ctxO1, sharedtable.PutItemInput{
		VirtualTableName: "T1",
		Item:             mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "b"}, "f": &types.AttributeValueMemberS{Value: "o1v2"}},
	})
	require.NoError(t, err)
	_, err = f.PutItem(ctxO2, sharedtable.PutItemInput{
		VirtualTableName: "T1",
		Item:             mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "a"}, "f": &types.AttributeValueMemberS{Value: "o2v"}},
	})
	require.NoError(t, err)

	out, err := f.Scan(ctxO1, sharedtable.ScanInput{VirtualTableName: "T1"})
	require.NoError(t, err)
	assert.Len(t, out.Items, 2)
	for _, item := range out.Items {
		v := item["f"].(*types.AttributeValueMemberS).Value
		assert.Contains(t, []string{"o1v", "o1v2"}, v)
	}
}

// Scan against a virtual table created through PrefixQueryCreateTableRequestFactory
// is served by a physical Query against the constant per-table hash key
// instead of a full scan.
func TestFacade_Scan_HashPerTable_OptimizedQuery(t *testing.T) {
	store := newFakeStore()
	repo := tablerepo.NewInMemory()
	f := sharedtable.New(mtdynamo.NewConfig(mtdynamo.WithPrecreateTables(true)), store, repo,
		sharedtable.WithCreateTableRequestFactory(sharedtable.PrefixQueryCreateTableRequestFactory))
	ctxO1 := mtcontext.WithTenant(context.Background(), "o1")
	ctxO2 := mtcontext.WithTenant(context.Background(), "o2")
	require.NoError(t, f.CreateTable(ctxO1, mtdynamo.VirtualTableDescription{
		TableName: "Events",
		Keys:      mtdynamo.KeySchema{Hash: mtdynamo.KeyDef{Name: "hk", Kind: mtdynamo.KeyKindS}},
	}))
	require.NoError(t, f.CreateTable(ctxO2, mtdynamo.VirtualTableDescription{
		TableName: "Events",
		Keys:      mtdynamo.KeySchema{Hash: mtdynamo.KeyDef{Name: "hk", Kind: mtdynamo.KeyKindS}},
	}))

	_, err := f.PutItem(ctxO1, sharedtable.PutItemInput{
		VirtualTableName: "Events",
		Item:             mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "e1"}, "kind": &types.AttributeValueMemberS{Value: "login"}},
	})
	require.NoError(t, err)
	_, err = f.PutItem(ctxO1, sharedtable.PutItemInput{
		VirtualTableName: "Events",
		Item:             mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "e2"}, "kind": &types.AttributeValueMemberS{Value: "logout"}},
	})
	require.NoError(t, err)
	_, err = f.PutItem(ctxO2, sharedtable.PutItemInput{
		VirtualTableName: "Events",
		Item:             mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "e1"}, "kind": &types.AttributeValueMemberS{Value: "other-tenant"}},
	})
	require.NoError(t, err)

	out, err := f.Scan(ctxO1, sharedtable.ScanInput{VirtualTableName: "Events"})
	require.NoError(t, err)
	require.Len(t, out.Items, 2)
	kinds := []string{out.Items[0]["kind"].(*types.AttributeValueMemberS).Value, out.Items[1]["kind"].(*types.AttributeValueMemberS).Value}
	assert.ElementsMatch(t, []string{"login", "logout"}, kinds)
	hks := []string{out.Items[0]["hk"].(*types.AttributeValueMemberS).Value, out.Items[1]["hk"].(*types.AttributeValueMemberS).Value}
	assert.ElementsMatch(t, []string{"e1", "e2"}, hks)

	table := store.tables["mt_dynamo_shared_prefix"]
	require.NotNil(t, table)
	_, hasO1E1 := table.items["o1.Events\x00e1"]
	_, hasO2E1 := table.items["o2.Events\x00e1"]
	assert.True(t, hasO1E1)
	assert.True(t, hasO2E1)
}

func TestFacade_UpdateItem(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := mtcontext.WithTenant(context.Background(), "o1")
	createT1(t, f, ctx)
	_, err := f.PutItem(ctx, sharedtable.PutItemInput{
		VirtualTableName: "T1",
		Item:             mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "a"}, "f": &types.AttributeValueMemberS{Value: "old"}},
	})
	require.NoError(t, err)

	out, err := f.UpdateItem(ctx, sharedtable.UpdateItemInput{
		VirtualTableName:          "T1",
		Key:                       mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "a"}},
		UpdateExpression:          "SET #f = :v",
		ExpressionAttributeNames:  map[string]string{"#f": "f"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: "new"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "new", out.Attributes["f"].(*types.AttributeValueMemberS).Value)

	got, err := f.GetItem(ctx, sharedtable.GetItemInput{VirtualTableName: "T1", Key: mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "a"}}})
	require.NoError(t, err)
	assert.Equal(t, "new", got.Item["f"].(*types.AttributeValueMemberS).Value)
}

// UpdateItem rejects updates targeting the virtual hash key attribute,
// since the physical hash key encodes it and cannot be changed in place.
func TestFacade_UpdateItem_RejectsHashKeyUpdate(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := mtcontext.WithTenant(context.Background(), "o1")
	createT1(t, f, ctx)
	_, err := f.PutItem(ctx, sharedtable.PutItemInput{
		VirtualTableName: "T1",
		Item:             mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "a"}},
	})
	require.NoError(t, err)

	_, err = f.UpdateItem(ctx, sharedtable.UpdateItemInput{
		VirtualTableName:          "T1",
		Key:                       mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "a"}},
		UpdateExpression:          "SET #h = :v",
		ExpressionAttributeNames:  map[string]string{"#h": "hk"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: "b"}},
	})
	require.Error(t, err)
	kind, ok := mtdynamo.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, mtdynamo.KindUnsupportedOperation, kind)
}

// BatchGetItem partitions keys by virtual table and aggregates results back
// under each virtual table name, even when the two virtual tables happen to
// share the same physical table.
func TestFacade_BatchGetItem(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := mtcontext.WithTenant(context.Background(), "o1")
	createT1(t, f, ctx)
	require.NoError(t, f.CreateTable(ctx, mtdynamo.VirtualTableDescription{
		TableName: "T2",
		Keys:      mtdynamo.KeySchema{Hash: mtdynamo.KeyDef{Name: "hk", Kind: mtdynamo.KeyKindS}},
	}))
	_, err := f.PutItem(ctx, sharedtable.PutItemInput{
		VirtualTableName: "T1",
		Item:             mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "a"}, "f": &types.AttributeValueMemberS{Value: "t1v"}},
	})
	require.NoError(t, err)
	_, err = f.PutItem(ctx, sharedtable.PutItemInput{
		VirtualTableName: "T2",
		Item:             mtdynamo.Item{"hk": &types.AttributeValueMemberS{Value: "a"}, "f": &types.AttributeValueMemberS{Value: "t2v"}},
	})
	require.NoError(t, err)

	out, err := f.BatchGetItem(ctx, sharedtable.BatchGetItemInput{
		RequestItems: map[string][]mtdynamo.Item{
			"T1": {{"hk": &types.AttributeValueMemberS{Value: "a"}}},
			"T2": {{"hk": &types.AttributeValueMemberS{Value: "a"}}},
		},
	})
	require.NoError(t, err)
	require.Len(t, out.Responses["T1"], 1)
	require.Len(t, out.Responses["T2"], 1)
	assert.Equal(t, "t1v", out.Responses["T1"][0]["f"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "t2v", out.Responses["T2"][0]["f"].(*types.AttributeValueMemberS).Value)
}
