package expr_test

import (
	"testing"

	"github.com/acksell/mtdynamo/expr"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize_Basic(t *testing.T) {
	tokens, err := expr.Tokenize("#pk = :v AND begins_with(#sk, :prefix)")
	require.NoError(t, err)
	require.NotEmpty(t, tokens)
	assert.Equal(t, expr.TokenNamePlaceholder, tokens[0].Kind)
	assert.Equal(t, "#pk", tokens[0].Text)
}

func TestParse_SimpleComparison(t *testing.T) {
	n, err := expr.Parse("#pk = :v")
	require.NoError(t, err)
	assert.Equal(t, "#pk = :v", expr.String(n))
}

func TestParse_AndOrPrecedence(t *testing.T) {
	n, err := expr.Parse("a = :x OR b = :y AND c = :z")
	require.NoError(t, err)
	// AND binds tighter than OR; no parens needed to preserve meaning.
	assert.Equal(t, "a = :x OR b = :y AND c = :z", expr.String(n))
}

func TestParse_ParenthesesPreserved(t *testing.T) {
	n, err := expr.Parse("(a = :x OR b = :y) AND c = :z")
	require.NoError(t, err)
	assert.Equal(t, "(a = :x OR b = :y) AND c = :z", expr.String(n))
}

func TestParse_FunctionsAndNot(t *testing.T) {
	n, err := expr.Parse("NOT attribute_exists(#pk) AND contains(tags, :t)")
	require.NoError(t, err)
	assert.Equal(t, "NOT attribute_exists(#pk) AND contains(tags, :t)", expr.String(n))
}

func TestParse_BetweenAndIn(t *testing.T) {
	n, err := expr.Parse("age BETWEEN :lo AND :hi")
	require.NoError(t, err)
	assert.Equal(t, "age BETWEEN :lo AND :hi", expr.String(n))

	n2, err := expr.Parse("status IN (:a, :b, :c)")
	require.NoError(t, err)
	assert.Equal(t, "status IN (:a, :b, :c)", expr.String(n2))
}

func TestParseProjection(t *testing.T) {
	paths, err := expr.ParseProjection("a, b.c, d[0].e")
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, "a", expr.String(paths[0]))
	assert.Equal(t, "b.c", expr.String(paths[1]))
	assert.Equal(t, "d[0].e", expr.String(paths[2]))

	root, isPlaceholder := paths[0].RootName()
	assert.Equal(t, "a", root)
	assert.False(t, isPlaceholder)
}

func TestParseUpdate_AllActions(t *testing.T) {
	clauses, err := expr.ParseUpdate("SET a = :v1, b = c - :dec REMOVE d ADD e :n DELETE f :s")
	require.NoError(t, err)
	require.Len(t, clauses, 5)
	assert.Equal(t, "SET", clauses[0].Action)
	assert.Equal(t, "SET", clauses[1].Action)
	assert.Equal(t, "REMOVE", clauses[2].Action)
	assert.Equal(t, "ADD", clauses[3].Action)
	assert.Equal(t, "DELETE", clauses[4].Action)
}

// fakeRewriter maps a fixed set of virtual field names for testing.
type fakeRewriter struct {
	fields map[string]fieldInfo
}

type fieldInfo struct {
	physical  string
	isHashKey bool
}

func (f fakeRewriter) RewriteField(virtualName string) (string, bool, bool) {
	info, ok := f.fields[virtualName]
	if !ok {
		return "", false, false
	}
	return info.physical, info.isHashKey, true
}

func (f fakeRewriter) RewriteHashValue(v types.AttributeValue) (types.AttributeValue, error) {
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return v, nil
	}
	return &types.AttributeValueMemberS{Value: "o1.T1." + s.Value}, nil
}

func TestRewrite_ConditionRewritesFieldAndHashValue(t *testing.T) {
	fr := fakeRewriter{fields: map[string]fieldInfo{
		"pk": {physical: "hk", isHashKey: true},
	}}
	names := map[string]string{"#pk": "pk"}
	values := map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: "abc"}}

	text, outNames, outValues, err := expr.Rewrite(expr.RoleCondition, "#pk = :v", names, values, fr)
	require.NoError(t, err)
	assert.Equal(t, "#pk = :v", text)
	assert.Equal(t, "hk", outNames["#pk"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "o1.T1.abc"}, outValues[":v"])

	// inputs untouched
	assert.Equal(t, "pk", names["#pk"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "abc"}, values[":v"])
}

func TestRewrite_LiteralIdentifierRewritten(t *testing.T) {
	fr := fakeRewriter{fields: map[string]fieldInfo{
		"email": {physical: "gsi1hk", isHashKey: true},
	}}
	values := map[string]types.AttributeValue{":e": &types.AttributeValueMemberS{Value: "a@b.com"}}

	text, _, outValues, err := expr.Rewrite(expr.RoleKeyCondition, "email = :e", nil, values, fr)
	require.NoError(t, err)
	assert.Equal(t, "gsi1hk = :e", text)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "o1.T1.a@b.com"}, outValues[":e"])
}

func TestRewrite_NonHashKeyValueUntouched(t *testing.T) {
	fr := fakeRewriter{fields: map[string]fieldInfo{
		"pk": {physical: "hk", isHashKey: true},
		"sk": {physical: "rk", isHashKey: false},
	}}
	names := map[string]string{"#pk": "pk", "#sk": "sk"}
	values := map[string]types.AttributeValue{
		":v":  &types.AttributeValueMemberS{Value: "abc"},
		":rk": &types.AttributeValueMemberS{Value: "range-value"},
	}

	text, outNames, outValues, err := expr.Rewrite(expr.RoleKeyCondition, "#pk = :v AND #sk = :rk", names, values, fr)
	require.NoError(t, err)
	assert.Equal(t, "#pk = :v AND #sk = :rk", text)
	assert.Equal(t, "hk", outNames["#pk"])
	assert.Equal(t, "rk", outNames["#sk"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "o1.T1.abc"}, outValues[":v"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "range-value"}, outValues[":rk"])
}

func TestRewrite_UnmappedFieldsUntouched(t *testing.T) {
	fr := fakeRewriter{fields: map[string]fieldInfo{}}
	text, outNames, outValues, err := expr.Rewrite(expr.RoleFilter, "status = :s AND attribute_exists(other)", nil, map[string]types.AttributeValue{
		":s": &types.AttributeValueMemberS{Value: "active"},
	}, fr)
	require.NoError(t, err)
	assert.Equal(t, "status = :s AND attribute_exists(other)", text)
	assert.Empty(t, outNames)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "active"}, outValues[":s"])
}

func TestRewrite_ProjectionRewritesFieldNames(t *testing.T) {
	fr := fakeRewriter{fields: map[string]fieldInfo{
		"pk": {physical: "hk", isHashKey: true},
	}}
	names := map[string]string{"#pk": "pk"}
	text, outNames, _, err := expr.Rewrite(expr.RoleProjection, "#pk, other, nested.field", names, nil, fr)
	require.NoError(t, err)
	assert.Equal(t, "#pk, other, nested.field", text)
	assert.Equal(t, "hk", outNames["#pk"])
}

func TestRewrite_UpdateRejectsHashKeyTarget(t *testing.T) {
	fr := fakeRewriter{fields: map[string]fieldInfo{
		"pk": {physical: "hk", isHashKey: true},
	}}
	names := map[string]string{"#pk": "pk"}
	values := map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: "x"}}
	_, _, _, err := expr.Rewrite(expr.RoleUpdate, "SET #pk = :v", names, values, fr)
	require.Error(t, err)
}

func TestRewrite_UpdateSetAndRemove(t *testing.T) {
	fr := fakeRewriter{fields: map[string]fieldInfo{}}
	values := map[string]types.AttributeValue{":v": &types.AttributeValueMemberN{Value: "1"}}
	text, _, _, err := expr.Rewrite(expr.RoleUpdate, "SET count = count + :v REMOVE stale", nil, values, fr)
	require.NoError(t, err)
	assert.Equal(t, "SET count = count + :v REMOVE stale", text)
}
