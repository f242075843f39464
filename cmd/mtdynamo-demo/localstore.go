package main

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	smithy "github.com/aws/smithy-go"
)

// localStore is a minimal in-memory storeiface.Client standing in for a
// real DynamoDB endpoint, letting mtdynamo-demo run against nothing but a
// local process. Table metadata is kept only in memory here; it is
// tablerepo.BadgerRepository, not localStore, that gives virtual table
// descriptions the option of surviving a restart.
//
// Grounded on sharedtable's own test fake (fakestore_test.go), extended
// with real UPDATE-expression application and range-key query conditions
// since a CLI demo, unlike a table-driven unit test, needs both to be
// usable interactively.
type localStore struct {
	mu     sync.Mutex
	tables map[string]*localTable
}

type localTable struct {
	hashKey  string
	rangeKey string // "" if none
	rows     map[string]map[string]types.AttributeValue
}

func newLocalStore() *localStore {
	return &localStore{tables: map[string]*localTable{}}
}

func itemKey(hashKey, rangeKey string, item map[string]types.AttributeValue) string {
	k := attrText(item[hashKey])
	if rangeKey != "" {
		k += "\x00" + attrText(item[rangeKey])
	}
	return k
}

func attrText(v types.AttributeValue) string {
	switch val := v.(type) {
	case *types.AttributeValueMemberS:
		return val.Value
	case *types.AttributeValueMemberN:
		return val.Value
	default:
		return ""
	}
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func (s *localStore) CreateTable(_ context.Context, params *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := aws.ToString(params.TableName)
	if _, exists := s.tables[name]; exists {
		return nil, &types.ResourceInUseException{}
	}
	t := &localTable{rows: map[string]map[string]types.AttributeValue{}}
	for _, ks := range params.KeySchema {
		if ks.KeyType == types.KeyTypeHash {
			t.hashKey = aws.ToString(ks.AttributeName)
		} else {
			t.rangeKey = aws.ToString(ks.AttributeName)
		}
	}
	s.tables[name] = t
	return &dynamodb.CreateTableOutput{}, nil
}

func (s *localStore) DescribeTable(_ context.Context, params *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[aws.ToString(params.TableName)]; !ok {
		return nil, &types.ResourceNotFoundException{}
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   params.TableName,
		TableStatus: types.TableStatusActive,
	}}, nil
}

func (s *localStore) DeleteTable(_ context.Context, params *dynamodb.DeleteTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := aws.ToString(params.TableName)
	if _, ok := s.tables[name]; !ok {
		return nil, &types.ResourceNotFoundException{}
	}
	delete(s.tables, name)
	return &dynamodb.DeleteTableOutput{}, nil
}

func (s *localStore) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[aws.ToString(params.TableName)]
	if t == nil {
		return nil, &types.ResourceNotFoundException{}
	}
	item, ok := t.rows[itemKey(t.hashKey, t.rangeKey, params.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

func (s *localStore) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[aws.ToString(params.TableName)]
	if t == nil {
		return nil, &types.ResourceNotFoundException{}
	}
	key := itemKey(t.hashKey, t.rangeKey, params.Item)
	if !evalCondition(params.ConditionExpression, params.ExpressionAttributeNames, t.rows[key]) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	t.rows[key] = copyItem(params.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (s *localStore) UpdateItem(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[aws.ToString(params.TableName)]
	if t == nil {
		return nil, &types.ResourceNotFoundException{}
	}
	key := itemKey(t.hashKey, t.rangeKey, params.Key)
	existing := t.rows[key]
	if !evalCondition(params.ConditionExpression, params.ExpressionAttributeNames, existing) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	merged := copyItem(existing)
	if merged == nil {
		merged = map[string]types.AttributeValue{}
	}
	for k, v := range params.Key {
		merged[k] = v
	}
	applyUpdateExpression(merged, aws.ToString(params.UpdateExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	t.rows[key] = merged
	return &dynamodb.UpdateItemOutput{Attributes: copyItem(merged)}, nil
}

func (s *localStore) DeleteItem(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[aws.ToString(params.TableName)]
	if t == nil {
		return &dynamodb.DeleteItemOutput{}, nil
	}
	key := itemKey(t.hashKey, t.rangeKey, params.Key)
	if !evalCondition(params.ConditionExpression, params.ExpressionAttributeNames, t.rows[key]) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	delete(t.rows, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (s *localStore) BatchGetItem(_ context.Context, params *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp := map[string][]map[string]types.AttributeValue{}
	for tableName, kaa := range params.RequestItems {
		t := s.tables[tableName]
		if t == nil {
			continue
		}
		for _, key := range kaa.Keys {
			if item, ok := t.rows[itemKey(t.hashKey, t.rangeKey, key)]; ok {
				resp[tableName] = append(resp[tableName], copyItem(item))
			}
		}
	}
	return &dynamodb.BatchGetItemOutput{Responses: resp}, nil
}

func (s *localStore) BatchWriteItem(_ context.Context, params *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tableName, reqs := range params.RequestItems {
		t := s.tables[tableName]
		if t == nil {
			continue
		}
		for _, req := range reqs {
			if req.PutRequest != nil {
				t.rows[itemKey(t.hashKey, t.rangeKey, req.PutRequest.Item)] = copyItem(req.PutRequest.Item)
			}
			if req.DeleteRequest != nil {
				delete(t.rows, itemKey(t.hashKey, t.rangeKey, req.DeleteRequest.Key))
			}
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

// Query supports hash-key equality (the only condition shape this façade
// ever issues) plus an optional range-key comparison ("=", "<", "<=", ">",
// ">=" or "begins_with"), matched against whichever key/value placeholders appear
// in the expression.
func (s *localStore) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[aws.ToString(params.TableName)]
	if t == nil {
		return &dynamodb.QueryOutput{}, nil
	}
	pred, err := parseKeyCondition(aws.ToString(params.KeyConditionExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues, t.hashKey, t.rangeKey)
	if err != nil {
		return nil, err
	}
	var items []map[string]types.AttributeValue
	for _, item := range t.rows {
		if pred(item) {
			items = append(items, copyItem(item))
		}
	}
	sortByKeys(items, t.hashKey, t.rangeKey)
	return &dynamodb.QueryOutput{Items: items, Count: int32(len(items))}, nil
}

func (s *localStore) Scan(_ context.Context, params *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[aws.ToString(params.TableName)]
	if t == nil {
		return &dynamodb.ScanOutput{}, nil
	}
	var items []map[string]types.AttributeValue
	for _, item := range t.rows {
		items = append(items, copyItem(item))
	}
	sortByKeys(items, t.hashKey, t.rangeKey)
	return &dynamodb.ScanOutput{Items: items, Count: int32(len(items))}, nil
}

func sortByKeys(items []map[string]types.AttributeValue, hashKey, rangeKey string) {
	sort.Slice(items, func(i, j int) bool {
		hi, hj := attrText(items[i][hashKey]), attrText(items[j][hashKey])
		if hi != hj {
			return hi < hj
		}
		return attrText(items[i][rangeKey]) < attrText(items[j][rangeKey])
	})
}

var conditionFuncRE = regexp.MustCompile(`^(attribute_exists|attribute_not_exists)\(([^)]+)\)$`)

// evalCondition supports attribute_exists(name)/attribute_not_exists(name),
// the only condition-expression shapes the façades generate internally and
// the shapes a demo user is expected to type by hand.
func evalCondition(conditionExpr *string, names map[string]string, item map[string]types.AttributeValue) bool {
	if conditionExpr == nil || *conditionExpr == "" {
		return true
	}
	m := conditionFuncRE.FindStringSubmatch(strings.TrimSpace(*conditionExpr))
	if m == nil {
		return true
	}
	field := resolveName(m[2], names)
	_, exists := item[field]
	if m[1] == "attribute_exists" {
		return exists
	}
	return !exists
}

func resolveName(field string, names map[string]string) string {
	if resolved, ok := names[field]; ok {
		return resolved
	}
	return field
}

// applyUpdateExpression handles exactly one clause shape: "SET path =
// value[, path = value]*", each path and value either a literal attribute
// name/placeholder or one resolved via names/values. This is not the full
// DynamoDB update-expression grammar (no REMOVE/ADD/DELETE, no arithmetic,
// no nested paths) — enough for a demo to add and overwrite top-level
// attributes, which is what SET is for in practice.
func applyUpdateExpression(item map[string]types.AttributeValue, expr string, names map[string]string, values map[string]types.AttributeValue) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(strings.ToUpper(expr), "SET ") {
		return
	}
	clauses := strings.Split(expr[len("SET "):], ",")
	for _, clause := range clauses {
		parts := strings.SplitN(clause, "=", 2)
		if len(parts) != 2 {
			continue
		}
		path := resolveName(strings.TrimSpace(parts[0]), names)
		valuePlaceholder := strings.TrimSpace(parts[1])
		if v, ok := values[valuePlaceholder]; ok {
			item[path] = v
		}
	}
}

var beginsWithRE = regexp.MustCompile(`^begins_with\(([^,]+),\s*([^)]+)\)$`)

// parseKeyCondition recognizes "hash = :v" alone, or combined with a range
// clause joined by "AND": "range = :v", "range < :v", "range <= :v",
// "range > :v", "range >= :v", or "begins_with(range, :v)".
func parseKeyCondition(expr string, names map[string]string, values map[string]types.AttributeValue, hashKey, rangeKey string) (func(map[string]types.AttributeValue) bool, error) {
	clauses := splitAnd(expr)
	if len(clauses) == 0 {
		return func(map[string]types.AttributeValue) bool { return true }, nil
	}
	hashClause := clauses[0]
	hashField, hashPlaceholder, ok := parseEquality(hashClause, names)
	if !ok || resolveName(hashField, names) != hashKey {
		return nil, &smithy.GenericAPIError{Code: "ValidationException", Message: "query must have an equality condition on the hash key"}
	}
	hashVal := attrText(values[hashPlaceholder])

	if len(clauses) == 1 {
		return func(item map[string]types.AttributeValue) bool {
			return attrText(item[hashKey]) == hashVal
		}, nil
	}

	rangeClause := strings.TrimSpace(clauses[1])
	if m := beginsWithRE.FindStringSubmatch(rangeClause); m != nil {
		prefix := attrText(values[strings.TrimSpace(m[2])])
		return func(item map[string]types.AttributeValue) bool {
			return attrText(item[hashKey]) == hashVal && strings.HasPrefix(attrText(item[rangeKey]), prefix)
		}, nil
	}
	for _, op := range []string{"<=", ">=", "<", ">", "="} {
		if idx := strings.Index(rangeClause, op); idx >= 0 {
			placeholder := strings.TrimSpace(rangeClause[idx+len(op):])
			rangeVal := attrText(values[placeholder])
			cmp := compareOp(op)
			return func(item map[string]types.AttributeValue) bool {
				return attrText(item[hashKey]) == hashVal && cmp(attrText(item[rangeKey]), rangeVal)
			}, nil
		}
	}
	return nil, &smithy.GenericAPIError{Code: "ValidationException", Message: "unsupported range key condition"}
}

func compareOp(op string) func(a, b string) bool {
	switch op {
	case "<":
		return func(a, b string) bool { return a < b }
	case "<=":
		return func(a, b string) bool { return a <= b }
	case ">":
		return func(a, b string) bool { return a > b }
	case ">=":
		return func(a, b string) bool { return a >= b }
	default:
		return func(a, b string) bool { return a == b }
	}
}

func parseEquality(clause string, names map[string]string) (field, placeholder string, ok bool) {
	parts := strings.SplitN(clause, "=", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
}

func splitAnd(expr string) []string {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}
	parts := strings.Split(expr, " AND ")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
