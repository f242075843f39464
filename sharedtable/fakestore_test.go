package sharedtable_test

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeStore is a minimal in-memory storeiface.Client sufficient to drive
// sharedtable.Facade's tests: single-table item storage keyed by
// (hash[,range]), with just enough condition-expression support
// (attribute_exists/attribute_not_exists) to exercise conditional deletes.
type fakeStore struct {
	mu     sync.Mutex
	tables map[string]*fakeTable
}

type fakeTable struct {
	hashKey  string
	rangeKey string // "" if none
	items    map[string]map[string]types.AttributeValue
}

func newFakeStore() *fakeStore {
	return &fakeStore{tables: map[string]*fakeTable{}}
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

func (s *fakeStore) CreateTable(_ context.Context, params *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := aws.ToString(params.TableName)
	t := &fakeTable{items: map[string]map[string]types.AttributeValue{}}
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

func (s *fakeStore) DescribeTable(_ context.Context, params *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[aws.ToString(params.TableName)]; !ok {
		return nil, &types.ResourceNotFoundException{}
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{TableStatus: types.TableStatusActive}}, nil
}

func (s *fakeStore) DeleteTable(_ context.Context, params *dynamodb.DeleteTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables, aws.ToString(params.TableName))
	return &dynamodb.DeleteTableOutput{}, nil
}

func (s *fakeStore) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[aws.ToString(params.TableName)]
	if t == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	item, ok := t.items[itemKey(t.hashKey, t.rangeKey, params.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

func (s *fakeStore) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[aws.ToString(params.TableName)]
	if t == nil {
		return nil, &types.ResourceNotFoundException{}
	}
	key := itemKey(t.hashKey, t.rangeKey, params.Item)
	if !evalCondition(params.ConditionExpression, params.ExpressionAttributeNames, t.items[key]) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	t.items[key] = copyItem(params.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (s *fakeStore) UpdateItem(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[aws.ToString(params.TableName)]
	if t == nil {
		return nil, &types.ResourceNotFoundException{}
	}
	key := itemKey(t.hashKey, t.rangeKey, params.Key)
	existing := t.items[key]
	if !evalCondition(params.ConditionExpression, params.ExpressionAttributeNames, existing) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	merged := applyUpdateExpression(existing, params.UpdateExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	for k, v := range params.Key {
		merged[k] = v
	}
	t.items[key] = merged
	return &dynamodb.UpdateItemOutput{Attributes: copyItem(merged)}, nil
}

func (s *fakeStore) DeleteItem(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[aws.ToString(params.TableName)]
	if t == nil {
		return &dynamodb.DeleteItemOutput{}, nil
	}
	key := itemKey(t.hashKey, t.rangeKey, params.Key)
	if !evalCondition(params.ConditionExpression, params.ExpressionAttributeNames, t.items[key]) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	delete(t.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (s *fakeStore) BatchGetItem(_ context.Context, params *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp := map[string][]map[string]types.AttributeValue{}
	for tableName, kaa := range params.RequestItems {
		t := s.tables[tableName]
		if t == nil {
			continue
		}
		for _, key := range kaa.Keys {
			if item, ok := t.items[itemKey(t.hashKey, t.rangeKey, key)]; ok {
				resp[tableName] = append(resp[tableName], copyItem(item))
			}
		}
	}
	return &dynamodb.BatchGetItemOutput{Responses: resp}, nil
}

func (s *fakeStore) BatchWriteItem(_ context.Context, _ *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func (s *fakeStore) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[aws.ToString(params.TableName)]
	if t == nil {
		return &dynamodb.QueryOutput{}, nil
	}
	hashVal := attrText(params.ExpressionAttributeValues[soleValuePlaceholder(params.ExpressionAttributeValues)])
	var items []map[string]types.AttributeValue
	for _, item := range t.items {
		if attrText(item[t.hashKey]) == hashVal {
			items = append(items, copyItem(item))
		}
	}
	return &dynamodb.QueryOutput{Items: items, Count: int32(len(items))}, nil
}

func (s *fakeStore) Scan(_ context.Context, params *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[aws.ToString(params.TableName)]
	if t == nil {
		return &dynamodb.ScanOutput{}, nil
	}
	var items []map[string]types.AttributeValue
	for _, item := range t.items {
		items = append(items, copyItem(item))
	}
	return &dynamodb.ScanOutput{Items: items, Count: int32(len(items))}, nil
}

func soleValuePlaceholder(values map[string]types.AttributeValue) string {
	for k := range values {
		return k
	}
	return ""
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

// applyUpdateExpression applies the SET and REMOVE sections of an update
// expression to item, resolving #name and :val placeholders. It supports
// exactly the shapes the shared-table façade's own tests issue: plain
// "field = :val" SET clauses and bare-field REMOVE clauses, comma
// separated within a section.
func applyUpdateExpression(item map[string]types.AttributeValue, updateExpr *string, names map[string]string, values map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := copyItem(item)
	if out == nil {
		out = map[string]types.AttributeValue{}
	}
	if updateExpr == nil || *updateExpr == "" {
		return out
	}
	setPart, removePart := splitUpdateSections(*updateExpr)
	for _, clause := range strings.Split(setPart, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		eq := strings.Index(clause, "=")
		if eq < 0 {
			continue
		}
		field := resolveUpdateName(strings.TrimSpace(clause[:eq]), names)
		valRef := strings.TrimSpace(clause[eq+1:])
		if val, ok := values[valRef]; ok {
			out[field] = val
		}
	}
	for _, field := range strings.Split(removePart, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		delete(out, resolveUpdateName(field, names))
	}
	return out
}

func resolveUpdateName(field string, names map[string]string) string {
	if resolved, ok := names[field]; ok {
		return resolved
	}
	return field
}

// splitUpdateSections splits an update expression into its SET and REMOVE
// clause lists, tolerating either section being absent or the two combined
// in one expression ("SET a = :v REMOVE b").
func splitUpdateSections(expr string) (setPart, removePart string) {
	upper := strings.ToUpper(expr)
	setIdx := strings.Index(upper, "SET ")
	removeIdx := strings.Index(upper, "REMOVE ")
	switch {
	case setIdx == -1 && removeIdx == -1:
		return "", ""
	case setIdx != -1 && removeIdx != -1 && setIdx < removeIdx:
		return strings.TrimSpace(expr[setIdx+4 : removeIdx]), strings.TrimSpace(expr[removeIdx+7:])
	case setIdx != -1 && removeIdx != -1:
		return strings.TrimSpace(expr[setIdx+4:]), strings.TrimSpace(expr[removeIdx+7 : setIdx])
	case setIdx != -1:
		return strings.TrimSpace(expr[setIdx+4:]), ""
	default:
		return "", strings.TrimSpace(expr[removeIdx+7:])
	}
}

var conditionFuncRE = regexp.MustCompile(`^(attribute_exists|attribute_not_exists)\(([^)]+)\)$`)

// evalCondition supports exactly the shapes the shared-table façade's own
// tests issue: attribute_exists(name) and attribute_not_exists(name),
// where name may be a #placeholder resolved via names.
func evalCondition(conditionExpr *string, names map[string]string, item map[string]types.AttributeValue) bool {
	if conditionExpr == nil || *conditionExpr == "" {
		return true
	}
	m := conditionFuncRE.FindStringSubmatch(*conditionExpr)
	if m == nil {
		return true
	}
	field := m[2]
	if resolved, ok := names[field]; ok {
		field = resolved
	}
	_, exists := item[field]
	if m[1] == "attribute_exists" {
		return exists
	}
	return !exists
}
