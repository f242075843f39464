package sharedtable

import (
	"context"

	"github.com/acksell/mtdynamo"
	"github.com/acksell/mtdynamo/expr"
	"github.com/acksell/mtdynamo/mapping"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// scanHashKeyName and scanHashKeyValue are the reserved expression
// placeholder names Scan injects for the primary-index EQ key condition
// it builds when it turns a virtual Scan into a physical Query. Callers
// must not bind a FilterExpression placeholder under these names when
// scanning a table whose CreateTableRequestFactory produces
// mapping.HashPerTable.
const (
	scanHashKeyName  = "#mtScanHashKey"
	scanHashKeyValue = ":mtScanHashKeyValue"
)

// Scan reads every row of a virtual table.
//
// If the virtual table's primary index is mapped under mapping.HashPerTable
// (see PrefixQueryCreateTableRequestFactory), every row's physical hash key
// value is the same constant (tenant, table) prefix, so Scan dispatches an
// EQ physical Query against that constant hash instead of a physical Scan.
// Otherwise — the default mapping.HashPerRow layout, or any Scan against a
// secondary index — Scan dispatches a physical Scan and post-filters rows
// to this virtual table's (tenant, table) prefix, since the physical hash
// key of a HashPerRow table is unique per row and cannot serve as an EQ
// query key for "every row of this table".
func (f *Facade) Scan(ctx context.Context, in ScanInput) (*ScanOutput, error) {
	tenant, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	m, err := f.getMapping(ctx, tenant, in.VirtualTableName)
	if err != nil {
		return nil, err
	}
	physicalIndexName, isPrimary, err := m.ResolveIndex(in.IndexName)
	if err != nil {
		return nil, err
	}

	filterText, names, values, err := m.RewriteExpression(expr.RoleFilter, in.FilterExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}

	var exclusiveStartKey mtdynamo.Item
	if len(in.ExclusiveStartKey) > 0 {
		exclusiveStartKey, err = m.ApplyKeyToPhysical(in.ExclusiveStartKey)
		if err != nil {
			return nil, err
		}
	}

	var out *dynamodb.ScanOutput
	var queryOut *dynamodb.QueryOutput
	if isPrimary && m.Layout == mapping.HashPerTable {
		queryOut, err = f.scanAsPrefixQuery(ctx, m, in, filterText, names, values, exclusiveStartKey)
	} else {
		out, err = f.scanPhysical(ctx, m, in, physicalIndexName, isPrimary, filterText, names, values, exclusiveStartKey)
	}
	if err != nil {
		return nil, err
	}

	var physItems []mtdynamo.Item
	var lastEvaluatedKey mtdynamo.Item
	if queryOut != nil {
		physItems = queryOut.Items
		lastEvaluatedKey = queryOut.LastEvaluatedKey
	} else {
		physItems = out.Items
		lastEvaluatedKey = out.LastEvaluatedKey
	}

	items := make([]mtdynamo.Item, 0, len(physItems))
	for _, physItem := range physItems {
		if !m.BelongsTo(physItem) {
			continue
		}
		virtualItem, err := m.ApplyItemToVirtual(physItem)
		if err != nil {
			return nil, err
		}
		items = append(items, virtualItem)
	}

	var lastKey mtdynamo.Item
	if len(lastEvaluatedKey) > 0 {
		lastKey, err = m.ApplyKeyToVirtual(lastEvaluatedKey)
		if err != nil {
			return nil, err
		}
	}
	return &ScanOutput{Items: items, LastEvaluatedKey: lastKey}, nil
}

func (f *Facade) scanPhysical(ctx context.Context, m *mapping.TableMapping, in ScanInput, physicalIndexName string, isPrimary bool, filterText string, names map[string]string, values map[string]types.AttributeValue, exclusiveStartKey mtdynamo.Item) (*dynamodb.ScanOutput, error) {
	sin := &dynamodb.ScanInput{
		TableName:                 aws.String(m.Physical.TableName),
		FilterExpression:          nilIfEmpty(filterText),
		ExpressionAttributeNames:  nilIfEmptyNames(names),
		ExpressionAttributeValues: nilIfEmptyValues(values),
		ExclusiveStartKey:         exclusiveStartKey,
	}
	if in.Limit > 0 {
		sin.Limit = aws.Int32(in.Limit)
	}
	if !isPrimary {
		sin.IndexName = aws.String(physicalIndexName)
	}
	return f.store.Scan(ctx, sin)
}

// scanAsPrefixQuery serves a virtual Scan on a mapping.HashPerTable primary
// index with a physical Query keyed on the constant hash value every row of
// m's virtual table shares, avoiding a full physical table scan.
func (f *Facade) scanAsPrefixQuery(ctx context.Context, m *mapping.TableMapping, in ScanInput, filterText string, names map[string]string, values map[string]types.AttributeValue, exclusiveStartKey mtdynamo.Item) (*dynamodb.QueryOutput, error) {
	prefix, err := m.PhysicalTablePrefix()
	if err != nil {
		return nil, err
	}
	names = copyStringMap(names)
	values = copyValueMap(values)
	names[scanHashKeyName] = m.Physical.Keys.Hash.Name
	values[scanHashKeyValue] = &types.AttributeValueMemberS{Value: prefix}

	qin := &dynamodb.QueryInput{
		TableName:                 aws.String(m.Physical.TableName),
		KeyConditionExpression:    aws.String(scanHashKeyName + " = " + scanHashKeyValue),
		FilterExpression:          nilIfEmpty(filterText),
		ExpressionAttributeNames:  nilIfEmptyNames(names),
		ExpressionAttributeValues: nilIfEmptyValues(values),
		ExclusiveStartKey:         exclusiveStartKey,
	}
	if in.Limit > 0 {
		qin.Limit = aws.Int32(in.Limit)
	}
	return f.store.Query(ctx, qin)
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyValueMap(m map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
