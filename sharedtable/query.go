package sharedtable

import (
	"context"

	"github.com/acksell/mtdynamo"
	"github.com/acksell/mtdynamo/expr"
	"github.com/acksell/mtdynamo/mapping"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// Query dispatches a physical Query on the primary index or a named
// secondary index. Rows are matched defensively against the caller's
// (tenant, virtual table) after the physical call returns, since a shared
// physical index can host rows from other virtual tables and tenants.
func (f *Facade) Query(ctx context.Context, in QueryInput) (*QueryOutput, error) {
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
	if isPrimary && m.Layout == mapping.HashPerTable {
		return nil, mtdynamo.Errorf(mtdynamo.KindUnsupportedOperation,
			"query on the primary index of virtual table %q is not supported: its physical mapping packs the virtual primary key into a composite range key that key-condition rewriting cannot express", in.VirtualTableName)
	}

	keyCondText, names, values, err := m.RewriteExpression(expr.RoleKeyCondition, in.KeyConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	filterText, names, values, err := m.RewriteExpression(expr.RoleFilter, in.FilterExpression, names, values)
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

	qin := &dynamodb.QueryInput{
		TableName:                 aws.String(m.Physical.TableName),
		KeyConditionExpression:    aws.String(keyCondText),
		FilterExpression:          nilIfEmpty(filterText),
		ExpressionAttributeNames:  nilIfEmptyNames(names),
		ExpressionAttributeValues: nilIfEmptyValues(values),
		ScanIndexForward:          in.ScanIndexForward,
		ExclusiveStartKey:         exclusiveStartKey,
	}
	if in.Limit > 0 {
		qin.Limit = aws.Int32(in.Limit)
	}
	if !isPrimary {
		qin.IndexName = aws.String(physicalIndexName)
	}

	out, err := f.store.Query(ctx, qin)
	if err != nil {
		return nil, err
	}

	items := make([]mtdynamo.Item, 0, len(out.Items))
	for _, physItem := range out.Items {
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
	if len(out.LastEvaluatedKey) > 0 {
		lastKey, err = m.ApplyKeyToVirtual(out.LastEvaluatedKey)
		if err != nil {
			return nil, err
		}
	}
	return &QueryOutput{Items: items, LastEvaluatedKey: lastKey}, nil
}
