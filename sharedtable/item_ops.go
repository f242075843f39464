package sharedtable

import (
	"context"

	"github.com/acksell/mtdynamo"
	"github.com/acksell/mtdynamo/expr"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// GetItem fetches one virtual item by its virtual primary key. Output.Item
// is nil, with a nil error, if no row matches.
func (f *Facade) GetItem(ctx context.Context, in GetItemInput) (*GetItemOutput, error) {
	tenant, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	m, err := f.getMapping(ctx, tenant, in.VirtualTableName)
	if err != nil {
		return nil, err
	}
	physKey, err := m.ApplyKeyToPhysical(in.Key)
	if err != nil {
		return nil, err
	}
	out, err := f.store.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(m.Physical.TableName),
		Key:            physKey,
		ConsistentRead: aws.Bool(in.ConsistentRead),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return &GetItemOutput{}, nil
	}
	virtualItem, err := m.ApplyItemToVirtual(out.Item)
	if err != nil {
		return nil, err
	}
	return &GetItemOutput{Item: virtualItem}, nil
}

// PutItem writes a virtual item, rewriting its key attributes and any
// condition expression before dispatch.
func (f *Facade) PutItem(ctx context.Context, in PutItemInput) (*PutItemOutput, error) {
	tenant, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	m, err := f.getMapping(ctx, tenant, in.VirtualTableName)
	if err != nil {
		return nil, err
	}
	physItem, err := m.ApplyItemToPhysical(in.Item)
	if err != nil {
		return nil, err
	}
	condText, names, values, err := m.RewriteExpression(expr.RoleCondition, in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	_, err = f.store.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(m.Physical.TableName),
		Item:                      physItem,
		ConditionExpression:       nilIfEmpty(condText),
		ExpressionAttributeNames:  nilIfEmptyNames(names),
		ExpressionAttributeValues: nilIfEmptyValues(values),
	})
	if err != nil {
		if asConditionalCheckFailed(err) {
			return nil, mtdynamo.NewError(mtdynamo.KindConditionalCheckFailed, "condition expression evaluated to false", err)
		}
		return nil, err
	}
	return &PutItemOutput{}, nil
}

// UpdateItem applies an update expression to one virtual item. Updates
// targeting the virtual table's hash key are rejected with
// UnsupportedOperation, since the hash key attribute is what identifies
// the row physically.
func (f *Facade) UpdateItem(ctx context.Context, in UpdateItemInput) (*UpdateItemOutput, error) {
	tenant, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	m, err := f.getMapping(ctx, tenant, in.VirtualTableName)
	if err != nil {
		return nil, err
	}
	physKey, err := m.ApplyKeyToPhysical(in.Key)
	if err != nil {
		return nil, err
	}
	updateText, names, values, err := m.RewriteExpression(expr.RoleUpdate, in.UpdateExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	condText, names, values, err := m.RewriteExpression(expr.RoleCondition, in.ConditionExpression, names, values)
	if err != nil {
		return nil, err
	}
	out, err := f.store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(m.Physical.TableName),
		Key:                       physKey,
		UpdateExpression:          nilIfEmpty(updateText),
		ConditionExpression:       nilIfEmpty(condText),
		ExpressionAttributeNames:  nilIfEmptyNames(names),
		ExpressionAttributeValues: nilIfEmptyValues(values),
		ReturnValues:              "ALL_NEW",
	})
	if err != nil {
		if asConditionalCheckFailed(err) {
			return nil, mtdynamo.NewError(mtdynamo.KindConditionalCheckFailed, "condition expression evaluated to false", err)
		}
		return nil, err
	}
	var attrs mtdynamo.Item
	if len(out.Attributes) > 0 {
		attrs, err = m.ApplyItemToVirtual(out.Attributes)
		if err != nil {
			return nil, err
		}
	}
	return &UpdateItemOutput{Attributes: attrs}, nil
}

// DeleteItem removes one virtual item by its virtual primary key.
func (f *Facade) DeleteItem(ctx context.Context, in DeleteItemInput) (*DeleteItemOutput, error) {
	tenant, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	m, err := f.getMapping(ctx, tenant, in.VirtualTableName)
	if err != nil {
		return nil, err
	}
	physKey, err := m.ApplyKeyToPhysical(in.Key)
	if err != nil {
		return nil, err
	}
	condText, names, values, err := m.RewriteExpression(expr.RoleCondition, in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	_, err = f.store.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(m.Physical.TableName),
		Key:                       physKey,
		ConditionExpression:       nilIfEmpty(condText),
		ExpressionAttributeNames:  nilIfEmptyNames(names),
		ExpressionAttributeValues: nilIfEmptyValues(values),
	})
	if err != nil {
		if asConditionalCheckFailed(err) {
			return nil, mtdynamo.NewError(mtdynamo.KindConditionalCheckFailed, "condition expression evaluated to false", err)
		}
		return nil, err
	}
	return &DeleteItemOutput{}, nil
}

// BatchGetItem fetches keys grouped by virtual table, issuing one physical
// BatchGetItem call per virtual table (virtual tables that happen to share
// a physical table are not currently coalesced into a single physical
// call; see DESIGN.md).
func (f *Facade) BatchGetItem(ctx context.Context, in BatchGetItemInput) (*BatchGetItemOutput, error) {
	tenant, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, keys := range in.RequestItems {
		total += len(keys)
	}
	if total > 100 {
		return nil, mtdynamo.Errorf(mtdynamo.KindUnsupportedOperation, "batch get item exceeds 100 keys (%d requested)", total)
	}

	out := &BatchGetItemOutput{
		Responses:       map[string][]mtdynamo.Item{},
		UnprocessedKeys: map[string][]mtdynamo.Item{},
	}
	for virtualTable, keys := range in.RequestItems {
		m, err := f.getMapping(ctx, tenant, virtualTable)
		if err != nil {
			return nil, err
		}
		physKeys := make([]mtdynamo.Item, 0, len(keys))
		for _, key := range keys {
			physKey, err := m.ApplyKeyToPhysical(key)
			if err != nil {
				return nil, err
			}
			physKeys = append(physKeys, physKey)
		}

		resp, err := f.store.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{
				m.Physical.TableName: {Keys: physKeys},
			},
		})
		if err != nil {
			return nil, err
		}
		items := resp.Responses[m.Physical.TableName]
		virtualItems := make([]mtdynamo.Item, 0, len(items))
		for _, item := range items {
			vi, err := m.ApplyItemToVirtual(item)
			if err != nil {
				return nil, err
			}
			virtualItems = append(virtualItems, vi)
		}
		if len(virtualItems) > 0 {
			out.Responses[virtualTable] = virtualItems
		}
		if unprocessed, ok := resp.UnprocessedKeys[m.Physical.TableName]; ok && len(unprocessed.Keys) > 0 {
			unprocessedVirtual := make([]mtdynamo.Item, 0, len(unprocessed.Keys))
			for _, key := range unprocessed.Keys {
				vk, err := m.ApplyKeyToVirtual(key)
				if err != nil {
					return nil, err
				}
				unprocessedVirtual = append(unprocessedVirtual, vk)
			}
			out.UnprocessedKeys[virtualTable] = unprocessedVirtual
		}
	}
	return out, nil
}
