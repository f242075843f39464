package tablepertenant

import (
	"context"
	"errors"

	"github.com/acksell/mtdynamo"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// GetItem, PutItem, UpdateItem, DeleteItem, Query, and Scan all dispatch
// straight to the tenant's own physical table with no key or expression
// rewriting: the only translation is TableName.

func (f *Facade) GetItem(ctx context.Context, virtualTableName string, key mtdynamo.Item, consistentRead bool) (mtdynamo.Item, error) {
	tenant, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	out, err := f.store.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(f.physicalName(tenant, virtualTableName)),
		Key:            key,
		ConsistentRead: aws.Bool(consistentRead),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

func (f *Facade) PutItem(ctx context.Context, virtualTableName string, item mtdynamo.Item, conditionExpr string, names map[string]string, values map[string]types.AttributeValue) error {
	tenant, err := requireTenant(ctx)
	if err != nil {
		return err
	}
	_, err = f.store.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(f.physicalName(tenant, virtualTableName)),
		Item:                      item,
		ConditionExpression:       nilIfEmpty(conditionExpr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	return classifyConditionError(err)
}

func (f *Facade) UpdateItem(ctx context.Context, virtualTableName string, key mtdynamo.Item, updateExpr, conditionExpr string, names map[string]string, values map[string]types.AttributeValue) (mtdynamo.Item, error) {
	tenant, err := requireTenant(ctx)
	if err != nil {
		return nil, err
	}
	out, err := f.store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(f.physicalName(tenant, virtualTableName)),
		Key:                       key,
		UpdateExpression:          nilIfEmpty(updateExpr),
		ConditionExpression:       nilIfEmpty(conditionExpr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              "ALL_NEW",
	})
	if err := classifyConditionError(err); err != nil {
		return nil, err
	}
	return out.Attributes, nil
}

func (f *Facade) DeleteItem(ctx context.Context, virtualTableName string, key mtdynamo.Item, conditionExpr string, names map[string]string, values map[string]types.AttributeValue) error {
	tenant, err := requireTenant(ctx)
	if err != nil {
		return err
	}
	_, err = f.store.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(f.physicalName(tenant, virtualTableName)),
		Key:                       key,
		ConditionExpression:       nilIfEmpty(conditionExpr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	return classifyConditionError(err)
}

func (f *Facade) Query(ctx context.Context, virtualTableName, indexName string, keyConditionExpr, filterExpr string, names map[string]string, values map[string]types.AttributeValue, limit int32) ([]mtdynamo.Item, mtdynamo.Item, error) {
	tenant, err := requireTenant(ctx)
	if err != nil {
		return nil, nil, err
	}
	qin := &dynamodb.QueryInput{
		TableName:                 aws.String(f.physicalName(tenant, virtualTableName)),
		KeyConditionExpression:    aws.String(keyConditionExpr),
		FilterExpression:          nilIfEmpty(filterExpr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}
	if indexName != "" {
		qin.IndexName = aws.String(indexName)
	}
	if limit > 0 {
		qin.Limit = aws.Int32(limit)
	}
	out, err := f.store.Query(ctx, qin)
	if err != nil {
		return nil, nil, err
	}
	items := make([]mtdynamo.Item, len(out.Items))
	for i, item := range out.Items {
		items[i] = item
	}
	return items, out.LastEvaluatedKey, nil
}

func (f *Facade) Scan(ctx context.Context, virtualTableName, indexName string, filterExpr string, names map[string]string, values map[string]types.AttributeValue, limit int32) ([]mtdynamo.Item, mtdynamo.Item, error) {
	tenant, err := requireTenant(ctx)
	if err != nil {
		return nil, nil, err
	}
	sin := &dynamodb.ScanInput{
		TableName:                 aws.String(f.physicalName(tenant, virtualTableName)),
		FilterExpression:          nilIfEmpty(filterExpr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}
	if indexName != "" {
		sin.IndexName = aws.String(indexName)
	}
	if limit > 0 {
		sin.Limit = aws.Int32(limit)
	}
	out, err := f.store.Scan(ctx, sin)
	if err != nil {
		return nil, nil, err
	}
	items := make([]mtdynamo.Item, len(out.Items))
	for i, item := range out.Items {
		items[i] = item
	}
	return items, out.LastEvaluatedKey, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func classifyConditionError(err error) error {
	if err == nil {
		return nil
	}
	var e *types.ConditionalCheckFailedException
	if errors.As(err, &e) {
		return mtdynamo.NewError(mtdynamo.KindConditionalCheckFailed, "condition expression evaluated to false", err)
	}
	return err
}
