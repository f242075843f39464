package main

import (
	"context"

	"github.com/acksell/mtdynamo"
	"github.com/acksell/mtdynamo/sharedtable"
	"github.com/acksell/mtdynamo/tablepertenant"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// backend is the demo's own narrow view over whichever façade Config.Mode
// selects, since sharedtable.Facade and tablepertenant.Facade expose the
// same operations with different signatures (struct-of-fields request
// types vs. positional arguments) — a difference each façade's own tests
// treat as a non-issue but that a caller wanting to be generic over both,
// like this CLI, has to paper over somewhere.
type backend interface {
	CreateTable(ctx context.Context, virtual mtdynamo.VirtualTableDescription) error
	DescribeTable(ctx context.Context, virtualTableName string) (mtdynamo.VirtualTableDescription, error)
	DeleteTable(ctx context.Context, virtualTableName string) error
	GetItem(ctx context.Context, virtualTableName string, key mtdynamo.Item) (mtdynamo.Item, error)
	PutItem(ctx context.Context, virtualTableName string, item mtdynamo.Item) error
	DeleteItem(ctx context.Context, virtualTableName string, key mtdynamo.Item) error
	Query(ctx context.Context, virtualTableName string, hashValue mtdynamo.Item, limit int32) ([]mtdynamo.Item, error)
	Scan(ctx context.Context, virtualTableName string, limit int32) ([]mtdynamo.Item, error)
}

type sharedTableBackend struct{ f *sharedtable.Facade }

func (b sharedTableBackend) CreateTable(ctx context.Context, virtual mtdynamo.VirtualTableDescription) error {
	return b.f.CreateTable(ctx, virtual)
}

func (b sharedTableBackend) DescribeTable(ctx context.Context, name string) (mtdynamo.VirtualTableDescription, error) {
	return b.f.DescribeTable(ctx, name)
}

func (b sharedTableBackend) DeleteTable(ctx context.Context, name string) error {
	return b.f.DeleteTable(ctx, name)
}

func (b sharedTableBackend) GetItem(ctx context.Context, name string, key mtdynamo.Item) (mtdynamo.Item, error) {
	out, err := b.f.GetItem(ctx, sharedtable.GetItemInput{VirtualTableName: name, Key: key})
	if err != nil {
		return nil, err
	}
	return out.Item, nil
}

func (b sharedTableBackend) PutItem(ctx context.Context, name string, item mtdynamo.Item) error {
	_, err := b.f.PutItem(ctx, sharedtable.PutItemInput{VirtualTableName: name, Item: item})
	return err
}

func (b sharedTableBackend) DeleteItem(ctx context.Context, name string, key mtdynamo.Item) error {
	_, err := b.f.DeleteItem(ctx, sharedtable.DeleteItemInput{VirtualTableName: name, Key: key})
	return err
}

func (b sharedTableBackend) Query(ctx context.Context, name string, hashValue mtdynamo.Item, limit int32) ([]mtdynamo.Item, error) {
	hashName := soleKey(hashValue)
	out, err := b.f.Query(ctx, sharedtable.QueryInput{
		VirtualTableName:          name,
		KeyConditionExpression:    "#h = :h",
		ExpressionAttributeNames:  map[string]string{"#h": hashName},
		ExpressionAttributeValues: singleValueMap(":h", hashValue[hashName]),
		Limit:                     limit,
	})
	if err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (b sharedTableBackend) Scan(ctx context.Context, name string, limit int32) ([]mtdynamo.Item, error) {
	out, err := b.f.Scan(ctx, sharedtable.ScanInput{VirtualTableName: name, Limit: limit})
	if err != nil {
		return nil, err
	}
	return out.Items, nil
}

type tablePerTenantBackend struct{ f *tablepertenant.Facade }

func (b tablePerTenantBackend) CreateTable(ctx context.Context, virtual mtdynamo.VirtualTableDescription) error {
	return b.f.CreateTable(ctx, virtual)
}

func (b tablePerTenantBackend) DescribeTable(ctx context.Context, name string) (mtdynamo.VirtualTableDescription, error) {
	return b.f.DescribeTable(ctx, name)
}

func (b tablePerTenantBackend) DeleteTable(ctx context.Context, name string) error {
	return b.f.DeleteTable(ctx, name)
}

func (b tablePerTenantBackend) GetItem(ctx context.Context, name string, key mtdynamo.Item) (mtdynamo.Item, error) {
	return b.f.GetItem(ctx, name, key, false)
}

func (b tablePerTenantBackend) PutItem(ctx context.Context, name string, item mtdynamo.Item) error {
	return b.f.PutItem(ctx, name, item, "", nil, nil)
}

func (b tablePerTenantBackend) DeleteItem(ctx context.Context, name string, key mtdynamo.Item) error {
	return b.f.DeleteItem(ctx, name, key, "", nil, nil)
}

func (b tablePerTenantBackend) Query(ctx context.Context, name string, hashValue mtdynamo.Item, limit int32) ([]mtdynamo.Item, error) {
	hashName := soleKey(hashValue)
	items, _, err := b.f.Query(ctx, name, "", "#h = :h", "",
		map[string]string{"#h": hashName}, singleValueMap(":h", hashValue[hashName]), limit)
	return items, err
}

func (b tablePerTenantBackend) Scan(ctx context.Context, name string, limit int32) ([]mtdynamo.Item, error) {
	items, _, err := b.f.Scan(ctx, name, "", "", nil, nil, limit)
	return items, err
}

func soleKey(item mtdynamo.Item) string {
	for k := range item {
		return k
	}
	return ""
}

func singleValueMap(placeholder string, v types.AttributeValue) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{placeholder: v}
}
