// Package tablerepo persists VirtualTableDescriptions keyed by
// (tenant, virtualTableName), the table-metadata registry the façades
// consult as an external collaborator. Three implementations are provided:
// an in-memory map for tests and small deployments, a store-backed one
// that persists through the same storeiface.Client the façades use,
// against a "_tablemetadata" physical table, and BadgerRepository, backed
// by an embedded BadgerDB database.
package tablerepo

import (
	"context"
	"sync"

	"github.com/acksell/mtdynamo"
	"github.com/acksell/mtdynamo/storeiface"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Repository resolves and persists virtual table descriptions.
type Repository interface {
	// Get returns the VirtualTableDescription for (tenant, virtualName), or
	// found=false if none has been created.
	Get(ctx context.Context, tenant, virtualName string) (desc mtdynamo.VirtualTableDescription, found bool, err error)
	// Put persists desc for (tenant, desc.TableName). It returns
	// TableAlreadyExists if a description is already persisted for that key.
	Put(ctx context.Context, tenant string, desc mtdynamo.VirtualTableDescription) error
	// Delete removes the description for (tenant, virtualName). It returns
	// TableNotFound if none exists.
	Delete(ctx context.Context, tenant, virtualName string) error
}

// InMemory is a Repository backed by a guarded map, suitable for tests and
// for deployments that don't need metadata to survive a restart.
type InMemory struct {
	mu      sync.RWMutex
	entries map[string]mtdynamo.VirtualTableDescription
}

// NewInMemory returns an empty InMemory repository.
func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[string]mtdynamo.VirtualTableDescription)}
}

var (
	_ Repository = (*InMemory)(nil)
	_ Repository = (*StoreBacked)(nil)
)

func repoKey(tenant, virtualName string) string { return tenant + "\x00" + virtualName }

func (r *InMemory) Get(_ context.Context, tenant, virtualName string) (mtdynamo.VirtualTableDescription, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.entries[repoKey(tenant, virtualName)]
	return desc, ok, nil
}

func (r *InMemory) Put(_ context.Context, tenant string, desc mtdynamo.VirtualTableDescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := repoKey(tenant, desc.TableName)
	if _, exists := r.entries[key]; exists {
		return mtdynamo.Errorf(mtdynamo.KindTableAlreadyExists,
			"table %q already exists for tenant %q", desc.TableName, tenant)
	}
	r.entries[key] = desc
	return nil
}

func (r *InMemory) Delete(_ context.Context, tenant, virtualName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := repoKey(tenant, virtualName)
	if _, exists := r.entries[key]; !exists {
		return mtdynamo.Errorf(mtdynamo.KindTableNotFound,
			"table %q not found for tenant %q", virtualName, tenant)
	}
	delete(r.entries, key)
	return nil
}

// metadataItem is the wire shape persisted in TableMetadataTableName; Tenant
// and TableName double as the physical table's hash and range keys, so the
// description itself never needs to be parsed to look one up.
type metadataItem struct {
	Tenant      string
	TableName   string
	Description mtdynamo.VirtualTableDescription
}

// StoreBacked is a Repository that persists descriptions as items in
// TableMetadataTableName through the same storeiface.Client the façades
// dispatch physical operations through, so table metadata survives process
// restarts without a separate storage dependency.
type StoreBacked struct {
	client storeiface.Client
}

// NewStoreBacked returns a Repository backed by client's
// TableMetadataTableName table. The table itself is expected to already
// exist (see BuildMetadataTableInput for its schema).
func NewStoreBacked(client storeiface.Client) *StoreBacked {
	return &StoreBacked{client: client}
}

// BuildMetadataTableInput returns the CreateTableInput for
// TableMetadataTableName, for callers that precreate physical tables.
func BuildMetadataTableInput() *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName: aws.String(mtdynamo.TableMetadataTableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("Tenant"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("TableName"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("Tenant"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("TableName"), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	}
}

func metadataKey(tenant, virtualName string) (map[string]types.AttributeValue, error) {
	key, err := attributevalue.MarshalMap(struct {
		Tenant    string
		TableName string
	}{tenant, virtualName})
	if err != nil {
		return nil, mtdynamo.Errorf(mtdynamo.KindMalformedPhysicalKey, "marshal metadata key: %v", err)
	}
	return key, nil
}

func (r *StoreBacked) Get(ctx context.Context, tenant, virtualName string) (mtdynamo.VirtualTableDescription, bool, error) {
	key, err := metadataKey(tenant, virtualName)
	if err != nil {
		return mtdynamo.VirtualTableDescription{}, false, err
	}
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(mtdynamo.TableMetadataTableName),
		Key:       key,
	})
	if err != nil {
		return mtdynamo.VirtualTableDescription{}, false, err
	}
	if len(out.Item) == 0 {
		return mtdynamo.VirtualTableDescription{}, false, nil
	}
	var item metadataItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return mtdynamo.VirtualTableDescription{}, false, mtdynamo.Errorf(mtdynamo.KindMalformedPhysicalKey, "unmarshal metadata item: %v", err)
	}
	return item.Description, true, nil
}

func (r *StoreBacked) Put(ctx context.Context, tenant string, desc mtdynamo.VirtualTableDescription) error {
	if _, found, err := r.Get(ctx, tenant, desc.TableName); err != nil {
		return err
	} else if found {
		return mtdynamo.Errorf(mtdynamo.KindTableAlreadyExists,
			"table %q already exists for tenant %q", desc.TableName, tenant)
	}
	item, err := attributevalue.MarshalMap(metadataItem{Tenant: tenant, TableName: desc.TableName, Description: desc})
	if err != nil {
		return mtdynamo.Errorf(mtdynamo.KindMalformedPhysicalKey, "marshal metadata item: %v", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(mtdynamo.TableMetadataTableName),
		Item:      item,
	})
	return err
}

func (r *StoreBacked) Delete(ctx context.Context, tenant, virtualName string) error {
	if _, found, err := r.Get(ctx, tenant, virtualName); err != nil {
		return err
	} else if !found {
		return mtdynamo.Errorf(mtdynamo.KindTableNotFound,
			"table %q not found for tenant %q", virtualName, tenant)
	}
	key, err := metadataKey(tenant, virtualName)
	if err != nil {
		return err
	}
	_, err = r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(mtdynamo.TableMetadataTableName),
		Key:       key,
	})
	return err
}
