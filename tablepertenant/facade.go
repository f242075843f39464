// Package tablepertenant implements the table-per-tenant façade: every
// tenant's virtual table maps 1:1 to its own physical table, so no key
// rewriting is needed — only the table name changes.
// It shares the storeiface.Client, tablerepo.Repository, and mtcontext
// building blocks with sharedtable, but skips keycodec/indexmap/expr
// entirely since index names and schemas pass through unchanged.
package tablepertenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/acksell/mtdynamo"
	"github.com/acksell/mtdynamo/mtcontext"
	"github.com/acksell/mtdynamo/storeiface"
	"github.com/acksell/mtdynamo/tablerepo"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// defaultTablePollInterval is used in place of f.cfg.PollInterval when it is
// left at its zero value.
const defaultTablePollInterval = 5 * time.Second

// maxTableActiveWait bounds how long ensurePhysicalTable will poll before
// giving up on a table reaching ACTIVE. A var, not a const, so tests can
// shrink it rather than waiting out the real default.
var maxTableActiveWait = 5 * time.Minute

// PhysicalTableNamer derives a physical table name from a tenant and
// virtual table name. The default is tablePrefix + tenant + delimiter +
// virtualTableName.
type PhysicalTableNamer func(tenant, virtualTableName string) string

// Facade is the table-per-tenant front end: PutItem/GetItem/etc. dispatch
// straight through to the tenant's own physical table, with only the table
// name translated.
type Facade struct {
	cfg    mtdynamo.Config
	store  storeiface.Client
	repo   tablerepo.Repository
	namer  PhysicalTableNamer
	logger *zap.Logger
}

// Option customizes a Facade built with New.
type Option func(*Facade)

func WithPhysicalTableNamer(namer PhysicalTableNamer) Option {
	return func(f *Facade) { f.namer = namer }
}

func WithLogger(logger *zap.Logger) Option {
	return func(f *Facade) { f.logger = logger }
}

// New builds a Facade. The default namer is cfg.TablePrefix + tenant + cfg.Delimiter + virtualTableName.
func New(cfg mtdynamo.Config, store storeiface.Client, repo tablerepo.Repository, opts ...Option) *Facade {
	f := &Facade{
		cfg:   cfg,
		store: store,
		repo:  repo,
		namer: func(tenant, virtualTableName string) string {
			return cfg.TablePrefix + tenant + cfg.Delimiter + virtualTableName
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func requireTenant(ctx context.Context) (string, error) {
	tenant, ok := mtcontext.Tenant(ctx)
	if !ok {
		return "", mtdynamo.Errorf(mtdynamo.KindNoTenantContext, "no tenant set on context")
	}
	return tenant, nil
}

// physicalName resolves the physical table backing (tenant, virtualTableName).
func (f *Facade) physicalName(tenant, virtualTableName string) string {
	return f.namer(tenant, virtualTableName)
}

// CreateTable persists the virtual table description under its own name
// (matching the physical name, since table-per-tenant reports the virtual
// name back unchanged) and, per cfg.PrecreateTables, creates the physical
// table with the virtual table's own key schema and indexes verbatim.
func (f *Facade) CreateTable(ctx context.Context, virtual mtdynamo.VirtualTableDescription) error {
	tenant, err := requireTenant(ctx)
	if err != nil {
		return err
	}
	if err := f.repo.Put(ctx, tenant, virtual); err != nil {
		return err
	}
	physicalName := f.physicalName(tenant, virtual.TableName)
	if f.cfg.PrecreateTables {
		if err := f.ensurePhysicalTable(ctx, physicalName, virtual); err != nil {
			return err
		}
	} else if _, err := f.store.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(physicalName)}); err != nil {
		return mtdynamo.NewError(mtdynamo.KindIncompatibleSchema, fmt.Sprintf("physical table %q does not exist and precreateTables is false", physicalName), err)
	}
	f.logger.Debug("table created", zap.String("tenant", tenant), zap.String("table", virtual.TableName), zap.String("physicalTable", physicalName))
	return nil
}

// DescribeTable returns the persisted virtual table description, reported
// back under its own virtual name.
func (f *Facade) DescribeTable(ctx context.Context, virtualTableName string) (mtdynamo.VirtualTableDescription, error) {
	tenant, err := requireTenant(ctx)
	if err != nil {
		return mtdynamo.VirtualTableDescription{}, err
	}
	desc, found, err := f.repo.Get(ctx, tenant, virtualTableName)
	if err != nil {
		return mtdynamo.VirtualTableDescription{}, err
	}
	if !found {
		return mtdynamo.VirtualTableDescription{}, mtdynamo.Errorf(mtdynamo.KindTableNotFound, "virtual table %q not found for tenant %q", virtualTableName, tenant)
	}
	return desc, nil
}

// DeleteTable removes the metadata and, unconditionally (there is nothing
// else to truncate: the physical table belongs to this tenant alone),
// deletes the physical table itself.
func (f *Facade) DeleteTable(ctx context.Context, virtualTableName string) error {
	tenant, err := requireTenant(ctx)
	if err != nil {
		return err
	}
	if err := f.repo.Delete(ctx, tenant, virtualTableName); err != nil {
		return err
	}
	physicalName := f.physicalName(tenant, virtualTableName)
	drop := func() error {
		_, err := f.store.DeleteTable(context.WithoutCancel(ctx), &dynamodb.DeleteTableInput{TableName: aws.String(physicalName)})
		return err
	}
	if f.cfg.DeleteTableAsync {
		go func() {
			if err := drop(); err != nil {
				f.logger.Warn("async physical table drop failed", zap.String("physicalTable", physicalName), zap.Error(err))
			}
		}()
		return nil
	}
	return drop()
}

// ensurePhysicalTable creates physicalName's table if it does not exist yet
// and waits for it to reach ACTIVE, polling DescribeTable every
// f.cfg.PollInterval (or defaultTablePollInterval if unset). A table already
// ACTIVE returns immediately without waiting.
func (f *Facade) ensurePhysicalTable(ctx context.Context, physicalName string, virtual mtdynamo.VirtualTableDescription) error {
	out, err := f.store.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(physicalName)})
	switch {
	case err == nil:
		if out.Table != nil && out.Table.TableStatus == types.TableStatusActive {
			return nil
		}
	default:
		var notFound *types.ResourceNotFoundException
		if !errors.As(err, &notFound) {
			return err
		}
		if _, err := f.store.CreateTable(ctx, buildCreateTableInput(physicalName, virtual)); err != nil {
			var inUse *types.ResourceInUseException
			if !errors.As(err, &inUse) {
				return err
			}
		}
	}
	return f.waitForTableActive(ctx, physicalName)
}

// waitForTableActive polls DescribeTable at f.cfg.PollInterval until
// physicalName reaches ACTIVE or maxTableActiveWait elapses.
func (f *Facade) waitForTableActive(ctx context.Context, physicalName string) error {
	pollInterval := f.cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultTablePollInterval
	}
	waiter := dynamodb.NewTableExistsWaiter(f.store, func(o *dynamodb.TableExistsWaiterOptions) {
		o.MinDelay = pollInterval
		o.MaxDelay = pollInterval
	})
	if _, err := waiter.WaitForOutput(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(physicalName)}, maxTableActiveWait); err != nil {
		return mtdynamo.NewError(mtdynamo.KindTableCreationTimedOut, fmt.Sprintf("table %q did not become active within %s", physicalName, maxTableActiveWait), err)
	}
	return nil
}

func buildCreateTableInput(physicalName string, virtual mtdynamo.VirtualTableDescription) *dynamodb.CreateTableInput {
	attrs := []types.AttributeDefinition{{AttributeName: aws.String(virtual.Keys.Hash.Name), AttributeType: types.ScalarAttributeType(virtual.Keys.Hash.Kind)}}
	keySchema := []types.KeySchemaElement{{AttributeName: aws.String(virtual.Keys.Hash.Name), KeyType: types.KeyTypeHash}}
	seen := map[string]bool{virtual.Keys.Hash.Name: true}
	if virtual.Keys.HasRange() {
		attrs = append(attrs, types.AttributeDefinition{AttributeName: aws.String(virtual.Keys.Range.Name), AttributeType: types.ScalarAttributeType(virtual.Keys.Range.Kind)})
		keySchema = append(keySchema, types.KeySchemaElement{AttributeName: aws.String(virtual.Keys.Range.Name), KeyType: types.KeyTypeRange})
		seen[virtual.Keys.Range.Name] = true
	}

	var gsis []types.GlobalSecondaryIndex
	for _, idx := range virtual.Indexes {
		idxKeySchema := []types.KeySchemaElement{{AttributeName: aws.String(idx.Keys.Hash.Name), KeyType: types.KeyTypeHash}}
		if !seen[idx.Keys.Hash.Name] {
			attrs = append(attrs, types.AttributeDefinition{AttributeName: aws.String(idx.Keys.Hash.Name), AttributeType: types.ScalarAttributeType(idx.Keys.Hash.Kind)})
			seen[idx.Keys.Hash.Name] = true
		}
		if idx.Keys.HasRange() {
			idxKeySchema = append(idxKeySchema, types.KeySchemaElement{AttributeName: aws.String(idx.Keys.Range.Name), KeyType: types.KeyTypeRange})
			if !seen[idx.Keys.Range.Name] {
				attrs = append(attrs, types.AttributeDefinition{AttributeName: aws.String(idx.Keys.Range.Name), AttributeType: types.ScalarAttributeType(idx.Keys.Range.Kind)})
				seen[idx.Keys.Range.Name] = true
			}
		}
		projection := &types.Projection{ProjectionType: types.ProjectionType(idx.Projection)}
		if idx.Projection == mtdynamo.ProjectInclude {
			projection.NonKeyAttributes = idx.NonKeyAttributes
		}
		gsis = append(gsis, types.GlobalSecondaryIndex{IndexName: aws.String(idx.Name), KeySchema: idxKeySchema, Projection: projection})
	}

	return &dynamodb.CreateTableInput{
		TableName:              aws.String(physicalName),
		AttributeDefinitions:   attrs,
		KeySchema:              keySchema,
		GlobalSecondaryIndexes: gsis,
		BillingMode:            types.BillingModePayPerRequest,
	}
}
