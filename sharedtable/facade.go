package sharedtable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/acksell/mtdynamo"
	"github.com/acksell/mtdynamo/indexmap"
	"github.com/acksell/mtdynamo/keycodec"
	"github.com/acksell/mtdynamo/mapping"
	"github.com/acksell/mtdynamo/mtcontext"
	"github.com/acksell/mtdynamo/storeiface"
	"github.com/acksell/mtdynamo/tablerepo"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// defaultTablePollInterval is used in place of f.cfg.PollInterval when it is
// left at its zero value.
const defaultTablePollInterval = 5 * time.Second

// maxTableActiveWait bounds how long ensurePhysicalTable will poll before
// giving up on a table reaching ACTIVE. A var, not a const, so tests can
// shrink it rather than waiting out the real default.
var maxTableActiveWait = 5 * time.Minute

// Facade is the shared-table front end: many tenants' virtual tables live
// on a small number of physical tables, distinguished by keycodec's
// composite hash key.
type Facade struct {
	cfg      mtdynamo.Config
	store    storeiface.Client
	repo     tablerepo.Repository
	codec    keycodec.Codec
	strategy indexmap.Strategy
	factory  CreateTableRequestFactory
	mappings *mapping.Cache
	logger   *zap.Logger
}

// Option customizes a Facade built with New.
type Option func(*Facade)

// WithIndexStrategy overrides the default by-name secondary index
// resolution strategy (see indexmap).
func WithIndexStrategy(s indexmap.Strategy) Option {
	return func(f *Facade) { f.strategy = s }
}

// WithCreateTableRequestFactory overrides DefaultCreateTableRequestFactory.
func WithCreateTableRequestFactory(factory CreateTableRequestFactory) Option {
	return func(f *Facade) { f.factory = factory }
}

// WithLogger attaches a structured logger; the default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Facade) { f.logger = logger }
}

// New builds a Facade over a physical store client and a table-metadata
// repository, per the config's delimiter/table-prefix settings.
func New(cfg mtdynamo.Config, store storeiface.Client, repo tablerepo.Repository, opts ...Option) *Facade {
	f := &Facade{
		cfg:      cfg,
		store:    store,
		repo:     repo,
		codec:    keycodec.Codec{Delimiter: cfg.Delimiter, TablePrefix: cfg.TablePrefix},
		strategy: indexmap.ByName{},
		factory:  DefaultCreateTableRequestFactory,
		mappings: mapping.NewCache(),
		logger:   zap.NewNop(),
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

// getMapping fetches (and caches) the TableMapping for (tenant, virtualTableName).
func (f *Facade) getMapping(ctx context.Context, tenant, virtualTableName string) (*mapping.TableMapping, error) {
	return f.mappings.GetOrBuild(tenant, virtualTableName, func() (*mapping.TableMapping, error) {
		desc, found, err := f.repo.Get(ctx, tenant, virtualTableName)
		if err != nil {
			return nil, fmt.Errorf("sharedtable: loading table description: %w", err)
		}
		if !found {
			return nil, mtdynamo.Errorf(mtdynamo.KindTableNotFound, "virtual table %q not found for tenant %q", virtualTableName, tenant)
		}
		physical, layout := f.factory(desc, f.cfg)
		return mapping.New(tenant, desc, physical, layout, f.codec, f.strategy)
	})
}

// CreateTable persists virtual and, per f.cfg.PrecreateTables, creates or
// verifies the physical table the factory derives for it.
func (f *Facade) CreateTable(ctx context.Context, virtual mtdynamo.VirtualTableDescription) error {
	reqID := uuid.NewString()
	tenant, err := requireTenant(ctx)
	if err != nil {
		return err
	}
	logger := f.logger.With(zap.String("facade", f.cfg.Name), zap.String("requestId", reqID), zap.String("tenant", tenant), zap.String("table", virtual.TableName))

	physical, layout := f.factory(virtual, f.cfg)
	if _, err := mapping.New(tenant, virtual, physical, layout, f.codec, f.strategy); err != nil {
		logger.Warn("virtual table incompatible with physical schema", zap.Error(err))
		return err
	}
	if err := f.repo.Put(ctx, tenant, virtual); err != nil {
		return err
	}

	if f.cfg.PrecreateTables {
		if err := f.ensurePhysicalTable(ctx, physical); err != nil {
			return err
		}
	} else if _, err := f.store.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(physical.TableName)}); err != nil {
		return mtdynamo.NewError(mtdynamo.KindIncompatibleSchema, fmt.Sprintf("physical table %q does not exist and precreateTables is false", physical.TableName), err)
	}
	logger.Debug("table created")
	return nil
}

// DescribeTable returns the persisted virtual table description.
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

// DeleteTable removes the virtual table's metadata and, per
// f.cfg.TruncateOnDeleteTable, its rows.
func (f *Facade) DeleteTable(ctx context.Context, virtualTableName string) error {
	tenant, err := requireTenant(ctx)
	if err != nil {
		return err
	}
	m, err := f.getMapping(ctx, tenant, virtualTableName)
	if err != nil {
		return err
	}
	if err := f.repo.Delete(ctx, tenant, virtualTableName); err != nil {
		return err
	}
	f.mappings.Invalidate(tenant, virtualTableName)

	if f.cfg.TruncateOnDeleteTable {
		truncate := func() error { return f.truncate(context.WithoutCancel(ctx), m) }
		if f.cfg.DeleteTableAsync {
			go func() {
				if err := truncate(); err != nil {
					f.logger.Warn("async truncate on delete table failed", zap.String("table", virtualTableName), zap.Error(err))
				}
			}()
		} else if err := truncate(); err != nil {
			return err
		}
	}
	return nil
}

// truncate deletes every physical row whose composite hash key decodes to
// (m.Tenant, m.Virtual.TableName), via a paginated physical Scan.
func (f *Facade) truncate(ctx context.Context, m *mapping.TableMapping) error {
	var startKey mtdynamo.Item
	for {
		out, err := f.store.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(m.Physical.TableName),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return err
		}
		for _, item := range out.Items {
			if !m.BelongsTo(item) {
				continue
			}
			key := mtdynamo.Item{m.Physical.Keys.Hash.Name: item[m.Physical.Keys.Hash.Name]}
			if m.Physical.Keys.HasRange() {
				key[m.Physical.Keys.Range.Name] = item[m.Physical.Keys.Range.Name]
			}
			if _, err := f.store.DeleteItem(ctx, &dynamodb.DeleteItemInput{TableName: aws.String(m.Physical.TableName), Key: key}); err != nil {
				return err
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// ensurePhysicalTable creates physical's table if it does not exist yet and
// waits for it to reach ACTIVE, polling DescribeTable every f.cfg.PollInterval
// (or defaultTablePollInterval if unset). A table already ACTIVE returns
// immediately without waiting.
func (f *Facade) ensurePhysicalTable(ctx context.Context, physical mtdynamo.PhysicalTableDescription) error {
	out, err := f.store.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(physical.TableName)})
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
		if _, err := f.store.CreateTable(ctx, buildCreateTableInput(physical)); err != nil {
			var inUse *types.ResourceInUseException
			if !errors.As(err, &inUse) {
				return err
			}
		}
	}
	return f.waitForTableActive(ctx, physical.TableName)
}

// waitForTableActive polls DescribeTable at f.cfg.PollInterval until
// tableName reaches ACTIVE or maxTableActiveWait elapses.
func (f *Facade) waitForTableActive(ctx context.Context, tableName string) error {
	pollInterval := f.cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultTablePollInterval
	}
	waiter := dynamodb.NewTableExistsWaiter(f.store, func(o *dynamodb.TableExistsWaiterOptions) {
		o.MinDelay = pollInterval
		o.MaxDelay = pollInterval
	})
	if _, err := waiter.WaitForOutput(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)}, maxTableActiveWait); err != nil {
		return mtdynamo.NewError(mtdynamo.KindTableCreationTimedOut, fmt.Sprintf("table %q did not become active within %s", tableName, maxTableActiveWait), err)
	}
	return nil
}

func buildCreateTableInput(physical mtdynamo.PhysicalTableDescription) *dynamodb.CreateTableInput {
	attrs := []types.AttributeDefinition{{AttributeName: aws.String(physical.Keys.Hash.Name), AttributeType: types.ScalarAttributeType(physical.Keys.Hash.Kind)}}
	keySchema := []types.KeySchemaElement{{AttributeName: aws.String(physical.Keys.Hash.Name), KeyType: types.KeyTypeHash}}
	if physical.Keys.HasRange() {
		attrs = append(attrs, types.AttributeDefinition{AttributeName: aws.String(physical.Keys.Range.Name), AttributeType: types.ScalarAttributeType(physical.Keys.Range.Kind)})
		keySchema = append(keySchema, types.KeySchemaElement{AttributeName: aws.String(physical.Keys.Range.Name), KeyType: types.KeyTypeRange})
	}
	seenAttrs := map[string]bool{physical.Keys.Hash.Name: true}
	if physical.Keys.HasRange() {
		seenAttrs[physical.Keys.Range.Name] = true
	}

	var gsis []types.GlobalSecondaryIndex
	for _, idx := range physical.Indexes {
		idxKeySchema := []types.KeySchemaElement{{AttributeName: aws.String(idx.Keys.Hash.Name), KeyType: types.KeyTypeHash}}
		if !seenAttrs[idx.Keys.Hash.Name] {
			attrs = append(attrs, types.AttributeDefinition{AttributeName: aws.String(idx.Keys.Hash.Name), AttributeType: types.ScalarAttributeType(idx.Keys.Hash.Kind)})
			seenAttrs[idx.Keys.Hash.Name] = true
		}
		if idx.Keys.HasRange() {
			idxKeySchema = append(idxKeySchema, types.KeySchemaElement{AttributeName: aws.String(idx.Keys.Range.Name), KeyType: types.KeyTypeRange})
			if !seenAttrs[idx.Keys.Range.Name] {
				attrs = append(attrs, types.AttributeDefinition{AttributeName: aws.String(idx.Keys.Range.Name), AttributeType: types.ScalarAttributeType(idx.Keys.Range.Kind)})
				seenAttrs[idx.Keys.Range.Name] = true
			}
		}
		projection := &types.Projection{ProjectionType: types.ProjectionType(idx.Projection)}
		if idx.Projection == mtdynamo.ProjectInclude {
			projection.NonKeyAttributes = idx.NonKeyAttributes
		}
		gsis = append(gsis, types.GlobalSecondaryIndex{
			IndexName:  aws.String(idx.Name),
			KeySchema:  idxKeySchema,
			Projection: projection,
		})
	}

	return &dynamodb.CreateTableInput{
		TableName:              aws.String(physical.TableName),
		AttributeDefinitions:   attrs,
		KeySchema:              keySchema,
		GlobalSecondaryIndexes: gsis,
		BillingMode:            types.BillingModePayPerRequest,
	}
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nilIfEmptyNames(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return m
}

func nilIfEmptyValues(m map[string]types.AttributeValue) map[string]types.AttributeValue {
	if len(m) == 0 {
		return nil
	}
	return m
}

func asConditionalCheckFailed(err error) bool {
	var e *types.ConditionalCheckFailedException
	return errors.As(err, &e)
}
