package streamsfacade

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/acksell/mtdynamo"
	"github.com/acksell/mtdynamo/streamsiface"
	ddbstreams "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// physicalTableFromArn extracts the physical table name from a DynamoDB
// Streams stream ARN of the form
// "arn:aws:dynamodb:region:account:table/TableName/stream/label".
var physicalTableFromArn = regexp.MustCompile(`^arn:aws:dynamodb:[^:]*:[^:]*:table/([^/]+)/stream/.+$`)

// PhysicalTableParser recovers (tenant, virtualTable) from a physical table
// name, the inverse of tablepertenant.PhysicalTableNamer.
type PhysicalTableParser func(physicalTableName string) (tenant, virtualTable string, ok bool)

// DefaultPhysicalTableParser inverts the default
// tablepertenant.PhysicalTableNamer (tablePrefix + tenant + delimiter +
// virtualTableName), splitting on the first occurrence of delimiter after
// stripping tablePrefix.
func DefaultPhysicalTableParser(tablePrefix, delimiter string) PhysicalTableParser {
	if delimiter == "" {
		delimiter = "."
	}
	return func(physicalTableName string) (string, string, bool) {
		name := physicalTableName
		if tablePrefix != "" {
			if !strings.HasPrefix(name, tablePrefix) {
				return "", "", false
			}
			name = strings.TrimPrefix(name, tablePrefix)
		}
		tenant, virtualTable, found := strings.Cut(name, delimiter)
		if !found || tenant == "" || virtualTable == "" {
			return "", "", false
		}
		return tenant, virtualTable, true
	}
}

// tablePerTenantEnvelope smuggles the (tenant, virtualTable) pair resolved
// at GetShardIterator time through to the matching GetRecords call, since
// individual table-per-tenant records carry no tenant information of their
// own (unlike shared-table's composite hash key).
type tablePerTenantEnvelope struct {
	Tenant       string `json:"t"`
	VirtualTable string `json:"v"`
	Underlying   string `json:"u"`
}

func encodeEnvelope(e tablePerTenantEnvelope) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", mtdynamo.NewError(mtdynamo.KindMalformedPhysicalKey, "encode shard iterator envelope", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeEnvelope(encoded string) (tablePerTenantEnvelope, error) {
	var e tablePerTenantEnvelope
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return e, mtdynamo.NewError(mtdynamo.KindMalformedPhysicalKey, "decode shard iterator envelope", err)
	}
	if err := json.Unmarshal(data, &e); err != nil {
		return e, mtdynamo.NewError(mtdynamo.KindMalformedPhysicalKey, "unmarshal shard iterator envelope", err)
	}
	return e, nil
}

// TablePerTenantFacade wraps a streamsiface.Client sitting over one
// physical table per tenant, recovering (tenant, virtualTable) from the
// physical table name embedded in the stream ARN and tagging every record
// read through that shard with it.
type TablePerTenantFacade struct {
	client streamsiface.Client
	parser PhysicalTableParser
	logger *zap.Logger
}

// TablePerTenantOption customizes a TablePerTenantFacade built with NewTablePerTenantFacade.
type TablePerTenantOption func(*TablePerTenantFacade)

func WithPhysicalTableParser(parser PhysicalTableParser) TablePerTenantOption {
	return func(f *TablePerTenantFacade) { f.parser = parser }
}

func WithTablePerTenantLogger(logger *zap.Logger) TablePerTenantOption {
	return func(f *TablePerTenantFacade) { f.logger = logger }
}

// NewTablePerTenantFacade builds a TablePerTenantFacade over client. The
// default parser inverts tablepertenant's default naming scheme with no
// table prefix and delimiter ".".
func NewTablePerTenantFacade(client streamsiface.Client, opts ...TablePerTenantOption) *TablePerTenantFacade {
	f := &TablePerTenantFacade{
		client: client,
		parser: DefaultPhysicalTableParser("", "."),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// GetShardIterator resolves (tenant, virtualTable) from in.StreamArn and
// wraps the underlying iterator in an envelope carrying that resolution
// forward to GetRecords.
func (f *TablePerTenantFacade) GetShardIterator(ctx context.Context, in *ddbstreams.GetShardIteratorInput, optFns ...func(*ddbstreams.Options)) (*ddbstreams.GetShardIteratorOutput, error) {
	streamArn := ""
	if in.StreamArn != nil {
		streamArn = *in.StreamArn
	}
	match := physicalTableFromArn.FindStringSubmatch(streamArn)
	if match == nil {
		return nil, mtdynamo.Errorf(mtdynamo.KindMalformedPhysicalKey, "stream arn %q does not name a physical table", streamArn)
	}
	tenant, virtualTable, ok := f.parser(match[1])
	if !ok {
		return nil, mtdynamo.Errorf(mtdynamo.KindMalformedPhysicalKey, "physical table name %q does not resolve to a tenant and virtual table", match[1])
	}

	out, err := f.client.GetShardIterator(ctx, in, optFns...)
	if err != nil {
		return nil, err
	}
	underlying := ""
	if out.ShardIterator != nil {
		underlying = *out.ShardIterator
	}
	encoded, err := encodeEnvelope(tablePerTenantEnvelope{Tenant: tenant, VirtualTable: virtualTable, Underlying: underlying})
	if err != nil {
		return nil, err
	}
	return &ddbstreams.GetShardIteratorOutput{ShardIterator: &encoded}, nil
}

// GetRecords decodes the envelope produced by GetShardIterator, forwards
// the recovered underlying iterator to the wrapped client, and tags every
// returned record with the envelope's (tenant, virtualTable). The next
// shard iterator, if any, is re-wrapped in a fresh envelope so a caller can
// keep paging without knowing about the translation layer at all.
func (f *TablePerTenantFacade) GetRecords(ctx context.Context, in *ddbstreams.GetRecordsInput, optFns ...func(*ddbstreams.Options)) (*GetRecordsOutput, error) {
	requestID := uuid.NewString()
	external := ""
	if in.ShardIterator != nil {
		external = *in.ShardIterator
	}
	envelope, err := decodeEnvelope(external)
	if err != nil {
		return nil, err
	}

	underlyingIn := *in
	underlyingIn.ShardIterator = &envelope.Underlying
	out, err := f.client.GetRecords(ctx, &underlyingIn, optFns...)
	if err != nil {
		return nil, err
	}

	translated := make([]Record, len(out.Records))
	for i, physical := range out.Records {
		translated[i] = Record{Tenant: envelope.Tenant, VirtualTable: envelope.VirtualTable, Physical: physical}
	}

	var next *string
	if out.NextShardIterator != nil {
		encoded, err := encodeEnvelope(tablePerTenantEnvelope{Tenant: envelope.Tenant, VirtualTable: envelope.VirtualTable, Underlying: *out.NextShardIterator})
		if err != nil {
			return nil, err
		}
		next = &encoded
	}

	f.logger.Debug("translated table-per-tenant streams records",
		zap.String("requestId", requestID),
		zap.String("tenant", envelope.Tenant),
		zap.String("virtualTable", envelope.VirtualTable),
		zap.Int("count", len(translated)))

	return &GetRecordsOutput{Records: translated, NextShardIterator: next}, nil
}
