package streamsfacade

import (
	"context"
	"encoding/base64"

	"github.com/acksell/mtdynamo"
	"github.com/acksell/mtdynamo/keycodec"
	"github.com/acksell/mtdynamo/streamsiface"
	ddbstreams "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// stringifyStreamHashValue mirrors keycodec.StringifyHashValue's encoding
// rules for the distinct (but structurally identical) AttributeValue
// interface exposed by the dynamodbstreams SDK package, since Go does not
// let a streamtypes.AttributeValue satisfy the dynamodb/types.AttributeValue
// interface despite their identical shape.
func stringifyStreamHashValue(v streamtypes.AttributeValue) (string, error) {
	switch val := v.(type) {
	case *streamtypes.AttributeValueMemberS:
		return val.Value, nil
	case *streamtypes.AttributeValueMemberN:
		return val.Value, nil
	case *streamtypes.AttributeValueMemberB:
		return base64.RawStdEncoding.EncodeToString(val.Value), nil
	default:
		return "", mtdynamo.Errorf(mtdynamo.KindIncompatibleSchema, "unsupported hash key attribute type %T", v)
	}
}

// SharedTableFacade wraps a streamsiface.Client (typically a
// streamscache.Adapter) sitting over a shared physical table, decoding
// each record's composite hash key and emitting it only if it belongs to
// the configured tenant.
type SharedTableFacade struct {
	client       streamsiface.Client
	codec        keycodec.Codec
	tenantFilter string
	logger       *zap.Logger
}

// SharedTableOption customizes a SharedTableFacade built with NewSharedTableFacade.
type SharedTableOption func(*SharedTableFacade)

// WithSharedTableTenantFilter restricts GetRecords to records belonging to tenantID.
// The zero value (no filter applied) passes through every tenant's records,
// each still tagged with its own decoded tenant and virtual table.
func WithSharedTableTenantFilter(tenantID string) SharedTableOption {
	return func(f *SharedTableFacade) { f.tenantFilter = tenantID }
}

func WithSharedTableLogger(logger *zap.Logger) SharedTableOption {
	return func(f *SharedTableFacade) { f.logger = logger }
}

// NewSharedTableFacade builds a SharedTableFacade over client, decoding
// composite hash keys with codec.
func NewSharedTableFacade(client streamsiface.Client, codec keycodec.Codec, opts ...SharedTableOption) *SharedTableFacade {
	f := &SharedTableFacade{client: client, codec: codec, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// GetShardIterator passes through unchanged: the shared physical table has
// one stream regardless of tenant, so no translation is needed until
// records are actually read.
func (f *SharedTableFacade) GetShardIterator(ctx context.Context, in *ddbstreams.GetShardIteratorInput, optFns ...func(*ddbstreams.Options)) (*ddbstreams.GetShardIteratorOutput, error) {
	return f.client.GetShardIterator(ctx, in, optFns...)
}

// GetRecords loads physical records from the underlying client and
// translates each one: the composite hash key in Dynamodb.Keys["hk"] is
// decoded into (tenant, virtualTable, virtualHashValue), and only records
// matching f.tenantFilter (or all, if unset) are returned. Records with a
// malformed or missing hash key are dropped and logged rather than failing
// the whole batch, since one corrupt record must not block every tenant
// sharing the physical table.
func (f *SharedTableFacade) GetRecords(ctx context.Context, in *ddbstreams.GetRecordsInput, optFns ...func(*ddbstreams.Options)) (*GetRecordsOutput, error) {
	requestID := uuid.NewString()
	out, err := f.client.GetRecords(ctx, in, optFns...)
	if err != nil {
		return nil, err
	}

	translated := make([]Record, 0, len(out.Records))
	for _, physical := range out.Records {
		if physical.Dynamodb == nil || physical.Dynamodb.Keys == nil {
			f.logger.Warn("streams record missing key attributes, dropping", zap.String("requestId", requestID))
			continue
		}
		hashAttr, ok := physical.Dynamodb.Keys["hk"]
		if !ok {
			f.logger.Warn("streams record missing hk attribute, dropping", zap.String("requestId", requestID))
			continue
		}
		hashText, err := stringifyStreamHashValue(hashAttr)
		if err != nil {
			f.logger.Warn("streams record hk attribute has unsupported type, dropping", zap.String("requestId", requestID), zap.Error(err))
			continue
		}
		tenant, virtualTable, virtualHashValue, err := f.codec.Decode(hashText)
		if err != nil {
			f.logger.Warn("streams record hk attribute is not a valid composite key, dropping", zap.String("requestId", requestID), zap.Error(err))
			continue
		}
		if f.tenantFilter != "" && tenant != f.tenantFilter {
			continue
		}
		translated = append(translated, Record{
			Tenant:           tenant,
			VirtualTable:     virtualTable,
			VirtualHashValue: virtualHashValue,
			Physical:         physical,
		})
	}

	f.logger.Debug("translated streams records",
		zap.String("requestId", requestID),
		zap.Int("physicalCount", len(out.Records)),
		zap.Int("emittedCount", len(translated)))

	return &GetRecordsOutput{Records: translated, NextShardIterator: out.NextShardIterator}, nil
}
