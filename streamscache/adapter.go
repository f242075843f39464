// Package streamscache implements a caching change-feed adapter: it bins
// and caches contiguous runs of DynamoDB Streams records per (stream,
// shard) so that multiple readers positioned near the same part of a shard
// share one underlying GetRecords call, and retries with linear backoff
// when the underlying stream reports LimitExceeded.
//
// Segments are kept in an immutable-segment cache indexed by a
// github.com/google/btree.BTreeG, the same "adopt an ecosystem structure
// the existing stack doesn't carry" latitude the dynamodb/index package
// took with its own composite-key helpers.
package streamscache

import (
	"context"
	"errors"
	"time"

	"github.com/acksell/mtdynamo"
	"github.com/acksell/mtdynamo/streamsiface"
	"github.com/aws/aws-sdk-go-v2/aws"
	ddbstreams "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
	"go.uber.org/zap"
)

const (
	defaultMaxCacheSegments     = 1000
	defaultMaxGetRecordsRetries = 10
	defaultLimitExceededBackoff = time.Second
)

// Adapter wraps a streamsiface.Client with the records cache. It implements
// streamsiface.Client itself, so it can be substituted anywhere the raw
// client is used, including as the source streamsfacade wraps.
type Adapter struct {
	client     streamsiface.Client
	cache      *cache
	maxRetries int
	backoff    time.Duration
	sleep      func(time.Duration)
	logger     *zap.Logger
}

var _ streamsiface.Client = (*Adapter)(nil)

// Option customizes an Adapter built with New.
type Option func(*Adapter)

func WithMaxCacheSegments(n int) Option {
	return func(a *Adapter) { a.cache.maxSize = n }
}

func WithMaxGetRecordsRetries(n int) Option {
	return func(a *Adapter) { a.maxRetries = n }
}

func WithLimitExceededBackoff(d time.Duration) Option {
	return func(a *Adapter) { a.backoff = d }
}

// WithSleeper overrides the function used to back off between retries,
// mirroring the Java implementation's injectable Sleeper interface. Tests
// use this to avoid real waits.
func WithSleeper(sleep func(time.Duration)) Option {
	return func(a *Adapter) { a.sleep = sleep }
}

func WithLogger(logger *zap.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// New builds a caching Adapter over client.
func New(client streamsiface.Client, opts ...Option) *Adapter {
	a := &Adapter{
		client:     client,
		cache:      newCache(defaultMaxCacheSegments),
		maxRetries: defaultMaxGetRecordsRetries,
		backoff:    defaultLimitExceededBackoff,
		sleep:      time.Sleep,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) DescribeStream(ctx context.Context, in *ddbstreams.DescribeStreamInput, optFns ...func(*ddbstreams.Options)) (*ddbstreams.DescribeStreamOutput, error) {
	return a.client.DescribeStream(ctx, in, optFns...)
}

func (a *Adapter) ListStreams(ctx context.Context, in *ddbstreams.ListStreamsInput, optFns ...func(*ddbstreams.Options)) (*ddbstreams.ListStreamsOutput, error) {
	return a.client.ListStreams(ctx, in, optFns...)
}

// GetShardIterator eagerly resolves an underlying iterator for the logical
// types (TRIM_HORIZON, LATEST), since deferring would let their position
// drift to whatever the shard looks like when GetRecords is finally called.
// Absolute types (AT|AFTER_SEQUENCE_NUMBER) are resolved lazily, since a
// cache hit may make contacting the underlying stream unnecessary at all.
// Either way, the returned string is an opaque encoding this Adapter alone
// understands; it is never a real DynamoDB Streams iterator token.
func (a *Adapter) GetShardIterator(ctx context.Context, in *ddbstreams.GetShardIteratorInput, _ ...func(*ddbstreams.Options)) (*ddbstreams.GetShardIteratorOutput, error) {
	it, err := newShardIteratorFromRequest(in, nil)
	if err != nil {
		return nil, err
	}
	switch in.ShardIteratorType {
	case streamtypes.ShardIteratorTypeTrimHorizon, streamtypes.ShardIteratorTypeLatest:
		out, err := a.client.GetShardIterator(ctx, in)
		if err != nil {
			return nil, err
		}
		it = it.withDynamoDbIterator(aws.ToString(out.ShardIterator))
	}
	external := it.encode()
	return &ddbstreams.GetShardIteratorOutput{ShardIterator: aws.String(external)}, nil
}

// GetRecords decodes the opaque iterator, serves it from the cache when
// possible, otherwise loads from the underlying stream (retrying on
// LimitExceeded with linear backoff) and folds the result into the cache,
// then applies the request's Limit. Results read through a TRIM_HORIZON
// iterator are not cached; their next iterator is re-anchored after the
// last returned sequence number, so later pages are cached.
func (a *Adapter) GetRecords(ctx context.Context, in *ddbstreams.GetRecordsInput, _ ...func(*ddbstreams.Options)) (*ddbstreams.GetRecordsOutput, error) {
	it, err := decodeShardIterator(aws.ToString(in.ShardIterator))
	if err != nil {
		return nil, err
	}
	loaded, err := a.getRecords(ctx, it)
	if err != nil {
		return nil, err
	}
	return applyLimit(in.Limit, it, loaded), nil
}

func (a *Adapter) getRecords(ctx context.Context, it shardIterator) (*ddbstreams.GetRecordsOutput, error) {
	for attempt := 0; attempt < a.maxRetries; attempt++ {
		if pos, ok := it.resolvePosition(); ok {
			if records, nextIterator, hit := a.cache.get(pos); hit {
				return &ddbstreams.GetRecordsOutput{Records: records, NextShardIterator: nextIterator}, nil
			}
		}

		underlying, err := a.resolveUnderlyingIterator(ctx, it)
		if err != nil {
			return nil, err
		}

		out, err := a.client.GetRecords(ctx, &ddbstreams.GetRecordsInput{ShardIterator: aws.String(underlying)})
		if err != nil {
			var limitExceeded *streamtypes.LimitExceededException
			if errors.As(err, &limitExceeded) {
				backoff := time.Duration(attempt+1) * a.backoff
				a.logger.Warn("getRecords limit exceeded, backing off",
					zap.Int("attempt", attempt), zap.Duration("backoff", backoff))
				a.sleep(backoff)
				continue
			}
			return nil, err
		}

		if len(out.Records) == 0 {
			// preserves the non-empty segment invariant: nothing gets cached.
			if out.NextShardIterator == nil {
				return &ddbstreams.GetRecordsOutput{}, nil
			}
			next := it.withDynamoDbIterator(aws.ToString(out.NextShardIterator))
			enc := next.encode()
			return &ddbstreams.GetRecordsOutput{NextShardIterator: &enc}, nil
		}

		if err := validateSequenceNumbers(out.Records); err != nil {
			return nil, err
		}

		if it.iterType == streamtypes.ShardIteratorTypeTrimHorizon {
			var next *string
			if out.NextShardIterator != nil {
				enc := it.afterLast(out.Records).withDynamoDbIterator(aws.ToString(out.NextShardIterator)).encode()
				next = &enc
			}
			return &ddbstreams.GetRecordsOutput{Records: out.Records, NextShardIterator: next}, nil
		}

		loadedPosition := it.resolvePositionFor(out.Records[0])
		a.cache.add(loadedPosition, out.Records, out.NextShardIterator)
		records, nextIterator, _ := a.cache.get(loadedPosition)
		return &ddbstreams.GetRecordsOutput{Records: records, NextShardIterator: nextIterator}, nil
	}
	return nil, mtdynamo.Errorf(mtdynamo.KindLimitExceeded, "exhausted GetRecords retry limit")
}

func (a *Adapter) resolveUnderlyingIterator(ctx context.Context, it shardIterator) (string, error) {
	if it.dynamoDbIterator != nil {
		return *it.dynamoDbIterator, nil
	}
	out, err := a.client.GetShardIterator(ctx, it.toRequest())
	if err != nil {
		return "", err
	}
	return aws.ToString(out.ShardIterator), nil
}

// applyLimit truncates loaded to at most limit records, synthesizing a
// fresh absolute next iterator for the truncated tail. The cache is
// unaffected: it always holds what the underlying stream actually returned.
func applyLimit(limit *int32, it shardIterator, loaded *ddbstreams.GetRecordsOutput) *ddbstreams.GetRecordsOutput {
	if limit == nil || int(*limit) >= len(loaded.Records) {
		return loaded
	}
	records := loaded.Records[:*limit]
	next := it.afterLast(records)
	enc := next.encode()
	return &ddbstreams.GetRecordsOutput{Records: records, NextShardIterator: &enc}
}
