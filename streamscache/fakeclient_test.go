package streamscache_test

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	ddbstreams "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
)

// fakeStreamsClient is a minimal in-memory streamsiface.Client backing a
// single shard whose records carry the given sequence numbers in order.
// Its raw iterator tokens are "idx:<n>", meaning "next unread record is at
// index n"; GetRecords never closes the shard (it always returns a next
// iterator), matching an open DynamoDB Streams shard.
type fakeStreamsClient struct {
	mu                     sync.Mutex
	streamArn              string
	shardId                string
	records                []streamtypes.Record
	pageSize               int
	getRecordsCalls        int
	getShardIteratorCalls  int
	limitExceededCountdown int
}

func newFakeStreamsClient(seqs []string) *fakeStreamsClient {
	records := make([]streamtypes.Record, len(seqs))
	for i, s := range seqs {
		records[i] = streamtypes.Record{Dynamodb: &streamtypes.StreamRecord{SequenceNumber: aws.String(s)}}
	}
	return &fakeStreamsClient{streamArn: "arn:test-stream", shardId: "shard-1", records: records}
}

func (c *fakeStreamsClient) DescribeStream(context.Context, *ddbstreams.DescribeStreamInput, ...func(*ddbstreams.Options)) (*ddbstreams.DescribeStreamOutput, error) {
	return &ddbstreams.DescribeStreamOutput{}, nil
}

func (c *fakeStreamsClient) ListStreams(context.Context, *ddbstreams.ListStreamsInput, ...func(*ddbstreams.Options)) (*ddbstreams.ListStreamsOutput, error) {
	return &ddbstreams.ListStreamsOutput{}, nil
}

func (c *fakeStreamsClient) GetShardIterator(_ context.Context, in *ddbstreams.GetShardIteratorInput, _ ...func(*ddbstreams.Options)) (*ddbstreams.GetShardIteratorOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getShardIteratorCalls++
	switch in.ShardIteratorType {
	case streamtypes.ShardIteratorTypeTrimHorizon:
		return &ddbstreams.GetShardIteratorOutput{ShardIterator: aws.String("idx:0")}, nil
	case streamtypes.ShardIteratorTypeLatest:
		return &ddbstreams.GetShardIteratorOutput{ShardIterator: aws.String(fmt.Sprintf("idx:%d", len(c.records)))}, nil
	case streamtypes.ShardIteratorTypeAtSequenceNumber:
		i, ok := c.indexOf(aws.ToString(in.SequenceNumber))
		if !ok {
			return nil, &streamtypes.ResourceNotFoundException{}
		}
		return &ddbstreams.GetShardIteratorOutput{ShardIterator: aws.String(fmt.Sprintf("idx:%d", i))}, nil
	case streamtypes.ShardIteratorTypeAfterSequenceNumber:
		i, ok := c.indexOf(aws.ToString(in.SequenceNumber))
		if !ok {
			return nil, &streamtypes.ResourceNotFoundException{}
		}
		return &ddbstreams.GetShardIteratorOutput{ShardIterator: aws.String(fmt.Sprintf("idx:%d", i+1))}, nil
	default:
		return nil, &streamtypes.ResourceNotFoundException{}
	}
}

func (c *fakeStreamsClient) indexOf(seq string) (int, bool) {
	for i, r := range c.records {
		if aws.ToString(r.Dynamodb.SequenceNumber) == seq {
			return i, true
		}
	}
	return 0, false
}

func (c *fakeStreamsClient) GetRecords(_ context.Context, in *ddbstreams.GetRecordsInput, _ ...func(*ddbstreams.Options)) (*ddbstreams.GetRecordsOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getRecordsCalls++
	if c.limitExceededCountdown > 0 {
		c.limitExceededCountdown--
		return nil, &streamtypes.LimitExceededException{}
	}
	n, err := strconv.Atoi(aws.ToString(in.ShardIterator)[len("idx:"):])
	if err != nil {
		return nil, &streamtypes.ExpiredIteratorException{}
	}
	end := len(c.records)
	if c.pageSize > 0 && n+c.pageSize < end {
		end = n + c.pageSize
	}
	if n > len(c.records) {
		n = len(c.records)
	}
	return &ddbstreams.GetRecordsOutput{
		Records:           c.records[n:end],
		NextShardIterator: aws.String(fmt.Sprintf("idx:%d", end)),
	}, nil
}
