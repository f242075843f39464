package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/acksell/mtdynamo/keycodec"
	"github.com/acksell/mtdynamo/mtcontext"
	"github.com/acksell/mtdynamo/streamsfacade"
	"github.com/acksell/mtdynamo/streamscache"
	"github.com/aws/aws-sdk-go-v2/aws"
	ddbstreams "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
)

// fakeStreamsClient serves a fixed, pre-built list of records out of memory,
// standing in for a real DynamoDB Streams endpoint the same way localStore
// stands in for DynamoDB itself. The shard iterator is just the string
// index into records to resume from.
type fakeStreamsClient struct {
	streamArn string
	records   []streamtypes.Record
}

func (c *fakeStreamsClient) DescribeStream(_ context.Context, _ *ddbstreams.DescribeStreamInput, _ ...func(*ddbstreams.Options)) (*ddbstreams.DescribeStreamOutput, error) {
	return &ddbstreams.DescribeStreamOutput{StreamDescription: &streamtypes.StreamDescription{StreamArn: &c.streamArn}}, nil
}

func (c *fakeStreamsClient) ListStreams(_ context.Context, _ *ddbstreams.ListStreamsInput, _ ...func(*ddbstreams.Options)) (*ddbstreams.ListStreamsOutput, error) {
	return &ddbstreams.ListStreamsOutput{Streams: []streamtypes.Stream{{StreamArn: &c.streamArn}}}, nil
}

func (c *fakeStreamsClient) GetShardIterator(_ context.Context, in *ddbstreams.GetShardIteratorInput, _ ...func(*ddbstreams.Options)) (*ddbstreams.GetShardIteratorOutput, error) {
	start := "0"
	return &ddbstreams.GetShardIteratorOutput{ShardIterator: &start}, nil
}

func (c *fakeStreamsClient) GetRecords(_ context.Context, in *ddbstreams.GetRecordsInput, _ ...func(*ddbstreams.Options)) (*ddbstreams.GetRecordsOutput, error) {
	offset := 0
	fmt.Sscanf(aws.ToString(in.ShardIterator), "%d", &offset)
	limit := len(c.records) - offset
	if in.Limit != nil && int(*in.Limit) < limit {
		limit = int(*in.Limit)
	}
	if limit < 0 {
		limit = 0
	}
	page := c.records[offset : offset+limit]
	out := &ddbstreams.GetRecordsOutput{Records: page}
	if offset+limit < len(c.records) {
		next := fmt.Sprintf("%d", offset+limit)
		out.NextShardIterator = &next
	}
	return out, nil
}

func streamAttrText(v streamtypes.AttributeValue) string {
	switch val := v.(type) {
	case *streamtypes.AttributeValueMemberS:
		return val.Value
	case *streamtypes.AttributeValueMemberN:
		return val.Value
	default:
		return ""
	}
}

func runStream() error {
	fs := flag.NewFlagSet("stream", flag.ExitOnError)
	c := bindCommonFlags(fs)
	limit := fs.Int("limit", 10, "max records to return")
	fs.Parse(os.Args[1:])
	if err := c.validate(); err != nil {
		return err
	}

	state, cleanup, err := newDemoState()
	if err != nil {
		return err
	}
	defer cleanup()

	physicalTable, hashKey, rangeKey, rows := state.streamSourceRows(c.tenant, c.table)
	records := make([]streamtypes.Record, 0, len(rows))
	for _, row := range rows {
		keys := map[string]streamtypes.AttributeValue{}
		image := map[string]streamtypes.AttributeValue{}
		for name, val := range row {
			sv := toStreamAttr(val)
			image[name] = sv
			if name == hashKey || (rangeKey != "" && name == rangeKey) {
				keys[name] = sv
			}
		}
		records = append(records, streamtypes.Record{
			EventName: streamtypes.OperationTypeInsert,
			Dynamodb: &streamtypes.StreamRecord{
				Keys:     keys,
				NewImage: image,
			},
		})
	}

	streamArn := fmt.Sprintf("arn:aws:dynamodb:local:000000000000:table/%s/stream/demo", physicalTable)
	fake := &fakeStreamsClient{streamArn: streamArn, records: records}
	adapter := streamscache.New(fake)

	var facade interface {
		GetShardIterator(ctx context.Context, in *ddbstreams.GetShardIteratorInput, optFns ...func(*ddbstreams.Options)) (*ddbstreams.GetShardIteratorOutput, error)
		GetRecords(ctx context.Context, in *ddbstreams.GetRecordsInput, optFns ...func(*ddbstreams.Options)) (*streamsfacade.GetRecordsOutput, error)
	}
	switch state.cfg.Mode {
	case "", "sharedtable":
		codec := keycodec.Codec{Delimiter: state.cfg.Delimiter, TablePrefix: state.cfg.TablePrefix}
		facade = streamsfacade.NewSharedTableFacade(adapter, codec, streamsfacade.WithSharedTableTenantFilter(c.tenant))
	case "tablepertenant":
		facade = streamsfacade.NewTablePerTenantFacade(adapter, streamsfacade.WithPhysicalTableParser(streamsfacade.DefaultPhysicalTableParser(state.cfg.TablePrefix, state.cfg.Delimiter)))
	default:
		return fmt.Errorf("unknown mode %q", state.cfg.Mode)
	}

	ctx := mtcontext.WithTenant(context.Background(), c.tenant)
	iterOut, err := facade.GetShardIterator(ctx, &ddbstreams.GetShardIteratorInput{
		StreamArn:         &streamArn,
		ShardId:           aws.String("shard-0"),
		ShardIteratorType: streamtypes.ShardIteratorTypeTrimHorizon,
	})
	if err != nil {
		return err
	}

	recOut, err := facade.GetRecords(ctx, &ddbstreams.GetRecordsInput{
		ShardIterator: iterOut.ShardIterator,
		Limit:         aws.Int32(int32(*limit)),
	})
	if err != nil {
		return err
	}

	for _, rec := range recOut.Records {
		fields := make([]string, 0, len(rec.Physical.Dynamodb.NewImage))
		for name, val := range rec.Physical.Dynamodb.NewImage {
			fields = append(fields, fmt.Sprintf("%s=%s", name, streamAttrText(val)))
		}
		fmt.Printf("tenant=%s table=%s %s\n", rec.Tenant, rec.VirtualTable, strings.Join(fields, " "))
	}
	return nil
}
