package streamscache

import (
	"math/big"

	"github.com/acksell/mtdynamo"
	"github.com/aws/aws-sdk-go-v2/aws"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
)

// iteratorPosition is a sequence number in a stream shard, the unit the
// records cache indexes and merges segments by. It mirrors
// CachingAmazonDynamoDbStreams.IteratorPosition, using math/big for the
// arbitrary-precision numeric comparison DynamoDB Streams sequence numbers
// require (they are decimal strings, not fixed-width integers).
type iteratorPosition struct {
	streamArn string
	shardId   string
	seq       *big.Int
}

func (p iteratorPosition) equalsShard(o iteratorPosition) bool {
	return p.streamArn == o.streamArn && p.shardId == o.shardId
}

func (p iteratorPosition) equal(o iteratorPosition) bool {
	return p.equalsShard(o) && p.seq.Cmp(o.seq) == 0
}

// less orders positions by stream, then shard, then sequence number; it is
// used as the btree.LessFunc for the cache's position index.
func (p iteratorPosition) less(o iteratorPosition) bool {
	if p.streamArn != o.streamArn {
		return p.streamArn < o.streamArn
	}
	if p.shardId != o.shardId {
		return p.shardId < o.shardId
	}
	return p.seq.Cmp(o.seq) < 0
}

// mapKey is a stable comparable key for maps, since iteratorPosition embeds
// a *big.Int pointer that struct equality would compare by identity.
func (p iteratorPosition) mapKey() string {
	return p.streamArn + "\x00" + p.shardId + "\x00" + p.seq.String()
}

// precedes reports whether p is at or before the record's position in the
// shard: true if the record's sequence number is greater than or equal to
// p's. The caller is responsible for ensuring record and p are from the
// same shard.
func (p iteratorPosition) precedes(r streamtypes.Record) bool {
	return p.seq.Cmp(recordSeq(r)) <= 0
}

func (p iteratorPosition) precedesAny(records []streamtypes.Record) bool {
	return p.precedes(records[len(records)-1])
}

func (p iteratorPosition) nextAfterLastRecord(records []streamtypes.Record) iteratorPosition {
	last := recordSeq(records[len(records)-1])
	return iteratorPosition{p.streamArn, p.shardId, new(big.Int).Add(last, big.NewInt(1))}
}

// parseSequenceNumber parses a DynamoDB Streams sequence number, which is
// an arbitrary-precision decimal string.
func parseSequenceNumber(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, mtdynamo.Errorf(mtdynamo.KindMalformedPhysicalKey, "invalid stream sequence number %q", s)
	}
	return n, nil
}

// recordSeq returns r's sequence number. It panics on a malformed sequence
// number; callers must validate records with validateSequenceNumbers before
// they enter the cache or any iteratorPosition arithmetic, so a panic here
// means the underlying stream violated its own wire format.
func recordSeq(r streamtypes.Record) *big.Int {
	n, err := parseSequenceNumber(aws.ToString(r.Dynamodb.SequenceNumber))
	if err != nil {
		panic("streamscache: " + err.Error())
	}
	return n
}

// validateSequenceNumbers checks that every record's sequence number
// parses, so that later cache operations can rely on recordSeq not to panic.
func validateSequenceNumbers(records []streamtypes.Record) error {
	for _, r := range records {
		if _, err := parseSequenceNumber(aws.ToString(r.Dynamodb.SequenceNumber)); err != nil {
			return err
		}
	}
	return nil
}
