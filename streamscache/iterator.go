package streamscache

import (
	"math/big"
	"strings"

	"github.com/acksell/mtdynamo"
	"github.com/aws/aws-sdk-go-v2/aws"
	ddbstreams "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
)

// fieldDelim separates the fields of an opaque external iterator string.
// Stream ARNs legitimately contain '/', so joinFields escapes it wherever
// it occurs inside a field rather than picking a delimiter guaranteed not
// to collide, following the same escape-on-write idiom keycodec uses for
// composite physical hash keys.
const fieldDelim = "/"

func escapeField(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, fieldDelim, `\`+fieldDelim)
	return s
}

func joinFields(fields []string) string {
	escaped := make([]string, len(fields))
	for i, f := range fields {
		escaped[i] = escapeField(f)
	}
	return strings.Join(escaped, fieldDelim)
}

// splitFields splits s into exactly n fields on unescaped fieldDelim
// occurrences, unescaping each field as it scans.
func splitFields(s string, n int) ([]string, error) {
	fields := make([]string, 0, n)
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			cur.WriteByte(s[i+1])
			i++
			continue
		}
		if len(fields) < n-1 && strings.HasPrefix(s[i:], fieldDelim) {
			fields = append(fields, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(s[i])
	}
	fields = append(fields, cur.String())
	if len(fields) != n {
		return nil, mtdynamo.Errorf(mtdynamo.KindMalformedPhysicalKey, "external iterator does not have %d fields", n)
	}
	return fields, nil
}

// shardIterator is a logical shard iterator that optionally carries an
// already-resolved underlying stream iterator token, mirroring
// CachingAmazonDynamoDbStreams.ShardIterator. It decodes and re-encodes as
// the opaque string returned to and accepted from callers of Adapter.
type shardIterator struct {
	streamArn        string
	shardId          string
	iterType         streamtypes.ShardIteratorType
	sequenceNumber   *big.Int // nil for TRIM_HORIZON/LATEST
	dynamoDbIterator *string  // nil if not yet resolved against the underlying stream
}

func newShardIteratorFromRequest(in *ddbstreams.GetShardIteratorInput, dynamoDbIterator *string) (shardIterator, error) {
	it := shardIterator{
		streamArn:        aws.ToString(in.StreamArn),
		shardId:          aws.ToString(in.ShardId),
		iterType:         in.ShardIteratorType,
		dynamoDbIterator: dynamoDbIterator,
	}
	switch in.ShardIteratorType {
	case streamtypes.ShardIteratorTypeTrimHorizon, streamtypes.ShardIteratorTypeLatest:
		if in.SequenceNumber != nil {
			return shardIterator{}, mtdynamo.Errorf(mtdynamo.KindUnsupportedOperation, "sequence number must not be set for %s iterators", in.ShardIteratorType)
		}
	case streamtypes.ShardIteratorTypeAtSequenceNumber, streamtypes.ShardIteratorTypeAfterSequenceNumber:
		if in.SequenceNumber == nil {
			return shardIterator{}, mtdynamo.Errorf(mtdynamo.KindUnsupportedOperation, "sequence number is required for %s iterators", in.ShardIteratorType)
		}
		n, err := parseSequenceNumber(aws.ToString(in.SequenceNumber))
		if err != nil {
			return shardIterator{}, err
		}
		it.sequenceNumber = n
	default:
		return shardIterator{}, mtdynamo.Errorf(mtdynamo.KindUnsupportedOperation, "unsupported shard iterator type %q", in.ShardIteratorType)
	}
	return it, nil
}

// resolvePosition resolves absolute (AT|AFTER_SEQUENCE_NUMBER) iterators
// directly to a shard position without contacting the underlying stream.
// Logical iterators (TRIM_HORIZON, LATEST) have no fixed position: their
// place in the shard depends on the shard's contents at read time.
func (it shardIterator) resolvePosition() (iteratorPosition, bool) {
	switch it.iterType {
	case streamtypes.ShardIteratorTypeAtSequenceNumber:
		return iteratorPosition{it.streamArn, it.shardId, it.sequenceNumber}, true
	case streamtypes.ShardIteratorTypeAfterSequenceNumber:
		return iteratorPosition{it.streamArn, it.shardId, new(big.Int).Add(it.sequenceNumber, big.NewInt(1))}, true
	default:
		return iteratorPosition{}, false
	}
}

// resolvePositionFor resolves it's position relative to the first record a
// query using it actually returned, for logical iterators whose position
// cannot be known in advance.
func (it shardIterator) resolvePositionFor(firstReturnedRecord streamtypes.Record) iteratorPosition {
	if pos, ok := it.resolvePosition(); ok {
		return pos
	}
	return iteratorPosition{it.streamArn, it.shardId, recordSeq(firstReturnedRecord)}
}

// afterLast returns a new absolute iterator positioned immediately after
// the last of the given (non-empty) records.
func (it shardIterator) afterLast(records []streamtypes.Record) shardIterator {
	last := records[len(records)-1]
	return shardIterator{
		streamArn:      it.streamArn,
		shardId:        it.shardId,
		iterType:       streamtypes.ShardIteratorTypeAfterSequenceNumber,
		sequenceNumber: recordSeq(last),
	}
}

func (it shardIterator) withDynamoDbIterator(token string) shardIterator {
	it.dynamoDbIterator = &token
	return it
}

func (it shardIterator) toRequest() *ddbstreams.GetShardIteratorInput {
	in := &ddbstreams.GetShardIteratorInput{
		StreamArn:         aws.String(it.streamArn),
		ShardId:           aws.String(it.shardId),
		ShardIteratorType: it.iterType,
	}
	if it.sequenceNumber != nil {
		in.SequenceNumber = aws.String(it.sequenceNumber.String())
	}
	return in
}

func (it shardIterator) encode() string {
	seq := "null"
	if it.sequenceNumber != nil {
		seq = it.sequenceNumber.String()
	}
	dyn := "null"
	if it.dynamoDbIterator != nil {
		dyn = *it.dynamoDbIterator
	}
	return joinFields([]string{it.streamArn, it.shardId, string(it.iterType), seq, dyn})
}

func decodeShardIterator(external string) (shardIterator, error) {
	fields, err := splitFields(external, 5)
	if err != nil {
		return shardIterator{}, err
	}
	it := shardIterator{
		streamArn: fields[0],
		shardId:   fields[1],
		iterType:  streamtypes.ShardIteratorType(fields[2]),
	}
	if fields[3] != "null" {
		n, err := parseSequenceNumber(fields[3])
		if err != nil {
			return shardIterator{}, err
		}
		it.sequenceNumber = n
	}
	if fields[4] != "null" {
		tok := fields[4]
		it.dynamoDbIterator = &tok
	}
	return it, nil
}
