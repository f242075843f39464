package streamscache

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pos(t *testing.T, seq string) iteratorPosition {
	return iteratorPosition{"arn", "shard-1", mustSeq(t, seq)}
}

func records(seqs ...string) []streamtypes.Record {
	out := make([]streamtypes.Record, len(seqs))
	for i, s := range seqs {
		out[i] = rec(s)
	}
	return out
}

func seqsOf(rs []streamtypes.Record) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = aws.ToString(r.Dynamodb.SequenceNumber)
	}
	return out
}

func TestCache_MissWhenEmpty(t *testing.T) {
	c := newCache(10)
	_, _, hit := c.get(pos(t, "1"))
	assert.False(t, hit)
}

func TestCache_ExactHit(t *testing.T) {
	c := newCache(10)
	c.add(pos(t, "1"), records("1", "2", "3"), nil)

	got, _, hit := c.get(pos(t, "1"))
	require.True(t, hit)
	assert.Equal(t, []string{"1", "2", "3"}, seqsOf(got))
}

func TestCache_SuffixHitFiltersToRequestedPosition(t *testing.T) {
	c := newCache(10)
	c.add(pos(t, "1"), records("1", "2", "3", "4"), nil)

	got, _, hit := c.get(pos(t, "3"))
	require.True(t, hit, "a position covered by, but not equal to, a segment's key is still a hit")
	assert.Equal(t, []string{"3", "4"}, seqsOf(got))
}

func TestCache_MissPastSegmentEnd(t *testing.T) {
	c := newCache(10)
	c.add(pos(t, "1"), records("1", "2"), nil)

	_, _, hit := c.get(pos(t, "5"))
	assert.False(t, hit)
}

func TestCache_LoadFullyContainedInExistingSegmentAddsNothing(t *testing.T) {
	c := newCache(10)
	c.add(pos(t, "1"), records("1", "2", "3", "4"), nil)
	c.add(pos(t, "2"), records("2", "3"), nil)

	assert.Equal(t, 1, len(c.byKey), "no second segment should have been created")
	got, _, hit := c.get(pos(t, "1"))
	require.True(t, hit)
	assert.Equal(t, []string{"1", "2", "3", "4"}, seqsOf(got))
}

// Regression test: merging an exactly-adjacent predecessor must relocate the
// stored segment's key to the predecessor's earlier position. A merged
// segment's key must always be a lower bound on its own records (get's
// exact-match path returns a segment's records unfiltered), so leaving the
// key at the later, newly-loaded position would make get(2) return the
// predecessor's older records again as if they were new.
func TestCache_PredecessorMergeRelocatesKeyToEarliestPosition(t *testing.T) {
	c := newCache(10)
	c.add(pos(t, "1"), records("1", "2"), nil)
	c.add(pos(t, "3"), records("3", "4"), nil)

	assert.Equal(t, 1, len(c.byKey), "the two adjacent segments must merge into one")

	full, _, hit := c.get(pos(t, "1"))
	require.True(t, hit)
	assert.Equal(t, []string{"1", "2", "3", "4"}, seqsOf(full))

	// A reader continuing from exactly where the first load left off must
	// see only the newly loaded suffix, not the whole merged run again.
	suffix, _, hit := c.get(pos(t, "3"))
	require.True(t, hit)
	assert.Equal(t, []string{"3", "4"}, seqsOf(suffix))
}

func TestCache_PredecessorOverlapIsTrimmedBeforeMerge(t *testing.T) {
	c := newCache(10)
	c.add(pos(t, "1"), records("1", "2", "3"), nil)
	// Overlaps predecessor's last two records; only "4" is genuinely new.
	c.add(pos(t, "2"), records("2", "3", "4"), nil)

	assert.Equal(t, 1, len(c.byKey))
	got, _, hit := c.get(pos(t, "1"))
	require.True(t, hit)
	assert.Equal(t, []string{"1", "2", "3", "4"}, seqsOf(got))
}

func TestCache_SuccessorOverlapIsTrimmedBeforeMerge(t *testing.T) {
	c := newCache(10)
	c.add(pos(t, "3"), records("3", "4"), nil)
	// Loaded range overlaps the front of the existing successor segment.
	c.add(pos(t, "1"), records("1", "2", "3"), nil)

	assert.Equal(t, 1, len(c.byKey))
	got, _, hit := c.get(pos(t, "1"))
	require.True(t, hit)
	assert.Equal(t, []string{"1", "2", "3", "4"}, seqsOf(got))
}

func TestCache_LoadFullyContainedInPredecessorIsANoOp(t *testing.T) {
	c := newCache(10)
	c.add(pos(t, "1"), records("1", "2", "3"), nil)
	c.add(pos(t, "1"), records("1", "2"), nil)

	assert.Equal(t, 1, len(c.byKey))
	got, _, hit := c.get(pos(t, "1"))
	require.True(t, hit)
	assert.Equal(t, []string{"1", "2", "3"}, seqsOf(got))
}

func TestCache_LoadEntirelyBeforeSuccessorIsReindexedUnderTheEarlierKey(t *testing.T) {
	c := newCache(10)
	c.add(pos(t, "5"), records("5", "6", "7"), nil)
	// Nothing in this load is new relative to the successor, but it was
	// requested from an earlier position: the successor's records must
	// become reachable from that earlier key too.
	c.add(pos(t, "1"), records("5", "6"), nil)

	assert.Equal(t, 1, len(c.byKey))
	got, _, hit := c.get(pos(t, "1"))
	require.True(t, hit)
	assert.Equal(t, []string{"5", "6", "7"}, seqsOf(got))
}

// Regression test: a predecessor segment with a non-nil nextIterator holds
// the only continuation handle for resuming right after its own records.
// Merging it into a later, adjacent load would silently replace that
// handle with the new load's nextIterator, stranding any reader that needed
// to resume from exactly the predecessor's end. The merge must be refused.
func TestCache_PredecessorWithNextIteratorIsNotMerged(t *testing.T) {
	c := newCache(10)
	dynamoToken := "raw-dynamo-token"
	c.add(pos(t, "1"), records("1", "2"), &dynamoToken)
	c.add(pos(t, "3"), records("3", "4"), nil)

	assert.Equal(t, 2, len(c.byKey), "predecessor's continuation handle must block the merge")

	predecessorRecords, predecessorNextIterator, hit := c.get(pos(t, "1"))
	require.True(t, hit)
	assert.Equal(t, []string{"1", "2"}, seqsOf(predecessorRecords))
	require.NotNil(t, predecessorNextIterator, "predecessor's continuation handle must survive")

	successorRecords, _, hit := c.get(pos(t, "3"))
	require.True(t, hit)
	assert.Equal(t, []string{"3", "4"}, seqsOf(successorRecords))
}

func TestCache_MergeRespectsMaxSegmentRecordsCap(t *testing.T) {
	c := newCache(10)
	// Build a run of maxSegmentRecords consecutive sequence numbers.
	seqs := make([]string, maxSegmentRecords)
	for i := 0; i < maxSegmentRecords; i++ {
		seqs[i] = itoaSeq(i + 1)
	}
	c.add(pos(t, "1"), records(seqs...), nil)

	// One more record, exactly adjacent, would push the merged segment over
	// the cap: the two segments must stay separate rather than merge.
	c.add(pos(t, itoaSeq(maxSegmentRecords+1)), records(itoaSeq(maxSegmentRecords+1)), nil)
	assert.Equal(t, 2, len(c.byKey), "merging past maxSegmentRecords must not happen")
}

func itoaSeq(n int) string {
	digits := []byte{}
	if n == 0 {
		return "0"
	}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestCache_EvictsOldestSegmentWhenOverCapacity(t *testing.T) {
	c := newCache(2)
	c.add(pos(t, "1"), records("1"), nil)
	c.add(pos(t, "100"), records("100"), nil)
	c.add(pos(t, "200"), records("200"), nil)

	assert.Equal(t, 2, len(c.byKey))
	_, _, hit := c.get(pos(t, "1"))
	assert.False(t, hit, "the oldest segment should have been evicted")
	_, _, hit = c.get(pos(t, "200"))
	assert.True(t, hit)
}

func TestCache_NoOverlappingOrEmptySegmentsAfterMixedOperations(t *testing.T) {
	c := newCache(10)
	c.add(pos(t, "10"), records("10", "11"), nil)
	c.add(pos(t, "1"), records("1", "2", "3"), nil)
	c.add(pos(t, "3"), records("3", "4", "5", "6", "7", "8", "9"), nil)

	// The three loads should have merged into exactly one contiguous run.
	require.Equal(t, 1, len(c.byKey))
	got, _, hit := c.get(pos(t, "1"))
	require.True(t, hit)
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11"}, seqsOf(got))
}
