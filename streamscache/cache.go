package streamscache

import (
	"sync"

	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
	"github.com/google/btree"
)

// maxSegmentRecords caps the size of a merged segment, mirroring the 1000
// record page size DynamoDB Streams' GetRecords itself returns at most.
const maxSegmentRecords = 1000

// segment is one contiguous, cached run of stream records for a shard,
// starting at pos. nextIterator is the external iterator string a reader
// should present to continue past the segment; nil means the underlying
// stream reported no next iterator (the shard is closed and fully drained).
type segment struct {
	pos          iteratorPosition
	records      []streamtypes.Record
	nextIterator *string
}

// cache holds cached, non-overlapping, non-empty record segments across all
// streams and shards plus a FIFO eviction order, mirroring
// CachingAmazonDynamoDbStreams' recordsCache/evictionDeque. All segment
// values are treated as immutable once stored: add never mutates a stored
// segment's records slice, only replaces cache entries wholesale.
type cache struct {
	mu       sync.RWMutex
	order    *btree.BTreeG[iteratorPosition]
	byKey    map[string]*segment
	eviction []iteratorPosition
	maxSize  int
}

func newCache(maxSize int) *cache {
	return &cache{
		order:   btree.NewG[iteratorPosition](32, iteratorPosition.less),
		byKey:   make(map[string]*segment),
		maxSize: maxSize,
	}
}

func (c *cache) floorLocked(pos iteratorPosition) (*segment, bool) {
	var found *segment
	c.order.DescendLessOrEqual(pos, func(p iteratorPosition) bool {
		found = c.byKey[p.mapKey()]
		return false
	})
	return found, found != nil
}

func (c *cache) higherLocked(pos iteratorPosition) (*segment, bool) {
	var found *segment
	c.order.AscendGreaterOrEqual(pos, func(p iteratorPosition) bool {
		if p.equal(pos) {
			return true
		}
		found = c.byKey[p.mapKey()]
		return false
	})
	return found, found != nil
}

func (c *cache) removeLocked(pos iteratorPosition) {
	c.order.Delete(pos)
	delete(c.byKey, pos.mapKey())
}

func (c *cache) putLocked(pos iteratorPosition, records []streamtypes.Record, nextIterator *string) {
	c.order.ReplaceOrInsert(pos)
	c.byKey[pos.mapKey()] = &segment{pos: pos, records: records, nextIterator: nextIterator}
	c.eviction = append(c.eviction, pos)
	for len(c.byKey) > c.maxSize {
		oldest := c.eviction[0]
		c.eviction = c.eviction[1:]
		if _, ok := c.byKey[oldest.mapKey()]; ok {
			c.removeLocked(oldest)
		}
	}
}

// get looks up cached records for pos: an exact segment match, a suffix of
// a segment that starts before pos but still covers it (filtered down to
// the records at or after pos, to increase the chance callers converge on
// a shared cache position), or a miss.
func (c *cache) get(pos iteratorPosition) (records []streamtypes.Record, nextIterator *string, hit bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	prev, ok := c.floorLocked(pos)
	if !ok {
		return nil, nil, false
	}
	if pos.equal(prev.pos) {
		return prev.records, prev.nextIterator, true
	}
	if pos.equalsShard(prev.pos) && pos.precedesAny(prev.records) {
		return filterFrom(prev.records, pos), prev.nextIterator, true
	}
	return nil, nil, false
}

func filterFrom(records []streamtypes.Record, pos iteratorPosition) []streamtypes.Record {
	out := make([]streamtypes.Record, 0, len(records))
	for _, r := range records {
		if pos.precedes(r) {
			out = append(out, r)
		}
	}
	return out
}

func filterBefore(records []streamtypes.Record, pos iteratorPosition) []streamtypes.Record {
	out := make([]streamtypes.Record, 0, len(records))
	for _, r := range records {
		if !pos.precedes(r) {
			out = append(out, r)
		}
	}
	return out
}

// add inserts newly loaded records at loadedPosition into the cache,
// trimming overlap with adjacent segments and merging with them where they
// turn out to be exactly adjacent (up to maxSegmentRecords), and evicting
// the oldest segment once the cache exceeds its configured size. It
// preserves the invariants that cached segments never overlap (I1) and are
// never empty (I2): a load fully contained in an existing segment adds
// nothing.
//
// dynamoNextIterator is the raw token the underlying stream returned
// alongside loadedRecords, if any; it is wrapped into an absolute
// AFTER_SEQUENCE_NUMBER external iterator so a subsequent read that misses
// the cache can resume without a second GetShardIterator call.
func (c *cache) add(loadedPosition iteratorPosition, loadedRecords []streamtypes.Record, dynamoNextIterator *string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cachePosition := loadedPosition
	records := loadedRecords
	var nextIterator *string
	if dynamoNextIterator != nil {
		enc := shardIterator{
			streamArn:        loadedPosition.streamArn,
			shardId:          loadedPosition.shardId,
			iterType:         streamtypes.ShardIteratorTypeAfterSequenceNumber,
			sequenceNumber:   recordSeq(loadedRecords[len(loadedRecords)-1]),
			dynamoDbIterator: dynamoNextIterator,
		}.encode()
		nextIterator = &enc
	}

	var predecessor *segment
	predecessorAdjacent := false
	if pred, ok := c.floorLocked(loadedPosition); ok && loadedPosition.equalsShard(pred.pos) {
		predecessor = pred
		if loadedPosition.precedesAny(pred.records) {
			cachePosition = loadedPosition.nextAfterLastRecord(pred.records)
			records = filterFrom(records, cachePosition)
			if len(records) == 0 {
				// fully contained in predecessor: nothing new to cache.
				return
			}
			predecessorAdjacent = true
		} else {
			predecessorAdjacent = loadedPosition.equal(loadedPosition.nextAfterLastRecord(pred.records))
		}
	}

	var successor *segment
	successorAdjacent := false
	if succ, ok := c.higherLocked(cachePosition); ok && cachePosition.equalsShard(succ.pos) {
		successor = succ
		if succ.pos.precedesAny(records) {
			records = filterBefore(records, succ.pos)
			if len(records) == 0 {
				// fully contained in successor: reindex it under cachePosition.
				c.removeLocked(succ.pos)
				records = succ.records
				nextIterator = succ.nextIterator
				successorAdjacent = false
			} else {
				enc := shardIterator{
					streamArn:      cachePosition.streamArn,
					shardId:        cachePosition.shardId,
					iterType:       streamtypes.ShardIteratorTypeAfterSequenceNumber,
					sequenceNumber: recordSeq(loadedRecords[len(loadedRecords)-1]),
				}.encode()
				nextIterator = &enc
				successorAdjacent = true
			}
		} else {
			successorAdjacent = succ.pos.equal(cachePosition.nextAfterLastRecord(records))
		}
	}

	if predecessorAdjacent {
		total := len(predecessor.records) + len(records)
		// A non-nil nextIterator on predecessor is a continuation handle for
		// resuming right after predecessor.records; merging would discard it
		// in favor of the newly computed nextIterator below, stranding any
		// reader that needed to resume from exactly that point. Refuse the
		// merge rather than lose it.
		if total <= maxSegmentRecords && predecessor.nextIterator == nil {
			merged := make([]streamtypes.Record, 0, total)
			merged = append(merged, predecessor.records...)
			merged = append(merged, records...)
			records = merged
			c.removeLocked(predecessor.pos)
			// The merged segment's key must stay a lower bound on its own
			// records (get's exact-match path returns a segment's records
			// unfiltered), so it moves to the predecessor's earlier key
			// rather than staying at cachePosition.
			cachePosition = predecessor.pos
		}
	}
	if successorAdjacent {
		total := len(records) + len(successor.records)
		if total <= maxSegmentRecords {
			merged := make([]streamtypes.Record, 0, total)
			merged = append(merged, records...)
			merged = append(merged, successor.records...)
			records = merged
			nextIterator = successor.nextIterator
			c.removeLocked(successor.pos)
		}
	}

	c.putLocked(cachePosition, records, nextIterator)
}
