package dbutils

import "encoding/binary"

// shardMax marks the "hot"/current shard of a chunked history-index key,
// the same convention ethdb/bitmapdb uses for AppendMergeByOr's
// lastShardKey: the open shard is keyed by the all-ones uint32 suffix so
// new values always Seek to it first.
const shardMax = ^uint32(0)

// IndexChunkKey builds the seek key that finds the history-index shard
// covering timestamp: key followed by the shard's upper-bound block
// number (big-endian uint32), so a Seek lands on the first shard whose
// upper bound is >= timestamp (§4.3 "seek AccountHistory with key (address, n)").
func IndexChunkKey(key []byte, timestamp uint64) []byte {
	k := make([]byte, len(key)+4)
	copy(k, key)
	binary.BigEndian.PutUint32(k[len(key):], uint32(timestamp))
	return k
}

// CurrentChunkKey returns the key of the open/hot shard for key.
func CurrentChunkKey(key []byte) []byte {
	k := make([]byte, len(key)+4)
	copy(k, key)
	binary.BigEndian.PutUint32(k[len(key):], shardMax)
	return k
}
