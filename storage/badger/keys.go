package badger

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/poiesic/venuedb/core"
)

// Key prefixes for different data types
const (
	placeRecordPrefix   = "plcrec"
	placePendingPrefix  = "plcpend"
	chunkRecordPrefix   = "chkrec"
	chunkTriplePrefix   = "chktrp"
	chunkPlacePrefix    = "chkplc"
	chunkPendingPrefix  = "chkpend"
	citationRowPrefix   = "citrec"
	citationMetaKeyName = "citmeta"
)

// makePlaceKey generates a key for a place row by place ID.
func makePlaceKey(placeID string) []byte {
	return []byte(fmt.Sprintf("%s:%s", placeRecordPrefix, placeID))
}

// makePlacePendingKey marks a place as derivation-pending.
func makePlacePendingKey(placeID string) []byte {
	return []byte(fmt.Sprintf("%s:%s", placePendingPrefix, placeID))
}

// makeChunkKey generates a key for a chunk row by ID.
func makeChunkKey(id core.ID) []byte {
	prefix := chunkRecordPrefix + ":"
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// appendKeyString appends a length-prefixed string component. IDs are
// caller-supplied and may contain any byte, so joining them with a raw
// separator would let the component boundary shift between distinct
// (place, review) pairs.
func appendKeyString(buf []byte, s string) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, s...)
}

// encodeTimeMicro encodes a timestamp for BigEndian key ordering. The sign
// bit is flipped so pre-1970 values (negative micros) sort before modern
// ones instead of after them.
func encodeTimeMicro(t time.Time) uint64 {
	return uint64(t.UnixMicro()) ^ (1 << 63)
}

// makeChunkTripleKey generates the uniqueness key for
// (place_id, source_review_id, ordinal).
func makeChunkTripleKey(placeID, sourceReviewID string, ordinal int) []byte {
	buf := appendKeyString([]byte(chunkTriplePrefix+":"), placeID)
	buf = appendKeyString(buf, sourceReviewID)
	var ordBuf [8]byte
	binary.BigEndian.PutUint64(ordBuf[:], uint64(ordinal))
	return append(buf, ordBuf[:]...)
}

// makeChunkPlaceKey generates a composite key for the per-place date index:
// scan prefix, then BigEndian occurred_at and chunk ID so lexicographic
// iteration yields chronological order.
func makeChunkPlaceKey(placeID string, occurredAt time.Time, id core.ID) []byte {
	buf := makeChunkPlaceScanPrefix(placeID)
	var tail [16]byte
	binary.BigEndian.PutUint64(tail[:8], encodeTimeMicro(occurredAt))
	binary.BigEndian.PutUint64(tail[8:], uint64(id))
	return append(buf, tail[:]...)
}

// makeChunkPlaceScanPrefix generates the prefix covering every date-index
// entry of one place and no other: the length prefix keeps place "a" from
// matching entries of place "a:b".
func makeChunkPlaceScanPrefix(placeID string) []byte {
	return appendKeyString([]byte(chunkPlacePrefix+":"), placeID)
}

// makeChunkPendingKey marks a chunk as derivation-pending.
func makeChunkPendingKey(id core.ID) []byte {
	prefix := chunkPendingPrefix + ":"
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// makeCitationKey generates a key for a persisted citation row.
func makeCitationKey(id core.ID) []byte {
	prefix := citationRowPrefix + ":"
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// marshalIDValue encodes a chunk ID as a fixed 8-byte index value.
func marshalIDValue(id core.ID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

// unmarshalIDValue decodes a chunk ID from an index value.
func unmarshalIDValue(data []byte) (core.ID, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid id value length %d", len(data))
	}
	return core.ID(binary.BigEndian.Uint64(data)), nil
}

// chunkIDFromKey extracts the trailing 8-byte chunk ID from a composite key.
func chunkIDFromKey(key []byte) (core.ID, error) {
	if len(key) < 8 {
		return 0, fmt.Errorf("key too short for chunk id: %d bytes", len(key))
	}
	return core.ID(binary.BigEndian.Uint64(key[len(key)-8:])), nil
}
