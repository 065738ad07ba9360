package cache

import (
	"encoding/binary"
	"time"
)

// entry is a local value with an optional absolute expiry.
type entry struct {
	value     []byte
	expiresAt int64 // unix nanoseconds, 0 = never
}

func newEntry(value []byte, ttl time.Duration) entry {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl).UnixNano()
	}
	return e
}

func (e entry) expired(now time.Time) bool {
	return e.expiresAt != 0 && now.UnixNano() >= e.expiresAt
}

// encodeEntry packs e into a single byte slice for stores that only hold
// []byte: an 8-byte big-endian expiry followed by the value.
func encodeEntry(e entry) []byte {
	buf := make([]byte, 8+len(e.value))
	binary.BigEndian.PutUint64(buf, uint64(e.expiresAt))
	copy(buf[8:], e.value)
	return buf
}

func decodeEntry(buf []byte) (entry, bool) {
	if len(buf) < 8 {
		return entry{}, false
	}
	return entry{
		expiresAt: int64(binary.BigEndian.Uint64(buf)),
		value:     buf[8:],
	}, true
}
