package world

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

var archiveEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// ArchiveTime derives the deterministic timestamp for an archive append:
// one day per in-world day, one second per processed event (capped so a busy
// world never rolls into the next day), a keyed millisecond jitter, and a
// monotonic sub-sequence for multiple appends under one key.
func ArchiveTime(day, processedCount int, opID, agent, tag string, seq int) time.Time {
	if day < 1 {
		day = 1
	}
	secs := processedCount
	if secs > 86000 {
		secs = 86000
	}
	key := fmt.Sprintf("%s:%s:%s", opID, agent, tag)
	ms := int(hashMod(key, 997))
	t := archiveEpoch.
		Add(time.Duration(day-1) * 24 * time.Hour).
		Add(time.Duration(secs) * time.Second).
		Add(time.Duration(ms+seq) * time.Millisecond)
	return t
}

// ArchiveTimestamp is ArchiveTime formatted the way the snapshot stores it.
func ArchiveTimestamp(day, processedCount int, opID, agent, tag string, seq int) string {
	return ArchiveTime(day, processedCount, opID, agent, tag, seq).Format(time.RFC3339Nano)
}

func hashMod(key string, mod uint64) uint64 {
	sum := sha256.Sum256([]byte(key))
	return binary.BigEndian.Uint64(sum[:8]) % mod
}

// PickMod hashes key and indexes into a table of n entries. Used wherever a
// deterministic "random" choice is required.
func PickMod(key string, n int) int {
	if n <= 0 {
		return 0
	}
	return int(hashMod(key, uint64(n)))
}
