package flow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// OperationIDLen is the length of a derived operation id.
const OperationIDLen = 40

// DeriveOperationID builds a deterministic operation id from the parts plus
// the current time bucket. Retries within the same window collide on purpose,
// which is what makes downstream event-id idempotency effective.
func DeriveOperationID(windowMs int64, parts ...string) string {
	return DeriveOperationIDAt(time.Now(), windowMs, parts...)
}

// DeriveOperationIDAt is DeriveOperationID with an explicit clock, for
// deterministic callers (the world loop derives from the tick instant).
func DeriveOperationIDAt(now time.Time, windowMs int64, parts ...string) string {
	if windowMs < 1 {
		windowMs = 1
	}
	bucket := now.UnixMilli() / windowMs
	payload := make([]any, 0, len(parts)+1)
	payload = append(payload, bucket)
	for _, p := range parts {
		payload = append(payload, p)
	}
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:OperationIDLen]
}
