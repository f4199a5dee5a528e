package world

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Projection is the deterministic freshness identity of a snapshot. Handoffs
// carry an expected projection; the adapter compares it against the current
// one before translating anything.
type Projection struct {
	SnapshotHash  string `json:"snapshotHash"`
	DecisionEpoch int64  `json:"decisionEpoch"`
}

// Project derives the snapshot's projection. The hash covers the whole
// document with the epoch counter and the clock's wall timestamp zeroed, so
// two snapshots with identical world content project the same hash.
func (s *Snapshot) Project() Projection {
	clone, err := s.Clone()
	if err != nil {
		// Marshal of an in-memory snapshot only fails on corruption the
		// integrity validator would already have rejected.
		return Projection{SnapshotHash: HashBytes(nil), DecisionEpoch: s.World.DecisionEpoch}
	}
	epoch := clone.World.DecisionEpoch
	clone.World.DecisionEpoch = 0
	clone.World.Clock.UpdatedAt = ""
	raw, _ := json.Marshal(clone)
	return Projection{SnapshotHash: HashBytes(raw), DecisionEpoch: epoch}
}

// HashBytes returns the hex sha256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashJSON marshals v (encoding/json sorts map keys, so the bytes are stable)
// and returns the hex sha256 of the result.
func HashJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(raw), nil
}
