package world

import (
	"encoding/json"
	"fmt"
)

// Clone deep-copies the snapshot through a JSON round trip, so the working
// copy handed to a mutator is exactly what a reload of the persisted document
// would produce.
func (s *Snapshot) Clone() (*Snapshot, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("clone marshal: %w", err)
	}
	var out Snapshot
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("clone unmarshal: %w", err)
	}
	out.Normalize()
	return &out, nil
}

// AppendRing appends to a bounded ring, shrinking only from the front.
func AppendRing[T any](ring []T, item T, limit int) []T {
	ring = append(ring, item)
	if len(ring) > limit {
		ring = ring[len(ring)-limit:]
	}
	return ring
}

// HasProcessedEvent reports whether the event id is in the processed ring.
func (w *WorldState) HasProcessedEvent(eventID string) bool {
	for _, id := range w.ProcessedEventIDs {
		if id == eventID {
			return true
		}
	}
	return false
}

// MarkEventProcessed appends the event id to the processed ring. Duplicate
// ids are not appended twice.
func (w *WorldState) MarkEventProcessed(eventID string) {
	if eventID == "" || w.HasProcessedEvent(eventID) {
		return
	}
	w.ProcessedEventIDs = AppendRing(w.ProcessedEventIDs, eventID, ProcessedEventCap)
}
