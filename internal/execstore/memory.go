package execstore

import (
	"fmt"
	"sort"

	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/memstore"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/world"
)

// MemoryStore keeps execution state in the snapshot's execution sub-document.
// Every mutation runs inside the memory store's transaction, tagged with an
// event id derived from the kind and handoff id.
type MemoryStore struct {
	store *memstore.Store
}

// NewMemoryStore creates the snapshot-backed backend.
func NewMemoryStore(store *memstore.Store) *MemoryStore {
	return &MemoryStore{store: store}
}

// FindReceipt returns the receipt matching the handoff id or idempotency key.
func (m *MemoryStore) FindReceipt(handoffID, idempotencyKey string) (*world.ExecutionResult, error) {
	snap, err := m.store.GetSnapshot()
	if err != nil {
		return nil, err
	}
	for _, rec := range snap.World.Execution.History {
		if matchesIdentity(rec.HandoffID, rec.IdempotencyKey, handoffID, idempotencyKey) {
			return rec, nil
		}
	}
	return nil, nil
}

// FindPendingExecution returns the pending record matching either identity.
func (m *MemoryStore) FindPendingExecution(handoffID, idempotencyKey string) (*world.PendingRecord, error) {
	snap, err := m.store.GetSnapshot()
	if err != nil {
		return nil, err
	}
	for _, rec := range snap.World.Execution.Pending {
		if matchesIdentity(rec.HandoffID, rec.IdempotencyKey, handoffID, idempotencyKey) {
			return rec, nil
		}
	}
	return nil, nil
}

// ListPendingExecutions returns all pending records in insertion order.
func (m *MemoryStore) ListPendingExecutions() ([]*world.PendingRecord, error) {
	snap, err := m.store.GetSnapshot()
	if err != nil {
		return nil, err
	}
	return snap.World.Execution.Pending, nil
}

// StagePendingExecution inserts or replaces the pending record for the
// handoff.
func (m *MemoryStore) StagePendingExecution(rec *world.PendingRecord) error {
	eventID := fmt.Sprintf("exec:stage:%s", rec.HandoffID)
	_, err := m.store.Transact(func(snap *world.Snapshot) (any, error) {
		ex := snap.World.Execution
		ex.Pending = removePending(ex.Pending, rec.HandoffID, rec.IdempotencyKey)
		ex.Pending = world.AppendRing(ex.Pending, rec, world.PendingCap)
		return nil, nil
	}, memstore.TxOptions{EventID: eventID})
	return err
}

// MarkPendingExecutionProgress records how far the command sequence got.
func (m *MemoryStore) MarkPendingExecutionProgress(handoffID string, completed int, lastApplied string) error {
	eventID := fmt.Sprintf("exec:progress:%s:%d", handoffID, completed)
	_, err := m.store.Transact(func(snap *world.Snapshot) (any, error) {
		for _, rec := range snap.World.Execution.Pending {
			if rec.HandoffID == handoffID {
				rec.CompletedCommandCount = completed
				rec.LastAppliedCommand = lastApplied
			}
		}
		return nil, nil
	}, memstore.TxOptions{EventID: eventID})
	return err
}

// ClearPendingExecution drops pending records matching either identity.
func (m *MemoryStore) ClearPendingExecution(handoffID, idempotencyKey string) error {
	eventID := fmt.Sprintf("exec:clear:%s", handoffID)
	_, err := m.store.Transact(func(snap *world.Snapshot) (any, error) {
		ex := snap.World.Execution
		ex.Pending = removePending(ex.Pending, handoffID, idempotencyKey)
		return nil, nil
	}, memstore.TxOptions{EventID: eventID})
	return err
}

// RecordResult appends the receipt (superseding any pending entry with the
// same identity), appends the ledger row, and clears matching pending rows.
// A ledger row with an existing id replaces it in place.
func (m *MemoryStore) RecordResult(res *world.ExecutionResult, entry *world.LedgerEntry, opts RecordOptions) error {
	eventID := fmt.Sprintf("exec:record:%s:%s", entry.Kind, res.HandoffID)
	_, err := m.store.Transact(func(snap *world.Snapshot) (any, error) {
		ex := snap.World.Execution
		if opts.PersistReceipt {
			replaced := false
			for i, old := range ex.History {
				if old.ExecutionID == res.ExecutionID {
					ex.History[i] = res
					replaced = true
					break
				}
			}
			if !replaced {
				ex.History = world.AppendRing(ex.History, res, world.HistoryCap)
			}
		}
		appendLedger(ex, entry)
		if opts.ClearPending {
			ex.Pending = removePending(ex.Pending, res.HandoffID, res.IdempotencyKey)
		}
		return nil, nil
	}, memstore.TxOptions{EventID: eventID})
	return err
}

// SyncWorldMemoryFromSnapshot is a no-op for the memory backend: the
// chronicle already lives in the snapshot this backend projects from.
func (m *MemoryStore) SyncWorldMemoryFromSnapshot(*world.Snapshot) error {
	return nil
}

// ListChronicleRecords projects the world chronicle, newest first.
func (m *MemoryStore) ListChronicleRecords(q ChronicleQuery) ([]ChronicleRecord, error) {
	snap, err := m.store.GetSnapshot()
	if err != nil {
		return nil, err
	}
	records := make([]ChronicleRecord, 0, len(snap.World.Chronicle))
	for _, e := range snap.World.Chronicle {
		if q.TownID != "" && e.TownID != q.TownID {
			continue
		}
		if q.FactionID != "" && e.FactionID != q.FactionID {
			continue
		}
		records = append(records, ChronicleRecord{
			RecordID:  "wcr_" + e.ID,
			SourceID:  e.ID,
			EntryType: e.EntryType,
			TownID:    e.TownID,
			FactionID: e.FactionID,
			At:        e.At,
			Message:   e.Message,
		})
	}
	SortChronicleRecords(records)
	return clipChronicle(records, q.Limit), nil
}

// ListHistoryRecords projects receipts joined with their ledger rows, newest
// first.
func (m *MemoryStore) ListHistoryRecords(q HistoryQuery) ([]HistoryRecord, error) {
	snap, err := m.store.GetSnapshot()
	if err != nil {
		return nil, err
	}
	ex := snap.World.Execution
	byExecution := map[string][]*world.LedgerEntry{}
	for _, entry := range ex.EventLedger {
		byExecution[entry.ExecutionID] = append(byExecution[entry.ExecutionID], entry)
	}
	records := []HistoryRecord{}
	for _, rec := range ex.History {
		if q.TownID != "" && rec.TownID != q.TownID {
			continue
		}
		entries := byExecution[rec.ExecutionID]
		if len(entries) == 0 {
			records = append(records, historyRecord(rec, nil))
			continue
		}
		for _, entry := range entries {
			records = append(records, historyRecord(rec, entry))
		}
	}
	SortHistoryRecords(records)
	return clipHistory(records, q.Limit), nil
}

func historyRecord(rec *world.ExecutionResult, entry *world.LedgerEntry) HistoryRecord {
	h := HistoryRecord{
		ExecutionID:    rec.ExecutionID,
		HandoffID:      rec.HandoffID,
		IdempotencyKey: rec.IdempotencyKey,
		ProposalType:   rec.ProposalType,
		ActorID:        rec.ActorID,
		TownID:         rec.TownID,
		Status:         rec.Status,
		ReasonCode:     rec.ReasonCode,
	}
	if entry != nil {
		h.Kind = entry.Kind
		h.Day = entry.Day
		h.At = ledgerAt(entry.ExecutionID, entry.Kind, entry.Day)
	} else {
		h.At = ledgerAt(rec.ExecutionID, "receipt", 1)
	}
	return h
}

func appendLedger(ex *world.ExecutionState, entry *world.LedgerEntry) {
	for i, old := range ex.EventLedger {
		if old.ID == entry.ID {
			ex.EventLedger[i] = entry
			return
		}
	}
	ex.EventLedger = world.AppendRing(ex.EventLedger, entry, world.EventLedgerCap)
}

func removePending(pending []*world.PendingRecord, handoffID, idempotencyKey string) []*world.PendingRecord {
	out := make([]*world.PendingRecord, 0, len(pending))
	for _, rec := range pending {
		if matchesIdentity(rec.HandoffID, rec.IdempotencyKey, handoffID, idempotencyKey) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// SortChronicleRecords orders newest first with a record-id tie-break.
func SortChronicleRecords(records []ChronicleRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].At != records[j].At {
			return records[i].At > records[j].At
		}
		return records[i].RecordID > records[j].RecordID
	})
}

// SortHistoryRecords orders newest first with an execution-id and kind
// tie-break.
func SortHistoryRecords(records []HistoryRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].At != records[j].At {
			return records[i].At > records[j].At
		}
		if records[i].ExecutionID != records[j].ExecutionID {
			return records[i].ExecutionID > records[j].ExecutionID
		}
		return records[i].Kind > records[j].Kind
	})
}

func clipChronicle(records []ChronicleRecord, limit int) []ChronicleRecord {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}

func clipHistory(records []HistoryRecord, limit int) []HistoryRecord {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}
