// Package execstore persists execution receipts, the per-kind event ledger,
// and pending records, behind two interchangeable backends: one living inside
// the snapshot's execution sub-document, one on SQLite.
package execstore

import (
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/world"
)

// RecordOptions tunes a RecordResult call.
type RecordOptions struct {
	// PersistReceipt false appends only the ledger row (duplicate replays).
	PersistReceipt bool
	// ClearPending false leaves matching pending rows in place.
	ClearPending bool
}

// ChronicleQuery filters chronicle projections.
type ChronicleQuery struct {
	TownID    string
	FactionID string
	Limit     int
}

// HistoryQuery filters execution-history projections.
type HistoryQuery struct {
	TownID string
	Limit  int
}

// ChronicleRecord is the projection of one world chronicle entry.
type ChronicleRecord struct {
	RecordID  string `json:"recordId"`
	SourceID  string `json:"sourceId"`
	EntryType string `json:"entryType"`
	TownID    string `json:"townId,omitempty"`
	FactionID string `json:"factionId,omitempty"`
	At        string `json:"at"`
	Message   string `json:"message"`
}

// HistoryRecord is the projection of one receipt joined with its ledger rows.
type HistoryRecord struct {
	ExecutionID    string `json:"executionId"`
	HandoffID      string `json:"handoffId"`
	IdempotencyKey string `json:"idempotencyKey"`
	ProposalType   string `json:"proposalType"`
	ActorID        string `json:"actorId"`
	TownID         string `json:"townId"`
	Kind           string `json:"kind"`
	Status         string `json:"status"`
	ReasonCode     string `json:"reasonCode"`
	Day            int    `json:"day"`
	At             string `json:"at"`
}

// Store is the common backend interface. Both implementations must report
// identical observable behavior modulo ordering tie-breaks.
type Store interface {
	FindReceipt(handoffID, idempotencyKey string) (*world.ExecutionResult, error)
	FindPendingExecution(handoffID, idempotencyKey string) (*world.PendingRecord, error)
	ListPendingExecutions() ([]*world.PendingRecord, error)
	StagePendingExecution(rec *world.PendingRecord) error
	MarkPendingExecutionProgress(handoffID string, completed int, lastApplied string) error
	ClearPendingExecution(handoffID, idempotencyKey string) error
	RecordResult(res *world.ExecutionResult, entry *world.LedgerEntry, opts RecordOptions) error
	SyncWorldMemoryFromSnapshot(snap *world.Snapshot) error
	ListChronicleRecords(q ChronicleQuery) ([]ChronicleRecord, error)
	ListHistoryRecords(q HistoryQuery) ([]HistoryRecord, error)
}

// LedgerEntryFor builds the ledger row for a result and lifecycle kind.
// The row id is always "<executionId>:<kind>".
func LedgerEntryFor(res *world.ExecutionResult, kind string, day int) *world.LedgerEntry {
	return &world.LedgerEntry{
		ID:                        res.ExecutionID + ":" + kind,
		Kind:                      kind,
		HandoffID:                 res.HandoffID,
		IdempotencyKey:            res.IdempotencyKey,
		ExecutionID:               res.ExecutionID,
		Status:                    res.Status,
		ReasonCode:                res.ReasonCode,
		Day:                       day,
		ActualSnapshotHash:        res.Evaluation.StaleCheck.ActualSnapshotHash,
		PostExecutionSnapshotHash: res.WorldState.PostExecutionSnapshotHash,
	}
}

// matchesIdentity reports whether a handoffID/idempotencyKey pair matches a
// record's identity. Either side matching is a hit.
func matchesIdentity(recHandoff, recKey, handoffID, idempotencyKey string) bool {
	if handoffID != "" && recHandoff == handoffID {
		return true
	}
	if idempotencyKey != "" && recKey == idempotencyKey {
		return true
	}
	return false
}

// ledgerAt derives the deterministic timestamp of a ledger row.
func ledgerAt(executionID, kind string, day int) string {
	return world.ArchiveTimestamp(day, 0, executionID, "ledger", kind, 0)
}
