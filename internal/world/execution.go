package world

// Execution result statuses. Terminal for a handoff except duplicate, which
// reports an earlier terminal receipt.
const (
	StatusExecuted  = "executed"
	StatusRejected  = "rejected"
	StatusStale     = "stale"
	StatusDuplicate = "duplicate"
	StatusFailed    = "failed"
)

// Reason codes shared by the adapter and both store backends.
const (
	ReasonExecuted                  = "EXECUTED"
	ReasonDuplicateHandoff          = "DUPLICATE_HANDOFF"
	ReasonStaleDecisionEpoch        = "STALE_DECISION_EPOCH"
	ReasonStaleSnapshotHash         = "STALE_SNAPSHOT_HASH"
	ReasonPreconditionFailed        = "PRECONDITION_FAILED"
	ReasonUnknownTown               = "UNKNOWN_TOWN"
	ReasonUnknownProject            = "UNKNOWN_PROJECT"
	ReasonUnknownSalvageTarget      = "UNKNOWN_SALVAGE_TARGET"
	ReasonMajorMissionAlreadyActive = "MAJOR_MISSION_ALREADY_ACTIVE"
	ReasonMayorBriefingRequired     = "MAYOR_BRIEFING_REQUIRED"
	ReasonMayorCooldownActive       = "MAYOR_COOLDOWN_ACTIVE"
	ReasonEngineRejected            = "ENGINE_REJECTED"
)

// ExecutionState is the execution sub-document of the snapshot: terminal
// receipts, the per-kind event ledger, and in-flight pending records.
type ExecutionState struct {
	History     []*ExecutionResult `json:"history"`     // ring cap 512
	EventLedger []*LedgerEntry     `json:"eventLedger"` // ring cap 1024
	Pending     []*PendingRecord   `json:"pending"`     // ring cap 128
}

// NewExecutionState returns an empty execution sub-document.
func NewExecutionState() *ExecutionState {
	return &ExecutionState{
		History:     []*ExecutionResult{},
		EventLedger: []*LedgerEntry{},
		Pending:     []*PendingRecord{},
	}
}

// ExecutionResult is the terminal receipt of a handoff, and the wire shape of
// the execution-result.v1 envelope.
type ExecutionResult struct {
	Type              string           `json:"type"`
	SchemaVersion     int              `json:"schemaVersion"`
	ExecutionID       string           `json:"executionId"`
	ResultID          string           `json:"resultId"`
	HandoffID         string           `json:"handoffId"`
	ProposalID        string           `json:"proposalId"`
	IdempotencyKey    string           `json:"idempotencyKey"`
	SnapshotHash      string           `json:"snapshotHash"`
	DecisionEpoch     int64            `json:"decisionEpoch"`
	ActorID           string           `json:"actorId"`
	TownID            string           `json:"townId"`
	ProposalType      string           `json:"proposalType"`
	Command           string           `json:"command"`
	AuthorityCommands []string         `json:"authorityCommands"`
	Status            string           `json:"status"`
	Accepted          bool             `json:"accepted"`
	Executed          bool             `json:"executed"`
	ReasonCode        string           `json:"reasonCode"`
	Evaluation        Evaluation       `json:"evaluation"`
	WorldState        ResultWorldState `json:"worldState"`
}

// ResultEnvelopeType is the wire type tag of an execution result.
const ResultEnvelopeType = "execution-result.v1"

// Evaluation records the three checks of the decision pipeline.
type Evaluation struct {
	Preconditions  PreconditionCheck `json:"preconditions"`
	StaleCheck     StaleCheck        `json:"staleCheck"`
	DuplicateCheck DuplicateCheck    `json:"duplicateCheck"`
}

// PreconditionCheck reports translation-time precondition evaluation.
type PreconditionCheck struct {
	Evaluated bool                  `json:"evaluated"`
	Passed    bool                  `json:"passed"`
	Failures  []PreconditionFailure `json:"failures"`
}

// PreconditionFailure names one failed precondition.
type PreconditionFailure struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// StaleCheck reports the snapshot/epoch freshness comparison.
type StaleCheck struct {
	Evaluated           bool   `json:"evaluated"`
	Passed              bool   `json:"passed"`
	ActualSnapshotHash  string `json:"actualSnapshotHash,omitempty"`
	ActualDecisionEpoch int64  `json:"actualDecisionEpoch"`
}

// DuplicateCheck reports whether a prior receipt already covers the handoff.
type DuplicateCheck struct {
	Evaluated   bool   `json:"evaluated"`
	Duplicate   bool   `json:"duplicate"`
	DuplicateOf string `json:"duplicateOf,omitempty"`
}

// ResultWorldState is the post-decision projection carried on every receipt.
type ResultWorldState struct {
	PostExecutionSnapshotHash  string `json:"postExecutionSnapshotHash"`
	PostExecutionDecisionEpoch int64  `json:"postExecutionDecisionEpoch"`
}

// PendingRecord is the crash-recovery bookkeeping for an in-flight handoff.
type PendingRecord struct {
	HandoffID             string `json:"handoffId"`
	IdempotencyKey        string `json:"idempotencyKey"`
	ProposalID            string `json:"proposalId"`
	PreparedSnapshotHash  string `json:"preparedSnapshotHash"`
	PreparedEpoch         int64  `json:"preparedEpoch"`
	LastKnownSnapshotHash string `json:"lastKnownSnapshotHash"`
	LastKnownEpoch        int64  `json:"lastKnownEpoch"`
	TotalCommandCount     int    `json:"totalCommandCount"`
	CompletedCommandCount int    `json:"completedCommandCount"`
	LastAppliedCommand    string `json:"lastAppliedCommand,omitempty"`
}

// LedgerEntry is one per-kind event row in a handoff's lifecycle.
// ID is always "<executionId>:<kind>".
type LedgerEntry struct {
	ID                        string `json:"id"`
	Kind                      string `json:"kind"`
	HandoffID                 string `json:"handoffId"`
	IdempotencyKey            string `json:"idempotencyKey"`
	ExecutionID               string `json:"executionId"`
	Status                    string `json:"status"`
	ReasonCode                string `json:"reasonCode"`
	Day                       int    `json:"day"`
	ActualSnapshotHash        string `json:"actualSnapshotHash,omitempty"`
	PostExecutionSnapshotHash string `json:"postExecutionSnapshotHash,omitempty"`
}
