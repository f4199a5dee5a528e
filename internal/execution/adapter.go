package execution

import (
	"fmt"
	"log/slog"

	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/events"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/execstore"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/god"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/memstore"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/metrics"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/world"
)

// Ledger kinds written along a handoff's lifecycle.
const (
	KindExecuted          = "executed"
	KindRejected          = "rejected"
	KindStale             = "stale"
	KindFailed            = "failed"
	KindDuplicateReplayed = "duplicate_replayed"
)

// Config wires an Adapter.
type Config struct {
	Store      *memstore.Store
	Executions execstore.Store
	God        *god.Service
	Emitter    events.Emitter
	Collectors *metrics.Collectors
	Translate  TranslateConfig
}

// Adapter runs the single-pass decision pipeline: duplicate, stale,
// preconditions, apply, commit. No retries; callers resubmit with the same
// idempotency key and land on the duplicate path.
type Adapter struct {
	store      *memstore.Store
	executions execstore.Store
	god        *god.Service
	emitter    events.Emitter
	collectors *metrics.Collectors
	translate  TranslateConfig
}

// NewAdapter validates the wiring and builds an adapter.
func NewAdapter(cfg Config) (*Adapter, error) {
	if cfg.Store == nil || cfg.Executions == nil || cfg.God == nil {
		return nil, fmt.Errorf("execution: store, executions, and god service are required")
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.NopEmitter{}
	}
	if cfg.Translate.TownAliases == nil {
		cfg.Translate = DefaultTranslateConfig()
	}
	return &Adapter{
		store:      cfg.Store,
		executions: cfg.Executions,
		god:        cfg.God,
		emitter:    cfg.Emitter,
		collectors: cfg.Collectors,
		translate:  cfg.Translate,
	}, nil
}

// Execute runs one validated handoff through the pipeline and returns its
// terminal result. The returned error is reserved for store-level failures;
// every decision outcome is a result.
func (a *Adapter) Execute(h *Handoff) (*world.ExecutionResult, error) {
	if err := ValidateHandoff(h); err != nil {
		return nil, err
	}

	snap, err := a.store.GetSnapshot()
	if err != nil {
		return nil, err
	}
	projection := snap.Project()
	day := snap.World.Clock.Day

	// 1. Duplicate: a prior terminal receipt wins; do not consume.
	prior, err := a.executions.FindReceipt(h.HandoffID, h.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		res := a.baseResult(h, Translation{TownID: h.Proposal.TownID})
		res.Status = world.StatusDuplicate
		res.ReasonCode = world.ReasonDuplicateHandoff
		res.Evaluation.DuplicateCheck = world.DuplicateCheck{
			Evaluated: true, Duplicate: true, DuplicateOf: prior.ExecutionID,
		}
		res.WorldState = worldStateFrom(projection)
		return a.finish(res, KindDuplicateReplayed, day, execstore.RecordOptions{})
	}

	// 2. Stale: epoch first, then hash.
	if projection.DecisionEpoch != h.DecisionEpoch || projection.SnapshotHash != h.SnapshotHash {
		res := a.baseResult(h, Translation{TownID: h.Proposal.TownID})
		res.Status = world.StatusStale
		if projection.DecisionEpoch != h.DecisionEpoch {
			res.ReasonCode = world.ReasonStaleDecisionEpoch
		} else {
			res.ReasonCode = world.ReasonStaleSnapshotHash
		}
		res.Evaluation.DuplicateCheck = world.DuplicateCheck{Evaluated: true}
		res.Evaluation.StaleCheck = world.StaleCheck{
			Evaluated:           true,
			Passed:              false,
			ActualSnapshotHash:  projection.SnapshotHash,
			ActualDecisionEpoch: projection.DecisionEpoch,
		}
		res.WorldState = worldStateFrom(projection)
		return a.finish(res, KindStale, day, execstore.RecordOptions{PersistReceipt: true, ClearPending: true})
	}

	// 3. Preconditions via translation.
	translation := Translate(snap, h, a.translate)
	if len(translation.Failures) > 0 {
		res := a.baseResult(h, translation)
		res.Status = world.StatusRejected
		res.ReasonCode = world.ReasonPreconditionFailed
		res.Evaluation.DuplicateCheck = world.DuplicateCheck{Evaluated: true}
		res.Evaluation.StaleCheck = passedStaleCheck(projection)
		res.Evaluation.Preconditions = world.PreconditionCheck{
			Evaluated: true, Passed: false, Failures: translation.Failures,
		}
		res.WorldState = worldStateFrom(projection)
		return a.finish(res, KindRejected, day, execstore.RecordOptions{PersistReceipt: true, ClearPending: true})
	}

	// 4. Apply: stage the pending record, then run the commands in order.
	pending := &world.PendingRecord{
		HandoffID:             h.HandoffID,
		IdempotencyKey:        h.IdempotencyKey,
		ProposalID:            h.ProposalID,
		PreparedSnapshotHash:  h.SnapshotHash,
		PreparedEpoch:         h.DecisionEpoch,
		LastKnownSnapshotHash: projection.SnapshotHash,
		LastKnownEpoch:        projection.DecisionEpoch,
		TotalCommandCount:     len(translation.Commands),
	}
	if err := a.executions.StagePendingExecution(pending); err != nil {
		return nil, err
	}

	for k, command := range translation.Commands {
		resp, err := a.god.Apply(god.Request{
			Command:     command,
			OperationID: fmt.Sprintf("%s:step:%d", h.HandoffID, k),
		})
		if err != nil {
			return nil, err
		}
		if resp.Applied {
			if err := a.executions.MarkPendingExecutionProgress(h.HandoffID, k+1, command); err != nil {
				return nil, err
			}
			continue
		}

		code := classifyReason(resp.Reason)
		if code == world.ReasonDuplicateHandoff {
			// The engine already saw this step; report the handoff as a
			// replay against the current projection.
			current, err := a.currentProjection()
			if err != nil {
				return nil, err
			}
			res := a.baseResult(h, translation)
			res.Status = world.StatusDuplicate
			res.ReasonCode = world.ReasonDuplicateHandoff
			res.Evaluation.DuplicateCheck = world.DuplicateCheck{Evaluated: true, Duplicate: true}
			if prior, _ := a.executions.FindReceipt(h.HandoffID, h.IdempotencyKey); prior != nil {
				res.Evaluation.DuplicateCheck.DuplicateOf = prior.ExecutionID
			}
			res.Evaluation.StaleCheck = passedStaleCheck(projection)
			res.WorldState = worldStateFrom(current)
			return a.finish(res, KindDuplicateReplayed, day, execstore.RecordOptions{})
		}

		res := a.baseResult(h, translation)
		res.ReasonCode = code
		res.Evaluation.DuplicateCheck = world.DuplicateCheck{Evaluated: true}
		res.Evaluation.StaleCheck = passedStaleCheck(projection)
		res.Evaluation.Preconditions = world.PreconditionCheck{Evaluated: true, Passed: true, Failures: []world.PreconditionFailure{}}
		kind := KindRejected
		if k > 0 {
			// At least one authority command landed; the handoff was
			// accepted but did not finish.
			res.Status = world.StatusFailed
			res.Accepted = true
			kind = KindFailed
		} else {
			res.Status = world.StatusRejected
		}
		current, err := a.currentProjection()
		if err != nil {
			return nil, err
		}
		res.WorldState = worldStateFrom(current)
		return a.finish(res, kind, day, execstore.RecordOptions{PersistReceipt: true, ClearPending: true})
	}

	// 5. Commit.
	after, err := a.currentProjection()
	if err != nil {
		return nil, err
	}
	res := a.baseResult(h, translation)
	res.Status = world.StatusExecuted
	res.Accepted = true
	res.Executed = true
	res.ReasonCode = world.ReasonExecuted
	res.Evaluation.DuplicateCheck = world.DuplicateCheck{Evaluated: true}
	res.Evaluation.StaleCheck = passedStaleCheck(projection)
	res.Evaluation.Preconditions = world.PreconditionCheck{Evaluated: true, Passed: true, Failures: []world.PreconditionFailure{}}
	res.WorldState = worldStateFrom(after)
	return a.finish(res, KindExecuted, day, execstore.RecordOptions{PersistReceipt: true, ClearPending: true})
}

// finish seals the identity, persists receipt and ledger row, and emits the
// result event.
func (a *Adapter) finish(res *world.ExecutionResult, kind string, day int, opts execstore.RecordOptions) (*world.ExecutionResult, error) {
	SealResult(res)
	entry := execstore.LedgerEntryFor(res, kind, day)
	if prior := res.Evaluation.DuplicateCheck.DuplicateOf; prior != "" && kind == KindDuplicateReplayed {
		// The replay row belongs to the execution it replays, so history
		// joins see it next to the original receipt.
		entry.ExecutionID = prior
		entry.ID = prior + ":" + kind
	}
	if err := a.executions.RecordResult(res, entry, opts); err != nil {
		return nil, err
	}
	if a.collectors != nil {
		a.collectors.HandoffTotal.WithLabelValues(res.Status).Inc()
	}
	a.emitter.Emit(events.TypeHandoffResult, "execution-adapter", res.HandoffID, map[string]any{
		"status":     res.Status,
		"reasonCode": res.ReasonCode,
		"townId":     res.TownID,
	})
	if res.Status != world.StatusExecuted {
		slog.Info("handoff not executed",
			"handoff_id", res.HandoffID, "status", res.Status, "reason", res.ReasonCode)
	}
	return res, nil
}

func (a *Adapter) baseResult(h *Handoff, translation Translation) *world.ExecutionResult {
	commands := translation.Commands
	if commands == nil {
		commands = []string{}
	}
	return &world.ExecutionResult{
		Type:              world.ResultEnvelopeType,
		SchemaVersion:     1,
		HandoffID:         h.HandoffID,
		ProposalID:        h.ProposalID,
		IdempotencyKey:    h.IdempotencyKey,
		SnapshotHash:      h.SnapshotHash,
		DecisionEpoch:     h.DecisionEpoch,
		ActorID:           h.Proposal.ActorID,
		TownID:            translation.TownID,
		ProposalType:      h.Proposal.Type,
		Command:           h.Command,
		AuthorityCommands: commands,
		Evaluation: world.Evaluation{
			Preconditions: world.PreconditionCheck{Failures: []world.PreconditionFailure{}},
		},
	}
}

func (a *Adapter) currentProjection() (world.Projection, error) {
	snap, err := a.store.GetSnapshot()
	if err != nil {
		return world.Projection{}, err
	}
	return snap.Project(), nil
}

func passedStaleCheck(p world.Projection) world.StaleCheck {
	return world.StaleCheck{
		Evaluated:           true,
		Passed:              true,
		ActualSnapshotHash:  p.SnapshotHash,
		ActualDecisionEpoch: p.DecisionEpoch,
	}
}

func worldStateFrom(p world.Projection) world.ResultWorldState {
	return world.ResultWorldState{
		PostExecutionSnapshotHash:  p.SnapshotHash,
		PostExecutionDecisionEpoch: p.DecisionEpoch,
	}
}
