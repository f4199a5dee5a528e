package execution

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/execstore"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/god"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/memstore"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/metrics"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/world"
)

type fixture struct {
	store      *memstore.Store
	executions execstore.Store
	adapter    *Adapter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := memstore.New(memstore.Options{
		Path:    filepath.Join(t.TempDir(), "snapshot.json"),
		Runtime: metrics.NewRuntime(),
	})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	executions := execstore.NewMemoryStore(store)
	adapter, err := NewAdapter(Config{
		Store:      store,
		Executions: executions,
		God:        god.NewService(store, nil, god.Config{}),
	})
	require.NoError(t, err)
	return &fixture{store: store, executions: executions, adapter: adapter}
}

// freshHandoff builds a handoff carrying the store's current projection.
func (f *fixture) freshHandoff(t *testing.T, n int, proposalType string, args map[string]any) *Handoff {
	t.Helper()
	snap, err := f.store.GetSnapshot()
	require.NoError(t, err)
	p := snap.Project()

	h := validTestHandoff(n)
	h.SnapshotHash = p.SnapshotHash
	h.DecisionEpoch = p.DecisionEpoch
	h.ExecutionRequirements.ExpectedSnapshotHash = p.SnapshotHash
	h.ExecutionRequirements.ExpectedDecisionEpoch = p.DecisionEpoch
	h.Proposal.Type = proposalType
	h.Proposal.Args = args
	return h
}

func TestExecuteMayorMissionHappyPath(t *testing.T) {
	f := newFixture(t)
	h := f.freshHandoff(t, 10, ProposalMayorAcceptMission, map[string]any{"missionId": "m-1"})

	res, err := f.adapter.Execute(h)
	require.NoError(t, err)
	assert.Equal(t, world.StatusExecuted, res.Status)
	assert.True(t, res.Accepted)
	assert.True(t, res.Executed)
	assert.Equal(t, world.ReasonExecuted, res.ReasonCode)
	assert.Equal(t, []string{"mayor talk hollow", "mayor accept hollow"}, res.AuthorityCommands)
	assert.True(t, IsValidExecutionResult(res))
	assert.NoError(t, world.CheckResultInvariants(res))
	assert.Greater(t, res.WorldState.PostExecutionDecisionEpoch, h.DecisionEpoch)

	snap, _ := f.store.GetSnapshot()
	assert.True(t, snap.World.Towns["hollow"].Mayor.MissionActive)

	pendings, err := f.executions.ListPendingExecutions()
	require.NoError(t, err)
	assert.Empty(t, pendings, "pending cleared on terminal receipt")

	receipt, err := f.executions.FindReceipt(h.HandoffID, "")
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, res.ExecutionID, receipt.ExecutionID)
}

func TestExecuteStaleDecisionEpoch(t *testing.T) {
	f := newFixture(t)
	h := f.freshHandoff(t, 11, ProposalMayorAcceptMission, map[string]any{"missionId": "m-1"})

	// Another transaction advances the epoch after the handoff was planned.
	_, err := f.store.Transact(func(*world.Snapshot) (any, error) { return nil, nil }, memstore.TxOptions{})
	require.NoError(t, err)

	res, err := f.adapter.Execute(h)
	require.NoError(t, err)
	assert.Equal(t, world.StatusStale, res.Status)
	assert.Equal(t, world.ReasonStaleDecisionEpoch, res.ReasonCode)
	assert.False(t, res.Accepted)
	assert.False(t, res.Executed)
	assert.False(t, res.Evaluation.StaleCheck.Passed)
	assert.Equal(t, h.DecisionEpoch+1, res.Evaluation.StaleCheck.ActualDecisionEpoch)
	assert.NotEmpty(t, res.WorldState.PostExecutionSnapshotHash)

	snap, _ := f.store.GetSnapshot()
	assert.False(t, snap.World.Towns["hollow"].Mayor.MissionActive, "no authority command executed")
}

func TestExecuteStaleSnapshotHash(t *testing.T) {
	f := newFixture(t)
	h := f.freshHandoff(t, 12, ProposalTownsfolkTalk, map[string]any{"talkType": "casual"})
	h.SnapshotHash = hex64(99)
	h.ExecutionRequirements.ExpectedSnapshotHash = h.SnapshotHash

	res, err := f.adapter.Execute(h)
	require.NoError(t, err)
	assert.Equal(t, world.StatusStale, res.Status)
	assert.Equal(t, world.ReasonStaleSnapshotHash, res.ReasonCode)
}

func TestExecutePreconditionFailure(t *testing.T) {
	f := newFixture(t)
	h := f.freshHandoff(t, 13, ProposalProjectAdvance, map[string]any{"projectId": "proj-x"})

	res, err := f.adapter.Execute(h)
	require.NoError(t, err)
	assert.Equal(t, world.StatusRejected, res.Status)
	assert.Equal(t, world.ReasonPreconditionFailed, res.ReasonCode)
	require.Len(t, res.Evaluation.Preconditions.Failures, 1)
	assert.Equal(t, "project_exists", res.Evaluation.Preconditions.Failures[0].Kind)
	assert.Equal(t, "Unknown project: proj-x", res.Evaluation.Preconditions.Failures[0].Detail)
	assert.True(t, res.Evaluation.StaleCheck.Passed)
}

func TestExecuteDuplicateHandoff(t *testing.T) {
	f := newFixture(t)
	h := f.freshHandoff(t, 14, ProposalMayorAcceptMission, map[string]any{"missionId": "m-1"})

	first, err := f.adapter.Execute(h)
	require.NoError(t, err)
	require.Equal(t, world.StatusExecuted, first.Status)

	second, err := f.adapter.Execute(h)
	require.NoError(t, err)
	assert.Equal(t, world.StatusDuplicate, second.Status)
	assert.Equal(t, world.ReasonDuplicateHandoff, second.ReasonCode)
	assert.True(t, second.Evaluation.DuplicateCheck.Evaluated)
	assert.True(t, second.Evaluation.DuplicateCheck.Duplicate)
	assert.Equal(t, first.ExecutionID, second.Evaluation.DuplicateCheck.DuplicateOf)
	assert.False(t, second.Accepted)
	assert.False(t, second.Executed)

	// The first receipt is still the only terminal one.
	receipt, err := f.executions.FindReceipt(h.HandoffID, "")
	require.NoError(t, err)
	assert.Equal(t, first.ExecutionID, receipt.ExecutionID)

	// The ledger grew by exactly one duplicate_replayed row.
	records, err := f.executions.ListHistoryRecords(execstore.HistoryQuery{})
	require.NoError(t, err)
	kinds := map[string]int{}
	for _, r := range records {
		kinds[r.Kind]++
	}
	assert.Equal(t, 1, kinds[KindExecuted])
	assert.Equal(t, 1, kinds[KindDuplicateReplayed])
}

func TestExecuteRejectedAtFirstStep(t *testing.T) {
	f := newFixture(t)
	// Cooldown blocks "mayor talk" but is invisible to translation.
	_, err := f.store.Transact(func(snap *world.Snapshot) (any, error) {
		snap.World.Towns["hollow"].Mayor.CooldownUntilDay = 5
		return nil, nil
	}, memstore.TxOptions{})
	require.NoError(t, err)

	h := f.freshHandoff(t, 15, ProposalMayorAcceptMission, map[string]any{"missionId": "m-1"})
	res, err := f.adapter.Execute(h)
	require.NoError(t, err)
	assert.Equal(t, world.StatusRejected, res.Status)
	assert.Equal(t, world.ReasonMayorCooldownActive, res.ReasonCode)
	assert.False(t, res.Accepted)
}

func TestExecuteSalvagePlan(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Transact(func(snap *world.Snapshot) (any, error) {
		snap.World.Threat.ByTown["ember"] = 50
		return nil, nil
	}, memstore.TxOptions{})
	require.NoError(t, err)

	h := f.freshHandoff(t, 16, ProposalSalvagePlan, map[string]any{"focus": "scarcity"})
	h.Proposal.TownID = "emberfall" // alias resolves to ember

	res, err := f.adapter.Execute(h)
	require.NoError(t, err)
	assert.Equal(t, world.StatusExecuted, res.Status)
	assert.Equal(t, "ember", res.TownID)

	snap, _ := f.store.GetSnapshot()
	assert.Equal(t, 40, snap.World.Threat.ByTown["ember"])
}

func TestExecuteInvalidHandoffIsRecoverable(t *testing.T) {
	f := newFixture(t)
	h := validTestHandoff(17)
	h.Advisory = false
	_, err := f.adapter.Execute(h)
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRecoverPendingClearsOrphans(t *testing.T) {
	f := newFixture(t)
	orphan := &world.PendingRecord{
		HandoffID:         "handoff_" + hex64(30),
		IdempotencyKey:    "proposal_" + hex64(30),
		ProposalID:        "proposal_" + hex64(30),
		TotalCommandCount: 2,
	}
	require.NoError(t, f.executions.StagePendingExecution(orphan))

	recovered, err := f.adapter.RecoverPending()
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	pendings, err := f.executions.ListPendingExecutions()
	require.NoError(t, err)
	assert.Empty(t, pendings)
}

func TestAtMostOneTerminalReceiptPerIdentity(t *testing.T) {
	f := newFixture(t)
	h := f.freshHandoff(t, 31, ProposalTownsfolkTalk, map[string]any{"talkType": "casual"})

	_, err := f.adapter.Execute(h)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		res, err := f.adapter.Execute(h)
		require.NoError(t, err)
		assert.Equal(t, world.StatusDuplicate, res.Status)
	}

	snap, _ := f.store.GetSnapshot()
	terminal := 0
	for _, rec := range snap.World.Execution.History {
		if rec.HandoffID == h.HandoffID {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)
	assert.True(t, world.ValidateIntegrity(snap).OK)
}
