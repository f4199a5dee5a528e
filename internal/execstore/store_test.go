package execstore

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/memstore"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/metrics"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/world"
)

// both backends must behave identically; every test below runs against each.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	mem, err := memstore.New(memstore.Options{
		Path:    filepath.Join(dir, "snapshot.json"),
		Runtime: metrics.NewRuntime(),
	})
	require.NoError(t, err)
	t.Cleanup(mem.Close)

	sqlStore, err := OpenSQLStore(filepath.Join(dir, "execution.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(mem),
		"sqlite": sqlStore,
	}
}

func testResult(n int, status string) *world.ExecutionResult {
	hex := fmt.Sprintf("%064d", n)
	return &world.ExecutionResult{
		Type:              world.ResultEnvelopeType,
		SchemaVersion:     1,
		ExecutionID:       "result_" + hex,
		ResultID:          "result_" + hex,
		HandoffID:         "handoff_" + hex,
		ProposalID:        "proposal_" + hex,
		IdempotencyKey:    "proposal_" + hex,
		SnapshotHash:      hex,
		ActorID:           "npc-mayor",
		TownID:            "hollow",
		ProposalType:      "MAYOR_ACCEPT_MISSION",
		Command:           "accept the mission",
		AuthorityCommands: []string{"mayor talk hollow", "mayor accept hollow"},
		Status:            status,
		Accepted:          status == world.StatusExecuted,
		Executed:          status == world.StatusExecuted,
		ReasonCode:        world.ReasonExecuted,
	}
}

func testPending(n int) *world.PendingRecord {
	hex := fmt.Sprintf("%064d", n)
	return &world.PendingRecord{
		HandoffID:            "handoff_" + hex,
		IdempotencyKey:       "proposal_" + hex,
		ProposalID:           "proposal_" + hex,
		PreparedSnapshotHash: hex,
		TotalCommandCount:    2,
	}
}

func TestRecordResultAndFindReceipt(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			res := testResult(1, world.StatusExecuted)
			entry := LedgerEntryFor(res, "executed", 1)
			require.NoError(t, store.RecordResult(res, entry, RecordOptions{PersistReceipt: true, ClearPending: true}))

			byHandoff, err := store.FindReceipt(res.HandoffID, "")
			require.NoError(t, err)
			require.NotNil(t, byHandoff)
			assert.Equal(t, res.ExecutionID, byHandoff.ExecutionID)

			byKey, err := store.FindReceipt("", res.IdempotencyKey)
			require.NoError(t, err)
			require.NotNil(t, byKey)

			missing, err := store.FindReceipt("handoff_none", "proposal_none")
			require.NoError(t, err)
			assert.Nil(t, missing)
		})
	}
}

func TestPendingLifecycle(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			rec := testPending(2)
			require.NoError(t, store.StagePendingExecution(rec))

			found, err := store.FindPendingExecution(rec.HandoffID, "")
			require.NoError(t, err)
			require.NotNil(t, found)
			assert.Equal(t, 2, found.TotalCommandCount)

			require.NoError(t, store.MarkPendingExecutionProgress(rec.HandoffID, 1, "mayor talk hollow"))
			found, err = store.FindPendingExecution(rec.HandoffID, "")
			require.NoError(t, err)
			assert.Equal(t, 1, found.CompletedCommandCount)
			assert.Equal(t, "mayor talk hollow", found.LastAppliedCommand)

			require.NoError(t, store.ClearPendingExecution(rec.HandoffID, rec.IdempotencyKey))
			found, err = store.FindPendingExecution(rec.HandoffID, "")
			require.NoError(t, err)
			assert.Nil(t, found)
		})
	}
}

func TestRecordResultClearsMatchingPending(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.StagePendingExecution(testPending(3)))
			res := testResult(3, world.StatusExecuted)
			entry := LedgerEntryFor(res, "executed", 1)
			require.NoError(t, store.RecordResult(res, entry, RecordOptions{PersistReceipt: true, ClearPending: true}))

			pendings, err := store.ListPendingExecutions()
			require.NoError(t, err)
			assert.Empty(t, pendings)
		})
	}
}

func TestRecordResultKeepPendingWhenAsked(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.StagePendingExecution(testPending(4)))
			res := testResult(4, world.StatusExecuted)
			entry := LedgerEntryFor(res, "executed", 1)
			require.NoError(t, store.RecordResult(res, entry, RecordOptions{PersistReceipt: true, ClearPending: false}))

			pendings, err := store.ListPendingExecutions()
			require.NoError(t, err)
			assert.Len(t, pendings, 1)
		})
	}
}

func TestLedgerReplaceOnSameIDKind(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			res := testResult(5, world.StatusExecuted)
			first := LedgerEntryFor(res, "executed", 1)
			require.NoError(t, store.RecordResult(res, first, RecordOptions{PersistReceipt: true, ClearPending: true}))

			second := LedgerEntryFor(res, "executed", 2)
			require.NoError(t, store.RecordResult(res, second, RecordOptions{PersistReceipt: false, ClearPending: true}))

			records, err := store.ListHistoryRecords(HistoryQuery{})
			require.NoError(t, err)
			require.Len(t, records, 1, "replaced row must not duplicate")
		})
	}
}

func TestDuplicateReplayAddsLedgerRowWithoutReceipt(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			res := testResult(6, world.StatusExecuted)
			require.NoError(t, store.RecordResult(res, LedgerEntryFor(res, "executed", 1),
				RecordOptions{PersistReceipt: true, ClearPending: true}))

			dup := testResult(6, world.StatusDuplicate)
			dup.Status = world.StatusDuplicate
			dup.Accepted = false
			dup.Executed = false
			dup.ReasonCode = world.ReasonDuplicateHandoff
			require.NoError(t, store.RecordResult(dup, LedgerEntryFor(dup, "duplicate_replayed", 1),
				RecordOptions{PersistReceipt: false, ClearPending: false}))

			// Still exactly one terminal receipt.
			receipt, err := store.FindReceipt(res.HandoffID, "")
			require.NoError(t, err)
			assert.Equal(t, world.StatusExecuted, receipt.Status)

			records, err := store.ListHistoryRecords(HistoryQuery{})
			require.NoError(t, err)
			assert.Len(t, records, 2, "executed + duplicate_replayed ledger rows")
		})
	}
}

func TestChronicleProjection(t *testing.T) {
	dir := t.TempDir()
	mem, err := memstore.New(memstore.Options{
		Path:    filepath.Join(dir, "snapshot.json"),
		Runtime: metrics.NewRuntime(),
	})
	require.NoError(t, err)
	defer mem.Close()

	_, err = mem.Transact(func(snap *world.Snapshot) (any, error) {
		snap.World.Chronicle = []world.ChronicleEntry{
			{ID: "c1", At: "2026-01-02T00:00:00Z", EntryType: "mission", TownID: "hollow", Message: "mission taken"},
			{ID: "c2", At: "2026-01-03T00:00:00Z", EntryType: "salvage", TownID: "ember", Message: "sweep done"},
			{ID: "c3", At: "2026-01-04T00:00:00Z", EntryType: "project", TownID: "hollow", Message: "palisade raised"},
		}
		return nil, nil
	}, memstore.TxOptions{})
	require.NoError(t, err)

	snap, err := mem.GetSnapshot()
	require.NoError(t, err)

	sqlStore, err := OpenSQLStore(filepath.Join(dir, "execution.db"))
	require.NoError(t, err)
	defer sqlStore.Close()
	require.NoError(t, sqlStore.SyncWorldMemoryFromSnapshot(snap))

	for name, store := range map[string]Store{"memory": NewMemoryStore(mem), "sqlite": sqlStore} {
		t.Run(name, func(t *testing.T) {
			records, err := store.ListChronicleRecords(ChronicleQuery{TownID: "hollow", Limit: 5})
			require.NoError(t, err)
			require.Len(t, records, 2)
			assert.Equal(t, "c3", records[0].SourceID, "newest first")
			assert.Equal(t, "c1", records[1].SourceID)

			limited, err := store.ListChronicleRecords(ChronicleQuery{Limit: 2})
			require.NoError(t, err)
			assert.Len(t, limited, 2)
		})
	}
}

func TestHistoryProjectionFiltersByTown(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			a := testResult(7, world.StatusExecuted)
			b := testResult(8, world.StatusExecuted)
			b.TownID = "ember"
			require.NoError(t, store.RecordResult(a, LedgerEntryFor(a, "executed", 1), RecordOptions{PersistReceipt: true, ClearPending: true}))
			require.NoError(t, store.RecordResult(b, LedgerEntryFor(b, "executed", 1), RecordOptions{PersistReceipt: true, ClearPending: true}))

			records, err := store.ListHistoryRecords(HistoryQuery{TownID: "ember"})
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, b.ExecutionID, records[0].ExecutionID)
		})
	}
}
