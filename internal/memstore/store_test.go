package memstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/metrics"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/world"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.json")
	s, err := New(Options{Path: path, Runtime: metrics.NewRuntime()})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestTransactPersistsAndReloads(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Transact(func(snap *world.Snapshot) (any, error) {
		snap.World.Player.Name = "aldric"
		snap.World.Player.Legitimacy = 72
		return nil, nil
	}, TxOptions{EventID: "op-setup"})
	require.NoError(t, err)

	// A second store over the same file sees the committed state.
	other, err := New(Options{Path: s.path, Runtime: metrics.NewRuntime()})
	require.NoError(t, err)
	defer other.Close()
	snap, err := other.GetSnapshot()
	require.NoError(t, err)
	assert.Equal(t, "aldric", snap.World.Player.Name)
	assert.Equal(t, 72, snap.World.Player.Legitimacy)
	assert.True(t, snap.World.HasProcessedEvent("op-setup"))
}

func TestTransactEventIDIdempotency(t *testing.T) {
	s := newTestStore(t)
	calls := 0
	mutator := func(snap *world.Snapshot) (any, error) {
		calls++
		snap.World.Player.Legitimacy--
		return "ran", nil
	}

	first, err := s.Transact(mutator, TxOptions{EventID: "op1"})
	require.NoError(t, err)
	assert.False(t, first.Skipped)
	assert.Equal(t, "ran", first.Result)

	second, err := s.Transact(mutator, TxOptions{EventID: "op1"})
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Nil(t, second.Result)
	assert.Equal(t, 1, calls)

	snap, _ := s.GetSnapshot()
	assert.Equal(t, 49, snap.World.Player.Legitimacy)
	assert.Equal(t, uint64(1), s.runtime.Snapshot().TxSkipped)
}

func TestTransactIntegrityAfterCommit(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		_, err := s.Transact(func(snap *world.Snapshot) (any, error) {
			snap.World.Economy.Ledger["mara"] += 3
			return nil, nil
		}, TxOptions{})
		require.NoError(t, err)
	}
	snap, err := s.GetSnapshot()
	require.NoError(t, err)
	report := world.ValidateIntegrity(snap)
	assert.True(t, report.OK, "issues: %v", report.Issues)
}

func TestSimulatedCrashLeavesPriorSnapshot(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Transact(func(snap *world.Snapshot) (any, error) {
		snap.World.Player.Name = "before-crash"
		return nil, nil
	}, TxOptions{})
	require.NoError(t, err)

	s.SetCrashHook(func() error { return errors.New("power loss") })
	_, err = s.Transact(func(snap *world.Snapshot) (any, error) {
		snap.World.Player.Name = "should-not-survive"
		return nil, nil
	}, TxOptions{EventID: "doomed"})
	require.Error(t, err)
	s.SetCrashHook(nil)

	reopened, err := New(Options{Path: s.path, Runtime: metrics.NewRuntime()})
	require.NoError(t, err)
	defer reopened.Close()
	snap, err := reopened.GetSnapshot()
	require.NoError(t, err)
	assert.Equal(t, "before-crash", snap.World.Player.Name)
	assert.False(t, snap.World.HasProcessedEvent("doomed"))
}

func TestMalformedSnapshotResetsToFreshShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte("{ not json"), 0o644))

	s, err := New(Options{Path: path, Runtime: metrics.NewRuntime()})
	require.NoError(t, err)
	defer s.Close()

	snap, err := s.GetSnapshot()
	require.NoError(t, err)
	assert.True(t, world.ValidateIntegrity(snap).OK)
	assert.Equal(t, 1, snap.World.Clock.Day)
}

func TestLockContentionExhaustsAndCounts(t *testing.T) {
	s := newTestStore(t)
	lockPath := s.path + ".lock"
	require.NoError(t, os.WriteFile(lockPath, []byte("held\n"), 0o644))
	defer os.Remove(lockPath)

	_, err := s.Transact(func(*world.Snapshot) (any, error) { return nil, nil }, TxOptions{})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, ErrLockTimeout)

	rt := s.runtime.Snapshot()
	assert.Equal(t, uint64(1), rt.LockTimeouts)
	assert.Equal(t, uint64(4), rt.LockRetries)
}

func TestMutatorErrorAbortsWithoutPersist(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Transact(func(snap *world.Snapshot) (any, error) {
		snap.World.Player.Alive = false
		return nil, errors.New("validation failed")
	}, TxOptions{EventID: "bad-op"})
	require.Error(t, err)

	snap, _ := s.GetSnapshot()
	assert.True(t, snap.World.Player.Alive)
	assert.False(t, snap.World.HasProcessedEvent("bad-op"))
}

func TestDecisionEpochAdvancesPerPersist(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		_, err := s.Transact(func(*world.Snapshot) (any, error) { return nil, nil }, TxOptions{})
		require.NoError(t, err)
	}
	snap, _ := s.GetSnapshot()
	assert.Equal(t, int64(3), snap.World.DecisionEpoch)

	_, err := s.Transact(func(*world.Snapshot) (any, error) { return nil, nil }, TxOptions{SkipPersist: true})
	require.NoError(t, err)
	snap, _ = s.GetSnapshot()
	assert.Equal(t, int64(3), snap.World.DecisionEpoch)
}

func TestRememberAgentIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RememberAgent("mara", "hello", false, "op1"))
	require.NoError(t, s.RememberAgent("mara", "hello", false, "op1"))

	snap, err := s.GetSnapshot()
	require.NoError(t, err)
	require.NotNil(t, snap.Agents["mara"])
	assert.Len(t, snap.Agents["mara"].Archive, 1)
	assert.Len(t, snap.Agents["mara"].Short, 1)
	assert.Empty(t, snap.Agents["mara"].Long)

	count := 0
	for _, id := range snap.World.ProcessedEventIDs {
		if id == "op1:agent:mara" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestRememberImportantGoesLong(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RememberAgent("tobin", "the gate fell", true, "op2"))

	short, long, err := s.RecallAgent("tobin")
	require.NoError(t, err)
	require.Len(t, short, 1)
	require.Len(t, long, 1)
	assert.True(t, long[0].Important)
}

func TestShortMemoryRingCap(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < world.ShortMemoryCap+5; i++ {
		require.NoError(t, s.RememberAgent("mara", "line", false, flowOpID(i)))
	}
	short, _, err := s.RecallAgent("mara")
	require.NoError(t, err)
	assert.Len(t, short, world.ShortMemoryCap)
}

func flowOpID(i int) string {
	return "op-" + string(rune('a'+i%26)) + "-" + string(rune('0'+i/26))
}

func TestRememberFactionAndWorld(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RememberFaction("iron_pact", "pact marches", true, "op3"))
	require.NoError(t, s.RememberWorld("war drums in the east", false, "op3"))

	factionMem, err := s.RecallFaction("iron_pact")
	require.NoError(t, err)
	require.Len(t, factionMem, 1)

	archive, err := s.RecallWorld()
	require.NoError(t, err)
	require.Len(t, archive, 1)
	assert.Equal(t, "war drums in the east", archive[0].Event)
}
