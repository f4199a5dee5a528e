package turns

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/actions"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/memstore"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/metrics"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/turnguard"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/world"
)

func newEngine(t *testing.T) (*Engine, *memstore.Store) {
	t.Helper()
	store, err := memstore.New(memstore.Options{
		Path:    filepath.Join(t.TempDir(), "snapshot.json"),
		Runtime: metrics.NewRuntime(),
	})
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return NewEngine(store, actions.NewEngine(store), nil), store
}

var mara = actions.AgentRef{Name: "mara", Faction: world.FactionIronPact}

func TestRecordIncomingWritesThreeScopes(t *testing.T) {
	engine, store := newEngine(t)
	require.NoError(t, engine.RecordIncoming(mara, "Aldric", "open the gate", "op1"))

	snap, _ := store.GetSnapshot()
	require.NotNil(t, snap.Agents["mara"])
	require.Len(t, snap.Agents["mara"].Short, 1)
	assert.Contains(t, snap.Agents["mara"].Short[0].Text, "open the gate")
	require.NotNil(t, snap.Factions[world.FactionIronPact])
	assert.Len(t, snap.Factions[world.FactionIronPact].Long, 1)
	assert.Len(t, snap.World.Archive, 1)

	// Replaying the same operation adds nothing.
	require.NoError(t, engine.RecordIncoming(mara, "Aldric", "open the gate", "op1"))
	snap, _ = store.GetSnapshot()
	assert.Len(t, snap.Agents["mara"].Short, 1)
}

func TestApplyTurnFullPath(t *testing.T) {
	engine, store := newEngine(t)
	raw := turnguard.Turn{
		Say:        "I will speak to the council.",
		Tone:       "wary",
		TrustDelta: 1,
		MemoryWrites: []turnguard.MemoryWrite{
			{Scope: "agent", Text: "the player asked for help", Importance: 8},
			{Scope: "faction", Text: "outsiders at the gate", Importance: 3},
		},
		ProposedActions: []turnguard.ProposedAction{
			{Type: turnguard.ActionCallMeeting, Confidence: 0.6, Reason: "tensions rising"},
		},
	}

	res, err := engine.ApplyTurn(mara, raw, turnguard.Turn{Say: "..."}, "op2")
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.True(t, res.PlayerAlive)
	require.Len(t, res.Outcomes, 1)
	assert.True(t, res.Outcomes[0].Accepted)

	snap, _ := store.GetSnapshot()
	profile := snap.Agents["mara"].Profile
	assert.Equal(t, 6, profile.Trust)
	assert.Equal(t, "wary", profile.Mood)
	assert.Len(t, snap.Agents["mara"].Long, 1, "importance 8 goes to long memory")
	assert.Equal(t, 58, snap.World.Factions[world.FactionIronPact].Stability)

	// The faction remembers the meeting and the memory write.
	factionMem := snap.Factions[world.FactionIronPact].Long
	require.Len(t, factionMem, 2)

	assert.True(t, snap.World.HasProcessedEvent("op2:turn_applied"))
	assert.True(t, world.ValidateIntegrity(snap).OK)
}

func TestApplyTurnIdempotent(t *testing.T) {
	engine, store := newEngine(t)
	raw := turnguard.Turn{
		Say:             "again",
		Tone:            "calm",
		TrustDelta:      1,
		ProposedActions: []turnguard.ProposedAction{{Type: turnguard.ActionRecruit}},
	}
	fallback := turnguard.Turn{Say: "fallback"}

	first, err := engine.ApplyTurn(mara, raw, fallback, "op3")
	require.NoError(t, err)
	require.False(t, first.Skipped)

	before, _ := store.GetSnapshot()

	second, err := engine.ApplyTurn(mara, raw, fallback, "op3")
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, "fallback", second.Turn.Say)
	assert.Empty(t, second.Outcomes)

	after, _ := store.GetSnapshot()
	assert.Equal(t, before.Agents["mara"].Profile.Trust, after.Agents["mara"].Profile.Trust)
	assert.Equal(t, before.World.Factions[world.FactionIronPact].Stability,
		after.World.Factions[world.FactionIronPact].Stability)
}

func TestApplyTurnTrustClamped(t *testing.T) {
	engine, store := newEngine(t)
	for i := 0; i < 5; i++ {
		raw := turnguard.Turn{Say: "praise", Tone: "joyful", TrustDelta: 2}
		_, err := engine.ApplyTurn(mara, raw, turnguard.Turn{}, opID("trust", i))
		require.NoError(t, err)
	}
	snap, _ := store.GetSnapshot()
	assert.Equal(t, 10, snap.Agents["mara"].Profile.Trust)
}

func opID(prefix string, i int) string {
	return prefix + "-" + string(rune('a'+i))
}
