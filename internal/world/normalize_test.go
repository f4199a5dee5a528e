package world

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepMapDropsNonIntegerEntries(t *testing.T) {
	var rep RepMap
	err := json.Unmarshal([]byte(`{"iron_pact": 3, "veil_church": 2.5, "wolves": -1}`), &rep)
	require.NoError(t, err)

	assert.Equal(t, RepMap{"iron_pact": 3, "wolves": -1}, rep)
}

func TestBalanceMapDropsMalformedEntries(t *testing.T) {
	var ledger BalanceMap
	err := json.Unmarshal([]byte(`{"mara": 40, "tobin": -3, "petro": 1.5, "sel": 0}`), &ledger)
	require.NoError(t, err)

	assert.Equal(t, BalanceMap{"mara": 40, "sel": 0}, ledger)
}

func TestNormalizeRepairsClockAndFactions(t *testing.T) {
	s := &Snapshot{World: &WorldState{
		Clock: Clock{Day: -4, Phase: "eclipse", Season: "monsoon", UpdatedAt: "not-a-time"},
	}}
	s.Normalize()

	assert.Equal(t, 1, s.World.Clock.Day)
	assert.Equal(t, PhaseDay, s.World.Clock.Phase)
	assert.Equal(t, SeasonDawn, s.World.Clock.Season)
	assert.NotNil(t, s.World.Factions[FactionIronPact])
	assert.NotNil(t, s.World.Factions[FactionVeilChurch])
	assert.True(t, ValidateIntegrity(s).OK)
}

func TestNormalizeDropsMalformedOffersAndFeeds(t *testing.T) {
	s := NewSnapshot()
	s.World.Markets = []Market{{ID: "m1", Town: "hollow", Offers: []Offer{
		{ID: "o1", Item: "bread", Amount: 0, Price: 3, Active: true},
		{ID: "o2", Item: "iron", Amount: 2, Price: 5, Active: true},
	}}}
	s.World.News = []NewsItem{{ID: "", Message: "orphaned"}, {ID: "n1", Message: "war drums"}}
	s.World.Chronicle = []ChronicleEntry{{ID: "c1", Message: ""}, {ID: "c2", Message: "the gate fell"}}
	s.Normalize()

	require.Len(t, s.World.Markets[0].Offers, 1)
	assert.Equal(t, "o2", s.World.Markets[0].Offers[0].ID)
	require.Len(t, s.World.News, 1)
	require.Len(t, s.World.Chronicle, 1)
	assert.Equal(t, "c2", s.World.Chronicle[0].ID)
}

func TestNormalizeDedupesProcessedEventIDs(t *testing.T) {
	s := NewSnapshot()
	s.World.ProcessedEventIDs = []string{"a", "", "b", "a"}
	s.Normalize()

	assert.Equal(t, []string{"a", "b"}, s.World.ProcessedEventIDs)
}

func TestAppendRingShrinksFromFront(t *testing.T) {
	ring := []string{}
	for i := 0; i < 7; i++ {
		ring = AppendRing(ring, string(rune('a'+i)), 5)
	}
	assert.Equal(t, []string{"c", "d", "e", "f", "g"}, ring)
}

func TestCloneIsDeepAndEquivalent(t *testing.T) {
	s := NewSnapshot()
	s.Agents["mara"] = NewAgentRecord()
	s.Agents["mara"].Profile.Trust = 8
	s.World.Economy.Ledger["mara"] = 12

	clone, err := s.Clone()
	require.NoError(t, err)

	clone.Agents["mara"].Profile.Trust = 1
	clone.World.Economy.Ledger["mara"] = 99
	assert.Equal(t, 8, s.Agents["mara"].Profile.Trust)
	assert.Equal(t, uint64(12), s.World.Economy.Ledger["mara"])
}

func TestProjectionStableUnderEpochAndClockDrift(t *testing.T) {
	s := NewSnapshot()
	p1 := s.Project()

	s.World.DecisionEpoch = 7
	s.World.Clock.UpdatedAt = "2026-03-04T05:06:07Z"
	p2 := s.Project()

	assert.Equal(t, p1.SnapshotHash, p2.SnapshotHash)
	assert.Equal(t, int64(7), p2.DecisionEpoch)

	s.World.Player.Legitimacy = 10
	p3 := s.Project()
	assert.NotEqual(t, p1.SnapshotHash, p3.SnapshotHash)
}

func TestArchiveTimeIsDeterministic(t *testing.T) {
	a := ArchiveTime(3, 40, "op9", "mara", "RUMOR", 0)
	b := ArchiveTime(3, 40, "op9", "mara", "RUMOR", 0)
	c := ArchiveTime(3, 40, "op9", "mara", "RUMOR", 1)

	assert.Equal(t, a, b)
	assert.Equal(t, a.Add(1e6), c)
	assert.Equal(t, 2026, a.Year())
}
