package world

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// RepMap is a faction-reputation map. Non-integer values are silently dropped
// when a snapshot is decoded.
type RepMap map[string]int

// UnmarshalJSON drops entries whose value is not an integer.
func (r *RepMap) UnmarshalJSON(data []byte) error {
	raw := map[string]float64{}
	if err := json.Unmarshal(data, &raw); err != nil {
		// A malformed rep document degrades to empty, not to a load failure.
		*r = RepMap{}
		return nil
	}
	out := RepMap{}
	for k, v := range raw {
		if v != math.Trunc(v) || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[k] = int(v)
	}
	*r = out
	return nil
}

// BalanceMap is the economy ledger. Entries must be finite non-negative
// numbers; anything else is dropped when a snapshot is decoded.
type BalanceMap map[string]uint64

// UnmarshalJSON drops malformed balances.
func (b *BalanceMap) UnmarshalJSON(data []byte) error {
	raw := map[string]json.Number{}
	if err := json.Unmarshal(data, &raw); err != nil {
		*b = BalanceMap{}
		return nil
	}
	out := BalanceMap{}
	for k, n := range raw {
		f, err := n.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f != math.Trunc(f) {
			continue
		}
		out[k] = uint64(f)
	}
	*b = out
	return nil
}

// Normalize repairs a decoded snapshot in place: nil maps are materialized,
// numeric fields clamped, story factions guaranteed, the clock bounded, and
// malformed chronicle/news/quest entries dropped.
func (s *Snapshot) Normalize() {
	if s.Agents == nil {
		s.Agents = map[string]*AgentRecord{}
	}
	if s.Factions == nil {
		s.Factions = map[string]*FactionRecord{}
	}
	if s.World == nil {
		s.World = NewSnapshot().World
	}
	for name, a := range s.Agents {
		if a == nil {
			s.Agents[name] = NewAgentRecord()
			continue
		}
		a.normalize()
	}
	for name, f := range s.Factions {
		if f == nil {
			s.Factions[name] = NewFactionRecord()
		}
	}
	s.World.normalize()
}

func (a *AgentRecord) normalize() {
	if a.Short == nil {
		a.Short = []MemoryEntry{}
	}
	if a.Long == nil {
		a.Long = []MemoryEntry{}
	}
	if a.Archive == nil {
		a.Archive = []ArchiveEntry{}
	}
	if a.RecentUtterances == nil {
		a.RecentUtterances = []string{}
	}
	if a.Profile == nil {
		a.Profile = NewAgentProfile()
	}
	p := a.Profile
	p.Trust = Clamp(p.Trust, 0, 10)
	if p.Flags == nil {
		p.Flags = map[string]bool{}
	}
	if p.Rep == nil {
		p.Rep = RepMap{}
	}
	if p.WorldIntent == nil {
		p.WorldIntent = &IntentState{Intent: "idle"}
	}
}

func (w *WorldState) normalize() {
	w.Player.Legitimacy = Clamp(w.Player.Legitimacy, 0, 100)
	if w.Factions == nil {
		w.Factions = map[string]*WorldFaction{}
	}
	for _, name := range []string{FactionIronPact, FactionVeilChurch} {
		if w.Factions[name] == nil {
			w.Factions[name] = defaultWorldFaction(name)
		}
	}
	for _, f := range w.Factions {
		f.HostilityToPlayer = Clamp(f.HostilityToPlayer, 0, 100)
		f.Stability = Clamp(f.Stability, 0, 100)
		if f.Towns == nil {
			f.Towns = []string{}
		}
		if f.Rivals == nil {
			f.Rivals = []string{}
		}
	}
	if w.Towns == nil {
		w.Towns = map[string]*TownState{}
	}
	for id, t := range w.Towns {
		if t == nil {
			w.Towns[id] = defaultTown(id)
			continue
		}
		if t.Projects == nil {
			t.Projects = map[string]*Project{}
		}
	}
	w.normalizeClock()
	if w.Threat.ByTown == nil {
		w.Threat.ByTown = map[string]int{}
	}
	for town, v := range w.Threat.ByTown {
		w.Threat.ByTown[town] = Clamp(v, 0, 100)
	}
	if w.Markers == nil {
		w.Markers = []Marker{}
	}
	w.normalizeMarkets()
	if w.Economy.Currency == "" {
		w.Economy.Currency = DefaultCurrency
	}
	if w.Economy.Ledger == nil {
		w.Economy.Ledger = BalanceMap{}
	}
	w.Chronicle = filterChronicle(w.Chronicle)
	w.News = filterNews(w.News)
	w.Quests = filterQuests(w.Quests)
	if w.Archive == nil {
		w.Archive = []ArchiveEntry{}
	}
	w.ProcessedEventIDs = dedupeIDs(w.ProcessedEventIDs)
	if w.Execution == nil {
		w.Execution = NewExecutionState()
	} else {
		if w.Execution.History == nil {
			w.Execution.History = []*ExecutionResult{}
		}
		if w.Execution.EventLedger == nil {
			w.Execution.EventLedger = []*LedgerEntry{}
		}
		if w.Execution.Pending == nil {
			w.Execution.Pending = []*PendingRecord{}
		}
	}
}

func (w *WorldState) normalizeClock() {
	if w.Clock.Day < 1 {
		w.Clock.Day = 1
	}
	if w.Clock.Phase != PhaseDay && w.Clock.Phase != PhaseNight {
		w.Clock.Phase = PhaseDay
	}
	if w.Clock.Season != SeasonDawn && w.Clock.Season != SeasonLongNight {
		w.Clock.Season = SeasonDawn
	}
	if _, err := time.Parse(time.RFC3339, w.Clock.UpdatedAt); err != nil {
		w.Clock.UpdatedAt = "2026-01-01T00:00:00Z"
	}
}

func (w *WorldState) normalizeMarkets() {
	if w.Markets == nil {
		w.Markets = []Market{}
		return
	}
	for i := range w.Markets {
		offers := w.Markets[i].Offers[:0]
		for _, o := range w.Markets[i].Offers {
			if o.Active && (o.Amount <= 0 || o.Price <= 0) {
				continue
			}
			offers = append(offers, o)
		}
		w.Markets[i].Offers = offers
	}
}

func filterChronicle(entries []ChronicleEntry) []ChronicleEntry {
	out := make([]ChronicleEntry, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.ID) == "" || strings.TrimSpace(e.Message) == "" {
			continue
		}
		e.Message = CapString(e.Message, MaxTextLen)
		out = append(out, e)
	}
	return out
}

func filterNews(items []NewsItem) []NewsItem {
	out := make([]NewsItem, 0, len(items))
	for _, n := range items {
		if strings.TrimSpace(n.ID) == "" || strings.TrimSpace(n.Message) == "" {
			continue
		}
		n.Message = CapString(n.Message, MaxTextLen)
		out = append(out, n)
	}
	return out
}

func filterQuests(quests []Quest) []Quest {
	out := make([]Quest, 0, len(quests))
	for _, q := range quests {
		if strings.TrimSpace(q.ID) == "" || strings.TrimSpace(q.Title) == "" {
			continue
		}
		out = append(out, q)
	}
	return out
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CapString trims whitespace and caps the string at n runes.
func CapString(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n])
	}
	return s
}
