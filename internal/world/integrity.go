package world

import (
	"fmt"
	"time"
)

// IntegrityReport is the outcome of validating a snapshot against the data
// model's invariants.
type IntegrityReport struct {
	OK     bool
	Issues []string
}

func (r *IntegrityReport) addf(format string, args ...any) {
	r.Issues = append(r.Issues, fmt.Sprintf(format, args...))
}

// ValidateIntegrity is a pure check of every snapshot invariant. It never
// mutates the snapshot.
func ValidateIntegrity(s *Snapshot) IntegrityReport {
	r := IntegrityReport{}
	if s == nil || s.World == nil {
		r.addf("snapshot: missing world document")
		return r
	}
	w := s.World

	validateEventIDs(w, &r)
	validateAgents(s, &r)
	validateWorldNumbers(w, &r)
	validateClock(w, &r)
	validateStoryFactions(w, &r)
	validateMarkets(w, &r)
	validateFeeds(w, &r)
	validateExecution(w, &r)

	r.OK = len(r.Issues) == 0
	return r
}

func validateEventIDs(w *WorldState, r *IntegrityReport) {
	if len(w.ProcessedEventIDs) > ProcessedEventCap {
		r.addf("processedEventIds: ring over capacity (%d > %d)", len(w.ProcessedEventIDs), ProcessedEventCap)
	}
	seen := make(map[string]struct{}, len(w.ProcessedEventIDs))
	for i, id := range w.ProcessedEventIDs {
		if id == "" {
			r.addf("processedEventIds[%d]: empty event id", i)
			continue
		}
		if _, dup := seen[id]; dup {
			r.addf("processedEventIds[%d]: duplicate event id %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func validateAgents(s *Snapshot, r *IntegrityReport) {
	for name, a := range s.Agents {
		if a == nil || a.Profile == nil {
			r.addf("agents[%s]: missing profile", name)
			continue
		}
		if a.Profile.Trust < 0 || a.Profile.Trust > 10 {
			r.addf("agents[%s]: trust %d out of range", name, a.Profile.Trust)
		}
		if len(a.Short) > ShortMemoryCap {
			r.addf("agents[%s]: short memory over capacity (%d)", name, len(a.Short))
		}
	}
}

func validateWorldNumbers(w *WorldState, r *IntegrityReport) {
	if w.Player.Legitimacy < 0 || w.Player.Legitimacy > 100 {
		r.addf("player: legitimacy %d out of range", w.Player.Legitimacy)
	}
	for name, f := range w.Factions {
		if f == nil {
			r.addf("world.factions[%s]: nil faction", name)
			continue
		}
		if f.HostilityToPlayer < 0 || f.HostilityToPlayer > 100 {
			r.addf("world.factions[%s]: hostility %d out of range", name, f.HostilityToPlayer)
		}
		if f.Stability < 0 || f.Stability > 100 {
			r.addf("world.factions[%s]: stability %d out of range", name, f.Stability)
		}
	}
	for town, v := range w.Threat.ByTown {
		if v < 0 || v > 100 {
			r.addf("threat.byTown[%s]: %d out of range", town, v)
		}
	}
}

func validateClock(w *WorldState, r *IntegrityReport) {
	if w.Clock.Day < 1 {
		r.addf("clock: day %d < 1", w.Clock.Day)
	}
	if w.Clock.Phase != PhaseDay && w.Clock.Phase != PhaseNight {
		r.addf("clock: invalid phase %q", w.Clock.Phase)
	}
	if w.Clock.Season != SeasonDawn && w.Clock.Season != SeasonLongNight {
		r.addf("clock: invalid season %q", w.Clock.Season)
	}
	if _, err := time.Parse(time.RFC3339, w.Clock.UpdatedAt); err != nil {
		r.addf("clock: updated_at %q is not a valid instant", w.Clock.UpdatedAt)
	}
}

func validateStoryFactions(w *WorldState, r *IntegrityReport) {
	for _, name := range []string{FactionIronPact, FactionVeilChurch} {
		if w.Factions[name] == nil {
			r.addf("world.factions: story faction %q missing", name)
		}
	}
}

func validateMarkets(w *WorldState, r *IntegrityReport) {
	for _, m := range w.Markets {
		for _, o := range m.Offers {
			if o.Active && o.Amount <= 0 {
				r.addf("markets[%s]: active offer %q with amount %d", m.ID, o.ID, o.Amount)
			}
			if o.Active && o.Price <= 0 {
				r.addf("markets[%s]: active offer %q with price %d", m.ID, o.ID, o.Price)
			}
		}
	}
}

func validateFeeds(w *WorldState, r *IntegrityReport) {
	for i, e := range w.Chronicle {
		if e.ID == "" || e.Message == "" {
			r.addf("chronicle[%d]: missing id or message", i)
		}
	}
	for i, n := range w.News {
		if n.ID == "" || n.Message == "" {
			r.addf("news[%d]: missing id or message", i)
		}
	}
	for i, q := range w.Quests {
		if q.ID == "" || q.Title == "" {
			r.addf("quests[%d]: missing id or title", i)
		}
	}
	if len(w.Archive) > ArchiveCap {
		r.addf("archive: ring over capacity (%d > %d)", len(w.Archive), ArchiveCap)
	}
	// Balances are uint64, non-negative by construction; only the keys can
	// be malformed here.
	for name := range w.Economy.Ledger {
		if name == "" {
			r.addf("economy.ledger: empty agent name")
		}
	}
}

func validateExecution(w *WorldState, r *IntegrityReport) {
	if w.Execution == nil {
		r.addf("execution: missing sub-document")
		return
	}
	if len(w.Execution.History) > HistoryCap {
		r.addf("execution.history: ring over capacity (%d)", len(w.Execution.History))
	}
	if len(w.Execution.EventLedger) > EventLedgerCap {
		r.addf("execution.eventLedger: ring over capacity (%d)", len(w.Execution.EventLedger))
	}
	if len(w.Execution.Pending) > PendingCap {
		r.addf("execution.pending: ring over capacity (%d)", len(w.Execution.Pending))
	}
	seen := map[string]struct{}{}
	for i, rec := range w.Execution.History {
		if rec == nil {
			r.addf("execution.history[%d]: nil receipt", i)
			continue
		}
		if _, dup := seen[rec.ExecutionID]; dup {
			r.addf("execution.history[%d]: duplicate executionId %q", i, rec.ExecutionID)
		}
		seen[rec.ExecutionID] = struct{}{}
		if err := CheckResultInvariants(rec); err != nil {
			r.addf("execution.history[%d]: %v", i, err)
		}
	}
}

// CheckResultInvariants enforces the status/accepted/executed cross-invariants
// a terminal receipt must satisfy.
func CheckResultInvariants(res *ExecutionResult) error {
	switch res.Status {
	case StatusExecuted:
		if !res.Accepted || !res.Executed {
			return fmt.Errorf("executed receipt must be accepted and executed")
		}
	case StatusFailed:
		if !res.Accepted || res.Executed {
			return fmt.Errorf("failed receipt must be accepted and not executed")
		}
	case StatusRejected, StatusStale, StatusDuplicate:
		if res.Accepted || res.Executed {
			return fmt.Errorf("%s receipt must be neither accepted nor executed", res.Status)
		}
	default:
		return fmt.Errorf("unknown status %q", res.Status)
	}
	if res.Status == StatusDuplicate && !res.Evaluation.DuplicateCheck.Evaluated {
		return fmt.Errorf("duplicate receipt without evaluated duplicate check")
	}
	return nil
}
