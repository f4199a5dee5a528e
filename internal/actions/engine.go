// Package actions applies sanitized proposed actions to world state inside a
// single idempotent transaction.
package actions

import (
	"fmt"

	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/memstore"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/turnguard"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/world"
)

// DuplicateReason is the outcome reason when the operation was already
// applied.
const DuplicateReason = "Duplicate operation ignored."

// AgentRef identifies the acting agent and its faction.
type AgentRef struct {
	Name    string
	Faction string
}

// Input is one apply-actions request.
type Input struct {
	Agent           AgentRef
	ProposedActions []turnguard.ProposedAction
	OperationID     string
}

// Outcome is the per-action result.
type Outcome struct {
	Action   turnguard.ProposedAction
	Accepted bool
	Reason   string
	Outcome  string
}

// Result is the full apply-actions response.
type Result struct {
	Outcomes    []Outcome
	PlayerAlive bool
}

// Engine applies actions through the memory store.
type Engine struct {
	store *memstore.Store
}

// NewEngine creates an action engine over the store.
func NewEngine(store *memstore.Store) *Engine {
	return &Engine{store: store}
}

// Apply runs every proposed action in one transaction keyed by
// "<operationId>:apply_actions". A duplicate operation returns every action
// as not accepted.
func (e *Engine) Apply(in Input) (Result, error) {
	var outcomes []Outcome
	playerAlive := true

	tx, err := e.store.Transact(func(snap *world.Snapshot) (any, error) {
		outcomes = make([]Outcome, 0, len(in.ProposedActions))
		for i, action := range in.ProposedActions {
			outcomes = append(outcomes, applyOne(snap, in, action, i))
		}
		playerAlive = snap.World.Player.Alive
		return nil, nil
	}, memstore.TxOptions{EventID: in.OperationID + ":apply_actions"})
	if err != nil {
		return Result{}, err
	}
	if tx.Skipped {
		dup := make([]Outcome, 0, len(in.ProposedActions))
		for _, action := range in.ProposedActions {
			dup = append(dup, Outcome{Action: action, Reason: DuplicateReason})
		}
		snap, snapErr := e.store.GetSnapshot()
		alive := true
		if snapErr == nil {
			alive = snap.World.Player.Alive
		}
		return Result{Outcomes: dup, PlayerAlive: alive}, nil
	}
	return Result{Outcomes: outcomes, PlayerAlive: playerAlive}, nil
}

func applyOne(snap *world.Snapshot, in Input, action turnguard.ProposedAction, seq int) Outcome {
	w := snap.World
	faction := materializeFaction(w, in.Agent.Faction)

	switch action.Type {
	case turnguard.ActionNone:
		return Outcome{Action: action, Reason: "No action proposed."}

	case turnguard.ActionSpreadRumor:
		w.Player.Legitimacy = world.Clamp(w.Player.Legitimacy-2, 0, 100)
		faction.HostilityToPlayer = world.Clamp(faction.HostilityToPlayer+3, 0, 100)
		archive(snap, in, "RUMOR", seq, false,
			fmt.Sprintf("[RUMOR] %s spreads rumors against %s.", in.Agent.Name, w.Player.Name))
		return Outcome{Action: action, Accepted: true, Outcome: "rumor_spread"}

	case turnguard.ActionCallMeeting:
		faction.Stability = world.Clamp(faction.Stability-2, 0, 100)
		archive(snap, in, "MEETING", seq, false,
			fmt.Sprintf("[MEETING] %s calls %s to council.", in.Agent.Name, in.Agent.Faction))
		return Outcome{Action: action, Accepted: true, Outcome: "meeting_called"}

	case turnguard.ActionRecruit:
		faction.Stability = world.Clamp(faction.Stability+1, 0, 100)
		return Outcome{Action: action, Accepted: true, Outcome: "recruited"}

	case turnguard.ActionDesertFaction:
		faction.Stability = world.Clamp(faction.Stability-6, 0, 100)
		archive(snap, in, "SPLINTER", seq, false,
			fmt.Sprintf("[SPLINTER] %s deserts %s.", in.Agent.Name, in.Agent.Faction))
		return Outcome{Action: action, Accepted: true, Outcome: "deserted"}

	case turnguard.ActionAttackPlayer:
		if reason, ok := lethalAllowed(w, faction); !ok {
			return Outcome{Action: action, Reason: reason}
		}
		w.Player.Alive = false
		archive(snap, in, "ASSASSINATION", seq, true,
			fmt.Sprintf("[ASSASSINATION] %s strikes down %s.", in.Agent.Name, w.Player.Name))
		return Outcome{Action: action, Accepted: true, Outcome: "player_killed"}
	}
	return Outcome{Action: action, Reason: "Unknown action."}
}

// lethalAllowed gates attack_player: lethal politics must be on, the faction
// furious, the player delegitimized, and either open war or a crumbling
// faction.
func lethalAllowed(w *world.WorldState, faction *world.WorldFaction) (string, bool) {
	if !w.Rules.AllowLethalPolitics {
		return "Lethal politics are not permitted.", false
	}
	if faction.HostilityToPlayer < 75 {
		return "The faction is not hostile enough.", false
	}
	if w.Player.Legitimacy > 25 {
		return "The player still holds legitimacy.", false
	}
	if !w.WarActive && faction.Stability > 35 {
		return "No war and the faction holds together.", false
	}
	return "", true
}

func archive(snap *world.Snapshot, in Input, tag string, seq int, important bool, line string) {
	at := world.ArchiveTimestamp(
		snap.World.Clock.Day,
		len(snap.World.ProcessedEventIDs),
		in.OperationID, in.Agent.Name, tag, seq,
	)
	snap.World.Archive = world.AppendRing(snap.World.Archive,
		world.ArchiveEntry{At: at, Event: line, Important: important}, world.ArchiveCap)
}

func materializeFaction(w *world.WorldState, name string) *world.WorldFaction {
	if name == "" {
		name = "drifters"
	}
	if f := w.Factions[name]; f != nil {
		return f
	}
	f := &world.WorldFaction{
		HostilityToPlayer: 20,
		Stability:         60,
		Towns:             []string{},
		Rivals:            []string{},
	}
	w.Factions[name] = f
	return f
}
