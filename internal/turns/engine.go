// Package turns records incoming utterances and applies sanitized dialogue
// turns: profile mutation, memory writes, and proposed actions, all stitched
// together with operation-scoped event ids so a replayed turn is a no-op.
package turns

import (
	"fmt"

	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/actions"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/memstore"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/turnguard"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/world"
)

// importantThreshold marks a memory write as important.
const importantThreshold = 7

// ProfileCarrier is the slice of an agent profile handed to the profile
// mutator. The engine clamps trust on the way back.
type ProfileCarrier struct {
	Trust int
	Mood  string
	Flags map[string]bool
}

// ProfileMutator adjusts an agent profile in response to a turn.
type ProfileMutator func(p *ProfileCarrier, turn turnguard.Turn)

// DefaultProfileMutator applies the turn's trust delta and adopts its tone as
// the new mood.
func DefaultProfileMutator(p *ProfileCarrier, turn turnguard.Turn) {
	p.Trust += turn.TrustDelta
	p.Mood = turn.Tone
}

// Result is the outcome of one applied turn.
type Result struct {
	Skipped     bool
	Turn        turnguard.Turn
	Outcomes    []actions.Outcome
	PlayerAlive bool
}

// Engine drives turns through the store and the action engine.
type Engine struct {
	store   *memstore.Store
	actions *actions.Engine
	mutator ProfileMutator
}

// NewEngine creates a turn engine. A nil mutator falls back to
// DefaultProfileMutator.
func NewEngine(store *memstore.Store, actionEngine *actions.Engine, mutator ProfileMutator) *Engine {
	if mutator == nil {
		mutator = DefaultProfileMutator
	}
	return &Engine{store: store, actions: actionEngine, mutator: mutator}
}

// RecordIncoming remembers a player utterance in the agent's short memory,
// the faction record, and the world archive.
func (e *Engine) RecordIncoming(agent actions.AgentRef, playerName, message, operationID string) error {
	if playerName == "" {
		playerName = "player"
	}
	eventID := operationID + ":incoming"
	line := fmt.Sprintf("%s said: %s", playerName, world.CapString(message, world.MaxTextLen))
	if err := e.store.RememberAgent(agent.Name, line, false, eventID); err != nil {
		return err
	}
	if agent.Faction != "" {
		factionLine := fmt.Sprintf("%s was approached by %s.", agent.Name, playerName)
		if err := e.store.RememberFaction(agent.Faction, factionLine, false, eventID); err != nil {
			return err
		}
	}
	worldLine := fmt.Sprintf("%s spoke with %s.", playerName, agent.Name)
	return e.store.RememberWorld(worldLine, false, eventID)
}

// ApplyTurn sanitizes the raw turn against the fallback and applies it:
// profile, memories, actions, and the turn-applied marker, in that order.
// A turn whose marker is already processed is skipped wholesale.
func (e *Engine) ApplyTurn(agent actions.AgentRef, raw, fallback turnguard.Turn, operationID string) (Result, error) {
	marker := operationID + ":turn_applied"
	if e.store.HasProcessedEvent(marker) {
		alive := true
		if snap, err := e.store.GetSnapshot(); err == nil {
			alive = snap.World.Player.Alive
		}
		return Result{Skipped: true, Turn: fallback, Outcomes: []actions.Outcome{}, PlayerAlive: alive}, nil
	}

	turn := turnguard.Sanitize(raw, fallback)

	if err := e.applyProfile(agent, turn, operationID); err != nil {
		return Result{}, err
	}
	if err := e.applyMemoryWrites(agent, turn, operationID); err != nil {
		return Result{}, err
	}

	actionRes, err := e.actions.Apply(actions.Input{
		Agent:           agent,
		ProposedActions: turn.ProposedActions,
		OperationID:     operationID + ":actions",
	})
	if err != nil {
		return Result{}, err
	}
	for i, outcome := range actionRes.Outcomes {
		if !outcome.Accepted || agent.Faction == "" {
			continue
		}
		line := fmt.Sprintf("[ACTION] %s: %s", agent.Name, outcome.Action.Type)
		eventID := fmt.Sprintf("%s:outcome:%d", operationID, i)
		if err := e.store.RememberFaction(agent.Faction, line, false, eventID); err != nil {
			return Result{}, err
		}
	}

	// Commit the marker last, so a crash mid-turn lets a retry finish the
	// remaining idempotent steps.
	if _, err := e.store.Transact(func(*world.Snapshot) (any, error) {
		return nil, nil
	}, memstore.TxOptions{EventID: marker}); err != nil {
		return Result{}, err
	}

	return Result{
		Turn:        turn,
		Outcomes:    actionRes.Outcomes,
		PlayerAlive: actionRes.PlayerAlive,
	}, nil
}

func (e *Engine) applyProfile(agent actions.AgentRef, turn turnguard.Turn, operationID string) error {
	_, err := e.store.Transact(func(snap *world.Snapshot) (any, error) {
		rec := snap.Agents[agent.Name]
		if rec == nil {
			rec = world.NewAgentRecord()
			snap.Agents[agent.Name] = rec
		}
		carrier := &ProfileCarrier{
			Trust: rec.Profile.Trust,
			Mood:  rec.Profile.Mood,
			Flags: rec.Profile.Flags,
		}
		e.mutator(carrier, turn)
		rec.Profile.Trust = world.Clamp(carrier.Trust, 0, 10)
		rec.Profile.Mood = carrier.Mood
		if carrier.Flags != nil {
			rec.Profile.Flags = carrier.Flags
		}
		rec.RecentUtterances = world.AppendRing(rec.RecentUtterances, turn.Say, world.ShortMemoryCap)
		return nil, nil
	}, memstore.TxOptions{EventID: operationID + ":agent_state"})
	return err
}

func (e *Engine) applyMemoryWrites(agent actions.AgentRef, turn turnguard.Turn, operationID string) error {
	for i, w := range turn.MemoryWrites {
		important := w.Importance >= importantThreshold
		eventID := fmt.Sprintf("%s:memory_write:%d", operationID, i)
		var err error
		switch w.Scope {
		case turnguard.ScopeAgent:
			err = e.store.RememberAgent(agent.Name, w.Text, important, eventID)
		case turnguard.ScopeFaction:
			faction := agent.Faction
			if faction == "" {
				continue
			}
			err = e.store.RememberFaction(faction, w.Text, important, eventID)
		case turnguard.ScopeWorld:
			err = e.store.RememberWorld(w.Text, important, eventID)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
