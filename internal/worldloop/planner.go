package worldloop

import (
	"fmt"
	"time"

	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/world"
)

// Intents the loop schedules.
const (
	IntentIdle    = "idle"
	IntentWander  = "wander"
	IntentFollow  = "follow"
	IntentRespond = "respond"
)

// Plan sources, in decision order. The first four are protected from the
// repetition breaker.
const (
	SourceFrozen            = "frozen"
	SourceManualOverride    = "manual_override"
	SourcePendingChat       = "pending_chat"
	SourceBudgetGuard       = "budget_guard"
	SourceJob               = "job"
	SourceRotation          = "rotation"
	SourceRepetitionBreaker = "repetition_breaker"
)

// repetitionLimit is the consecutive-identical-plan count that triggers the
// breaker.
const repetitionLimit = 10

var protectedSources = map[string]bool{
	SourceFrozen:         true,
	SourceManualOverride: true,
	SourcePendingChat:    true,
	SourceBudgetGuard:    true,
}

var overridableIntents = map[string]bool{
	IntentIdle: true, IntentWander: true, IntentFollow: true, IntentRespond: true,
}

// Plan is one agent's intent for one tick.
type Plan struct {
	Intent string
	Target string
	Source string
}

// planAgent decides the agent's intent for this tick, in strict precedence
// order, then applies the repetition breaker.
func (l *Loop) planAgent(snap *world.Snapshot, agent string, tick int64, tickAt time.Time) Plan {
	profile := agentProfile(snap, agent)
	intent := profile.WorldIntent
	plan := l.basePlan(snap, agent, intent, tick, tickAt)

	// Repetition breaker: the 10th consecutive identical plan from an
	// unprotected source gets substituted.
	planKey := plan.Intent + ":" + plan.Target
	if !protectedSources[plan.Source] &&
		intent.LastPlanKey == planKey && intent.RepeatCount >= repetitionLimit-1 {
		if plan.Intent == IntentWander {
			plan = Plan{Intent: IntentIdle, Source: SourceRepetitionBreaker}
		} else {
			plan = Plan{Intent: IntentWander, Source: SourceRepetitionBreaker}
		}
	}
	return plan
}

func (l *Loop) basePlan(snap *world.Snapshot, agent string, intent *world.IntentState, tick int64, tickAt time.Time) Plan {
	if intent.Frozen {
		return Plan{Intent: IntentIdle, Source: SourceFrozen}
	}

	if intent.ManualOverride && overridableIntents[intent.Intent] {
		target := intent.IntentTarget
		if intent.Intent == IntentFollow && target == "" {
			target = l.presence.LeaderFor(agent)
		}
		return Plan{Intent: intent.Intent, Target: target, Source: SourceManualOverride}
	}

	if l.presence.HasPendingChat(agent) {
		return Plan{Intent: IntentRespond, Source: SourcePendingChat}
	}

	bucket := tickAt.Unix() / 60
	if intent.Budgets.MinuteBucket == bucket && intent.Budgets.EventsInMin >= l.cfg.MaxEventsPerAgentPerMin {
		return Plan{Intent: IntentIdle, Source: SourceBudgetGuard}
	}

	if profile := agentProfile(snap, agent); profile.Job != nil {
		if plan, ok := l.jobPlan(snap, profile.Job.Role, tick); ok {
			return plan
		}
	}

	return l.rotationPlan(agent, tick)
}

// jobPlan is the deterministic per-role plan.
func (l *Loop) jobPlan(snap *world.Snapshot, role string, tick int64) (Plan, bool) {
	source := SourceJob + ":" + role
	switch role {
	case "scout":
		return Plan{Intent: IntentWander, Target: "patrol", Source: source}, true
	case "guard":
		return Plan{Intent: IntentIdle, Target: "watch", Source: source}, true
	case "builder":
		target := "site"
		if len(snap.World.Markers) > 0 {
			target = snap.World.Markers[0].Name
		}
		return Plan{Intent: IntentWander, Target: target, Source: source}, true
	case "farmer":
		return Plan{Intent: IntentIdle, Target: "fields", Source: source}, true
	case "hauler":
		// Haulers shuttle between the first two markers.
		if len(snap.World.Markers) < 2 {
			return Plan{Intent: IntentIdle, Target: "depot", Source: source}, true
		}
		marker := snap.World.Markers[tick%2]
		return Plan{Intent: IntentWander, Target: marker.Name, Source: source}, true
	}
	return Plan{}, false
}

// rotationPlan deterministically picks from the free-roam intents.
func (l *Loop) rotationPlan(agent string, tick int64) Plan {
	table := []string{IntentIdle, IntentWander, IntentRespond}
	leader := l.presence.LeaderFor(agent)
	if leader != "" && leader != agent {
		table = append(table, IntentFollow)
	}
	pick := table[world.PickMod(fmt.Sprintf("%s:%d", agent, tick), len(table))]
	plan := Plan{Intent: pick, Source: SourceRotation}
	if pick == IntentFollow {
		plan.Target = leader
	}
	return plan
}

func agentProfile(snap *world.Snapshot, agent string) *world.AgentProfile {
	if rec := snap.Agents[agent]; rec != nil && rec.Profile != nil {
		return rec.Profile
	}
	return world.NewAgentProfile()
}
