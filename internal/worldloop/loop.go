// Package worldloop is the deterministic tick scheduler: it plans per-agent
// intents under budgets and repetition-breaking, commits them through the
// memory store, and sheds whole ticks when the runtime metrics say the store
// is struggling.
package worldloop

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/events"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/flow"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/memstore"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/metrics"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/world"
)

// Config tunes the loop. Zero values take the documented defaults.
type Config struct {
	TickMs                  int // default 2000, min 100
	MaxEventsPerTick        int // default 8
	MaxEventsPerAgentPerMin int // default 10

	TownCrierEnabled      bool
	TownCrierIntervalMs   int // min 1
	TownCrierMaxPerTick   int // default 2
	TownCrierRecentWindow int // default 20
	TownCrierDedupeWindow int // default 50
}

func (c *Config) applyDefaults() {
	if c.TickMs == 0 {
		c.TickMs = 2000
	}
	if c.TickMs < 100 {
		c.TickMs = 100
	}
	if c.MaxEventsPerTick == 0 {
		c.MaxEventsPerTick = 8
	}
	if c.MaxEventsPerAgentPerMin == 0 {
		c.MaxEventsPerAgentPerMin = 10
	}
	if c.TownCrierIntervalMs < 1 {
		c.TownCrierIntervalMs = 1
	}
	if c.TownCrierMaxPerTick == 0 {
		c.TownCrierMaxPerTick = 2
	}
	if c.TownCrierRecentWindow == 0 {
		c.TownCrierRecentWindow = 20
	}
	if c.TownCrierDedupeWindow == 0 {
		c.TownCrierDedupeWindow = 50
	}
}

// Presence tells the loop who is online and who has unread chat.
type Presence interface {
	OnlineAgents() []string
	HasPendingChat(agent string) bool
	LeaderFor(agent string) string
}

// Hooks are the runtime side effects of committed intents. They run only
// after a successful commit.
type Hooks struct {
	OnWander  func(agent, direction string)
	OnFollow  func(agent, leader string)
	OnRespond func(agent, message string)
	OnNews    func(line string)
}

// TickReport is what one tick did.
type TickReport struct {
	Tick         int64
	Scheduled    int
	Backpressure bool
	Reason       string
	Broadcast    int
}

// Status is the loop's externally visible state.
type Status struct {
	TickNumber   int64
	Backpressure bool
	Reason       string
	Scheduled    int
}

var tickEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Loop is the scheduler. RunTickOnce is safe to call directly in tests; Start
// runs it on a timer.
type Loop struct {
	store    *memstore.Store
	runtime  *metrics.Runtime
	prom     *metrics.Collectors
	presence Presence
	hooks    Hooks
	emitter  events.Emitter
	cfg      Config

	mu            sync.Mutex
	tickNumber    int64
	prev          metrics.RuntimeSnapshot
	prevValid     bool
	status        Status
	lastCrierTick time.Time
	crierSeen     []string

	stop chan struct{}
	done chan struct{}
}

// New wires a loop. Presence is required; hooks and emitter may be zero.
func New(store *memstore.Store, rt *metrics.Runtime, presence Presence, hooks Hooks, emitter events.Emitter, prom *metrics.Collectors, cfg Config) (*Loop, error) {
	if store == nil || rt == nil || presence == nil {
		return nil, fmt.Errorf("worldloop: store, runtime, and presence are required")
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	cfg.applyDefaults()
	return &Loop{
		store:    store,
		runtime:  rt,
		prom:     prom,
		presence: presence,
		hooks:    hooks,
		emitter:  emitter,
		cfg:      cfg,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// TickAt is the deterministic instant of a tick.
func (l *Loop) TickAt(tick int64) time.Time {
	return tickEpoch.Add(time.Duration(tick) * time.Duration(l.cfg.TickMs) * time.Millisecond)
}

// Start runs the loop until Stop.
func (l *Loop) Start() {
	go func() {
		defer close(l.done)
		ticker := time.NewTicker(time.Duration(l.cfg.TickMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-ticker.C:
				l.RunTickOnce()
			}
		}
	}()
}

// Stop halts the loop and waits for the current tick to finish.
func (l *Loop) Stop() {
	close(l.stop)
	<-l.done
}

// CurrentStatus returns the loop's externally visible state.
func (l *Loop) CurrentStatus() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// RunTickOnce runs one numbered tick: backpressure check, planning, commit,
// town crier.
func (l *Loop) RunTickOnce() TickReport {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tickNumber++
	tick := l.tickNumber
	tickAt := l.TickAt(tick)
	report := TickReport{Tick: tick}

	cur := l.runtime.Snapshot()
	if reason := l.evalBackpressure(cur); reason != "" {
		l.prev = cur
		l.prevValid = true
		report.Backpressure = true
		report.Reason = reason
		l.setStatus(tick, true, reason, 0)
		return report
	}

	scheduled := l.planAndCommit(tick, tickAt, &report)
	report.Scheduled = scheduled

	if l.cfg.TownCrierEnabled {
		report.Broadcast = l.runTownCrier(tickAt)
	}

	l.prev = cur
	l.prevValid = true
	l.setStatus(tick, false, "", scheduled)
	return report
}

func (l *Loop) setStatus(tick int64, backpressure bool, reason string, scheduled int) {
	wasBackpressure := l.status.Backpressure
	l.status = Status{TickNumber: tick, Backpressure: backpressure, Reason: reason, Scheduled: scheduled}
	if l.prom != nil {
		if backpressure {
			l.prom.Backpressure.Set(1)
		} else {
			l.prom.Backpressure.Set(0)
		}
	}
	if backpressure != wasBackpressure {
		l.emitter.Emit(events.TypeBackpressure, "world-loop", "", map[string]any{
			"active": backpressure,
			"reason": reason,
			"tick":   tick,
		})
		if backpressure {
			slog.Warn("world loop shedding ticks", "reason", reason, "tick", tick)
		}
	}
}

func (l *Loop) planAndCommit(tick int64, tickAt time.Time, report *TickReport) int {
	snap, err := l.store.GetSnapshot()
	if err != nil {
		slog.Warn("world loop: snapshot unavailable", "error", err)
		return 0
	}

	agents := append([]string(nil), l.presence.OnlineAgents()...)
	sort.Strings(agents)

	scheduled := 0
	for _, agent := range agents {
		if scheduled >= l.cfg.MaxEventsPerTick {
			break
		}
		plan := l.planAgent(snap, agent, tick, tickAt)
		applied, eventID := l.commitIntent(agent, plan, tick, tickAt)
		if !applied {
			continue
		}
		scheduled++
		l.runSideEffects(agent, plan, tick, eventID)
		if l.prom != nil {
			l.prom.TickScheduled.Inc()
		}
		l.emitter.Emit(events.TypeIntentPlanned, "world-loop", agent, map[string]any{
			"intent": plan.Intent,
			"target": plan.Target,
			"source": plan.Source,
			"tick":   tick,
		})
	}
	return scheduled
}

// commitIntent writes the plan into the agent's world_intent under the
// intent's derived event id. Returns false when the per-minute budget is
// exhausted.
func (l *Loop) commitIntent(agent string, plan Plan, tick int64, tickAt time.Time) (bool, string) {
	eventID := flow.DeriveOperationIDAt(tickAt, 1,
		"world_loop", agent, plan.Intent, plan.Target, fmt.Sprintf("%d", tick),
	) + ":world_loop_intent"
	bucket := tickAt.Unix() / 60

	outcome, err := l.store.Transact(func(snap *world.Snapshot) (any, error) {
		rec := snap.Agents[agent]
		if rec == nil {
			rec = world.NewAgentRecord()
			snap.Agents[agent] = rec
		}
		intent := rec.Profile.WorldIntent
		if intent.Budgets.MinuteBucket == bucket && intent.Budgets.EventsInMin >= l.cfg.MaxEventsPerAgentPerMin {
			return map[string]any{"applied": false, "reason": "agent_budget_exceeded"}, nil
		}
		if intent.Budgets.MinuteBucket != bucket {
			intent.Budgets.MinuteBucket = bucket
			intent.Budgets.EventsInMin = 0
		}
		intent.Budgets.EventsInMin++

		planKey := plan.Intent + ":" + plan.Target
		if plan.Source == SourceRepetitionBreaker {
			intent.RepeatCount = 1
		} else if intent.LastPlanKey == planKey {
			intent.RepeatCount++
		} else {
			intent.RepeatCount = 1
		}
		intent.LastPlanKey = planKey

		at := tickAt.Format(time.RFC3339Nano)
		intent.Intent = plan.Intent
		intent.IntentTarget = plan.Target
		intent.IntentSetAt = at
		intent.LastAction = "scheduled:" + plan.Intent
		intent.LastActionAt = at
		return map[string]any{"applied": true}, nil
	}, memstore.TxOptions{EventID: eventID})
	if err != nil {
		slog.Warn("world loop: intent commit failed", "agent", agent, "error", err)
		return false, eventID
	}
	if outcome.Skipped {
		return false, eventID
	}
	result, _ := outcome.Result.(map[string]any)
	applied, _ := result["applied"].(bool)
	return applied, eventID
}

var (
	wanderDirections = []string{"north", "east", "south", "west"}
	respondLines     = []string{"Standing by.", "Holding this position.", "Copy that."}
)

func (l *Loop) runSideEffects(agent string, plan Plan, tick int64, eventID string) {
	key := fmt.Sprintf("%s:%d:%s", agent, tick, eventID)
	switch plan.Intent {
	case IntentWander:
		if l.hooks.OnWander != nil {
			l.hooks.OnWander(agent, wanderDirections[world.PickMod(key, len(wanderDirections))])
		}
	case IntentFollow:
		if l.hooks.OnFollow != nil {
			l.hooks.OnFollow(agent, plan.Target)
		}
	case IntentRespond:
		if l.hooks.OnRespond != nil {
			l.hooks.OnRespond(agent, respondLines[world.PickMod(key, len(respondLines))])
		}
	}
}
