// Command worldcore runs the agent-world simulation core: a line-oriented
// shell over stdin (talk, god, advisory handoffs, world-memory requests)
// around the durable snapshot store, with the world loop and status gateway
// alongside.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/actions"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/config"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/events"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/execstore"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/execution"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/flow"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/gateway"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/god"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/memstore"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/metrics"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/turnguard"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/turns"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/worldloop"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/worldmem"
)

// opIDWindowMs groups retries of the same command into one operation id.
const opIDWindowMs = 60_000

// shutdownGrace bounds how long a fatal error may spend on final cleanup
// before the process goes down regardless.
const shutdownGrace = 1500 * time.Millisecond

func main() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic", "recovered", r)
			os.Exit(1)
		}
	}()
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	godotenv.Load()
	cfg := config.Get()

	rt := metrics.NewRuntime()
	registry := prometheus.NewRegistry()
	collectors := metrics.NewCollectors(registry)

	store, err := memstore.New(memstore.Options{
		Path:       cfg.Snapshot.Path,
		Runtime:    rt,
		Collectors: collectors,
	})
	if err != nil {
		return err
	}
	defer store.Close()
	if _, err := store.Load(); err != nil {
		return err
	}

	bus := events.NewBus()
	if cfg.Events.RedisAddr != "" {
		sink := events.NewRedisSink(cfg.Events.RedisAddr, cfg.Events.RedisChannel)
		defer sink.Close()
		bus.AddSink(sink)
	}

	executions, closeExec, err := openExecutionStore(cfg, store)
	if err != nil {
		return err
	}
	defer closeExec()

	godService := god.NewService(store, bus, god.Config{})
	adapter, err := execution.NewAdapter(execution.Config{
		Store:      store,
		Executions: executions,
		God:        godService,
		Emitter:    bus,
		Collectors: collectors,
	})
	if err != nil {
		return err
	}
	if recovered, err := adapter.RecoverPending(); err != nil {
		return err
	} else if recovered > 0 {
		slog.Info("recovered pending executions", "count", recovered)
	}

	turnEngine := turns.NewEngine(store, actions.NewEngine(store), nil)
	contextBuilder := worldmem.NewBuilder(store, executions)

	presence := newPresence()
	shell := &shell{
		store:      store,
		god:        godService,
		adapter:    adapter,
		turns:      turnEngine,
		contexts:   contextBuilder,
		presence:   presence,
		talkQueue:  flow.NewKeyedQueue(),
		dialogue:   flow.NewSemaphore(int64(cfg.Dialogue.MaxConcurrent)),
		dialogueTO: time.Duration(cfg.Dialogue.TimeoutMs) * time.Millisecond,
		produce:    cannedTurn,
		out:        os.Stdout,
	}

	var loop *worldloop.Loop
	if cfg.Loop.Enabled {
		loop, err = worldloop.New(store, rt, presence, worldloop.Hooks{
			OnNews: func(line string) { fmt.Fprintln(os.Stdout, line) },
		}, bus, collectors, worldloop.Config{
			TickMs:                  cfg.Loop.TickMs,
			MaxEventsPerTick:        cfg.Loop.MaxEventsPerTick,
			MaxEventsPerAgentPerMin: cfg.Loop.MaxEventsPerAgentPerMin,
			TownCrierEnabled:        cfg.Crier.Enabled,
			TownCrierIntervalMs:     cfg.Crier.IntervalMs,
			TownCrierMaxPerTick:     cfg.Crier.MaxPerTick,
			TownCrierRecentWindow:   cfg.Crier.RecentWindow,
			TownCrierDedupeWindow:   cfg.Crier.DedupeWindow,
		})
		if err != nil {
			return err
		}
		loop.Start()
		defer loop.Stop()
	}

	if cfg.Server.Enabled {
		var source gateway.StatusSource
		if loop != nil {
			source = loop
		}
		server := gateway.NewServer(rt, registry, bus, source, cfg.Server.Port)
		server.Start()
		defer server.Shutdown(time.Duration(cfg.Server.ShutdownTimeout) * time.Second)
	}

	reporter := metrics.NewReporter(rt, time.Duration(cfg.Metrics.ReportIntervalSec)*time.Second)
	reporter.Start()
	defer reporter.Stop()

	if err := shell.repl(os.Stdin); err != nil {
		return err
	}
	return store.Save()
}

func openExecutionStore(cfg *config.Config, store *memstore.Store) (execstore.Store, func(), error) {
	switch cfg.Execution.Backend {
	case "memory":
		return execstore.NewMemoryStore(store), func() {}, nil
	case "sqlite":
		sqlStore, err := execstore.OpenSQLStore(cfg.Execution.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return sqlStore, func() { sqlStore.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown execution backend %q", cfg.Execution.Backend)
}

// shell is the line-oriented command surface.
type shell struct {
	store      *memstore.Store
	god        *god.Service
	adapter    *execution.Adapter
	turns      *turns.Engine
	contexts   *worldmem.Builder
	presence   *presence
	talkQueue  *flow.KeyedQueue
	dialogue   *flow.Semaphore
	dialogueTO time.Duration
	produce    turnProducer
	out        *os.File
}

// turnProducer is the pluggable dialogue generator: given the agent and the
// player's message it returns a raw turn payload to be sanitized.
type turnProducer func(ctx context.Context, agent actions.AgentRef, message string) (turnguard.Turn, error)

// cannedTurn is the built-in producer used when no dialogue model is wired.
func cannedTurn(_ context.Context, agent actions.AgentRef, message string) (turnguard.Turn, error) {
	return turnguard.Turn{
		Say:  fmt.Sprintf("%s weighs your words.", agent.Name),
		Tone: "wary",
	}, nil
}

func (s *shell) repl(in *os.File) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" {
			return nil
		}
		if err := s.handle(line); err != nil {
			if memstore.IsFatal(err) {
				// Graceful cleanup races the grace timer on the way out.
				time.AfterFunc(shutdownGrace, func() { os.Exit(1) })
				return err
			}
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

func (s *shell) handle(line string) error {
	if strings.HasPrefix(line, "{") {
		return s.handleJSON(line)
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "talk":
		if len(fields) < 3 {
			return fmt.Errorf("usage: talk <agent> <message>")
		}
		return s.handleTalk(fields[1], strings.Join(fields[2:], " "))
	case "god":
		if len(fields) < 2 {
			return fmt.Errorf("usage: god <command>")
		}
		return s.handleGod(strings.Join(fields[1:], " "))
	}
	return fmt.Errorf("unknown command %q", fields[0])
}

func (s *shell) handleTalk(agentName, message string) error {
	snap, err := s.store.GetSnapshot()
	if err != nil {
		return err
	}
	faction := ""
	if rec := snap.Agents[agentName]; rec != nil {
		faction = rec.Profile.Faction
	}
	agent := actions.AgentRef{Name: agentName, Faction: faction}
	s.presence.markOnline(agentName)
	s.presence.setPending(agentName, true)

	opID := flow.DeriveOperationID(opIDWindowMs, "talk", agentName, message)
	return s.talkQueue.Do(agentName, func() error {
		if err := s.turns.RecordIncoming(agent, snap.World.Player.Name, message, opID); err != nil {
			return err
		}
		raw, err := flow.WithTimeout(context.Background(), s.dialogueTO, "dialogue_request",
			func(ctx context.Context) (turnguard.Turn, error) {
				var turn turnguard.Turn
				err := s.dialogue.With(ctx, func() error {
					var perr error
					turn, perr = s.produce(ctx, agent, message)
					return perr
				})
				return turn, err
			})
		fallback := turnguard.Turn{Say: "...", Tone: "calm"}
		if err != nil {
			slog.Warn("dialogue producer failed, using fallback", "agent", agentName, "error", err)
			raw = fallback
		}
		result, err := s.turns.ApplyTurn(agent, raw, fallback, opID)
		if err != nil {
			return err
		}
		s.presence.setPending(agentName, false)
		fmt.Fprintf(s.out, "%s: %s\n", agentName, result.Turn.Say)
		for _, outcome := range result.Outcomes {
			if outcome.Accepted {
				fmt.Fprintf(s.out, "  [%s] %s\n", outcome.Action.Type, outcome.Outcome)
			}
		}
		if !result.PlayerAlive {
			fmt.Fprintln(s.out, "You are dead.")
		}
		return nil
	})
}

func (s *shell) handleGod(command string) error {
	opID := flow.DeriveOperationID(opIDWindowMs, "god", command)
	resp, err := s.god.Apply(god.Request{Command: command, OperationID: opID})
	if err != nil {
		return err
	}
	if !resp.Applied {
		fmt.Fprintf(s.out, "rejected: %s\n", resp.Reason)
		return nil
	}
	for _, line := range resp.OutputLines {
		fmt.Fprintln(s.out, line)
	}
	return nil
}

func (s *shell) handleJSON(line string) error {
	var probe struct {
		Type          string `json:"type"`
		SchemaVersion any    `json:"schemaVersion"`
	}
	if err := json.Unmarshal([]byte(line), &probe); err != nil {
		return fmt.Errorf("malformed JSON line: %w", err)
	}
	switch probe.Type {
	case worldmem.RequestType:
		req, err := worldmem.ParseRequest([]byte(line))
		if err != nil {
			return err
		}
		resp, err := s.contexts.Build(req)
		if err != nil {
			return err
		}
		return s.printJSON(resp)
	default:
		h, err := execution.ParseHandoff([]byte(line))
		if err != nil {
			return err
		}
		res, err := s.adapter.Execute(h)
		if err != nil {
			return err
		}
		return s.printJSON(res)
	}
}

func (s *shell) printJSON(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, string(raw))
	return nil
}
