// Package memstore is the transactional core: it serializes every mutation of
// the world snapshot, persists it crash-safely by atomic rename, and enforces
// event-id idempotency.
package memstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/metrics"
	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/world"
)

// Options configures a Store.
type Options struct {
	// Path of the snapshot JSON file. Required.
	Path string
	// Runtime receives counters and timings. Required.
	Runtime *metrics.Runtime
	// Collectors optionally mirrors timings into Prometheus.
	Collectors *metrics.Collectors
}

// TxOptions controls a single Transact call.
type TxOptions struct {
	// EventID makes the call idempotent: a second call with the same id
	// returns {Skipped: true} without running the mutator.
	EventID string
	// SkipPersist commits to the in-process snapshot only.
	SkipPersist bool
}

// TxOutcome is what a Transact call observed.
type TxOutcome struct {
	Skipped bool
	Result  any
}

// Mutator is a transaction body. It must be pure CPU over the working copy:
// no I/O, no nested Transact.
type Mutator func(s *world.Snapshot) (any, error)

// Store owns the snapshot file. All writes flow through a single serial lane,
// so at most one transaction body runs at a time; callers observe FIFO order
// from their enqueue point.
type Store struct {
	path    string
	runtime *metrics.Runtime
	prom    *metrics.Collectors

	lane   chan laneTask
	closed chan struct{}
	wg     sync.WaitGroup

	mu       sync.RWMutex
	snapshot *world.Snapshot

	crashMu   sync.Mutex
	crashHook func() error
}

type laneTask struct {
	run  func()
	done chan struct{}
}

// New creates a store and starts its serial lane.
func New(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("memstore: path is required")
	}
	if opts.Runtime == nil {
		return nil, fmt.Errorf("memstore: runtime metrics are required")
	}
	s := &Store{
		path:    opts.Path,
		runtime: opts.Runtime,
		prom:    opts.Collectors,
		lane:    make(chan laneTask, 64),
		closed:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.drainLane()
	return s, nil
}

func (s *Store) drainLane() {
	defer s.wg.Done()
	for {
		select {
		case task := <-s.lane:
			task.run()
			close(task.done)
		case <-s.closed:
			// Drain whatever was enqueued before close.
			for {
				select {
				case task := <-s.lane:
					task.run()
					close(task.done)
				default:
					return
				}
			}
		}
	}
}

// Close drains the lane and stops the worker. Pending transactions complete.
func (s *Store) Close() {
	close(s.closed)
	s.wg.Wait()
}

// SetCrashHook installs a hook invoked after the lock is acquired and before
// persist. A non-nil return simulates a crash: the transaction is abandoned
// without persisting. Test harness only.
func (s *Store) SetCrashHook(hook func() error) {
	s.crashMu.Lock()
	s.crashHook = hook
	s.crashMu.Unlock()
}

// Load reads the snapshot from disk into the in-process copy, falling back to
// the fresh shape when the file is absent or unreadable.
func (s *Store) Load() (*world.Snapshot, error) {
	snap := s.readFromDisk()
	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
	return snap.Clone()
}

// GetSnapshot returns a deep copy of the current in-process snapshot,
// loading it on first use.
func (s *Store) GetSnapshot() (*world.Snapshot, error) {
	s.mu.RLock()
	snap := s.snapshot
	s.mu.RUnlock()
	if snap == nil {
		return s.Load()
	}
	return snap.Clone()
}

// HasProcessedEvent reports whether the event id is already in the processed
// ring of the current snapshot.
func (s *Store) HasProcessedEvent(eventID string) bool {
	snap, err := s.GetSnapshot()
	if err != nil {
		return false
	}
	return snap.World.HasProcessedEvent(eventID)
}

// Save persists the current in-process snapshot. Used at shutdown.
func (s *Store) Save() error {
	_, err := s.Transact(func(*world.Snapshot) (any, error) { return nil, nil }, TxOptions{})
	return err
}

// Transact enqueues the mutator on the serial lane and blocks until it has
// committed (or skipped, or failed). See the package doc for the protocol.
func (s *Store) Transact(mutator Mutator, opts TxOptions) (TxOutcome, error) {
	var outcome TxOutcome
	var err error
	task := laneTask{done: make(chan struct{})}
	task.run = func() {
		outcome, err = s.runTransaction(mutator, opts)
	}
	select {
	case s.lane <- task:
	case <-s.closed:
		return TxOutcome{}, fmt.Errorf("memstore: store is closed")
	}
	<-task.done
	return outcome, err
}

// runTransaction executes one transaction body. It only ever runs on the
// lane worker goroutine.
func (s *Store) runTransaction(mutator Mutator, opts TxOptions) (TxOutcome, error) {
	start := time.Now()
	var phases metrics.PhaseTimings

	release, lockWait, retries, lockErr := s.acquireLock()
	phases.LockWait = lockWait
	s.runtime.AddLockRetries(retries)
	if s.prom != nil && retries > 0 {
		s.prom.LockRetries.Add(float64(retries))
	}
	if lockErr != nil {
		s.runtime.CountLockTimeout()
		if s.prom != nil {
			s.prom.LockTimeouts.Inc()
		}
		return TxOutcome{}, lockErr
	}
	defer release()

	current := s.readFromDisk()

	if opts.EventID != "" && current.World.HasProcessedEvent(opts.EventID) {
		s.runtime.RecordDuplicate()
		if s.prom != nil {
			s.prom.TxTotal.WithLabelValues("skipped").Inc()
		}
		return TxOutcome{Skipped: true, Result: nil}, nil
	}

	cloneStart := time.Now()
	working, err := current.Clone()
	if err != nil {
		return TxOutcome{}, fmt.Errorf("memstore: clone: %w", err)
	}
	phases.Clone = time.Since(cloneStart)

	result, err := mutator(working)
	if err != nil {
		return TxOutcome{}, err
	}

	if opts.EventID != "" {
		working.World.MarkEventProcessed(opts.EventID)
	}

	s.crashMu.Lock()
	hook := s.crashHook
	s.crashMu.Unlock()
	if hook != nil {
		if hookErr := hook(); hookErr != nil {
			return TxOutcome{}, fmt.Errorf("memstore: simulated crash: %w", hookErr)
		}
	}

	if !opts.SkipPersist {
		working.World.DecisionEpoch++
		if err := s.persist(working, &phases); err != nil {
			return TxOutcome{}, err
		}
	}

	s.mu.Lock()
	s.snapshot = working
	s.mu.Unlock()

	phases.Total = time.Since(start)
	s.runtime.RecordTransaction(phases)
	if s.prom != nil {
		s.prom.ObserveTransaction(phases)
	}
	if phases.Total > metrics.SlowTransactionThreshold {
		slog.Warn("slow transaction",
			"total_ms", phases.Total.Milliseconds(),
			"lock_wait_ms", phases.LockWait.Milliseconds(),
			"event_id", opts.EventID,
		)
	}
	return TxOutcome{Result: result}, nil
}

// persist serializes the working copy, writes a sibling temp file, and
// renames it over the target. Rename is the commit point.
func (s *Store) persist(snap *world.Snapshot, phases *metrics.PhaseTimings) error {
	marshalStart := time.Now()
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("memstore: marshal snapshot: %w", err)
	}
	phases.Marshal = time.Since(marshalStart)

	tmp := fmt.Sprintf("%s.%d.%d.tmp", s.path, os.Getpid(), time.Now().UnixMilli())
	writeStart := time.Now()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return &FatalError{Op: "mkdir snapshot dir", Err: err}
	}
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return &FatalError{Op: "write temp snapshot", Err: err}
	}
	phases.Write = time.Since(writeStart)

	renameStart := time.Now()
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return &FatalError{Op: "rename snapshot", Err: err}
	}
	phases.Rename = time.Since(renameStart)
	return nil
}

// readFromDisk loads the snapshot file, returning the fresh shape when the
// file is missing or malformed. Malformed is the only case where state is
// discarded without an explicit caller request.
func (s *Store) readFromDisk() *world.Snapshot {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("snapshot unreadable, starting fresh", "path", s.path, "error", err)
		}
		return world.NewSnapshot()
	}
	var snap world.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		slog.Warn("snapshot malformed, resetting to fresh shape", "path", s.path, "error", err)
		return world.NewSnapshot()
	}
	snap.Normalize()
	return &snap
}
