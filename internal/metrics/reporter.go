package metrics

import (
	"log/slog"
	"time"
)

// Reporter periodically logs a runtime metrics summary. Start and Stop are
// explicit; a stopped reporter can not be restarted.
type Reporter struct {
	runtime  *Runtime
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewReporter creates a reporter for the given runtime store.
func NewReporter(rt *Runtime, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reporter{
		runtime:  rt,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the reporting loop.
func (r *Reporter) Start() {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.emit()
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit.
func (r *Reporter) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Reporter) emit() {
	s := r.runtime.Snapshot()
	slog.Info("runtime metrics",
		"tx_total", s.TxTotal,
		"tx_skipped", s.TxSkipped,
		"slow_tx", s.SlowTx,
		"lock_retries", s.LockRetries,
		"lock_timeouts", s.LockTimeouts,
		"avg_tx_ms", s.AvgTxMs,
		"p99_tx_ms", s.P99TxMs,
		"avg_lock_wait_ms", s.AvgLockWaitMs,
	)
}
