package worldloop

import (
	"fmt"

	"github.com/Byzantine-1/MineCraftGodWorld-sub002/internal/metrics"
)

// Backpressure thresholds over the store's runtime metrics.
const (
	lockRetrySpikeDelta = 3
	p99HardLimitMs      = 250
	avgHardLimitMs      = 120
	risingFactor        = 1.3
	p99RisingFloorMs    = 100
	avgRisingFloorMs    = 80
)

// evalBackpressure compares this tick's metrics snapshot against the previous
// tick's. A non-empty reason sheds the whole tick.
func (l *Loop) evalBackpressure(cur metrics.RuntimeSnapshot) string {
	if cur.LockTimeouts > 0 {
		return "lock_timeouts_detected"
	}
	if l.prevValid {
		if delta := cur.LockRetries - l.prev.LockRetries; delta >= lockRetrySpikeDelta {
			return fmt.Sprintf("lock_retry_spike:%d", delta)
		}
	}
	if cur.P99TxMs > p99HardLimitMs {
		return fmt.Sprintf("high_p99_tx:%.2f", cur.P99TxMs)
	}
	if cur.AvgTxMs > avgHardLimitMs {
		return fmt.Sprintf("high_avg_tx:%.2f", cur.AvgTxMs)
	}
	if l.prevValid {
		if l.prev.P99TxMs > 0 && cur.P99TxMs > risingFactor*l.prev.P99TxMs && cur.P99TxMs > p99RisingFloorMs {
			return "rising_p99_tx"
		}
		if l.prev.AvgTxMs > 0 && cur.AvgTxMs > risingFactor*l.prev.AvgTxMs && cur.AvgTxMs > avgRisingFloorMs {
			return "rising_avg_tx"
		}
	}
	return ""
}
