package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestRuntimeCountersAndPercentiles(t *testing.T) {
	rt := NewRuntime()
	for i := 1; i <= 100; i++ {
		rt.RecordTransaction(PhaseTimings{
			Total:    time.Duration(i) * time.Millisecond,
			LockWait: time.Millisecond,
		})
	}
	rt.RecordDuplicate()
	rt.AddLockRetries(2)

	s := rt.Snapshot()
	assert.Equal(t, uint64(100), s.TxTotal)
	assert.Equal(t, uint64(1), s.TxSkipped)
	assert.Equal(t, uint64(2), s.LockRetries)
	assert.Equal(t, uint64(25), s.SlowTx) // 76..100ms exceed the slow threshold
	assert.InDelta(t, 50.5, s.AvgTxMs, 0.01)
	assert.InDelta(t, 100, s.P99TxMs, 1.0)
}

func TestLockTimeoutCounterIsMonotonic(t *testing.T) {
	rt := NewRuntime()
	var prev uint64
	for i := 0; i < 5; i++ {
		rt.CountLockTimeout()
		s := rt.Snapshot()
		assert.Greater(t, s.LockTimeouts, prev)
		prev = s.LockTimeouts
	}
}

func TestRingEvictsFromFront(t *testing.T) {
	g := newRing(4)
	for i := 1; i <= 6; i++ {
		g.push(float64(i))
	}
	// 1 and 2 have been overwritten
	assert.InDelta(t, (3+4+5+6)/4.0, g.avg(), 0.001)
}

func TestCollectorsRegisterOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectors(reg)
	c.ObserveTransaction(PhaseTimings{Total: 10 * time.Millisecond})
	c.HandoffTotal.WithLabelValues("executed").Inc()

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}
