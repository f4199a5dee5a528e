package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversByType(t *testing.T) {
	bus := NewBus()
	news := bus.Subscribe(TypeNewsBroadcast)
	all := bus.Subscribe()

	bus.Emit(TypeNewsBroadcast, "towncrier", "hollow", map[string]any{"message": "war drums"})
	bus.Emit(TypeGodCommand, "god", "", nil)

	select {
	case ev := <-news:
		assert.Equal(t, TypeNewsBroadcast, ev.Type)
		assert.Equal(t, "hollow", ev.Subject)
		assert.Equal(t, "1.0", ev.SpecVersion)
		assert.NotEmpty(t, ev.ID)
	case <-time.After(time.Second):
		t.Fatal("typed subscriber got nothing")
	}

	got := 0
	timeout := time.After(time.Second)
	for got < 2 {
		select {
		case <-all:
			got++
		case <-timeout:
			t.Fatalf("all-subscriber saw %d of 2 events", got)
		}
	}

	select {
	case ev := <-news:
		t.Fatalf("typed subscriber saw unrelated event %s", ev.Type)
	default:
	}
}

func TestBusFullChannelDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TypeNewsPosted)
	for i := 0; i < 150; i++ {
		bus.Emit(TypeNewsPosted, "god", "", nil)
	}
	// The buffer holds 100; the rest were dropped and Emit never blocked.
	assert.Len(t, ch, 100)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TypeBackpressure)
	bus.Unsubscribe(ch)
	_, open := <-ch
	require.False(t, open)
	bus.Emit(TypeBackpressure, "loop", "", nil) // must not panic on the removed channel
}

type captureSink struct{ seen []*Envelope }

func (c *captureSink) Deliver(ev *Envelope) { c.seen = append(c.seen, ev) }

func TestSinkSeesEverything(t *testing.T) {
	bus := NewBus()
	sink := &captureSink{}
	bus.AddSink(sink)

	bus.Emit(TypeNewsBroadcast, "towncrier", "", nil)
	bus.Emit(TypeHandoffResult, "adapter", "", nil)
	assert.Len(t, sink.seen, 2)
}
