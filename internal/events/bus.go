// Package events is the in-process pub/sub bus the simulation core announces
// itself on: town-crier broadcasts, god news, executed receipts, backpressure
// flips. Delivery is best effort and never fails a transaction.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published by the core.
const (
	TypeNewsBroadcast = "worldcore.news.broadcast"
	TypeNewsPosted    = "worldcore.news.posted"
	TypeHandoffResult = "worldcore.execution.result"
	TypeBackpressure  = "worldcore.loop.backpressure"
	TypeIntentPlanned = "worldcore.loop.intent"
	TypeGodCommand    = "worldcore.god.command"
)

// Emitter is the interface producers publish through. The Bus satisfies it;
// a NopEmitter stands in when eventing is disabled.
type Emitter interface {
	Emit(eventType, source, subject string, data map[string]any)
}

// Envelope is the versioned event wrapper, CloudEvents-shaped.
type Envelope struct {
	SpecVersion string         `json:"specversion"`
	Type        string         `json:"type"`
	Source      string         `json:"source"`
	ID          string         `json:"id"`
	Time        time.Time      `json:"time"`
	Subject     string         `json:"subject,omitempty"`
	Data        map[string]any `json:"data"`
}

// NewEnvelope builds a versioned envelope.
func NewEnvelope(eventType, source, subject string, data map[string]any) *Envelope {
	return &Envelope{
		SpecVersion: "1.0",
		Type:        eventType,
		Source:      source,
		ID:          uuid.NewString(),
		Time:        time.Now().UTC(),
		Subject:     subject,
		Data:        data,
	}
}

// Bus is an in-process pub/sub bus. Subscribers receive envelopes on buffered
// channels; a full channel drops, never blocks.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *Envelope
	allSubs     []chan *Envelope
	sinks       []Sink
	bufferSize  int
}

// Sink receives every published envelope, e.g. a Redis publisher.
type Sink interface {
	Deliver(ev *Envelope)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]chan *Envelope),
		bufferSize:  100,
	}
}

// AddSink attaches a delivery sink for every event.
func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Subscribe returns a channel receiving events of the given types, or all
// events when none are named.
func (b *Bus) Subscribe(eventTypes ...string) chan *Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan *Envelope, b.bufferSize)
	if len(eventTypes) == 0 {
		b.allSubs = append(b.allSubs, ch)
	} else {
		for _, et := range eventTypes {
			b.subscribers[et] = append(b.subscribers[et], ch)
		}
	}
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (b *Bus) Unsubscribe(ch chan *Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for et, subs := range b.subscribers {
		b.subscribers[et] = withoutChan(subs, ch)
	}
	b.allSubs = withoutChan(b.allSubs, ch)
	close(ch)
}

func withoutChan(subs []chan *Envelope, ch chan *Envelope) []chan *Envelope {
	out := make([]chan *Envelope, 0, len(subs))
	for _, s := range subs {
		if s != ch {
			out = append(out, s)
		}
	}
	return out
}

// Publish fans the envelope out to matching subscribers and sinks.
func (b *Bus) Publish(ev *Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers[ev.Type] {
		select {
		case ch <- ev:
		default:
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- ev:
		default:
		}
	}
	for _, sink := range b.sinks {
		sink.Deliver(ev)
	}
}

// Emit builds an envelope and publishes it.
func (b *Bus) Emit(eventType, source, subject string, data map[string]any) {
	b.Publish(NewEnvelope(eventType, source, subject, data))
}

// NopEmitter drops everything.
type NopEmitter struct{}

// Emit does nothing.
func (NopEmitter) Emit(string, string, string, map[string]any) {}
