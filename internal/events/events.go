// Package events provides the structured event stream shared by the
// dashboard feed and offline profit calibration.
package events

import (
	"sync"
	"time"
)

// Type classifies an event on the stream.
type Type string

// Event types emitted by the engine.
const (
	TypeQuoteTick        Type = "quote_tick"
	TypeCycleFound       Type = "cycle_found"
	TypeCycleRejected    Type = "cycle_rejected"
	TypeExecutionStarted Type = "execution_started"
	TypeExecutionResult  Type = "execution_result"
	TypeProfitVerified   Type = "profit_verified"
	TypeSequenceResync   Type = "sequence_resync"
)

// Event is a single structured record on the stream. Fields carry
// enough detail (amounts, venues, reasons) for threshold tuning.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// New creates an event stamped with the current time.
func New(t Type, fields map[string]any) Event {
	return Event{Type: t, Timestamp: time.Now().UTC(), Fields: fields}
}

// Bus fans events out to subscribers. Slow subscribers drop events
// rather than blocking the publisher; the stream is advisory, the
// polling loop must never stall on it.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
	closed bool
}

// NewBus creates a bus whose subscriber channels hold up to buffer events.
func NewBus(buffer int) *Bus {
	if buffer < 1 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

// Publish delivers ev to all subscribers without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// subscriber lagging, drop
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// must be called to release the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
