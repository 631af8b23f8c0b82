// Package events records ledger lifecycle events in a bounded ring buffer
// and fans them out to subscribers.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType classifies the kind of ledger event.
type EventType string

const (
	// Withdrawal workflow
	EventWithdrawalRequested EventType = "withdrawal.requested"
	EventWithdrawalExecuted  EventType = "withdrawal.executed"
	EventEmergencyWithdrawal EventType = "withdrawal.emergency"

	// Balance movements
	EventDeposit      EventType = "deposit"
	EventWithdraw     EventType = "withdraw"
	EventYieldClaimed EventType = "yield.claimed"

	// Administration
	EventLedgerInitialized      EventType = "ledger.initialized"
	EventLedgerUpgraded         EventType = "ledger.upgraded"
	EventFeeUpdated             EventType = "fee.updated"
	EventYieldRateUpdated       EventType = "yield_rate.updated"
	EventWithdrawalDelayUpdated EventType = "withdrawal_delay.updated"
	EventDepositsPaused         EventType = "deposits.paused"
	EventDepositsUnpaused       EventType = "deposits.unpaused"
	EventRoleGranted            EventType = "role.granted"
	EventRoleRevoked            EventType = "role.revoked"
)

// Event is a structured ledger event fired after an operation commits.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Account string `json:"account,omitempty"`
	Actor   string `json:"actor,omitempty"`
	Amount  uint64 `json:"amount,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	RequestID string `json:"request_id,omitempty"`
}

// String returns the JSON encoding of the event.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// EventHandler processes events as they occur.
type EventHandler func(Event)

// EventFilter decides whether an event should be processed.
type EventFilter func(Event) bool

// EventLogger is the sink the ledger emits into.
type EventLogger interface {
	Log(event Event)
	LogWithContext(ctx context.Context, event Event)
	SubscribeFiltered(filter EventFilter, handler EventHandler) func()
	Recent(n int) []Event
	RecentByAccount(account string, n int) []Event
	RecentByType(eventType EventType, n int) []Event
}

// RingBuffer is a thread-safe circular buffer for events.
type RingBuffer struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	filter  EventFilter
	handler EventHandler
}

var _ EventLogger = (*RingBuffer)(nil)

// NewRingBuffer creates a new event ring buffer.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

// Log adds an event to the buffer and notifies handlers.
func (rb *RingBuffer) Log(event Event) {
	rb.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	rb.events[rb.head] = event
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}

	handlers := make([]handlerEntry, len(rb.handlers))
	copy(handlers, rb.handlers)
	rb.mu.Unlock()

	// Notify handlers outside the lock
	for _, h := range handlers {
		if h.filter == nil || h.filter(event) {
			h.handler(event)
		}
	}
}

// LogWithContext attaches the request ID carried by ctx before logging.
func (rb *RingBuffer) LogWithContext(ctx context.Context, event Event) {
	if id := RequestIDFrom(ctx); id != "" {
		event.RequestID = id
	}
	rb.Log(event)
}

// SubscribeFiltered registers a handler and returns its unsubscribe func.
// A nil filter receives every event.
func (rb *RingBuffer) SubscribeFiltered(filter EventFilter, handler EventHandler) func() {
	rb.mu.Lock()
	id := rb.nextID
	rb.nextID++
	rb.handlers = append(rb.handlers, handlerEntry{
		id:      id,
		filter:  filter,
		handler: handler,
	})
	rb.mu.Unlock()

	return func() {
		rb.mu.Lock()
		defer rb.mu.Unlock()
		for i, h := range rb.handlers {
			if h.id == id {
				rb.handlers = append(rb.handlers[:i], rb.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns the most recent N events in reverse chronological order.
func (rb *RingBuffer) Recent(n int) []Event {
	return rb.collect(n, nil)
}

// RecentByAccount returns recent events touching a specific account.
func (rb *RingBuffer) RecentByAccount(account string, n int) []Event {
	return rb.collect(n, func(e Event) bool { return e.Account == account })
}

// RecentByType returns recent events of a specific type.
func (rb *RingBuffer) RecentByType(eventType EventType, n int) []Event {
	return rb.collect(n, func(e Event) bool { return e.Type == eventType })
}

func (rb *RingBuffer) collect(n int, match EventFilter) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}

	var result []Event
	for i := 0; i < rb.count && len(result) < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		if match == nil || match(rb.events[idx]) {
			result = append(result, rb.events[idx])
		}
	}
	return result
}

// Count returns the number of events in the buffer.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFrom returns the request ID stored in ctx, if any.
func RequestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(requestIDKey).(string); ok {
		return s
	}
	return ""
}

// EventBuilder provides a fluent API for creating events.
type EventBuilder struct {
	event Event
}

// NewEvent creates a new EventBuilder.
func NewEvent(eventType EventType) *EventBuilder {
	return &EventBuilder{event: Event{Type: eventType}}
}

// Account sets the account the event concerns.
func (b *EventBuilder) Account(account string) *EventBuilder {
	b.event.Account = account
	return b
}

// Actor sets the identity that triggered the event.
func (b *EventBuilder) Actor(actor string) *EventBuilder {
	b.event.Actor = actor
	return b
}

// Amount sets the amount moved.
func (b *EventBuilder) Amount(amount uint64) *EventBuilder {
	b.event.Amount = amount
	return b
}

// At sets the event timestamp from ledger seconds.
func (b *EventBuilder) At(unix int64) *EventBuilder {
	b.event.Timestamp = time.Unix(unix, 0).UTC()
	return b
}

// Metadata adds one metadata entry.
func (b *EventBuilder) Metadata(key, value string) *EventBuilder {
	if b.event.Metadata == nil {
		b.event.Metadata = make(map[string]string)
	}
	b.event.Metadata[key] = value
	return b
}

// MetadataUint adds one numeric metadata entry.
func (b *EventBuilder) MetadataUint(key string, value uint64) *EventBuilder {
	return b.Metadata(key, strconv.FormatUint(value, 10))
}

// Build returns the constructed event.
func (b *EventBuilder) Build() Event {
	return b.event
}

// NoOpLogger is an event logger that discards all events.
type NoOpLogger struct{}

func (NoOpLogger) Log(Event)                                          {}
func (NoOpLogger) LogWithContext(context.Context, Event)              {}
func (NoOpLogger) SubscribeFiltered(EventFilter, EventHandler) func() { return func() {} }
func (NoOpLogger) Recent(int) []Event                                 { return nil }
func (NoOpLogger) RecentByAccount(string, int) []Event                { return nil }
func (NoOpLogger) RecentByType(EventType, int) []Event                { return nil }
