// Package annotations provides a low-overhead event system for tracing
// transactions, query evaluation and change notification.
package annotations

import (
	"sync"
	"time"
)

// Event name constants following a hierarchical naming pattern
const (
	// Realm lifecycle
	RealmOpened  = "realm/opened"
	RealmClosed  = "realm/closed"
	RealmRefresh = "realm/refresh"

	// Write transactions
	TxBegin  = "tx/begin"
	TxCommit = "tx/commit"
	TxCancel = "tx/cancel"

	// Query evaluation
	QueryEvaluated  = "query/evaluated"
	QueryAggregated = "query/aggregated"

	// Live results
	ResultsNotified = "results/notified"
)

// Event represents a single annotation event.
type Event struct {
	Name    string                 // Event name using the constants above
	Start   time.Time              // Start timestamp
	End     time.Time              // End timestamp
	Latency time.Duration          // Duration (End - Start)
	Data    map[string]interface{} // Event-specific data
}

// Handler processes annotation events as they occur.
type Handler func(event Event)

// Collector accumulates events and forwards them to a handler.
type Collector struct {
	enabled bool
	handler Handler

	mu     sync.Mutex
	events []Event
}

// NewCollector creates a collector. A nil handler disables collection.
func NewCollector(handler Handler) *Collector {
	return &Collector{
		enabled: handler != nil,
		handler: handler,
		events:  make([]Event, 0, 64),
	}
}

// Enabled reports whether events are recorded. Callers use it to skip
// building event data on hot paths.
func (c *Collector) Enabled() bool {
	return c != nil && c.enabled
}

// Handler returns the underlying event handler.
func (c *Collector) Handler() Handler {
	if c == nil {
		return nil
	}
	return c.handler
}

// Add records a new event. Safe for concurrent use.
func (c *Collector) Add(event Event) {
	if !c.Enabled() {
		return
	}

	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()

	// Call handler outside the lock to avoid deadlocks
	c.handler(event)
}

// AddTiming records an event that started at start and ends now.
func (c *Collector) AddTiming(name string, start time.Time, data map[string]interface{}) {
	if !c.Enabled() {
		return
	}
	end := time.Now()
	c.Add(Event{
		Name:    name,
		Start:   start,
		End:     end,
		Latency: end.Sub(start),
		Data:    data,
	})
}

// Events returns a copy of all collected events.
func (c *Collector) Events() []Event {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Reset clears collected events, keeping the handler.
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = c.events[:0]
}
