package notifier

import (
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// Critical events
	EventCircuitBreakerOpen EventType = "circuit_breaker_open"
	EventCatalogOutage      EventType = "catalog_outage"

	// Warning events
	EventCacheSnapshotFailed EventType = "cache_snapshot_failed"

	// Info events
	EventCircuitBreakerRecovered EventType = "circuit_breaker_recovered"
	EventServerStarted           EventType = "server_started"
	EventCacheCleared            EventType = "cache_cleared"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Event is something an operator may want to hear about.
type Event struct {
	Type      EventType
	Severity  Severity
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

func NewEvent(eventType EventType, severity Severity, message string) *Event {
	return &Event{
		Type:      eventType,
		Severity:  severity,
		Message:   message,
		Data:      make(map[string]interface{}),
		Timestamp: time.Now(),
	}
}

// WithData adds data to the event (chainable)
func (e *Event) WithData(key string, value interface{}) *Event {
	e.Data[key] = value
	return e
}

type EventHandler func(event *Event)

// EventBus fans events out to subscribers. Handlers run on their own
// goroutines, so Publish never blocks and is safe to call while holding
// other locks.
type EventBus struct {
	handlers    map[EventType][]EventHandler
	allHandlers []EventHandler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[EventType][]EventHandler)}
}

// Subscribe adds a handler for a specific event type
func (b *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll adds a handler that receives every event
func (b *EventBus) SubscribeAll(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allHandlers = append(b.allHandlers, handler)
}

func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, handler := range b.handlers[event.Type] {
		go handler(event)
	}
	for _, handler := range b.allHandlers {
		go handler(event)
	}
}

func (b *EventBus) PublishCircuitBreakerOpen(name string, failures int, cooldown time.Duration) {
	b.Publish(NewEvent(EventCircuitBreakerOpen, SeverityCritical,
		"Circuit breaker opened after consecutive catalog failures").
		WithData("name", name).
		WithData("failures", failures).
		WithData("cooldown", cooldown.String()))
}

func (b *EventBus) PublishCircuitBreakerRecovered(name string) {
	b.Publish(NewEvent(EventCircuitBreakerRecovered, SeverityInfo,
		"Circuit breaker closed, catalog calls resumed").
		WithData("name", name))
}

// PublishCatalogOutage reports a request for which every genre query failed.
func (b *EventBus) PublishCatalogOutage(text string, genres []string, firstErr string) {
	b.Publish(NewEvent(EventCatalogOutage, SeverityCritical,
		"Every catalog query for a request failed").
		WithData("text", text).
		WithData("genres", genres).
		WithData("error", firstErr))
}

func (b *EventBus) PublishCacheSnapshotFailed(err error) {
	b.Publish(NewEvent(EventCacheSnapshotFailed, SeverityWarning,
		"Cache snapshot failed").
		WithData("error", err.Error()))
}

func (b *EventBus) PublishCacheCleared(cleared int) {
	b.Publish(NewEvent(EventCacheCleared, SeverityInfo, "Response cache cleared").
		WithData("cleared", cleared))
}

func (b *EventBus) PublishServerStarted(port string, genres int) {
	b.Publish(NewEvent(EventServerStarted, SeverityInfo, "Server started").
		WithData("port", port).
		WithData("genres", genres))
}
