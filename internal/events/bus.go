package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the engine
type EventType string

const (
	EventOrderSubmitted    EventType = "ORDER_SUBMITTED"
	EventOrderFailed       EventType = "ORDER_FAILED"
	EventOrderGaveUp       EventType = "ORDER_GAVE_UP"
	EventTakeProfit        EventType = "TAKE_PROFIT"
	EventBreakEven         EventType = "BREAK_EVEN"
	EventStopLossInjected  EventType = "STOP_LOSS_INJECTED"
	EventLossGuard         EventType = "LOSS_GUARD"
	EventLedgerChanged     EventType = "LEDGER_CHANGED"
	EventSignalReceived    EventType = "SIGNAL_RECEIVED"
	EventSignalRejected    EventType = "SIGNAL_REJECTED"
	EventModeChanged       EventType = "MODE_CHANGED"
	EventSettingsChanged   EventType = "SETTINGS_CHANGED"
	EventTradingStopped    EventType = "TRADING_STOPPED"
	EventTradingResumed    EventType = "TRADING_RESUMED"
	EventNewsWindow        EventType = "NEWS_WINDOW"
	EventEngineStarted     EventType = "ENGINE_STARTED"
	EventEngineStopped     EventType = "ENGINE_STOPPED"
	EventError             EventType = "ERROR"
)

// Event represents an engine event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions. Subscribers run on
// their own goroutines and never see engine state directly.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. A nil bus drops the event.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishOrder publishes the outcome of one broker submission
func (eb *EventBus) PublishOrder(kind, symbol string, ticket int64, volume float64, attempt int, success bool, reason string) {
	t := EventOrderSubmitted
	if !success {
		t = EventOrderFailed
	}
	eb.Publish(Event{
		Type: t,
		Data: map[string]interface{}{
			"kind":    kind,
			"symbol":  symbol,
			"ticket":  ticket,
			"volume":  volume,
			"attempt": attempt,
			"reason":  reason,
		},
	})
}

// PublishGaveUp publishes an operation whose retries ran out
func (eb *EventBus) PublishGaveUp(kind, symbol string, ticket int64, attempts int, reason string) {
	eb.Publish(Event{
		Type: EventOrderGaveUp,
		Data: map[string]interface{}{
			"kind":     kind,
			"symbol":   symbol,
			"ticket":   ticket,
			"attempts": attempts,
			"reason":   reason,
		},
	})
}

// PublishTakeProfit publishes a take-profit stage firing
func (eb *EventBus) PublishTakeProfit(stage, symbol string, ticket int64, profit, realProfit float64) {
	eb.Publish(Event{
		Type: EventTakeProfit,
		Data: map[string]interface{}{
			"stage":       stage,
			"symbol":      symbol,
			"ticket":      ticket,
			"profit":      profit,
			"real_profit": realProfit,
		},
	})
}

// PublishLedger publishes a change of a symbol's realized profit
func (eb *EventBus) PublishLedger(symbol, reason string, delta, value float64) {
	eb.Publish(Event{
		Type: EventLedgerChanged,
		Data: map[string]interface{}{
			"symbol": symbol,
			"reason": reason,
			"delta":  delta,
			"value":  value,
		},
	})
}

// PublishSignal publishes a received or rejected signal
func (eb *EventBus) PublishSignal(raw string, accepted bool, reason string) {
	t := EventSignalReceived
	if !accepted {
		t = EventSignalRejected
	}
	eb.Publish(Event{
		Type: t,
		Data: map[string]interface{}{
			"payload": raw,
			"reason":  reason,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
