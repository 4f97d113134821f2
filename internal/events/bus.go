package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventBotStatusChanged     EventType = "BOT_STATUS_CHANGED"
	EventUsageRecorded        EventType = "USAGE_RECORDED"
	EventLicenseChanged       EventType = "LICENSE_CHANGED"
	EventSettingsUpdated      EventType = "SETTINGS_UPDATED"
	EventMaintenanceCompleted EventType = "MAINTENANCE_COMPLETED"
)

// Event represents a system event. UserID is empty for system-wide events.
type Event struct {
	Type      EventType              `json:"type"`
	UserID    string                 `json:"user_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
	wg          sync.WaitGroup
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
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

// Publish sends an event to all subscribers. Each subscriber runs in its
// own goroutine so a slow consumer never blocks the publisher.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range eb.subscribers[event.Type] {
		eb.dispatch(sub, event)
	}
	for _, sub := range eb.allSubs {
		eb.dispatch(sub, event)
	}
}

func (eb *EventBus) dispatch(sub Subscriber, event Event) {
	eb.wg.Add(1)
	go func() {
		defer eb.wg.Done()
		sub(event)
	}()
}

// Wait blocks until every delivery started so far has returned
func (eb *EventBus) Wait() {
	eb.wg.Wait()
}

// PublishBotStatus publishes a bot status snapshot for a principal
func (eb *EventBus) PublishBotStatus(userID string, snapshot interface{}) {
	eb.Publish(Event{
		Type:   EventBotStatusChanged,
		UserID: userID,
		Data:   map[string]interface{}{"status": snapshot},
	})
}

// PublishUsage publishes one recorded usage unit
func (eb *EventBus) PublishUsage(userID, action string) {
	eb.Publish(Event{
		Type:   EventUsageRecorded,
		UserID: userID,
		Data:   map[string]interface{}{"action": action},
	})
}

// PublishLicenseChanged publishes a license lifecycle change
func (eb *EventBus) PublishLicenseChanged(userID, change string, details map[string]interface{}) {
	data := map[string]interface{}{"change": change}
	for k, v := range details {
		data[k] = v
	}
	eb.Publish(Event{
		Type:   EventLicenseChanged,
		UserID: userID,
		Data:   data,
	})
}

// PublishSettingsUpdated tells the principal's dashboards to refetch a section
func (eb *EventBus) PublishSettingsUpdated(userID, section string) {
	eb.Publish(Event{
		Type:   EventSettingsUpdated,
		UserID: userID,
		Data:   map[string]interface{}{"section": section},
	})
}

// PublishMaintenance publishes the outcome of a maintenance run
func (eb *EventBus) PublishMaintenance(job string, data map[string]interface{}) {
	payload := map[string]interface{}{"job": job}
	for k, v := range data {
		payload[k] = v
	}
	eb.Publish(Event{
		Type: EventMaintenanceCompleted,
		Data: payload,
	})
}
