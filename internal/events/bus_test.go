package events

import (
	"sync"
	"testing"
)

func TestPublish_DeliversToTypedAndAllSubscribers(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	var typed, all []Event
	bus.Subscribe(EventBotStatusChanged, func(e Event) {
		mu.Lock()
		typed = append(typed, e)
		mu.Unlock()
	})
	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		all = append(all, e)
		mu.Unlock()
	})

	bus.PublishBotStatus("u1", map[string]string{"status": "running"})
	bus.PublishUsage("u1", "connection")
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(typed) != 1 {
		t.Fatalf("expected 1 typed delivery, got %d", len(typed))
	}
	if typed[0].UserID != "u1" || typed[0].Timestamp.IsZero() {
		t.Errorf("unexpected event: %+v", typed[0])
	}
	if len(all) != 2 {
		t.Errorf("expected 2 deliveries to SubscribeAll, got %d", len(all))
	}
}

func TestPublishLicenseChanged_MergesDetails(t *testing.T) {
	bus := NewEventBus()
	got := make(chan Event, 1)
	bus.Subscribe(EventLicenseChanged, func(e Event) { got <- e })

	bus.PublishLicenseChanged("u1", "upgraded", map[string]interface{}{"tier": "premium"})
	bus.Wait()

	e := <-got
	if e.Data["change"] != "upgraded" || e.Data["tier"] != "premium" {
		t.Errorf("unexpected data: %v", e.Data)
	}
}

func TestPublishMaintenance_IsSystemWide(t *testing.T) {
	bus := NewEventBus()
	got := make(chan Event, 1)
	bus.Subscribe(EventMaintenanceCompleted, func(e Event) { got <- e })

	bus.PublishMaintenance("daily", map[string]interface{}{"reset": int64(3)})
	bus.Wait()

	e := <-got
	if e.UserID != "" {
		t.Errorf("maintenance events carry no user, got %q", e.UserID)
	}
	if e.Data["job"] != "daily" {
		t.Errorf("unexpected job: %v", e.Data["job"])
	}
}
