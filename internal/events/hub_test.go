package events

import (
	"testing"
	"time"

	"github.com/eci-platform/notifyd/internal/domain"
)

func TestPublishSubscribe(t *testing.T) {
	hub := NewHub()

	sub := &Subscriber{
		ID:     "s1",
		Events: make(chan DeliveryEvent, 10),
	}
	hub.Subscribe(sub)
	defer hub.Unsubscribe("s1")

	hub.Publish(DeliveryEvent{JobID: "j1", State: domain.StateDelivered, Timestamp: time.Now()})

	select {
	case ev := <-sub.Events:
		if ev.JobID != "j1" || ev.State != domain.StateDelivered {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestJobIDFilter(t *testing.T) {
	hub := NewHub()

	sub := &Subscriber{
		ID:     "s1",
		JobID:  "j2",
		Events: make(chan DeliveryEvent, 10),
	}
	hub.Subscribe(sub)
	defer hub.Unsubscribe("s1")

	hub.Publish(DeliveryEvent{JobID: "j1", State: domain.StateSending})
	hub.Publish(DeliveryEvent{JobID: "j2", State: domain.StateRetrying})

	select {
	case ev := <-sub.Events:
		if ev.JobID != "j2" {
			t.Errorf("filter leaked event for job %s", ev.JobID)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}

	select {
	case ev := <-sub.Events:
		t.Errorf("unexpected second event %+v", ev)
	default:
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()

	sub := &Subscriber{
		ID:     "slow",
		Events: make(chan DeliveryEvent, 1),
	}
	hub.Subscribe(sub)
	defer hub.Unsubscribe("slow")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish(DeliveryEvent{JobID: "j1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()

	sub := &Subscriber{ID: "s1", Events: make(chan DeliveryEvent, 1)}
	hub.Subscribe(sub)
	if hub.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.SubscriberCount())
	}

	hub.Unsubscribe("s1")
	if hub.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", hub.SubscriberCount())
	}

	if _, open := <-sub.Events; open {
		t.Error("channel should be closed after unsubscribe")
	}
}
