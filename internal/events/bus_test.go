package events

import (
	"testing"
	"time"
)

// TestPublishSubscribe verifies basic publish/subscribe delivery.
func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicOrchestration, 10)

	bus.Publish(TopicOrchestration, TaskCompletedEvent{
		ID:        "T001",
		Session:   0,
		Timestamp: time.Now(),
	})

	select {
	case received := <-ch:
		evt, ok := received.(TaskCompletedEvent)
		if !ok {
			t.Fatalf("expected TaskCompletedEvent, got %T", received)
		}
		if evt.ID != "T001" {
			t.Errorf("event ID = %q, want T001", evt.ID)
		}
		if received.EventType() != EventTypeTaskCompleted {
			t.Errorf("event type = %q, want %q", received.EventType(), EventTypeTaskCompleted)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestSubscribeAll verifies that all-topic subscribers see every topic.
func TestSubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	all := bus.SubscribeAll(10)

	bus.Publish(TopicOrchestration, PhaseStartedEvent{Phase: "phase-0", Timestamp: time.Now()})
	bus.Publish(TopicMerge, MergeFinishedEvent{Success: true, Timestamp: time.Now()})

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case received := <-all:
			got[received.EventType()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for events")
		}
	}
	if !got[EventTypePhaseStarted] || !got[EventTypeMergeFinished] {
		t.Errorf("received %v, want both phase.started and merge.finished", got)
	}
}

// TestTopicIsolation verifies topic subscribers don't see other topics.
func TestTopicIsolation(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	mergeCh := bus.Subscribe(TopicMerge, 10)
	bus.Publish(TopicOrchestration, PhaseStartedEvent{Phase: "phase-0"})

	select {
	case evt := <-mergeCh:
		t.Errorf("merge subscriber received %v from orchestration topic", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestCloseIdempotent verifies Close is safe to call twice and closes
// subscriber channels.
func TestCloseIdempotent(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicOrchestration, 1)

	bus.Close()
	bus.Close()

	if _, ok := <-ch; ok {
		t.Error("subscriber channel not closed")
	}

	// Publishing after close is a no-op, not a panic.
	bus.Publish(TopicOrchestration, PhaseStartedEvent{Phase: "phase-0"})
}

// TestFullChannelDrops verifies a full subscriber drops rather than
// blocking the publisher.
func TestFullChannelDrops(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicOrchestration, 1)
	bus.Publish(TopicOrchestration, PhaseStartedEvent{Phase: "phase-0"})

	done := make(chan struct{})
	go func() {
		bus.Publish(TopicOrchestration, PhaseStartedEvent{Phase: "phase-1"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full subscriber")
	}

	if evt := <-ch; evt.(PhaseStartedEvent).Phase != "phase-0" {
		t.Errorf("first buffered event = %v, want phase-0", evt)
	}
}
