package realtime

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectEvents(buf chan Event, n int, t *testing.T) []Event {
	t.Helper()
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		select {
		case evt := <-buf:
			out = append(out, evt)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
	return out
}

func TestBusDeliversInPublishOrder(t *testing.T) {
	bus := NewBus(NewRegistry(), nil)
	received := make(chan Event, 16)
	bus.Subscribe("s1", "community", func(evt Event) { received <- evt })

	for i := 0; i < 5; i++ {
		bus.Publish("community", Event{
			Type: EventPostDeleted,
			Room: "community",
			Payload: PostDeletedPayload{
				PostID: fmt.Sprintf("p%d", i),
			},
		})
	}

	events := collectEvents(received, 5, t)
	for i, evt := range events {
		assert.Equal(t, fmt.Sprintf("p%d", i), evt.Payload.(PostDeletedPayload).PostID)
	}
}

func TestBusAllSubscribersSeeSameOrder(t *testing.T) {
	bus := NewBus(NewRegistry(), nil)
	a := make(chan Event, 32)
	b := make(chan Event, 32)
	bus.Subscribe("sa", "community", func(evt Event) { a <- evt })
	bus.Subscribe("sb", "community", func(evt Event) { b <- evt })

	const n = 20
	for i := 0; i < n; i++ {
		bus.Publish("community", Event{
			Type:    EventPostDeleted,
			Room:    "community",
			Payload: PostDeletedPayload{PostID: fmt.Sprintf("p%d", i)},
		})
	}

	eventsA := collectEvents(a, n, t)
	eventsB := collectEvents(b, n, t)
	assert.Equal(t, eventsA, eventsB)
}

func TestBusNoCrossRoomLeak(t *testing.T) {
	bus := NewBus(NewRegistry(), nil)
	received := make(chan Event, 4)
	bus.Subscribe("s1", "course:algo-101", func(evt Event) { received <- evt })

	bus.Publish("community", Event{Type: EventPostPinned, Room: "community"})
	bus.Publish("course:algo-101", Event{Type: EventPostPinned, Room: "course:algo-101"})

	events := collectEvents(received, 1, t)
	assert.Equal(t, "course:algo-101", events[0].Room)
	select {
	case evt := <-received:
		t.Fatalf("unexpected event from room %s", evt.Room)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	registry := NewRegistry()
	bus := NewBus(registry, nil)
	received := make(chan Event, 4)
	sub := bus.Subscribe("s1", "community", func(evt Event) { received <- evt })

	bus.Unsubscribe("s1", "community")
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close")
	}
	require.NoError(t, sub.Err())

	// Give the drain goroutine time to deregister, then publish.
	deadline := time.Now().Add(2 * time.Second)
	for registry.MemberCount("community") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("registry entry was not removed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	bus.Publish("community", Event{Type: EventPostPinned, Room: "community"})
	select {
	case <-received:
		t.Fatal("received event after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBusSlowConsumerIsClosedNotBlocked(t *testing.T) {
	bus := NewBus(NewRegistry(), nil)
	block := make(chan struct{})
	sub := bus.Subscribe("s1", "community", func(Event) { <-block })

	// One event may be in the handler plus queueSize buffered; everything
	// beyond that must overflow without blocking the publisher.
	for i := 0; i < queueSize+16; i++ {
		bus.Publish("community", Event{Type: EventPostPinned, Room: "community"})
	}

	select {
	case <-sub.Done():
		assert.ErrorIs(t, sub.Err(), ErrSlowConsumer)
	case <-time.After(2 * time.Second):
		t.Fatal("slow subscription was not closed")
	}
	close(block)
}

func TestBusResubscribeReplacesPrevious(t *testing.T) {
	registry := NewRegistry()
	bus := NewBus(registry, nil)
	first := bus.Subscribe("s1", "community", func(Event) {})

	received := make(chan Event, 4)
	bus.Subscribe("s1", "community", func(evt Event) { received <- evt })

	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("replaced subscription did not close")
	}
	// The session stays a member through the replacement subscription.
	assert.Equal(t, 1, registry.MemberCount("community"))

	bus.Publish("community", Event{Type: EventPostPinned, Room: "community"})
	collectEvents(received, 1, t)
}
