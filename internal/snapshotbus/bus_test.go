package snapshotbus

import (
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/orion-gaze/internal/types"
)

func snap(ts float64) types.Snapshot {
	return types.Snapshot{Timestamp: ts}
}

// TestBasicPublishSubscribe verifies basic functionality.
func TestBasicPublishSubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan types.Snapshot, 10)
	if err := bus.Subscribe("test", ch); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	bus.Publish(snap(1))

	select {
	case received := <-ch:
		if received.Timestamp != 1 {
			t.Errorf("Expected timestamp 1, got %v", received.Timestamp)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Timeout waiting for snapshot")
	}
}

// TestNonBlockingPublish verifies Publish never blocks on a full subscriber.
func TestNonBlockingPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan types.Snapshot, 1)
	bus.Subscribe("slow", ch)

	done := make(chan bool)
	go func() {
		bus.Publish(snap(1)) // fills the buffer
		bus.Publish(snap(2)) // dropped
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Publish blocked (should be non-blocking)")
	}

	if received := <-ch; received.Timestamp != 1 {
		t.Errorf("Expected timestamp 1, got %v", received.Timestamp)
	}

	stats, err := bus.SubscriberStats("slow")
	if err != nil {
		t.Fatalf("SubscriberStats failed: %v", err)
	}
	if stats.Sent != 1 || stats.Dropped != 1 {
		t.Errorf("Expected 1 sent / 1 dropped, got %d / %d", stats.Sent, stats.Dropped)
	}
}

// TestStatsConservation verifies sent + dropped == published × subscribers.
func TestStatsConservation(t *testing.T) {
	bus := New()
	defer bus.Close()

	bus.Subscribe("mqtt", make(chan types.Snapshot, 10))
	bus.Subscribe("redis", make(chan types.Snapshot, 1))
	latest, err := bus.SubscribeLatest("http")
	if err != nil {
		t.Fatalf("SubscribeLatest failed: %v", err)
	}

	for i := 1; i <= 5; i++ {
		bus.Publish(snap(float64(i)))
	}

	stats := bus.Stats()
	if stats.TotalPublished != 5 {
		t.Errorf("Expected 5 published, got %d", stats.TotalPublished)
	}

	expected := stats.TotalPublished * uint64(len(stats.Subscribers))
	if stats.TotalSent+stats.TotalDropped != expected {
		t.Errorf("Conservation law violated: %d sent + %d dropped != %d",
			stats.TotalSent, stats.TotalDropped, expected)
	}
	if stats.Subscribers["redis"].Dropped != 4 {
		t.Errorf("redis expected 4 drops, got %d", stats.Subscribers["redis"].Dropped)
	}

	got, ok := latest.Get()
	if !ok || got.Timestamp != 5 {
		t.Errorf("Latest expected timestamp 5, got %v (ok=%v)", got.Timestamp, ok)
	}
	if latest.Seq() != 5 {
		t.Errorf("Latest expected seq 5, got %d", latest.Seq())
	}
}

func TestLatestEmptyBeforePublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	latest, _ := bus.SubscribeLatest("http")
	if _, ok := latest.Get(); ok {
		t.Error("Expected no snapshot before first publish")
	}
}

func TestSubscribeErrors(t *testing.T) {
	bus := New()

	if err := bus.Subscribe("a", nil); err != ErrNilChannel {
		t.Errorf("Expected ErrNilChannel, got %v", err)
	}
	if err := bus.Subscribe("a", make(chan types.Snapshot, 1)); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := bus.Subscribe("a", make(chan types.Snapshot, 1)); err != ErrSubscriberExists {
		t.Errorf("Expected ErrSubscriberExists, got %v", err)
	}
	if _, err := bus.SubscribeLatest("a"); err != ErrSubscriberExists {
		t.Errorf("Expected ErrSubscriberExists, got %v", err)
	}
	if err := bus.Unsubscribe("missing"); err != ErrSubscriberNotFound {
		t.Errorf("Expected ErrSubscriberNotFound, got %v", err)
	}
	if _, err := bus.SubscriberStats("missing"); err != ErrSubscriberNotFound {
		t.Errorf("Expected ErrSubscriberNotFound, got %v", err)
	}

	bus.Close()
	bus.Close()

	if err := bus.Subscribe("b", make(chan types.Snapshot, 1)); err != ErrBusClosed {
		t.Errorf("Expected ErrBusClosed, got %v", err)
	}
	bus.Publish(snap(1)) // no-op, must not panic
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan types.Snapshot, 10)
	bus.Subscribe("a", ch)
	bus.Publish(snap(1))
	if err := bus.Unsubscribe("a"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	bus.Publish(snap(2))

	if len(ch) != 1 {
		t.Errorf("Expected 1 buffered snapshot, got %d", len(ch))
	}
}

// TestConcurrentPublishSubscribe exercises the bus under -race.
func TestConcurrentPublishSubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			bus.Publish(snap(float64(i)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			id := string(rune('a' + i%26))
			if bus.Subscribe(id, make(chan types.Snapshot, 1)) == nil {
				bus.Unsubscribe(id)
			}
			_ = bus.Stats()
		}
	}()
	wg.Wait()
}
