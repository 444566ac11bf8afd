// Package snapshotbus fans engine snapshots out to slow consumers without
// ever blocking the tick loop.
//
// Design:
//   - Publish is non-blocking: a full subscriber loses the snapshot and its
//     Dropped counter goes up
//   - DropNew subscribers own a buffered channel (MQTT/Redis publishers)
//   - DropOld subscribers get a Latest holder that always has the newest
//     snapshot (HTTP /snapshot)
//   - The bus never touches what is inside a Snapshot; the engine already
//     made it immutable
package snapshotbus

import (
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-gaze/internal/types"
)

type subscriber struct {
	policy DropPolicy
	sent   atomic.Uint64
	drops  atomic.Uint64

	ch     chan<- types.Snapshot // DropNew
	latest *Latest               // DropOld
}

// Bus distributes snapshots to subscribers.
type Bus struct {
	mu             sync.RWMutex
	subscribers    map[string]*subscriber
	totalPublished atomic.Uint64
	closed         bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers ch under id with the DropNew policy.
// The caller owns ch; the bus never closes it.
func (b *Bus) Subscribe(id string, ch chan<- types.Snapshot) error {
	if ch == nil {
		return ErrNilChannel
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	b.subscribers[id] = &subscriber{policy: DropNew, ch: ch}
	return nil
}

// SubscribeLatest registers id with the DropOld policy.
func (b *Bus) SubscribeLatest(id string) (*Latest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return nil, ErrSubscriberExists
	}

	l := &Latest{}
	b.subscribers[id] = &subscriber{policy: DropOld, latest: l}
	return l, nil
}

// Publish delivers snap to every subscriber without blocking.
// Publishing on a closed bus is a no-op.
func (b *Bus) Publish(snap types.Snapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	b.totalPublished.Add(1)

	for _, sub := range b.subscribers {
		switch sub.policy {
		case DropNew:
			select {
			case sub.ch <- snap:
				sub.sent.Add(1)
			default:
				sub.drops.Add(1)
			}
		case DropOld:
			sub.latest.set(snap)
			sub.sent.Add(1)
		}
	}
}

// Unsubscribe removes id. The subscriber's channel is not closed.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}
	delete(b.subscribers, id)
	return nil
}

// SubscriberStats returns delivery counters for id.
func (b *Bus) SubscriberStats(id string) (SubscriberStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sub, exists := b.subscribers[id]
	if !exists {
		return SubscriberStats{}, ErrSubscriberNotFound
	}
	return SubscriberStats{Sent: sub.sent.Load(), Dropped: sub.drops.Load()}, nil
}

// Stats returns counters for the bus and every current subscriber.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Stats{
		TotalPublished: b.totalPublished.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, sub := range b.subscribers {
		st := SubscriberStats{Sent: sub.sent.Load(), Dropped: sub.drops.Load()}
		s.Subscribers[id] = st
		s.TotalSent += st.Sent
		s.TotalDropped += st.Dropped
	}
	return s
}

// Close stops delivery and forgets all subscribers. Idempotent.
// Subscriber channels are left open; their owners close them.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.subscribers = nil
}

// Latest holds the most recent snapshot for a DropOld subscriber.
type Latest struct {
	mu    sync.RWMutex
	snap  types.Snapshot
	valid bool
	seq   uint64
}

func (l *Latest) set(snap types.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.snap = snap
	l.valid = true
	l.seq++
}

// Get returns the newest snapshot, or false before the first publish.
func (l *Latest) Get() (types.Snapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap, l.valid
}

// Seq returns how many snapshots have been stored.
func (l *Latest) Seq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}
