package snapshotbus

import "errors"

var (
	// ErrBusClosed is returned when operating on a closed bus.
	ErrBusClosed = errors.New("snapshotbus: bus is closed")

	// ErrSubscriberExists is returned when subscribing with a duplicate ID.
	ErrSubscriberExists = errors.New("snapshotbus: subscriber already exists")

	// ErrSubscriberNotFound is returned when unsubscribing or querying a non-existent subscriber.
	ErrSubscriberNotFound = errors.New("snapshotbus: subscriber not found")

	// ErrNilChannel is returned when subscribing with a nil channel.
	ErrNilChannel = errors.New("snapshotbus: nil channel provided")
)

// DropPolicy defines how a subscriber handles backpressure.
type DropPolicy int

const (
	// DropNew drops the incoming snapshot when the subscriber's channel is
	// full. Publishers use it: every snapshot counts, losses are visible.
	DropNew DropPolicy = iota

	// DropOld keeps only the latest snapshot, overwriting the previous one.
	// Readers that only care about "now" (the /snapshot endpoint) use it.
	DropOld
)

// SubscriberStats tracks delivery for one subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

// Stats is a point-in-time view of the whole bus.
//
// Conservation: TotalSent + TotalDropped == TotalPublished × len(Subscribers)
// as long as the subscriber set did not change while publishing.
type Stats struct {
	TotalPublished uint64
	TotalSent      uint64
	TotalDropped   uint64
	Subscribers    map[string]SubscriberStats
}
