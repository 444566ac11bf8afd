// Package emitter publishes classified gaze events to external systems.
//
// Publishers only ever see snapshots the engine has already produced; they
// run off the tick loop (fed by snapshotbus) and cannot influence
// classification.
package emitter

//go:generate mockgen -source=publisher.go -destination=mocks/mock_publisher.go -package=mocks

import (
	"context"

	"github.com/e7canasta/orion-gaze/internal/types"
)

// Publisher delivers a snapshot (and the events emitted with it).
type Publisher interface {
	// Publish sends snap. Snapshots without emitted events may be skipped.
	Publish(ctx context.Context, snap types.Snapshot) error
	// Close releases the connection.
	Close() error
	// Name identifies the publisher in logs and metrics.
	Name() string
}

// Stats contains publisher statistics.
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}
