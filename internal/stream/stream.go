// Package stream provides the frame sources that feed the gaze tracker.
package stream

import (
	"context"

	"github.com/e7canasta/orion-gaze/internal/types"
)

// Provider produces frames for the tracker.
//
// The returned channel is closed when the provider stops, whether by Stop,
// context cancellation or reaching the end of a finite source.
type Provider interface {
	// Start begins streaming frames
	Start(ctx context.Context) (<-chan types.Frame, error)
	// Stop stops the stream. Safe to call more than once.
	Stop() error
	// Stats returns stream statistics
	Stats() types.StreamStats
}
