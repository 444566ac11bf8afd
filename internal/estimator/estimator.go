// Package estimator defines the gaze-estimation collaborator and its
// implementations.
//
// The engine never computes ratios itself. An Estimator is refreshed with a
// frame and then queried for the horizontal/vertical ratios and blink state
// of that frame:
//
//	if err := est.Refresh(ctx, frame); err != nil {
//	    return err
//	}
//	h, v, blink := est.HorizontalRatio(), est.VerticalRatio(), est.IsBlinking()
//
// Implementations:
//   - Sidecar: external process (e.g. a Python gaze tracker) over length-prefixed msgpack
//   - Synthetic: deterministic pattern keyed on frame sequence (demo, soak tests)
package estimator

import (
	"context"

	"github.com/e7canasta/orion-gaze/internal/types"
)

// Estimator produces gaze ratios for a frame.
//
// Contract:
//   - Refresh must be called before the getters; getters describe the last refreshed frame
//   - A failed Refresh leaves the previous readings in place
//   - Not safe for concurrent use (one tick loop drives it)
type Estimator interface {
	// Refresh analyses frame.
	Refresh(ctx context.Context, frame types.Frame) error
	// HorizontalRatio returns the horizontal gaze ratio, absent when pupils were not located.
	HorizontalRatio() types.Ratio
	// VerticalRatio returns the vertical gaze ratio, absent when pupils were not located.
	VerticalRatio() types.Ratio
	// IsBlinking reports whether the eyes were closed in the frame.
	IsBlinking() bool
}

// Reading is the result of one refresh. Shared by implementations.
type Reading struct {
	H        types.Ratio
	V        types.Ratio
	Blinking bool
}
