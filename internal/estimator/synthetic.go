package estimator

import (
	"context"
	"math"

	"github.com/e7canasta/orion-gaze/internal/types"
)

// SyntheticConfig shapes the generated gaze pattern. Periods are in frames.
type SyntheticConfig struct {
	// SaccadeEvery moves the fixation point every N frames (0 disables)
	SaccadeEvery uint64
	// BlinkEvery closes the eyes every N frames (0 disables)
	BlinkEvery uint64
	// BlinkFrames is how long each blink lasts
	BlinkFrames uint64
	// Wobble is the fixational jitter amplitude in ratio units
	Wobble float64
	// LostEvery drops the pupil reading every N frames (0 disables)
	LostEvery uint64
}

// DefaultSyntheticConfig gives, at 30 fps, a saccade every 1.5s, a blink every
// 5s and visible jitter with the default engine thresholds.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		SaccadeEvery: 45,
		BlinkEvery:   150,
		BlinkFrames:  2,
		Wobble:       0.004,
		LostEvery:    0,
	}
}

// fixation targets cycled on each saccade (h, v)
var fixations = [...][2]float64{
	{0.50, 0.50},
	{0.30, 0.45},
	{0.70, 0.55},
	{0.50, 0.30},
	{0.45, 0.70},
}

// Synthetic is a deterministic Estimator driven only by frame sequence
// numbers. It lets the daemon run end to end without a camera or model.
type Synthetic struct {
	cfg     SyntheticConfig
	reading Reading
}

// NewSynthetic creates a synthetic estimator.
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.BlinkFrames == 0 {
		cfg.BlinkFrames = 1
	}
	return &Synthetic{cfg: cfg}
}

// Refresh implements Estimator. It never fails.
func (s *Synthetic) Refresh(_ context.Context, frame types.Frame) error {
	s.reading = s.at(frame.Seq)
	return nil
}

func (s *Synthetic) at(seq uint64) Reading {
	var idx uint64
	if s.cfg.SaccadeEvery > 0 {
		idx = seq / s.cfg.SaccadeEvery
	}
	target := fixations[idx%uint64(len(fixations))]

	wobble := s.cfg.Wobble * math.Sin(float64(seq)*0.9)
	h := target[0] + wobble
	v := target[1] - wobble

	blinking := s.cfg.BlinkEvery > 0 && seq > 0 && seq%s.cfg.BlinkEvery < s.cfg.BlinkFrames
	if blinking {
		// eyelid occlusion drags the vertical estimate down
		v += 0.2
	}

	if s.cfg.LostEvery > 0 && seq > 0 && seq%s.cfg.LostEvery == 0 {
		return Reading{H: types.NoRatio, V: types.NoRatio, Blinking: blinking}
	}

	return Reading{
		H:        types.SomeRatio(clamp01(h)),
		V:        types.SomeRatio(clamp01(v)),
		Blinking: blinking,
	}
}

// HorizontalRatio implements Estimator.
func (s *Synthetic) HorizontalRatio() types.Ratio { return s.reading.H }

// VerticalRatio implements Estimator.
func (s *Synthetic) VerticalRatio() types.Ratio { return s.reading.V }

// IsBlinking implements Estimator.
func (s *Synthetic) IsBlinking() bool { return s.reading.Blinking }

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}
