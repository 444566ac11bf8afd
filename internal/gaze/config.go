package gaze

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidConfig is wrapped by every configuration validation failure.
	ErrInvalidConfig = errors.New("gaze: invalid configuration")
	// ErrNilSink is returned when the engine is constructed without a sink.
	ErrNilSink = errors.New("gaze: nil sink")
	// ErrNilEstimator is returned when a tracker is constructed without an estimator.
	ErrNilEstimator = errors.New("gaze: nil estimator")
)

// Defaults for the recognised configuration options.
const (
	DefaultHistoryLength     = 30
	DefaultVelocityThreshold = 0.5  // ratio-units/second
	DefaultJitterThreshold   = 0.05 // ratio-units/second
	DefaultBlinkSkipFrames   = 3
)

// Config is fixed at engine construction and never changes afterward.
type Config struct {
	// HistoryLength is the sample window capacity (> 0)
	HistoryLength int `yaml:"history_length"`
	// VelocityThreshold separates saccades from jitter
	VelocityThreshold float64 `yaml:"velocity_threshold"`
	// JitterThreshold separates jitter from stable fixation (0 <= jitter < velocity)
	JitterThreshold float64 `yaml:"jitter_threshold"`
	// BlinkSkipFrames is the cooldown after a blink, in ticks (>= 0)
	BlinkSkipFrames int `yaml:"blink_skip_frames"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		HistoryLength:     DefaultHistoryLength,
		VelocityThreshold: DefaultVelocityThreshold,
		JitterThreshold:   DefaultJitterThreshold,
		BlinkSkipFrames:   DefaultBlinkSkipFrames,
	}
}

// Validate checks the configuration invariants. All failures wrap ErrInvalidConfig.
func (c Config) Validate() error {
	if c.HistoryLength <= 0 {
		return fmt.Errorf("%w: history_length must be > 0, got %d", ErrInvalidConfig, c.HistoryLength)
	}
	if c.BlinkSkipFrames < 0 {
		return fmt.Errorf("%w: blink_skip_frames must be >= 0, got %d", ErrInvalidConfig, c.BlinkSkipFrames)
	}
	if !finite(c.VelocityThreshold) || !finite(c.JitterThreshold) {
		return fmt.Errorf("%w: thresholds must be finite (velocity=%v, jitter=%v)",
			ErrInvalidConfig, c.VelocityThreshold, c.JitterThreshold)
	}
	if c.JitterThreshold < 0 {
		return fmt.Errorf("%w: jitter_threshold must be >= 0, got %.3f", ErrInvalidConfig, c.JitterThreshold)
	}
	if c.JitterThreshold >= c.VelocityThreshold {
		return fmt.Errorf("%w: jitter_threshold (%.3f) must be < velocity_threshold (%.3f)",
			ErrInvalidConfig, c.JitterThreshold, c.VelocityThreshold)
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
