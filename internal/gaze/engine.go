package gaze

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/e7canasta/orion-gaze/internal/types"
)

// Sink receives the engine's frame and event rows, in tick order.
// recorder.Recorder is the production implementation.
type Sink interface {
	LogFrame(t float64, h, v types.Ratio, blink bool)
	LogEvent(e types.Event)
}

// Stats counts what the engine has seen. Missing and non-monotonic steps
// are counted per axis evaluation.
type Stats struct {
	Ticks        uint64
	Suppressed   uint64
	Missing      [2]uint64 // indexed by types.Axis
	NonMonotonic uint64
	Saccades     [2]uint64
	Jitters      [2]uint64
}

// Engine is the streaming classification engine.
//
// Per tick: blink gate → previous sample lookup → H then V classification →
// sink rows → snapshot → history append.
//
// Thread-safety: none. One goroutine drives Process; callers that share an
// engine must serialize access themselves.
type Engine struct {
	cfg     Config
	sink    Sink
	history *History
	gate    *BlinkGate
	axes    [2]*AxisClassifier
	stats   Stats
	logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New validates cfg and builds an engine writing to sink.
// Invalid configuration is the one hard error the engine reports.
func New(cfg Config, sink Sink, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, ErrNilSink
	}

	e := &Engine{
		cfg:     cfg,
		sink:    sink,
		history: NewHistory(cfg.HistoryLength),
		gate:    NewBlinkGate(cfg.BlinkSkipFrames),
		logger:  slog.Default(),
	}
	for _, axis := range types.Axes {
		e.axes[axis] = NewAxisClassifier(axis, cfg.VelocityThreshold, cfg.JitterThreshold)
	}
	for _, opt := range opts {
		opt(e)
	}

	e.logger.Debug("gaze engine created",
		"history_length", cfg.HistoryLength,
		"velocity_threshold", cfg.VelocityThreshold,
		"jitter_threshold", cfg.JitterThreshold,
		"blink_skip_frames", cfg.BlinkSkipFrames,
	)

	return e, nil
}

// Process runs one tick and returns its snapshot.
func (e *Engine) Process(s types.Sample) types.Snapshot {
	e.stats.Ticks++

	suppressed := e.gate.Observe(s.Blink)
	if suppressed {
		e.stats.Suppressed++
	}

	var emitted []types.Event
	if !suppressed {
		if prev, ok := e.history.Last(); ok {
			for _, axis := range types.Axes {
				if ev := e.classify(axis, prev, s); ev != nil {
					emitted = append(emitted, ev)
				}
			}
		}
	}

	// The log keeps the estimator values so a replay sees the same baselines.
	e.sink.LogFrame(s.Timestamp, s.H, s.V, s.Blink)
	for _, ev := range emitted {
		e.sink.LogEvent(ev)
	}

	snap := types.Snapshot{
		Timestamp:  s.Timestamp,
		H:          s.H,
		V:          s.V,
		LastH:      e.axes[types.AxisH].Last(),
		LastV:      e.axes[types.AxisV].Last(),
		Blink:      s.Blink,
		Suppressed: suppressed,
		Emitted:    emitted,
	}
	// Inside the cooldown the ratios are eyelid artifacts: the snapshot
	// reports them absent. History still gets the raw sample, the baseline
	// for the first tick after the cooldown.
	if suppressed {
		snap.H = types.NoRatio
		snap.V = types.NoRatio
	}

	e.history.Push(s)
	return snap
}

func (e *Engine) classify(axis types.Axis, prev, cur types.Sample) types.Event {
	ev, step := e.axes[axis].Classify(prev.Timestamp, prev.On(axis), cur.Timestamp, cur.On(axis))

	switch step.Outcome {
	case OutcomeMissing:
		e.stats.Missing[axis]++
		return nil
	case OutcomeNonMonotonic:
		e.stats.NonMonotonic++
		e.logger.Debug("non-positive dt, skipping classification",
			"axis", axis.String(),
			"t_prev", prev.Timestamp,
			"t_cur", cur.Timestamp,
		)
		return nil
	case OutcomeSaccade:
		e.stats.Saccades[axis]++
	case OutcomeJitter:
		e.stats.Jitters[axis]++
	}

	if e.logger.Enabled(context.Background(), slog.LevelDebug) {
		e.logger.Debug("axis classified",
			"axis", axis.String(),
			"delta", fmt.Sprintf("%.3f", step.Delta),
			"dt", fmt.Sprintf("%.3f", step.Dt),
			"velocity", fmt.Sprintf("%.3f", step.Velocity),
			"outcome", step.Outcome.String(),
		)
	}
	return ev
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Stats returns a copy of the engine counters.
func (e *Engine) Stats() Stats { return e.stats }

// Events returns the full event history for axis, in emission order.
func (e *Engine) Events(axis types.Axis) []types.Event {
	return e.axes[axis].Events()
}

// History returns the retained sample window, oldest first.
func (e *Engine) History() []types.Sample {
	return e.history.Samples()
}

// CooldownRemaining returns the blink cooldown ticks left.
func (e *Engine) CooldownRemaining() int {
	return e.gate.Remaining()
}
