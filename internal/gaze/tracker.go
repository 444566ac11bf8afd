package gaze

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/e7canasta/orion-gaze/internal/estimator"
	"github.com/e7canasta/orion-gaze/internal/types"
)

// Tracker drives an Engine from frames through an Estimator.
//
// Update = Refresh → read ratios/blink → timestamp → Engine.Process.
// A failed Refresh consumes no tick.
type Tracker struct {
	engine *Engine
	est    estimator.Estimator
	now    func() time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithClock sets the clock used for frames without a timestamp (default time.Now).
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker binds engine to est.
func NewTracker(engine *Engine, est estimator.Estimator, opts ...TrackerOption) (*Tracker, error) {
	if engine == nil {
		return nil, errors.New("gaze: nil engine")
	}
	if est == nil {
		return nil, ErrNilEstimator
	}

	t := &Tracker{
		engine: engine,
		est:    est,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Update analyses frame and runs one engine tick.
func (t *Tracker) Update(ctx context.Context, frame types.Frame) (types.Snapshot, error) {
	if err := t.est.Refresh(ctx, frame); err != nil {
		return types.Snapshot{}, fmt.Errorf("refresh estimator (frame %d): %w", frame.Seq, err)
	}

	ts := frame.Timestamp
	if ts.IsZero() {
		ts = t.now()
	}

	return t.engine.Process(types.Sample{
		Timestamp: types.Seconds(ts),
		H:         t.est.HorizontalRatio(),
		V:         t.est.VerticalRatio(),
		Blink:     t.est.IsBlinking(),
	}), nil
}

// Engine returns the driven engine.
func (t *Tracker) Engine() *Engine { return t.engine }
