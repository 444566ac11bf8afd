package gaze

import (
	"math"

	"github.com/e7canasta/orion-gaze/internal/types"
)

// Outcome describes what a single classification step concluded.
type Outcome int

const (
	// OutcomeMissing: prev or cur ratio absent (or not finite)
	OutcomeMissing Outcome = iota
	// OutcomeNonMonotonic: dt <= 0, duplicate or out-of-order timestamp
	OutcomeNonMonotonic
	// OutcomeStable: |velocity| <= jitter threshold
	OutcomeStable
	// OutcomeJitter: jitter threshold < |velocity| <= velocity threshold
	OutcomeJitter
	// OutcomeSaccade: |velocity| > velocity threshold
	OutcomeSaccade
)

// String returns a short label for logs
func (o Outcome) String() string {
	switch o {
	case OutcomeMissing:
		return "missing"
	case OutcomeNonMonotonic:
		return "non_monotonic"
	case OutcomeStable:
		return "stable"
	case OutcomeJitter:
		return "jitter"
	case OutcomeSaccade:
		return "saccade"
	default:
		return "unknown"
	}
}

// Step is the result of one classification: the outcome and the quantities
// it was decided on. Delta, Dt and Velocity are zero for OutcomeMissing; Dt
// is set for OutcomeNonMonotonic.
type Step struct {
	Outcome  Outcome
	Delta    float64
	Dt       float64
	Velocity float64
}

// AxisClassifier runs the dual-threshold classification for one axis and
// keeps that axis's event history.
//
// There is no "in-saccade" state: every step is evaluated from the two
// samples alone. A velocity that stays above the threshold for several ticks
// therefore yields one SaccadeEvent per tick, overlapping in time.
//
// The history is unbounded for the life of the engine; exports need the
// whole session.
type AxisClassifier struct {
	axis         types.Axis
	velThresh    float64
	jitterThresh float64

	events []types.Event
}

// NewAxisClassifier creates a classifier for axis. Thresholds are assumed
// valid (0 <= jitter < vel); Config.Validate enforces this.
func NewAxisClassifier(axis types.Axis, velThresh, jitterThresh float64) *AxisClassifier {
	return &AxisClassifier{
		axis:         axis,
		velThresh:    velThresh,
		jitterThresh: jitterThresh,
	}
}

// Axis returns the axis this classifier evaluates.
func (c *AxisClassifier) Axis() types.Axis { return c.axis }

// Classify compares the previous sample's value with the current one.
//
// Returns the emitted event (nil when none) and the step. Missing values
// and non-positive dt are not errors; they produce no event.
func (c *AxisClassifier) Classify(prevT float64, prev types.Ratio, curT float64, cur types.Ratio) (types.Event, Step) {
	if !usable(prev) || !usable(cur) {
		return nil, Step{Outcome: OutcomeMissing}
	}

	dt := curT - prevT
	if !(dt > 0) {
		return nil, Step{Outcome: OutcomeNonMonotonic, Dt: dt}
	}

	delta := cur.Value - prev.Value
	velocity := delta / dt
	speed := math.Abs(velocity)
	step := Step{Delta: delta, Dt: dt, Velocity: velocity}

	var ev types.Event
	switch {
	case speed > c.velThresh:
		ev = types.SaccadeEvent{
			Start:     prevT,
			End:       curT,
			Amplitude: math.Abs(delta),
			Velocity:  velocity,
			Axis:      c.axis,
		}
		step.Outcome = OutcomeSaccade
	case speed > c.jitterThresh:
		ev = types.JitterEvent{
			Timestamp: curT,
			Velocity:  velocity,
			Axis:      c.axis,
		}
		step.Outcome = OutcomeJitter
	default:
		step.Outcome = OutcomeStable
		return nil, step
	}

	c.events = append(c.events, ev)
	return ev, step
}

// Last returns the most recent event on this axis, or nil.
func (c *AxisClassifier) Last() types.Event {
	if len(c.events) == 0 {
		return nil
	}
	return c.events[len(c.events)-1]
}

// Len returns the number of events emitted so far.
func (c *AxisClassifier) Len() int { return len(c.events) }

// Events returns a copy of the axis history in emission order.
func (c *AxisClassifier) Events() []types.Event {
	out := make([]types.Event, len(c.events))
	copy(out, c.events)
	return out
}

func usable(r types.Ratio) bool {
	return r.Valid && !math.IsNaN(r.Value) && !math.IsInf(r.Value, 0)
}
