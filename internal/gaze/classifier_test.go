package gaze

import (
	"math"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-gaze/internal/types"
)

func TestAxisClassifier_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		prev    types.Ratio
		cur     types.Ratio
		dt      float64
		outcome Outcome
	}{
		{"saccade", types.SomeRatio(0.0), types.SomeRatio(0.6), 1, OutcomeSaccade},
		{"negative saccade", types.SomeRatio(0.6), types.SomeRatio(0.0), 1, OutcomeSaccade},
		{"jitter", types.SomeRatio(0.0), types.SomeRatio(0.07), 1, OutcomeJitter},
		{"stable", types.SomeRatio(0.5), types.SomeRatio(0.51), 1, OutcomeStable},
		{"missing prev", types.NoRatio, types.SomeRatio(0.5), 1, OutcomeMissing},
		{"missing cur", types.SomeRatio(0.5), types.NoRatio, 1, OutcomeMissing},
		{"NaN cur", types.SomeRatio(0.5), types.SomeRatio(math.NaN()), 1, OutcomeMissing},
		{"Inf prev", types.SomeRatio(math.Inf(1)), types.SomeRatio(0.5), 1, OutcomeMissing},
		{"zero dt", types.SomeRatio(0.0), types.SomeRatio(0.9), 0, OutcomeNonMonotonic},
		{"negative dt", types.SomeRatio(0.0), types.SomeRatio(0.9), -0.5, OutcomeNonMonotonic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewAxisClassifier(types.AxisV, 0.5, 0.05)

			ev, step := c.Classify(10, tt.prev, 10+tt.dt, tt.cur)

			assert.Equal(t, tt.outcome, step.Outcome)
			switch tt.outcome {
			case OutcomeSaccade, OutcomeJitter:
				require.NotNil(t, ev)
				assert.Equal(t, types.AxisV, ev.OnAxis())
				assert.Equal(t, 1, c.Len())
				assert.Equal(t, ev, c.Last())
			default:
				assert.Nil(t, ev)
				assert.Equal(t, 0, c.Len())
				assert.Nil(t, c.Last())
			}
		})
	}
}

// TestAxisClassifier_Property_DualThreshold tests the classification rule
//
// Property: for two valid samples with dt > 0 and velocity v, a saccade is
// emitted iff |v| > vel, a jitter iff jitter < |v| <= vel, otherwise nothing.
// dt is a power of two so cur = v*dt and (cur-0)/dt == v hold exactly.
func TestAxisClassifier_Property_DualThreshold(t *testing.T) {
	property := func(vRaw, jitterRaw, gapRaw float64, exp int8) bool {
		if math.IsNaN(vRaw) || math.IsInf(vRaw, 0) ||
			math.IsNaN(jitterRaw) || math.IsInf(jitterRaw, 0) ||
			math.IsNaN(gapRaw) || math.IsInf(gapRaw, 0) {
			return true
		}

		v := math.Mod(vRaw, 4)
		jitter := math.Abs(math.Mod(jitterRaw, 1))
		vel := jitter + math.Abs(math.Mod(gapRaw, 1)) + 1e-6
		dt := math.Ldexp(1, int(exp%5))

		c := NewAxisClassifier(types.AxisH, vel, jitter)
		ev, _ := c.Classify(0, types.SomeRatio(0), dt, types.SomeRatio(v*dt))

		speed := math.Abs(v)
		switch {
		case speed > vel:
			s, ok := ev.(types.SaccadeEvent)
			return ok && s.Start == 0 && s.End == dt && s.Velocity == v &&
				s.Amplitude == math.Abs(v*dt)
		case speed > jitter:
			j, ok := ev.(types.JitterEvent)
			return ok && j.Timestamp == dt && j.Velocity == v
		default:
			return ev == nil
		}
	}

	if err := quick.Check(property, &quick.Config{MaxCount: 2000}); err != nil {
		t.Errorf("dual-threshold property violated: %v", err)
	}
}

// TestAxisClassifier_Property_NonPositiveDt tests the time guard
//
// Property: dt <= 0 never produces an event, whatever the ratio delta.
func TestAxisClassifier_Property_NonPositiveDt(t *testing.T) {
	property := func(prev, cur, back float64) bool {
		if math.IsNaN(back) || math.IsInf(back, 0) {
			return true
		}
		c := NewAxisClassifier(types.AxisV, 0.5, 0.05)
		t0 := 100.0
		t1 := t0 - math.Abs(math.Mod(back, 50))

		ev, _ := c.Classify(t0, types.SomeRatio(prev), t1, types.SomeRatio(cur))
		return ev == nil && c.Len() == 0
	}

	if err := quick.Check(property, nil); err != nil {
		t.Errorf("dt <= 0 property violated: %v", err)
	}
}

func TestAxisClassifier_SustainedVelocityYieldsOverlappingSaccades(t *testing.T) {
	c := NewAxisClassifier(types.AxisH, 0.5, 0.05)

	c.Classify(0, types.SomeRatio(0.0), 1, types.SomeRatio(0.6))
	c.Classify(1, types.SomeRatio(0.6), 2, types.SomeRatio(1.2))

	events := c.Events()
	require.Len(t, events, 2)
	assert.Equal(t, types.SaccadeEvent{Start: 0, End: 1, Amplitude: 0.6, Velocity: 0.6, Axis: types.AxisH}, events[0])
	assert.Equal(t, 1.0, events[1].(types.SaccadeEvent).Start)
}

func TestAxisClassifier_EventsIsCopy(t *testing.T) {
	c := NewAxisClassifier(types.AxisH, 0.5, 0.05)
	c.Classify(0, types.SomeRatio(0.0), 1, types.SomeRatio(0.6))

	events := c.Events()
	events[0] = nil

	assert.NotNil(t, c.Events()[0])
}

func TestAxisClassifier_StepCarriesDecisionInputs(t *testing.T) {
	c := NewAxisClassifier(types.AxisH, 0.5, 0.05)

	ev, step := c.Classify(1, types.SomeRatio(0.25), 1.5, types.SomeRatio(0.75))
	require.NotNil(t, ev)
	assert.Equal(t, Step{Outcome: OutcomeSaccade, Delta: 0.5, Dt: 0.5, Velocity: 1.0}, step)
	assert.Equal(t, step.Velocity, ev.(types.SaccadeEvent).Velocity)

	_, step = c.Classify(2, types.SomeRatio(0.25), 2, types.SomeRatio(0.75))
	assert.Equal(t, Step{Outcome: OutcomeNonMonotonic}, step)

	_, step = c.Classify(0, types.NoRatio, 1, types.SomeRatio(0.75))
	assert.Equal(t, Step{Outcome: OutcomeMissing}, step)
}
