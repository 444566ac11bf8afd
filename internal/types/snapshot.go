package types

// Snapshot is the externally visible result of one tick.
// It is a value: nothing in the engine holds on to it or mutates it later.
type Snapshot struct {
	Timestamp float64
	// H and V are absent when the estimator had no reading or the tick
	// fell inside the blink cooldown.
	H Ratio
	V Ratio
	// LastH and LastV are the most recent events on each axis over the
	// whole session, nil until the first one.
	LastH Event
	LastV Event
	// Blink is the raw blink flag reported for this tick.
	Blink bool
	// Suppressed is true when the blink gate skipped classification.
	Suppressed bool
	// Emitted holds the events produced on this tick, H before V.
	Emitted []Event
}

// Last returns the most recent event on axis, or nil.
func (s Snapshot) Last(axis Axis) Event {
	if axis == AxisH {
		return s.LastH
	}
	return s.LastV
}
