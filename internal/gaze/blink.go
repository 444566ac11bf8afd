package gaze

// BlinkGate suppresses classification for a fixed number of ticks after a
// blink. When the eye reopens the estimator reports a large ratio jump that
// is an eyelid artifact, not a saccade.
type BlinkGate struct {
	skip      int
	remaining int
}

// NewBlinkGate creates a gate that suppresses skip ticks after each blink.
func NewBlinkGate(skip int) *BlinkGate {
	return &BlinkGate{skip: skip}
}

// Observe advances the gate by one tick and reports whether the tick is suppressed.
//
// A blink tick is always suppressed and (re)arms the cooldown; the next skip
// ticks are suppressed while it counts down.
func (g *BlinkGate) Observe(blink bool) bool {
	if blink {
		g.remaining = g.skip
		return true
	}
	if g.remaining > 0 {
		g.remaining--
		return true
	}
	return false
}

// Remaining returns the number of cooldown ticks left.
func (g *BlinkGate) Remaining() int { return g.remaining }
