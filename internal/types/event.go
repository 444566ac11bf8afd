package types

import "fmt"

// Axis identifies the gaze axis an event was classified on
type Axis int

const (
	// AxisH is the horizontal axis
	AxisH Axis = iota
	// AxisV is the vertical axis
	AxisV
)

// Axes lists the axes in classification order (H before V).
var Axes = [...]Axis{AxisH, AxisV}

// String returns "H" or "V"
func (a Axis) String() string {
	switch a {
	case AxisH:
		return "H"
	case AxisV:
		return "V"
	default:
		return fmt.Sprintf("Axis(%d)", int(a))
	}
}

// Kind is the event classification
type Kind int

const (
	// KindSaccade is a rapid eye movement above the velocity threshold
	KindSaccade Kind = iota
	// KindJitter is fixational drift between the jitter and velocity thresholds
	KindJitter
)

// String returns "SACCADE" or "JITTER"
func (k Kind) String() string {
	switch k {
	case KindSaccade:
		return "SACCADE"
	case KindJitter:
		return "JITTER"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Event is a classified movement on one axis. It is either a SaccadeEvent
// or a JitterEvent; the set is closed.
type Event interface {
	// Kind returns the classification
	Kind() Kind
	// OnAxis returns the axis the event was detected on
	OnAxis() Axis
	// Time returns the emission time (t_end for saccades)
	Time() float64
	// Duration returns t_end - t_start (0 for jitter)
	Duration() float64
	// Magnitude returns |Δratio| (0 for jitter)
	Magnitude() float64
	// Speed returns the signed velocity in ratio-units/second
	Speed() float64

	isEvent()
}

// SaccadeEvent spans two consecutive samples whose velocity exceeded the
// velocity threshold.
type SaccadeEvent struct {
	Start     float64 `json:"t_start"`
	End       float64 `json:"t_end"`
	Amplitude float64 `json:"amplitude"`
	Velocity  float64 `json:"velocity"`
	Axis      Axis    `json:"-"`
}

func (e SaccadeEvent) Kind() Kind { return KindSaccade }
func (e SaccadeEvent) OnAxis() Axis { return e.Axis }
func (e SaccadeEvent) Time() float64 { return e.End }
func (e SaccadeEvent) Duration() float64 { return e.End - e.Start }
func (e SaccadeEvent) Magnitude() float64 { return e.Amplitude }
func (e SaccadeEvent) Speed() float64 { return e.Velocity }
func (e SaccadeEvent) isEvent() {}

// JitterEvent is a single-sample fixational movement.
type JitterEvent struct {
	Timestamp float64 `json:"timestamp"`
	Velocity  float64 `json:"velocity"`
	Axis      Axis    `json:"-"`
}

func (e JitterEvent) Kind() Kind { return KindJitter }
func (e JitterEvent) OnAxis() Axis { return e.Axis }
func (e JitterEvent) Time() float64 { return e.Timestamp }
func (e JitterEvent) Duration() float64 { return 0 }
func (e JitterEvent) Magnitude() float64 { return 0 }
func (e JitterEvent) Speed() float64 { return e.Velocity }
func (e JitterEvent) isEvent() {}

// Label returns the export type of an event, e.g. "V-SACCADE".
func Label(e Event) string {
	return e.OnAxis().String() + "-" + e.Kind().String()
}
