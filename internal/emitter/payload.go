package emitter

import (
	"encoding/json"

	"github.com/e7canasta/orion-gaze/internal/types"
)

// Meta identifies where a payload came from.
type Meta struct {
	InstanceID string
	SessionID  string
}

// EventPayload is the wire form of one classified event.
// Jitter events have t_start == t_end and zero amplitude/duration.
type EventPayload struct {
	SessionID  string  `json:"session_id"`
	InstanceID string  `json:"instance_id"`
	Label      string  `json:"label"`
	Axis       string  `json:"axis"`
	Kind       string  `json:"kind"`
	TStart     float64 `json:"t_start"`
	TEnd       float64 `json:"t_end"`
	Amplitude  float64 `json:"amplitude"`
	Velocity   float64 `json:"velocity"`
	Duration   float64 `json:"duration"`
}

// NewEventPayload converts e.
func NewEventPayload(meta Meta, e types.Event) EventPayload {
	start := e.Time()
	if s, ok := e.(types.SaccadeEvent); ok {
		start = s.Start
	}
	return EventPayload{
		SessionID:  meta.SessionID,
		InstanceID: meta.InstanceID,
		Label:      types.Label(e),
		Axis:       e.OnAxis().String(),
		Kind:       e.Kind().String(),
		TStart:     start,
		TEnd:       e.Time(),
		Amplitude:  e.Magnitude(),
		Velocity:   e.Speed(),
		Duration:   e.Duration(),
	}
}

// SnapshotPayload is the wire form of a tick's snapshot. Absent ratios and
// events encode as null.
type SnapshotPayload struct {
	SessionID  string         `json:"session_id"`
	InstanceID string         `json:"instance_id"`
	Timestamp  float64        `json:"timestamp"`
	HRatio     types.Ratio    `json:"h_ratio"`
	VRatio     types.Ratio    `json:"v_ratio"`
	Blink      bool           `json:"blink"`
	Suppressed bool           `json:"suppressed"`
	LastH      *EventPayload  `json:"last_h_event"`
	LastV      *EventPayload  `json:"last_v_event"`
	Emitted    []EventPayload `json:"emitted"`
}

// NewSnapshotPayload converts snap.
func NewSnapshotPayload(meta Meta, snap types.Snapshot) SnapshotPayload {
	p := SnapshotPayload{
		SessionID:  meta.SessionID,
		InstanceID: meta.InstanceID,
		Timestamp:  snap.Timestamp,
		HRatio:     snap.H,
		VRatio:     snap.V,
		Blink:      snap.Blink,
		Suppressed: snap.Suppressed,
		Emitted:    make([]EventPayload, 0, len(snap.Emitted)),
	}
	if snap.LastH != nil {
		ep := NewEventPayload(meta, snap.LastH)
		p.LastH = &ep
	}
	if snap.LastV != nil {
		ep := NewEventPayload(meta, snap.LastV)
		p.LastV = &ep
	}
	for _, e := range snap.Emitted {
		p.Emitted = append(p.Emitted, NewEventPayload(meta, e))
	}
	return p
}

// ToJSON marshals the payload.
func (p EventPayload) ToJSON() ([]byte, error) { return json.Marshal(p) }

// ToJSON marshals the payload.
func (p SnapshotPayload) ToJSON() ([]byte, error) { return json.Marshal(p) }
