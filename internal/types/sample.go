package types

import (
	"encoding/json"
	"strconv"
)

// Ratio is an optional normalized gaze ratio, nominally in [0,1].
// The zero value is absent.
type Ratio struct {
	Value float64
	Valid bool
}

// NoRatio is the absent ratio.
var NoRatio = Ratio{}

// SomeRatio returns a present ratio holding v.
func SomeRatio(v float64) Ratio {
	return Ratio{Value: v, Valid: true}
}

// String formats the ratio the way log rows carry it: three decimals or "None".
func (r Ratio) String() string {
	if !r.Valid {
		return "None"
	}
	return strconv.FormatFloat(r.Value, 'f', 3, 64)
}

// MarshalJSON encodes an absent ratio as null.
func (r Ratio) MarshalJSON() ([]byte, error) {
	if !r.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value)
}

// UnmarshalJSON accepts a number or null.
func (r *Ratio) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = NoRatio
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = SomeRatio(v)
	return nil
}

// Sample is one tick's reading from the gaze source.
// Immutable once handed to the engine.
type Sample struct {
	// Timestamp in seconds. Non-decreasing in the common case, not guaranteed.
	Timestamp float64 `json:"timestamp"`
	H         Ratio   `json:"h_ratio"`
	V         Ratio   `json:"v_ratio"`
	Blink     bool    `json:"blink"`
}

// On returns the sample's ratio on the given axis.
func (s Sample) On(axis Axis) Ratio {
	if axis == AxisH {
		return s.H
	}
	return s.V
}
