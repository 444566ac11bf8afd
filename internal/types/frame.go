package types

import "time"

// Frame represents a single video frame handed to the gaze estimator
type Frame struct {
	// Seq is the monotonic sequence number
	Seq uint64
	// Timestamp is when the frame was captured/decoded
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data contains the frame data (BGR24 by default)
	Data []byte
	// SourceStream identifies the stream (e.g. "LQ", "webcam")
	SourceStream string
	// TraceID is a unique identifier for tracing a frame across the pipeline
	TraceID string
}

// Seconds returns t as fractional seconds since the Unix epoch.
// The engine works in real-valued seconds; this is the single conversion point.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// StreamStats contains frame stream statistics
type StreamStats struct {
	FrameCount   uint64
	FPSTarget    int
	FPSReal      float64
	SourceStream string
	Resolution   string
	IsConnected  bool
}
