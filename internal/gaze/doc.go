// Package gaze is the streaming eye-movement classification engine.
//
// Each tick the Engine receives one Sample (optional horizontal and vertical
// ratios, a blink flag, a timestamp in seconds) and:
//
//  1. runs the BlinkGate; a blink suppresses the tick and the next
//     BlinkSkipFrames ticks; a suppressed tick is not classified and its
//     Snapshot reports the ratios absent
//  2. looks up the previous sample in the History ring
//  3. classifies H, then V, with an AxisClassifier per axis:
//     |velocity| > VelocityThreshold → SaccadeEvent,
//     |velocity| > JitterThreshold → JitterEvent, otherwise nothing
//  4. writes a FRAME row and then the tick's event rows to the Sink
//  5. returns an immutable Snapshot and appends the sample to History
//
// Missing ratios and non-positive Δt are not errors: the axis produces no
// event and the engine counts the step in Stats. The only hard error is an
// invalid Config, reported by New.
//
// The Sink buffers rows in memory; nothing is durable until the caller
// exports it. Callers must arrange the export on every exit path (see
// core.Service.Shutdown).
//
// Tracker adapts an estimator.Estimator to the engine for frame-driven use.
package gaze
