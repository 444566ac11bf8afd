package estimator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-gaze/internal/types"
)

var (
	// ErrSidecarClosed is returned by Refresh after Close.
	ErrSidecarClosed = errors.New("estimator: sidecar closed")
	// ErrSidecarFailed wraps an error string reported by the sidecar itself.
	ErrSidecarFailed = errors.New("estimator: sidecar reported failure")
)

const (
	// DefaultSidecarTimeout bounds one request/response round trip.
	DefaultSidecarTimeout = 2 * time.Second
	stopTimeout           = 2 * time.Second
)

// SidecarConfig configures an external gaze-estimation process.
type SidecarConfig struct {
	// ID names the sidecar in logs
	ID string
	// Command is the executable, typically a wrapper that activates a venv
	Command string
	Args    []string
	// Timeout per Refresh round trip (default DefaultSidecarTimeout)
	Timeout time.Duration
	Logger  *slog.Logger
}

// SidecarStats are cumulative counters.
type SidecarStats struct {
	Requests  uint64
	Failures  uint64
	Stale     uint64
	LastSeen  time.Time
	IsRunning bool
}

// Sidecar is an Estimator backed by an external process.
//
// Each Refresh writes one length-prefixed msgpack request to the process's
// stdin and waits for the matching response on stdout. Responses for older
// sequence numbers (late answers to timed-out requests) are discarded.
//
// Goroutines:
//   - readLoop: decodes responses from stdout
//   - logStderr: maps the sidecar's log lines onto slog levels
//   - waitProcess: reaps the child
type Sidecar struct {
	id      string
	timeout time.Duration
	logger  *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader

	writeMu   sync.Mutex
	responses chan response
	dead      chan struct{} // closed when readLoop exits
	readErr   error         // set before dead is closed
	exited    chan struct{} // closed when the child is reaped (nil without a child)
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	wg        sync.WaitGroup

	reading Reading

	requests atomic.Uint64
	failures atomic.Uint64
	stale    atomic.Uint64
	lastSeen atomic.Value // time.Time
}

// NewSidecar spawns cfg.Command and returns an estimator talking to it.
// The child is bound to ctx: cancelling ctx kills it.
func NewSidecar(ctx context.Context, cfg SidecarConfig) (*Sidecar, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("sidecar command is required")
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start sidecar %q: %w", cfg.Command, err)
	}

	s := newSidecar(cfg, stdout, stdin)
	s.cmd = cmd
	s.exited = make(chan struct{})

	s.logger.Info("gaze sidecar spawned",
		"command", cfg.Command,
		"pid", cmd.Process.Pid,
		"timeout", s.timeout,
	)

	s.wg.Add(2)
	go s.logStderr(stderr)
	go s.waitProcess()
	return s, nil
}

// NewSidecarConn runs the sidecar protocol over existing streams, reading
// responses from r and writing requests to w. Close closes w.
func NewSidecarConn(r io.Reader, w io.WriteCloser, cfg SidecarConfig) *Sidecar {
	return newSidecar(cfg, r, w)
}

func newSidecar(cfg SidecarConfig, r io.Reader, w io.WriteCloser) *Sidecar {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSidecarTimeout
	}
	if cfg.ID == "" {
		cfg.ID = "gaze-sidecar"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sidecar{
		id:        cfg.ID,
		timeout:   cfg.Timeout,
		logger:    logger.With("sidecar_id", cfg.ID),
		stdin:     w,
		stdout:    r,
		responses: make(chan response, 1),
		dead:      make(chan struct{}),
		done:      make(chan struct{}),
		reading:   Reading{H: types.NoRatio, V: types.NoRatio},
	}

	s.wg.Add(1)
	go s.readLoop()
	return s
}

// Refresh sends frame to the sidecar and waits for its reading.
// On error the previous reading is kept.
func (s *Sidecar) Refresh(ctx context.Context, frame types.Frame) error {
	if s.closed.Load() {
		return ErrSidecarClosed
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.requests.Add(1)

	if err := s.send(ctx, newRequest(frame)); err != nil {
		s.failures.Add(1)
		return err
	}

	for {
		select {
		case resp := <-s.responses:
			if resp.Seq < frame.Seq {
				s.stale.Add(1)
				s.logger.Debug("discarding stale sidecar response",
					"response_seq", resp.Seq,
					"frame_seq", frame.Seq,
				)
				continue
			}
			if resp.Error != "" {
				s.failures.Add(1)
				return fmt.Errorf("%w: seq %d: %s", ErrSidecarFailed, frame.Seq, resp.Error)
			}
			s.reading = resp.reading()
			s.lastSeen.Store(time.Now())
			return nil

		case <-s.dead:
			s.failures.Add(1)
			return fmt.Errorf("sidecar stream ended: %w", s.readErr)

		case <-s.done:
			return ErrSidecarClosed

		case <-ctx.Done():
			s.failures.Add(1)
			return fmt.Errorf("waiting for sidecar response (seq %d, trace_id %s): %w",
				frame.Seq, frame.TraceID, ctx.Err())
		}
	}
}

// send writes req in a goroutine so a hung sidecar cannot block the caller
// past ctx. A write abandoned on timeout still completes under writeMu
// before the next one starts, keeping message framing intact.
func (s *Sidecar) send(ctx context.Context, req request) error {
	writeErr := make(chan error, 1)
	go func() {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		writeErr <- writeMessage(s.stdin, req)
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			return fmt.Errorf("failed to write to sidecar: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sidecar write timeout (sidecar may be hung): %w", ctx.Err())
	}
}

func (s *Sidecar) readLoop() {
	defer s.wg.Done()
	defer close(s.dead)

	for {
		var resp response
		if err := readMessage(s.stdout, &resp); err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Debug("sidecar stdout closed (EOF)")
				s.readErr = io.EOF
				return
			}
			s.logger.Error("failed to read sidecar response",
				"error", err,
				"action", "check sidecar logs in stderr",
			)
			s.readErr = err
			return
		}

		select {
		case s.responses <- resp:
		case <-s.done:
			s.readErr = ErrSidecarClosed
			return
		}
	}
}

// logStderr maps "timestamp [LEVEL] message" lines onto slog levels.
func (s *Sidecar) logStderr(stderr io.Reader) {
	defer s.wg.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case containsAny(line, "[ERROR]", "[CRITICAL]"):
			s.logger.Error("sidecar error", "log", line)
		case containsAny(line, "[WARNING]", "[WARN]"):
			s.logger.Warn("sidecar warning", "log", line)
		default:
			s.logger.Debug("sidecar log", "log", line)
		}
	}

	if err := scanner.Err(); err != nil {
		s.logger.Error("error reading sidecar stderr", "error", err)
	}
}

func (s *Sidecar) waitProcess() {
	defer s.wg.Done()
	defer close(s.exited)

	err := s.cmd.Wait()
	switch {
	case err == nil:
		s.logger.Info("sidecar exited cleanly", "pid", s.cmd.Process.Pid)
	case s.closed.Load():
		s.logger.Debug("sidecar exited (shutdown)", "pid", s.cmd.Process.Pid)
	default:
		s.logger.Error("sidecar exited unexpectedly",
			"pid", s.cmd.Process.Pid,
			"error", err,
			"action", "gaze readings unavailable until restart",
		)
	}
}

// HorizontalRatio implements Estimator.
func (s *Sidecar) HorizontalRatio() types.Ratio { return s.reading.H }

// VerticalRatio implements Estimator.
func (s *Sidecar) VerticalRatio() types.Ratio { return s.reading.V }

// IsBlinking implements Estimator.
func (s *Sidecar) IsBlinking() bool { return s.reading.Blinking }

// Stats returns the sidecar counters.
func (s *Sidecar) Stats() SidecarStats {
	var lastSeen time.Time
	if v := s.lastSeen.Load(); v != nil {
		lastSeen = v.(time.Time)
	}

	running := !s.closed.Load()
	select {
	case <-s.dead:
		running = false
	default:
	}

	return SidecarStats{
		Requests:  s.requests.Load(),
		Failures:  s.failures.Load(),
		Stale:     s.stale.Load(),
		LastSeen:  lastSeen,
		IsRunning: running,
	}
}

// Close stops the sidecar. Closing stdin asks it to exit; if it has not
// exited within stopTimeout it is killed. Safe to call more than once.
func (s *Sidecar) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)

		s.logger.Info("stopping gaze sidecar")

		if err := s.stdin.Close(); err != nil {
			s.logger.Debug("closing sidecar stdin", "error", err)
		}

		if s.cmd != nil {
			select {
			case <-s.exited:
			case <-time.After(stopTimeout):
				s.logger.Warn("sidecar stop timeout, force killing process",
					"pid", s.cmd.Process.Pid,
				)
				if err := s.cmd.Process.Kill(); err != nil {
					s.logger.Error("failed to kill sidecar", "error", err)
				}
			}
		}

		waitDone := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(waitDone)
		}()
		select {
		case <-waitDone:
		case <-time.After(stopTimeout):
			s.logger.Warn("sidecar goroutines did not stop in time")
		}

		s.logger.Info("gaze sidecar stopped",
			"requests", s.requests.Load(),
			"failures", s.failures.Load(),
		)
	})
	return nil
}

func containsAny(s string, substrs ...string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
