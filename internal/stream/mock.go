package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-gaze/internal/types"
)

// MockConfig configures a MockStream.
type MockConfig struct {
	Width  int
	Height int
	FPS    int
	Source string
	// MaxFrames ends the stream after N frames (0 = unbounded)
	MaxFrames uint64
	// Clock stamps frames (default time.Now)
	Clock  func() time.Time
	Logger *slog.Logger
}

// MockStream generates synthetic BGR24 frames at a fixed rate. Paired with
// estimator.Synthetic it drives the whole pipeline without a camera.
type MockStream struct {
	cfg    MockConfig
	logger *slog.Logger

	framesCh chan types.Frame
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu            sync.RWMutex
	seq           uint64
	framesEmitted uint64
	isRunning     bool
	started       bool
	startTime     time.Time
}

// NewMockStream creates a new mock stream provider.
func NewMockStream(cfg MockConfig) *MockStream {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.Source == "" {
		cfg.Source = "mock"
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &MockStream{
		cfg:      cfg,
		logger:   logger.With("source", cfg.Source),
		framesCh: make(chan types.Frame, 10),
		stopCh:   make(chan struct{}),
	}
}

// Start begins generating frames.
func (m *MockStream) Start(ctx context.Context) (<-chan types.Frame, error) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil, fmt.Errorf("stream already started")
	}
	m.started = true
	m.isRunning = true
	m.startTime = time.Now()
	m.mu.Unlock()

	m.logger.Info("mock stream starting",
		"width", m.cfg.Width,
		"height", m.cfg.Height,
		"fps", m.cfg.FPS,
		"max_frames", m.cfg.MaxFrames,
	)

	m.wg.Add(1)
	go m.generateFrames(ctx)

	return m.framesCh, nil
}

// Stop stops the stream.
func (m *MockStream) Stop() error {
	m.mu.RLock()
	started := m.started
	m.mu.RUnlock()
	if !started {
		return nil
	}

	m.stopOnce.Do(func() {
		m.logger.Info("mock stream stopping")
		close(m.stopCh)
	})
	m.wg.Wait()
	return nil
}

// Stats returns stream statistics.
func (m *MockStream) Stats() types.StreamStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var fpsReal float64
	if m.framesEmitted > 0 {
		elapsed := time.Since(m.startTime).Seconds()
		if elapsed > 0 {
			fpsReal = float64(m.framesEmitted) / elapsed
		}
	}

	return types.StreamStats{
		FrameCount:   m.framesEmitted,
		FPSTarget:    m.cfg.FPS,
		FPSReal:      fpsReal,
		SourceStream: m.cfg.Source,
		Resolution:   fmt.Sprintf("%dx%d", m.cfg.Width, m.cfg.Height),
		IsConnected:  m.isRunning,
	}
}

// generateFrames owns framesCh and closes it on exit.
func (m *MockStream) generateFrames(ctx context.Context) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		m.isRunning = false
		emitted := m.framesEmitted
		m.mu.Unlock()

		close(m.framesCh)

		m.logger.Info("mock stream stopped",
			"frames_emitted", emitted,
			"duration", time.Since(m.startTime),
		)
	}()

	frameDuration := time.Second / time.Duration(m.cfg.FPS)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	m.logger.Debug("frame generator started", "frame_duration", frameDuration)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			frame := m.createFrame()
			select {
			case m.framesCh <- frame:
				m.mu.Lock()
				m.framesEmitted++
				done := m.cfg.MaxFrames > 0 && m.framesEmitted >= m.cfg.MaxFrames
				m.mu.Unlock()
				if done {
					return
				}
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			}
		}
	}
}

// createFrame creates a black BGR24 frame.
func (m *MockStream) createFrame() types.Frame {
	m.mu.Lock()
	seq := m.seq
	m.seq++
	m.mu.Unlock()

	return types.Frame{
		Seq:          seq,
		Timestamp:    m.cfg.Clock(),
		Width:        m.cfg.Width,
		Height:       m.cfg.Height,
		Data:         make([]byte, m.cfg.Width*m.cfg.Height*3),
		SourceStream: m.cfg.Source,
		TraceID:      uuid.New().String(),
	}
}
