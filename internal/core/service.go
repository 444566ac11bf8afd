package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/e7canasta/orion-gaze/internal/config"
	"github.com/e7canasta/orion-gaze/internal/emitter"
	"github.com/e7canasta/orion-gaze/internal/estimator"
	"github.com/e7canasta/orion-gaze/internal/gaze"
	"github.com/e7canasta/orion-gaze/internal/metrics"
	"github.com/e7canasta/orion-gaze/internal/recorder"
	"github.com/e7canasta/orion-gaze/internal/replay"
	"github.com/e7canasta/orion-gaze/internal/snapshotbus"
	"github.com/e7canasta/orion-gaze/internal/stream"
	"github.com/e7canasta/orion-gaze/internal/tracing"
	"github.com/e7canasta/orion-gaze/internal/types"
)

const (
	latestSubscriber = "http-snapshot"
	statsInterval    = 10 * time.Second
)

// Service is the gazed orchestrator: source → tracker/engine → recorder,
// with snapshots fanned out to publishers through the snapshot bus.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger
	tracer trace.Tracer

	// Core components
	recorder   *recorder.Recorder
	engine     *gaze.Engine
	estimator  estimator.Estimator
	source     stream.Provider
	samples    []types.Sample // replay mode
	bus        *snapshotbus.Bus
	latest     *snapshotbus.Latest
	publishers []emitter.Publisher
	injected   bool // publishers supplied by WithPublishers
	closers    []io.Closer
	server     *http.Server

	// Lifecycle management
	mu           sync.RWMutex
	started      time.Time
	isRunning    bool
	stats        gaze.Stats // copy refreshed after every tick
	cancelRun    context.CancelFunc
	runDone      chan struct{}
	shutdownOnce sync.Once
	shutdownErr  error
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the service logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPublishers replaces the publishers built from the emitter config.
func WithPublishers(pubs ...emitter.Publisher) Option {
	return func(s *Service) {
		s.publishers = pubs
		s.injected = true
	}
}

// WithEstimator replaces the estimator built from the source config.
func WithEstimator(est estimator.Estimator) Option {
	return func(s *Service) { s.estimator = est }
}

// WithSource replaces the frame provider built from the source config.
func WithSource(p stream.Provider) Option {
	return func(s *Service) { s.source = p }
}

// NewService validates what can be checked without side effects (engine
// config, replay file) and wires the in-process components. Connections and
// child processes are established by Run.
func NewService(cfg *config.Config, opts ...Option) (*Service, error) {
	s := &Service{
		cfg:    cfg,
		logger: slog.Default(),
		tracer: tracing.Tracer("gazed/core"),
		bus:    snapshotbus.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("instance_id", cfg.InstanceID, "session_id", cfg.SessionID)

	s.recorder = recorder.New(s.logger)

	engine, err := gaze.New(cfg.Engine, s.recorder, gaze.WithLogger(s.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	s.engine = engine

	if cfg.Source.Kind == config.SourceReplay {
		samples, err := replay.LoadFile(cfg.Source.Replay.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to load replay: %w", err)
		}
		s.samples = samples
		s.logger.Info("replay loaded",
			"path", cfg.Source.Replay.Path,
			"samples", len(samples),
		)
	}

	latest, err := s.bus.SubscribeLatest(latestSubscriber)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe snapshot holder: %w", err)
	}
	s.latest = latest

	return s, nil
}

// Run drives the pipeline until ctx is cancelled or the source ends. It
// waits for queued snapshots to reach the publishers before returning.
// Export happens in Shutdown. A panic on the run path is returned as an
// error so the caller still reaches Shutdown.
func (s *Service) Run(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.isRunning = true
	s.started = time.Now()
	s.cancelRun = cancel
	s.runDone = make(chan struct{})
	done := s.runDone
	s.mu.Unlock()

	// Runs last, after the bus teardown and the done signal
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("gaze service run loop panicked",
				"panic", r,
				"stack", string(debug.Stack()),
				"action", "buffered rows are exported on shutdown")
			err = fmt.Errorf("run loop panic: %v", r)
		}
	}()

	defer func() {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		close(done)
	}()

	s.logger.Info("gaze service starting",
		"source", s.cfg.Source.Kind,
		"history_length", s.cfg.Engine.HistoryLength,
		"velocity_threshold", s.cfg.Engine.VelocityThreshold,
		"jitter_threshold", s.cfg.Engine.JitterThreshold,
		"blink_skip_frames", s.cfg.Engine.BlinkSkipFrames,
	)

	if !s.injected {
		if err := s.connectPublishers(ctx); err != nil {
			return err
		}
	}

	var (
		wg       sync.WaitGroup
		channels []chan types.Snapshot
	)
	// Bus teardown: no more snapshots, then let publishers flush what is queued
	defer func() {
		cancel()
		for _, p := range s.currentPublishers() {
			_ = s.bus.Unsubscribe(p.Name())
		}
		for _, ch := range channels {
			close(ch)
		}
		wg.Wait()
	}()

	for _, p := range s.currentPublishers() {
		ch := make(chan types.Snapshot, s.cfg.Emitter.BufferSize)
		if err := s.bus.Subscribe(p.Name(), ch); err != nil {
			return fmt.Errorf("failed to subscribe publisher %s: %w", p.Name(), err)
		}
		channels = append(channels, ch)

		wg.Add(1)
		go func(p emitter.Publisher, ch <-chan types.Snapshot) {
			defer wg.Done()
			s.drain(ctx, p, ch)
		}(p, ch)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logStats(ctx, statsInterval)
	}()

	if s.cfg.Source.Kind == config.SourceReplay && s.currentSource() == nil {
		err = s.runReplay(ctx)
	} else {
		err = s.runLive(ctx)
	}

	s.logger.Info("gaze service run loop exiting", "ticks", s.Stats().Ticks)
	return err
}

// connectPublishers builds the publishers enabled in the emitter config.
func (s *Service) connectPublishers(ctx context.Context) error {
	em := s.cfg.Emitter
	meta := emitter.Meta{InstanceID: s.cfg.InstanceID, SessionID: s.cfg.SessionID}

	if em.MQTT.Broker != "" {
		p := emitter.NewMQTTPublisher(emitter.MQTTConfig{
			Broker:           em.MQTT.Broker,
			ClientID:         "gazed-" + s.cfg.InstanceID,
			EventsTopic:      em.MQTT.Topics.Events,
			SnapshotsTopic:   em.MQTT.Topics.Snapshots,
			PublishSnapshots: em.MQTT.PublishSnapshots,
			QoS:              em.MQTT.QoS,
			Meta:             meta,
		}, s.logger)
		// Registered before Connect so Shutdown disconnects a retrying client
		s.addPublisher(p)
		if err := p.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect mqtt: %w", err)
		}
	}

	if em.Redis.URL != "" {
		p, err := emitter.NewRedisPublisher(ctx, emitter.RedisConfig{
			URL:    em.Redis.URL,
			Stream: em.Redis.Stream,
			MaxLen: em.Redis.MaxLen,
			Meta:   meta,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		s.addPublisher(p)
	}

	if len(s.currentPublishers()) == 0 {
		s.logger.Info("no publishers configured, events are only recorded")
	}
	return nil
}

func (s *Service) addPublisher(p emitter.Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishers = append(s.publishers, p)
}

func (s *Service) currentPublishers() []emitter.Publisher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]emitter.Publisher(nil), s.publishers...)
}

func (s *Service) currentSource() stream.Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

// runLive consumes frames from the source through the tracker.
func (s *Service) runLive(ctx context.Context) error {
	est := s.estimator
	if est == nil {
		var err error
		if est, err = s.newEstimator(ctx); err != nil {
			return err
		}
	}
	if c, ok := est.(io.Closer); ok {
		s.mu.Lock()
		s.closers = append(s.closers, c)
		s.mu.Unlock()
	}

	tracker, err := gaze.NewTracker(s.engine, est)
	if err != nil {
		return fmt.Errorf("failed to create tracker: %w", err)
	}

	source := s.currentSource()
	if source == nil {
		width, height := s.cfg.Source.Width, s.cfg.Source.Height
		if width == 0 || height == 0 {
			width, height = 640, 480
		}
		source = stream.NewMockStream(stream.MockConfig{
			Width:  width,
			Height: height,
			FPS:    s.cfg.Source.FPS,
			Source: "LQ",
			Logger: s.logger,
		})
		s.mu.Lock()
		s.source = source
		s.mu.Unlock()
	}

	frames, err := source.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}

	s.logger.Info("gaze service running", "source", s.cfg.Source.Kind)

	var failing uint64
	for {
		select {
		case <-ctx.Done():
			return nil

		case frame, ok := <-frames:
			if !ok {
				s.logger.Info("stream channel closed", "frames", source.Stats().FrameCount)
				return nil
			}

			if err := s.tick(ctx, tracker, frame); err != nil {
				failing++
				metrics.EstimatorErrorsTotal.Inc()
				// Log the first failure of a streak, not every frame
				if failing == 1 {
					s.logger.Warn("estimator refresh failed, frame skipped",
						"seq", frame.Seq,
						"error", err,
						"action", "check the estimator sidecar logs")
				}
				continue
			}
			if failing > 0 {
				s.logger.Info("estimator recovered", "failed_frames", failing)
				failing = 0
			}
		}
	}
}

func (s *Service) newEstimator(ctx context.Context) (estimator.Estimator, error) {
	switch s.cfg.Source.Kind {
	case config.SourceSidecar:
		sc, err := estimator.NewSidecar(ctx, estimator.SidecarConfig{
			ID:      "gaze-sidecar",
			Command: s.cfg.Source.Sidecar.Command,
			Args:    s.cfg.Source.Sidecar.Args,
			Timeout: s.cfg.Source.Sidecar.Timeout(),
			Logger:  s.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to start estimator sidecar: %w", err)
		}
		return sc, nil
	default:
		return estimator.NewSynthetic(estimator.DefaultSyntheticConfig()), nil
	}
}

// tick runs one frame through the tracker. A refresh error consumes no tick.
func (s *Service) tick(ctx context.Context, tracker *gaze.Tracker, frame types.Frame) error {
	ctx, span := s.tracer.Start(ctx, "gaze.tick",
		trace.WithAttributes(
			attribute.Int64("frame.seq", int64(frame.Seq)),
			attribute.String("frame.trace_id", frame.TraceID),
		))
	defer span.End()

	start := time.Now()
	snap, err := tracker.Update(ctx, frame)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "estimator refresh failed")
		return err
	}
	metrics.EngineTickDuration.Observe(time.Since(start).Seconds())

	span.SetAttributes(
		attribute.Bool("gaze.suppressed", snap.Suppressed),
		attribute.Int("gaze.events", len(snap.Emitted)),
	)
	s.publish(snap)
	return nil
}

// runReplay feeds a recorded session straight into the engine.
func (s *Service) runReplay(ctx context.Context) error {
	player := replay.NewPlayer(s.cfg.Source.Replay.RateHz)

	s.logger.Info("gaze service replaying",
		"samples", len(s.samples),
		"rate_hz", s.cfg.Source.Replay.RateHz,
	)

	n, err := player.Run(ctx, s.samples, func(sample types.Sample) error {
		start := time.Now()
		snap := s.engine.Process(sample)
		metrics.EngineTickDuration.Observe(time.Since(start).Seconds())
		s.publish(snap)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("replay stopped after %d samples: %w", n, err)
	}

	s.logger.Info("replay finished", "samples", n, "total", len(s.samples))
	return nil
}

// publish records tick metrics and hands snap to the bus.
func (s *Service) publish(snap types.Snapshot) {
	metrics.ObserveSnapshot(snap)
	metrics.RecorderBufferedRows.Set(float64(s.recorder.Len()))

	s.mu.Lock()
	s.stats = s.engine.Stats()
	s.mu.Unlock()

	s.bus.Publish(snap)
}

// drain forwards snapshots from ch to p until ch is closed. Publishing uses
// a context detached from cancellation so queued events still go out while
// shutting down.
func (s *Service) drain(ctx context.Context, p emitter.Publisher, ch <-chan types.Snapshot) {
	pubCtx := context.WithoutCancel(ctx)
	name := p.Name()

	for snap := range ch {
		if err := safePublish(pubCtx, p, snap); err != nil {
			metrics.EmitterPublishErrorsTotal.WithLabelValues(name).Inc()
			s.logger.Error("failed to publish snapshot",
				"publisher", name,
				"timestamp", snap.Timestamp,
				"events", len(snap.Emitted),
				"error", err,
			)
		}
	}
	s.logger.Debug("publisher drained", "publisher", name)
}

// safePublish turns a publisher panic into an error so one bad snapshot does
// not stop the drain loop.
func safePublish(ctx context.Context, p emitter.Publisher, snap types.Snapshot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publisher %s panicked: %v", p.Name(), r)
		}
	}()
	return p.Publish(ctx, snap)
}

// logStats periodically logs pipeline stats and exports bus drops.
func (s *Service) logStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastDropped := make(map[string]uint64)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			busStats := s.bus.Stats()
			st := s.Stats()

			s.logger.Debug("pipeline stats",
				"ticks", st.Ticks,
				"suppressed", st.Suppressed,
				"saccades_h", st.Saccades[types.AxisH],
				"saccades_v", st.Saccades[types.AxisV],
				"bus_published", busStats.TotalPublished,
				"rows_buffered", s.recorder.Len(),
			)

			for id, sub := range busStats.Subscribers {
				delta := sub.Dropped - lastDropped[id]
				if delta == 0 {
					continue
				}
				lastDropped[id] = sub.Dropped
				metrics.BusDroppedTotal.WithLabelValues(id).Add(float64(delta))
				s.logger.Warn("publisher dropping snapshots",
					"publisher", id,
					"dropped_count", sub.Dropped,
					"action", "check broker latency or raise emitter.buffer_size")
			}
		}
	}
}

// Shutdown stops the pipeline and exports the session log. It always
// attempts the CSV export, then the SQLite export when configured, even if
// the run failed. Safe to call more than once; later calls return the first
// result.
func (s *Service) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(ctx)
	})
	return s.shutdownErr
}

func (s *Service) shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gaze service")

	// 1. Stop the run loop and wait for the publishers to flush
	s.mu.RLock()
	cancel, done := s.cancelRun, s.runDone
	s.mu.RUnlock()
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Warn("run loop did not stop before shutdown deadline",
				"action", "exporting what was recorded so far")
		}
	}

	s.mu.RLock()
	source, closers, server := s.source, s.closers, s.server
	s.mu.RUnlock()

	// 2. Stop the source and the estimator
	if source != nil {
		if err := source.Stop(); err != nil {
			s.logger.Error("failed to stop stream", "error", err)
		}
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			s.logger.Error("failed to close estimator", "error", err)
		}
	}

	// 3. Close the bus and disconnect publishers
	s.bus.Close()
	for _, p := range s.currentPublishers() {
		if err := p.Close(); err != nil {
			s.logger.Error("failed to close publisher", "publisher", p.Name(), "error", err)
		}
	}

	// 4. Health server
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			s.logger.Error("failed to stop health server", "error", err)
		}
	}

	// 5. Export
	err := s.export(ctx)

	s.mu.RLock()
	uptime := time.Since(s.started)
	if s.started.IsZero() {
		uptime = 0
	}
	s.mu.RUnlock()

	s.logger.Info("gaze service shutdown complete",
		"uptime", uptime,
		"rows", s.recorder.Len(),
	)
	return err
}

// export writes the recorder buffer to CSV and, when configured, SQLite.
// Both are attempted; their errors are joined.
func (s *Service) export(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "gaze.export",
		trace.WithAttributes(attribute.Int("rows", s.recorder.Len())))
	defer span.End()

	var errs []error

	n, err := s.recorder.ExportFile(s.cfg.Recorder.CSVPath)
	if err != nil {
		metrics.RecorderExportErrorsTotal.WithLabelValues("csv").Inc()
		s.logger.Error("failed to export gaze log",
			"path", s.cfg.Recorder.CSVPath,
			"error", err,
			"action", "check that the directory exists and is writable")
		errs = append(errs, fmt.Errorf("csv export: %w", err))
	} else {
		metrics.RecorderExportRowsTotal.WithLabelValues("csv").Add(float64(n))
	}

	if s.cfg.Recorder.SQLitePath != "" {
		n, err := s.exportSQLite(ctx)
		if err != nil {
			metrics.RecorderExportErrorsTotal.WithLabelValues("sqlite").Inc()
			s.logger.Error("failed to export gaze log",
				"sqlite", s.cfg.Recorder.SQLitePath,
				"error", err)
			errs = append(errs, fmt.Errorf("sqlite export: %w", err))
		} else {
			metrics.RecorderExportRowsTotal.WithLabelValues("sqlite").Add(float64(n))
		}
	}

	err = errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "export failed")
	}
	return err
}

func (s *Service) exportSQLite(ctx context.Context) (int, error) {
	x, err := recorder.NewSQLiteExporter(s.cfg.Recorder.SQLitePath, s.logger)
	if err != nil {
		return 0, err
	}
	defer x.Close()

	// The shutdown deadline may already be spent waiting on the run loop
	return x.Export(context.WithoutCancel(ctx), s.cfg.SessionID, s.recorder.Rows())
}

// Stats returns the engine counters as of the last tick.
func (s *Service) Stats() gaze.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Recorder exposes the session log buffer.
func (s *Service) Recorder() *recorder.Recorder { return s.recorder }

// ShutdownTimeout returns the configured graceful shutdown timeout.
func (s *Service) ShutdownTimeout() time.Duration {
	timeout := s.cfg.ShutdownTimeout()
	if timeout == 0 {
		return 5 * time.Second // Default
	}
	return timeout
}
