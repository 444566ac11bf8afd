package emitter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/e7canasta/orion-gaze/internal/types"
)

// DefaultStreamMaxLen caps the Redis stream when no limit is configured.
const DefaultStreamMaxLen = 10000

// RedisConfig configures the Redis Streams publisher.
type RedisConfig struct {
	URL    string
	Stream string
	// MaxLen trims the stream approximately (MAXLEN ~)
	MaxLen int64
	Meta   Meta
}

// RedisPublisher appends each emitted event to a Redis stream with XADD.
// Consumers read it with XREAD/XREADGROUP.
type RedisPublisher struct {
	client *redis.Client
	cfg    RedisConfig
	logger *slog.Logger

	published atomic.Uint64
	errors    atomic.Uint64
}

// NewRedisPublisher connects to cfg.URL and verifies the connection.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return newRedisPublisher(client, cfg, logger), nil
}

func newRedisPublisher(client *redis.Client, cfg RedisConfig, logger *slog.Logger) *RedisPublisher {
	if cfg.Stream == "" {
		cfg.Stream = "gaze:events"
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = DefaultStreamMaxLen
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{
		client: client,
		cfg:    cfg,
		logger: logger.With("publisher", "redis", "stream", cfg.Stream),
	}
}

// Name implements Publisher.
func (p *RedisPublisher) Name() string { return "redis" }

// Publish XADDs every emitted event in one pipeline round trip.
// Snapshots without events are skipped.
func (p *RedisPublisher) Publish(ctx context.Context, snap types.Snapshot) error {
	if len(snap.Emitted) == 0 {
		return nil
	}

	_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, ev := range snap.Emitted {
			pipe.XAdd(ctx, p.addArgs(NewEventPayload(p.cfg.Meta, ev)))
		}
		return nil
	})
	if err != nil {
		p.errors.Add(1)
		return fmt.Errorf("xadd %s: %w", p.cfg.Stream, err)
	}

	p.published.Add(uint64(len(snap.Emitted)))
	p.logger.Debug("gaze events appended", "count", len(snap.Emitted))
	return nil
}

func (p *RedisPublisher) addArgs(ev EventPayload) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: p.cfg.Stream,
		MaxLen: p.cfg.MaxLen,
		Approx: true,
		Values: streamValues(ev),
	}
}

// streamValues flattens an event into stream entry fields.
func streamValues(ev EventPayload) map[string]interface{} {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return map[string]interface{}{
		"session_id":  ev.SessionID,
		"instance_id": ev.InstanceID,
		"label":       ev.Label,
		"axis":        ev.Axis,
		"kind":        ev.Kind,
		"t_start":     f(ev.TStart),
		"t_end":       f(ev.TEnd),
		"amplitude":   f(ev.Amplitude),
		"velocity":    f(ev.Velocity),
		"duration":    f(ev.Duration),
	}
}

// Stats returns publisher statistics.
func (p *RedisPublisher) Stats() Stats {
	return Stats{
		Connected: true,
		Published: map[string]uint64{p.cfg.Stream: p.published.Load()},
		Errors:    p.errors.Load(),
	}
}

// Close closes the client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
