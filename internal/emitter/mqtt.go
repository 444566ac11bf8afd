package emitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-gaze/internal/types"
)

const publishTimeout = 2 * time.Second

// ErrNotConnected is returned when publishing before Connect or while the
// broker connection is down.
var ErrNotConnected = errors.New("emitter: mqtt not connected")

// MQTTConfig configures the MQTT publisher.
type MQTTConfig struct {
	// Broker is host:port
	Broker   string
	ClientID string
	// EventsTopic is the base topic; events go to <EventsTopic>/<H|V>-<KIND>
	EventsTopic string
	// SnapshotsTopic receives every snapshot when PublishSnapshots is set
	SnapshotsTopic   string
	PublishSnapshots bool
	// QoS per stream: "events", "snapshots" (default 0)
	QoS  map[string]byte
	Meta Meta
}

// MQTTPublisher publishes gaze events to an MQTT broker.
type MQTTPublisher struct {
	cfg    MQTTConfig
	logger *slog.Logger
	// Client is exported for diagnostics
	Client mqtt.Client

	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// NewMQTTPublisher creates a publisher. Call Connect before Publish.
func NewMQTTPublisher(cfg MQTTConfig, logger *slog.Logger) *MQTTPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTPublisher{
		cfg:       cfg,
		logger:    logger.With("publisher", "mqtt"),
		newClient: mqtt.NewClient,
		published: make(map[string]uint64),
	}
}

// Name implements Publisher.
func (p *MQTTPublisher) Name() string { return "mqtt" }

// Connect establishes the broker connection. Auto-reconnect stays enabled
// for the life of the publisher.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", p.cfg.Broker))
	opts.SetClientID(p.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		p.setConnected(true)
		p.logger.Info("mqtt connection established",
			"broker", p.cfg.Broker,
			"client_id", p.cfg.ClientID,
			"auto_reconnect", "enabled")
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		p.setConnected(false)
		p.logger.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", p.cfg.Broker,
			"max_retry_interval", "30s",
			"action", "waiting for automatic reconnection")
	}

	p.Client = p.newClient(opts)

	p.logger.Info("connecting to mqtt broker", "broker", p.cfg.Broker)

	if err := waitToken(ctx, p.Client.Connect(), 5*time.Second); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	p.setConnected(true)
	return nil
}

// Publish sends every emitted event to its label topic, then the snapshot
// itself when snapshot publishing is enabled. All failures are reported.
func (p *MQTTPublisher) Publish(ctx context.Context, snap types.Snapshot) error {
	if !p.isConnected() {
		p.countError()
		return ErrNotConnected
	}

	var errs []error
	for _, ev := range snap.Emitted {
		topic := fmt.Sprintf("%s/%s", p.cfg.EventsTopic, types.Label(ev))
		payload, err := NewEventPayload(p.cfg.Meta, ev).ToJSON()
		if err != nil {
			p.countError()
			errs = append(errs, fmt.Errorf("failed to marshal event: %w", err))
			continue
		}
		if err := p.publish(ctx, topic, p.qos("events"), payload); err != nil {
			errs = append(errs, err)
		}
	}

	if p.cfg.PublishSnapshots && p.cfg.SnapshotsTopic != "" {
		payload, err := NewSnapshotPayload(p.cfg.Meta, snap).ToJSON()
		if err != nil {
			p.countError()
			errs = append(errs, fmt.Errorf("failed to marshal snapshot: %w", err))
		} else if err := p.publish(ctx, p.cfg.SnapshotsTopic, p.qos("snapshots"), payload); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (p *MQTTPublisher) publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	if err := waitToken(ctx, p.Client.Publish(topic, qos, false, payload), publishTimeout); err != nil {
		p.countError()
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	p.mu.Lock()
	p.published[topic]++
	p.mu.Unlock()

	p.logger.Debug("gaze payload published",
		"topic", topic,
		"qos", qos,
		"size", len(payload),
	)
	return nil
}

// Close disconnects from the broker. It also stops a client still retrying
// its first connection.
func (p *MQTTPublisher) Close() error {
	if p.Client != nil {
		p.Client.Disconnect(250) // 250ms grace period
		p.logger.Info("mqtt disconnected")
	}
	p.setConnected(false)
	return nil
}

// Stats returns publisher statistics.
func (p *MQTTPublisher) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	published := make(map[string]uint64, len(p.published))
	for k, v := range p.published {
		published[k] = v
	}

	return Stats{
		Connected: p.connected,
		Published: published,
		Errors:    p.errors,
	}
}

func (p *MQTTPublisher) qos(stream string) byte {
	if qos, ok := p.cfg.QoS[stream]; ok {
		return qos
	}
	return 0
}

func (p *MQTTPublisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *MQTTPublisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}

// waitToken waits for a paho token, bounded by timeout and ctx.
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("timeout after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
