package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/e7canasta/orion-gaze/internal/gaze"
)

// Source kinds
const (
	SourceSynthetic = "synthetic"
	SourceSidecar   = "sidecar"
	SourceReplay    = "replay"
)

// Config represents the complete gazed configuration
type Config struct {
	InstanceID       string         `yaml:"instance_id"`
	SessionID        string         `yaml:"session_id"`         // default: random UUID
	ShutdownTimeoutS int            `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Engine           gaze.Config    `yaml:"engine"`
	Source           SourceConfig   `yaml:"source"`
	Recorder         RecorderConfig `yaml:"recorder"`
	Emitter          EmitterConfig  `yaml:"emitter"`
	Server           ServerConfig   `yaml:"server"`
	Tracing          TracingConfig  `yaml:"tracing"`
	Log              LogConfig      `yaml:"log"`
}

// SourceConfig selects where samples come from
type SourceConfig struct {
	Kind    string        `yaml:"kind"` // synthetic, sidecar, replay
	FPS     int           `yaml:"fps"`  // frame rate for live sources
	Width   int           `yaml:"width"`
	Height  int           `yaml:"height"`
	Sidecar SidecarConfig `yaml:"sidecar"`
	Replay  ReplayConfig  `yaml:"replay"`
}

// SidecarConfig describes the external gaze estimator process
type SidecarConfig struct {
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args"`
	TimeoutMS int      `yaml:"timeout_ms"`
}

// Timeout returns the per-frame round trip limit
func (c SidecarConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// ReplayConfig points at a previously exported log
type ReplayConfig struct {
	Path   string  `yaml:"path"`
	RateHz float64 `yaml:"rate_hz"` // 0 = as fast as possible
}

// RecorderConfig contains export destinations
type RecorderConfig struct {
	CSVPath    string `yaml:"csv_path"`
	SQLitePath string `yaml:"sqlite_path"` // optional
}

// EmitterConfig contains publisher settings. A publisher without an
// address is disabled.
type EmitterConfig struct {
	MQTT       MQTTConfig  `yaml:"mqtt"`
	Redis      RedisConfig `yaml:"redis"`
	BufferSize int         `yaml:"buffer_size"` // per-publisher snapshot queue
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker           string          `yaml:"broker"`
	Topics           MQTTTopics      `yaml:"topics"`
	QoS              map[string]byte `yaml:"qos"`
	PublishSnapshots bool            `yaml:"publish_snapshots"`
}

// MQTTTopics contains topic templates
type MQTTTopics struct {
	Events    string `yaml:"events"`
	Snapshots string `yaml:"snapshots"`
}

// RedisConfig contains Redis Streams settings
type RedisConfig struct {
	URL    string `yaml:"url"`
	Stream string `yaml:"stream"`
	MaxLen int64  `yaml:"max_len"`
}

// ServerConfig contains the health/metrics HTTP server settings
type ServerConfig struct {
	HealthPort int `yaml:"health_port"` // 0 disables the server
}

// TracingConfig contains OpenTelemetry settings
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"` // empty = noop tracer
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Default returns a configuration with every default filled in.
// InstanceID is left empty; it has no sensible default.
func Default() Config {
	return Config{
		ShutdownTimeoutS: 5,
		Engine:           gaze.DefaultConfig(),
		Source: SourceConfig{
			Kind: SourceSynthetic,
			FPS:  30,
			Sidecar: SidecarConfig{
				TimeoutMS: 2000,
			},
		},
		Recorder: RecorderConfig{
			CSVPath: "gaze_log.csv",
		},
		Emitter: EmitterConfig{
			Redis: RedisConfig{
				Stream: "gaze:events",
				MaxLen: 10000,
			},
			BufferSize: 64,
		},
		Server: ServerConfig{
			HealthPort: 8080,
		},
		Tracing: TracingConfig{
			Insecure:    true,
			SampleRatio: 1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// ShutdownTimeout returns the graceful shutdown budget
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// Load reads and parses a YAML configuration file. Keys not present in the
// file keep their Default value; unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML configuration data.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
