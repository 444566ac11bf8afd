package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-gaze/internal/gaze"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gazed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MinimalFillsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "instance_id: desk-01\n"))
	require.NoError(t, err)

	assert.Equal(t, "desk-01", cfg.InstanceID)
	assert.NotEmpty(t, cfg.SessionID, "session id defaults to a uuid")
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout())
	assert.Equal(t, gaze.DefaultConfig(), cfg.Engine)
	assert.Equal(t, SourceSynthetic, cfg.Source.Kind)
	assert.Equal(t, 30, cfg.Source.FPS)
	assert.Equal(t, "gaze_log.csv", cfg.Recorder.CSVPath)
	assert.Equal(t, "gaze/events/desk-01", cfg.Emitter.MQTT.Topics.Events)
	assert.Equal(t, "gaze/snapshots/desk-01", cfg.Emitter.MQTT.Topics.Snapshots)
	assert.Equal(t, map[string]byte{"events": 1, "snapshots": 0}, cfg.Emitter.MQTT.QoS)
	assert.Equal(t, "gaze:events", cfg.Emitter.Redis.Stream)
	assert.EqualValues(t, 10000, cfg.Emitter.Redis.MaxLen)
	assert.Equal(t, 8080, cfg.Server.HealthPort)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_FullFile(t *testing.T) {
	body := `
instance_id: lab-2
session_id: s-42
shutdown_timeout_s: 9
engine:
  history_length: 10
  velocity_threshold: 1.5
  jitter_threshold: 0
  blink_skip_frames: 0
source:
  kind: sidecar
  fps: 15
  sidecar:
    command: python3
    args: ["-m", "gaze_worker"]
    timeout_ms: 500
recorder:
  csv_path: /tmp/out.csv
  sqlite_path: /tmp/out.db
emitter:
  mqtt:
    broker: localhost:1883
    topics:
      events: custom/events
    qos:
      events: 2
    publish_snapshots: true
  redis:
    url: redis://localhost:6379/0
server:
  health_port: 0
log:
  level: debug
  format: text
`
	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)

	assert.Equal(t, "s-42", cfg.SessionID)
	assert.Equal(t, 9*time.Second, cfg.ShutdownTimeout())
	assert.Equal(t, gaze.Config{HistoryLength: 10, VelocityThreshold: 1.5}, cfg.Engine,
		"explicit zeros override defaults")
	assert.Equal(t, SourceSidecar, cfg.Source.Kind)
	assert.Equal(t, []string{"-m", "gaze_worker"}, cfg.Source.Sidecar.Args)
	assert.Equal(t, 500*time.Millisecond, cfg.Source.Sidecar.Timeout())
	assert.Equal(t, "custom/events", cfg.Emitter.MQTT.Topics.Events)
	assert.Equal(t, "gaze/snapshots/lab-2", cfg.Emitter.MQTT.Topics.Snapshots)
	assert.Equal(t, map[string]byte{"events": 2}, cfg.Emitter.MQTT.QoS)
	assert.True(t, cfg.Emitter.MQTT.PublishSnapshots)
	assert.Equal(t, "gaze:events", cfg.Emitter.Redis.Stream)
	assert.Equal(t, 0, cfg.Server.HealthPort)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing instance", "source:\n  kind: synthetic\n"},
		{"bad instance", "instance_id: Desk_01\n"},
		{"unknown key", "instance_id: a\nbogus: 1\n"},
		{"unknown source", "instance_id: a\nsource:\n  kind: webcam\n"},
		{"sidecar without command", "instance_id: a\nsource:\n  kind: sidecar\n"},
		{"replay without path", "instance_id: a\nsource:\n  kind: replay\n"},
		{"negative replay rate", "instance_id: a\nsource:\n  kind: replay\n  replay:\n    path: x.csv\n    rate_hz: -1\n"},
		{"zero fps", "instance_id: a\nsource:\n  fps: 0\n"},
		{"empty csv path", "instance_id: a\nrecorder:\n  csv_path: \"\"\n"},
		{"qos out of range", "instance_id: a\nemitter:\n  mqtt:\n    qos:\n      events: 3\n"},
		{"bad port", "instance_id: a\nserver:\n  health_port: 70000\n"},
		{"bad level", "instance_id: a\nlog:\n  level: trace\n"},
		{"bad format", "instance_id: a\nlog:\n  format: xml\n"},
		{"malformed yaml", "instance_id: [a\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_EngineErrorWrapsInvalidConfig(t *testing.T) {
	body := "instance_id: a\nengine:\n  velocity_threshold: 0.1\n  jitter_threshold: 0.2\n"
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.True(t, errors.Is(err, gaze.ErrInvalidConfig))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestValidate_ReplayIgnoresFPS(t *testing.T) {
	cfg := Default()
	cfg.InstanceID = "r"
	cfg.Source.Kind = SourceReplay
	cfg.Source.Replay.Path = "log.csv"
	cfg.Source.FPS = 0

	assert.NoError(t, Validate(&cfg))
}

func TestValidate_FillsEmptyLogSettings(t *testing.T) {
	cfg := Default()
	cfg.InstanceID = "x"
	cfg.Log = LogConfig{}
	cfg.Emitter.BufferSize = 0

	require.NoError(t, Validate(&cfg))
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 64, cfg.Emitter.BufferSize)
}
