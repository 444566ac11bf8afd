package config

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid and fills derived defaults
// (session ID, topics, QoS).
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.SessionID == "" {
		cfg.SessionID = uuid.New().String()
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	// Engine invariants are checked here so the daemon fails before it
	// acquires a camera, a sidecar or a broker connection.
	if err := cfg.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	if err := validateSource(&cfg.Source); err != nil {
		return fmt.Errorf("source: %w", err)
	}

	if cfg.Recorder.CSVPath == "" {
		return fmt.Errorf("recorder.csv_path is required")
	}

	if err := validateEmitter(cfg); err != nil {
		return fmt.Errorf("emitter: %w", err)
	}

	if cfg.Server.HealthPort < 0 || cfg.Server.HealthPort > 65535 {
		return fmt.Errorf("server.health_port must be in [0, 65535], got %d", cfg.Server.HealthPort)
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	case "":
		cfg.Log.Level = "info"
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text":
	case "":
		cfg.Log.Format = "json"
	default:
		return fmt.Errorf("log.format must be json or text, got %q", cfg.Log.Format)
	}

	return nil
}

func validateSource(src *SourceConfig) error {
	switch src.Kind {
	case SourceSynthetic:
	case SourceSidecar:
		if src.Sidecar.Command == "" {
			return fmt.Errorf("sidecar.command is required for kind %q", SourceSidecar)
		}
		if src.Sidecar.TimeoutMS <= 0 {
			src.Sidecar.TimeoutMS = 2000 // default
		}
	case SourceReplay:
		if src.Replay.Path == "" {
			return fmt.Errorf("replay.path is required for kind %q", SourceReplay)
		}
		if src.Replay.RateHz < 0 {
			return fmt.Errorf("replay.rate_hz must be >= 0, got %v", src.Replay.RateHz)
		}
		return nil
	default:
		return fmt.Errorf("unknown kind %q (must be %s, %s or %s)",
			src.Kind, SourceSynthetic, SourceSidecar, SourceReplay)
	}

	if src.FPS <= 0 {
		return fmt.Errorf("fps must be > 0")
	}
	if src.Width < 0 || src.Height < 0 {
		return fmt.Errorf("width/height must be >= 0")
	}
	return nil
}

func validateEmitter(cfg *Config) error {
	em := &cfg.Emitter
	if em.BufferSize <= 0 {
		em.BufferSize = 64 // default
	}

	// Set default topics if not provided
	if em.MQTT.Topics.Events == "" {
		em.MQTT.Topics.Events = fmt.Sprintf("gaze/events/%s", cfg.InstanceID)
	}
	if em.MQTT.Topics.Snapshots == "" {
		em.MQTT.Topics.Snapshots = fmt.Sprintf("gaze/snapshots/%s", cfg.InstanceID)
	}

	// Set default QoS if not provided
	if em.MQTT.QoS == nil {
		em.MQTT.QoS = map[string]byte{
			"events":    1,
			"snapshots": 0,
		}
	}
	for stream, qos := range em.MQTT.QoS {
		if qos > 2 {
			return fmt.Errorf("mqtt.qos[%s] must be 0, 1 or 2, got %d", stream, qos)
		}
	}

	if em.Redis.URL != "" && em.Redis.Stream == "" {
		em.Redis.Stream = "gaze:events"
	}
	if em.Redis.MaxLen < 0 {
		return fmt.Errorf("redis.max_len must be >= 0, got %d", em.Redis.MaxLen)
	}
	return nil
}
