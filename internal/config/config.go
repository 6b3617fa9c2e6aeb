package config

import (
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	MQTT            MQTTConfig    `yaml:"mqtt"`
	Database        DatabaseConfig `yaml:"database"`
	Log             LogConfig     `yaml:"log"`
	Fade            FadeConfig    `yaml:"fade"`
	Scenes          ScenesConfig  `yaml:"scenes"`
	Hooks           HooksConfig   `yaml:"hooks"`
	API             APIConfig     `yaml:"api"`
	Ledger          LedgerConfig  `yaml:"ledger"`
	EventBus        EventBusConfig `yaml:"eventbus"`
	ShutdownTimeout Duration      `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// MQTTConfig contains the LCC bridge connection settings
type MQTTConfig struct {
	Broker         string   `yaml:"broker"`
	ClientID       string   `yaml:"client_id"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Topic          string   `yaml:"topic"`
	BaseEventID    string   `yaml:"base_event_id"` // hex or dotted-byte form
	ConnectTimeout Duration `yaml:"connect_timeout"`
	FrameRate      float64  `yaml:"frame_rate"`  // max frames/sec onto the bus, 0 = uncapped
	FrameBurst     int      `yaml:"frame_burst"` // burst size, default one full round
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// FadeConfig contains fade controller timing settings
type FadeConfig struct {
	TickInterval  Duration `yaml:"tick_interval"`   // periodic driver cadence
	MinTxInterval Duration `yaml:"min_tx_interval"` // minimum delay between transmission rounds
}

// ScenesConfig contains scene catalog settings
type ScenesConfig struct {
	AutoApplyFirst    bool     `yaml:"auto_apply_first"` // apply the first scene on startup
	AutoApplyDuration Duration `yaml:"auto_apply_duration"`
}

// HooksConfig contains Lua lifecycle hook settings
type HooksConfig struct {
	Script string `yaml:"script"` // path to the hook script, empty disables hooks
}

// APIConfig contains HTTP control server settings
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LedgerConfig contains fade history settings
type LedgerConfig struct {
	Enabled         bool     `yaml:"enabled"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 2)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 64)
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./fadectl.sqlite"
	}

	// MQTT defaults
	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "tcp://127.0.0.1:1883"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "fadectl"
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "lcc/events/lighting"
	}
	if cfg.MQTT.ConnectTimeout == 0 {
		cfg.MQTT.ConnectTimeout = Duration(10 * time.Second)
	}

	// Fade defaults: a 10ms driver cadence matches the minimum transmission
	// interval, anything faster only samples progress more finely.
	if cfg.Fade.TickInterval == 0 {
		cfg.Fade.TickInterval = Duration(10 * time.Millisecond)
	}
	if cfg.Fade.MinTxInterval == 0 {
		cfg.Fade.MinTxInterval = Duration(10 * time.Millisecond)
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// API defaults
	if cfg.API.Port == 0 {
		cfg.API.Port = 8321
	}
	if cfg.API.Host == "" {
		cfg.API.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	return &cfg, nil
}

// GetLevel returns the configured log level
func (c *LogConfig) GetLevel() string {
	return c.Level
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 2
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 64
	}
	return c.QueueSize
}

// GetShutdownTimeout returns the shutdown timeout as a time.Duration
func (c *Config) GetShutdownTimeout() time.Duration {
	return c.ShutdownTimeout.Duration()
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
