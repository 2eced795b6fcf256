package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	yamlv3 "gopkg.in/yaml.v3"

	amqperrors "github.com/maxpert/amqp-go-client/errors"
)

// EnvPrefix is the prefix of environment variables overriding file settings.
// AMQP_RPC_TIMEOUT maps to rpc.timeout.
const EnvPrefix = "AMQP_"

// MaxChannelID is the largest channel id AMQP 0-9-1 can address.
const MaxChannelID = 65535

// DefaultConfig creates a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Channel: ChannelConfig{
			MaxID:          MaxChannelID,
			DeliveryBuffer: 64,
		},
		RPC: RPCConfig{
			Timeout:       10 * time.Second,
			CloseTimeout:  2 * time.Second,
			StrictReplies: true,
		},
		Frame: FrameConfig{
			Max: 131072, // 128KB
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Namespace:     "amqp_client",
			TelemetryPort: 9419,
		},
	}
}

// Config is the client configuration
type Config struct {
	Channel ChannelConfig `koanf:"channel" yaml:"channel"`
	RPC     RPCConfig     `koanf:"rpc" yaml:"rpc"`
	Frame   FrameConfig   `koanf:"frame" yaml:"frame"`
	Log     LogConfig     `koanf:"log" yaml:"log"`
	Metrics MetricsConfig `koanf:"metrics" yaml:"metrics"`
}

// ChannelConfig bounds channel allocation
type ChannelConfig struct {
	// MaxID is the highest id the registry hands out (channel-max).
	MaxID int `koanf:"max_id" yaml:"max_id"`
	// DeliveryBuffer is the capacity of each channel's delivery queue.
	DeliveryBuffer int `koanf:"delivery_buffer" yaml:"delivery_buffer"`
}

// RPCConfig controls synchronous calls
type RPCConfig struct {
	Timeout       time.Duration `koanf:"timeout"`
	CloseTimeout  time.Duration `koanf:"close_timeout"`
	StrictReplies bool          `koanf:"strict_replies"`
}

// MarshalYAML writes durations in their string form so Load can read them back.
func (c RPCConfig) MarshalYAML() (interface{}, error) {
	return struct {
		Timeout       string `yaml:"timeout"`
		CloseTimeout  string `yaml:"close_timeout"`
		StrictReplies bool   `yaml:"strict_replies"`
	}{c.Timeout.String(), c.CloseTimeout.String(), c.StrictReplies}, nil
}

// FrameConfig holds negotiated frame limits
type FrameConfig struct {
	Max int `koanf:"max" yaml:"max"`
}

// LogConfig selects the zap logger
type LogConfig struct {
	Level       string `koanf:"level" yaml:"level"`
	Development bool   `koanf:"development" yaml:"development"`
}

// MetricsConfig configures prometheus metrics and the telemetry endpoint
type MetricsConfig struct {
	Namespace     string `koanf:"namespace" yaml:"namespace"`
	TelemetryPort int    `koanf:"telemetry_port" yaml:"telemetry_port"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Channel.MaxID < 1 || c.Channel.MaxID > MaxChannelID {
		return amqperrors.NewConfigValidationError("channel", "max_id", fmt.Sprintf("must be in [1, %d]: %d", MaxChannelID, c.Channel.MaxID))
	}
	if c.Channel.DeliveryBuffer < 0 {
		return amqperrors.NewConfigValidationError("channel", "delivery_buffer", fmt.Sprintf("cannot be negative: %d", c.Channel.DeliveryBuffer))
	}

	if c.RPC.Timeout <= 0 {
		return amqperrors.NewConfigValidationError("rpc", "timeout", fmt.Sprintf("must be positive: %v", c.RPC.Timeout))
	}
	if c.RPC.CloseTimeout <= 0 {
		return amqperrors.NewConfigValidationError("rpc", "close_timeout", fmt.Sprintf("must be positive: %v", c.RPC.CloseTimeout))
	}

	// Smallest frame-max AMQP allows.
	if c.Frame.Max < 4096 {
		return amqperrors.NewConfigValidationError("frame", "max", fmt.Sprintf("must be at least 4096: %d", c.Frame.Max))
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return amqperrors.NewConfigValidationError("log", "level", err.Error())
	}

	if c.Metrics.TelemetryPort <= 0 || c.Metrics.TelemetryPort > 65535 {
		return amqperrors.NewConfigValidationError("metrics", "telemetry_port", fmt.Sprintf("invalid port: %d", c.Metrics.TelemetryPort))
	}

	return nil
}

// Load reads a YAML or JSON file (empty path skips the file), applies
// AMQP_* environment overrides on top of the defaults and validates the
// result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		switch ext := filepath.Ext(path); ext {
		case ".yaml", ".yml", ".json":
			// JSON is a subset of YAML
		default:
			return nil, fmt.Errorf("unsupported configuration format: %s", ext)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, amqperrors.NewConfigError("failed to read configuration file", "file", path, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: envKey,
	}), nil); err != nil {
		return nil, amqperrors.NewConfigError("failed to read environment", "env", EnvPrefix, err)
	}

	cfg := DefaultConfig()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, amqperrors.NewConfigError("failed to parse configuration", "", "", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps AMQP_RPC_CLOSE_TIMEOUT to rpc.close_timeout: the first
// underscore separates section from key.
func envKey(k, v string) (string, any) {
	key := strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
	return strings.Replace(key, "_", ".", 1), v
}

// Save saves configuration to a YAML file
func (c *Config) Save(destination string) error {
	dir := filepath.Dir(destination)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create configuration directory: %w", err)
	}

	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(destination, data, 0644); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	return nil
}

// Logger builds a zap logger for the configured level
func (c LogConfig) Logger() (*zap.Logger, error) {
	var zapConfig zap.Config
	if c.Development {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	return zapConfig.Build()
}
