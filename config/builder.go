package config

import (
	"time"
)

// ConfigBuilder provides a fluent API for building configuration
type ConfigBuilder struct {
	config *Config
}

// NewConfigBuilder creates a new configuration builder with defaults
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		config: DefaultConfig(),
	}
}

// FromConfig creates a builder from an existing configuration
func FromConfig(config *Config) *ConfigBuilder {
	builder := NewConfigBuilder()
	*builder.config = *config
	return builder
}

// WithChannelMax sets the highest channel id the registry hands out
func (b *ConfigBuilder) WithChannelMax(max int) *ConfigBuilder {
	b.config.Channel.MaxID = max
	return b
}

// WithDeliveryBuffer sets the per-channel delivery queue capacity
func (b *ConfigBuilder) WithDeliveryBuffer(size int) *ConfigBuilder {
	b.config.Channel.DeliveryBuffer = size
	return b
}

// WithRPCTimeout sets how long a call waits for its reply
func (b *ConfigBuilder) WithRPCTimeout(timeout time.Duration) *ConfigBuilder {
	b.config.RPC.Timeout = timeout
	return b
}

// WithCloseTimeout sets how long Close waits for connection.close-ok
func (b *ConfigBuilder) WithCloseTimeout(timeout time.Duration) *ConfigBuilder {
	b.config.RPC.CloseTimeout = timeout
	return b
}

// WithStrictReplies controls whether a reply on an idle channel poisons it
func (b *ConfigBuilder) WithStrictReplies(strict bool) *ConfigBuilder {
	b.config.RPC.StrictReplies = strict
	return b
}

// WithFrameMax sets the maximum frame size used to split message bodies
func (b *ConfigBuilder) WithFrameMax(size int) *ConfigBuilder {
	b.config.Frame.Max = size
	return b
}

// WithLogging configures logging settings
func (b *ConfigBuilder) WithLogging(level string, development bool) *ConfigBuilder {
	b.config.Log.Level = level
	b.config.Log.Development = development
	return b
}

// WithMetrics sets the metrics namespace and telemetry port
func (b *ConfigBuilder) WithMetrics(namespace string, port int) *ConfigBuilder {
	b.config.Metrics.Namespace = namespace
	b.config.Metrics.TelemetryPort = port
	return b
}

// Build returns the configured Config
func (b *ConfigBuilder) Build() (*Config, error) {
	if err := b.config.Validate(); err != nil {
		return nil, err
	}
	return b.config, nil
}

// BuildUnsafe returns the configured Config without validation
func (b *ConfigBuilder) BuildUnsafe() *Config {
	return b.config
}
