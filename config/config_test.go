package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amqperrors "github.com/maxpert/amqp-go-client/errors"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 65535, config.Channel.MaxID)
	assert.Equal(t, 64, config.Channel.DeliveryBuffer)
	assert.Equal(t, 10*time.Second, config.RPC.Timeout)
	assert.Equal(t, 2*time.Second, config.RPC.CloseTimeout)
	assert.True(t, config.RPC.StrictReplies)
	assert.Equal(t, 131072, config.Frame.Max)
	assert.Equal(t, "info", config.Log.Level)
	assert.Equal(t, "amqp_client", config.Metrics.Namespace)
	assert.Equal(t, 9419, config.Metrics.TelemetryPort)

	assert.NoError(t, config.Validate())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "channel max zero",
			modify:  func(c *Config) { c.Channel.MaxID = 0 },
			wantErr: true,
		},
		{
			name:    "channel max above protocol limit",
			modify:  func(c *Config) { c.Channel.MaxID = 65536 },
			wantErr: true,
		},
		{
			name:    "negative delivery buffer",
			modify:  func(c *Config) { c.Channel.DeliveryBuffer = -1 },
			wantErr: true,
		},
		{
			name:    "zero rpc timeout",
			modify:  func(c *Config) { c.RPC.Timeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero close timeout",
			modify:  func(c *Config) { c.RPC.CloseTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "frame max too small",
			modify:  func(c *Config) { c.Frame.Max = 1024 },
			wantErr: true,
		},
		{
			name:    "bad log level",
			modify:  func(c *Config) { c.Log.Level = "chatty" },
			wantErr: true,
		},
		{
			name:    "bad telemetry port",
			modify:  func(c *Config) { c.Metrics.TelemetryPort = 70000 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)

			err := config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				var cfgErr *amqperrors.ConfigError
				assert.ErrorAs(t, err, &cfgErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "nested", "client.yaml")

	original := NewConfigBuilder().
		WithChannelMax(2047).
		WithRPCTimeout(3 * time.Second).
		WithStrictReplies(false).
		WithFrameMax(8192).
		WithLogging("debug", true).
		BuildUnsafe()

	require.NoError(t, original.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, original, loaded)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rpc:\n  timeout: 250ms\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.RPC.Timeout)
	assert.Equal(t, 2*time.Second, cfg.RPC.CloseTimeout)
	assert.Equal(t, 65535, cfg.Channel.MaxID)
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"channel": {"max_id": 16}, "frame": {"max": 4096}}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Channel.MaxID)
	assert.Equal(t, 4096, cfg.Frame.Max)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AMQP_RPC_TIMEOUT", "5s")
	t.Setenv("AMQP_RPC_STRICT_REPLIES", "false")
	t.Setenv("AMQP_CHANNEL_MAX_ID", "100")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.RPC.Timeout)
	assert.False(t, cfg.RPC.StrictReplies)
	assert.Equal(t, 100, cfg.Channel.MaxID)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("AMQP_CHANNEL_MAX_ID", "70000")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel.max_id")
}

func TestLoadUnsupportedFormat(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "client.toml"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	key, value := envKey("AMQP_RPC_CLOSE_TIMEOUT", "1s")
	assert.Equal(t, "rpc.close_timeout", key)
	assert.Equal(t, "1s", value)
}

func TestConfigBuilder(t *testing.T) {
	config, err := NewConfigBuilder().
		WithChannelMax(10).
		WithDeliveryBuffer(1).
		WithCloseTimeout(time.Second).
		WithMetrics("sim", 9500).
		Build()
	require.NoError(t, err)

	assert.Equal(t, 10, config.Channel.MaxID)
	assert.Equal(t, 1, config.Channel.DeliveryBuffer)
	assert.Equal(t, time.Second, config.RPC.CloseTimeout)
	assert.Equal(t, "sim", config.Metrics.Namespace)
	assert.Equal(t, 9500, config.Metrics.TelemetryPort)

	_, err = NewConfigBuilder().WithChannelMax(0).Build()
	assert.Error(t, err)
}

func TestFromConfigCopies(t *testing.T) {
	base := DefaultConfig()
	derived := FromConfig(base).WithChannelMax(5).BuildUnsafe()

	assert.Equal(t, 5, derived.Channel.MaxID)
	assert.Equal(t, 65535, base.Channel.MaxID)
}

func TestLogConfigLogger(t *testing.T) {
	logger, err := LogConfig{Level: "warn"}.Logger()
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))

	_, err = LogConfig{Level: "loud"}.Logger()
	assert.Error(t, err)
}
