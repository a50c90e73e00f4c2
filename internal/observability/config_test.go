package observability

import (
	"testing"

	"github.com/smallbiznis/instructorledger/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(config.Config{AppName: " ", Environment: "production", AppVersion: "1.2.3"})
	assert.Equal(t, "instructorledger", cfg.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)
	assert.Equal(t, "1.2.3", cfg.Version)
	assert.False(t, cfg.OtelEnabled)
	assert.False(t, cfg.Debug())
}

func TestLoadConfigNormalizes(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppName:      "ledger",
		OTLPEndpoint: " collector:4318 ",
		Observability: config.ObservabilityConfig{
			LogLevel:      " DEBUG ",
			OtelEnabled:   true,
			OtelProtocol:  "HTTP",
			SamplingRatio: 3,
		},
	})
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.Equal(t, "collector:4318", cfg.OtelExporterEndpoint)
	assert.Equal(t, 1.0, cfg.OtelSamplingRatio)
	assert.True(t, cfg.Debug())
}

func TestDebugInDevEnvironment(t *testing.T) {
	assert.True(t, Config{Environment: "LOCAL"}.Debug())
	assert.True(t, Config{LogLevel: "debug", Environment: "production"}.Debug())
	assert.False(t, Config{LogLevel: "info", Environment: "staging"}.Debug())
}
