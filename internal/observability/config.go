package observability

import (
	"strings"

	"github.com/smallbiznis/instructorledger/internal/config"
)

const defaultServiceName = "instructorledger"

// Config is the resolved observability setup shared by logging, tracing and
// metrics.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	obs := cfg.Observability
	level := strings.ToLower(strings.TrimSpace(obs.LogLevel))
	if level == "" {
		level = "info"
	}
	format := strings.ToLower(strings.TrimSpace(obs.LogFormat))
	if format == "" {
		format = "json"
	}
	protocol := strings.ToLower(strings.TrimSpace(obs.OtelProtocol))
	if protocol == "" {
		protocol = "grpc"
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             level,
		LogFormat:            format,
		OtelEnabled:          obs.OtelEnabled,
		OtelExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    clampRatio(obs.SamplingRatio),
	}
}

// Debug is true for an explicit debug level or any non-production environment.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func clampRatio(r float64) float64 {
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}
