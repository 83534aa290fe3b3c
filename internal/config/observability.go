package config

// ObservabilityConfig holds OTLP trace export configuration.
// See internal/observability/tracing.go for the exporter setup.
type ObservabilityConfig struct {
	// Enabled turns trace export on. Off by default.
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// Endpoint is the OTLP/HTTP collector endpoint (default: localhost:4318)
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
	// Environment is the deployment environment tag (default: dev)
	Environment string `mapstructure:"environment" json:"environment"`
	// ServiceName is the reported service name (default: agentplane)
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}
