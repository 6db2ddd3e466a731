package telemetry

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is the minimum level to emit: trace, debug, info, warn, error,
	// fatal.
	Level string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`

	// Format is "json" or "console".
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`

	// Output is "stdout", "stderr", or a file path.
	Output string `yaml:"output"`

	// EnableCaller adds file:line of the call site to each entry.
	EnableCaller bool `yaml:"enable_caller"`
}

// DefaultLoggingConfig returns the logging defaults.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "console",
		Output: "stderr",
	}
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns metric collection on. When false every recording method
	// is a no-op.
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the address the metrics HTTP server binds to.
	ListenAddress string `yaml:"listen_address"`

	// Path is the HTTP path serving the metrics.
	Path string `yaml:"path"`

	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace"`
}

// DefaultMetricsConfig returns the metrics defaults.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		ListenAddress: ":9464",
		Path:          "/metrics",
		Namespace:     "terrane",
	}
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled turns span export on.
	Enabled bool `yaml:"enabled"`

	// ServiceName identifies this process in exported spans.
	ServiceName string `yaml:"service_name"`

	// SampleRatio is the fraction of runs to trace, 0 to 1.
	SampleRatio float64 `yaml:"sample_ratio" validate:"omitempty,gte=0,lte=1"`
}

// DefaultTracingConfig returns the tracing defaults.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName: "terrane",
		SampleRatio: 1.0,
	}
}
