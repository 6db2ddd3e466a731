// Package config loads resource declarations from YAML. The loader turns a
// document into engine.ResourceDecl values: count blocks are expanded into
// indexed addresses, ${type.name.attr} strings become references, and every
// other value becomes a literal cty value.
package config

import (
	"github.com/terrane-io/terrane/pkg/engine"
	"github.com/terrane-io/terrane/pkg/state"
	"github.com/terrane-io/terrane/pkg/telemetry"
)

// Document is the root of a configuration file.
type Document struct {
	// Resources declares the desired resources.
	Resources []ResourceConfig `yaml:"resources" validate:"dive"`

	// Schemas declares per-type diff policies.
	Schemas []SchemaConfig `yaml:"schemas,omitempty" validate:"dive"`
}

// ResourceConfig is one resource block as written in YAML.
type ResourceConfig struct {
	// Type is the resource type, e.g. "compute.instance".
	Type string `yaml:"type" validate:"required"`

	// Name is the logical name, unique per type.
	Name string `yaml:"name" validate:"required"`

	// Count expands this block into indexed instances. Zero or one means a
	// single non-indexed resource.
	Count int `yaml:"count,omitempty" validate:"gte=0"`

	// DependsOn lists explicit ordering hints as canonical address strings.
	DependsOn []string `yaml:"depends_on,omitempty"`

	// Attrs is the desired attribute set. String values of the form
	// "${type.name.attr}" are references; everything else is literal.
	Attrs map[string]interface{} `yaml:"attrs,omitempty"`
}

// SchemaConfig is one diff-policy block as written in YAML.
type SchemaConfig struct {
	// Type is the resource type the policy applies to.
	Type string `yaml:"type" validate:"required"`

	// Attrs maps attribute names to their policy.
	Attrs map[string]engine.AttrSchema `yaml:"attrs" validate:"required"`
}

// RuntimeConfig is the engine-level configuration file, separate from the
// resource documents.
type RuntimeConfig struct {
	// Parallelism bounds concurrent operations per run.
	Parallelism int `yaml:"parallelism" validate:"gte=0"`

	// State configures the backing store.
	State state.SQLiteConfig `yaml:"state"`

	// Logging configures the structured logger.
	Logging telemetry.LoggingConfig `yaml:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics telemetry.MetricsConfig `yaml:"metrics"`

	// Tracing configures OpenTelemetry span export.
	Tracing telemetry.TracingConfig `yaml:"tracing"`
}

// DefaultRuntimeConfig returns the runtime defaults.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		Parallelism: engine.DefaultParallelism,
		State:       state.DefaultSQLiteConfig(),
		Logging:     telemetry.DefaultLoggingConfig(),
		Metrics:     telemetry.DefaultMetricsConfig(),
		Tracing:     telemetry.DefaultTracingConfig(),
	}
}
