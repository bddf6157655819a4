// Package tracing wires OpenTelemetry for vimpilot. Remote calls, server
// lifecycle transitions and modal dispatches are recorded as spans when
// tracing is enabled; otherwise every tracer is a no-op.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/vimpilot/internal/log"
)

// DefaultServiceName identifies vimpilot in exported traces.
const DefaultServiceName = "vimpilot"

// Config configures the tracing subsystem.
type Config struct {
	// Enabled controls whether tracing is active.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Exporter selects the export backend: "none", "file", "stdout" or "otlp".
	Exporter string `mapstructure:"exporter" yaml:"exporter"`

	// FilePath is the JSONL output file for the "file" exporter.
	FilePath string `mapstructure:"file_path" yaml:"file_path"`

	// OTLPEndpoint is the collector endpoint for the "otlp" exporter.
	OTLPEndpoint string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`

	// SampleRate is the fraction of traces sampled; <= 0 means 1.0.
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate"`

	// ServiceName identifies this process in traces.
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// Exporter names accepted in Config.Exporter.
const (
	ExporterNone   = "none"
	ExporterFile   = "file"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

const defaultOTLPEndpoint = "localhost:4317"

// DefaultConfig returns tracing disabled with a file exporter preselected.
func DefaultConfig() Config {
	return Config{
		Exporter:     ExporterFile,
		OTLPEndpoint: defaultOTLPEndpoint,
		SampleRate:   1.0,
		ServiceName:  DefaultServiceName,
	}
}

// Validate checks the exporter choice and its required settings. A disabled
// config is always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Exporter {
	case ExporterFile:
		if c.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required for the file exporter")
		}
	case ExporterStdout, ExporterOTLP, ExporterNone, "":
	default:
		return fmt.Errorf("tracing.exporter must be one of none, file, stdout, otlp (got %q)", c.Exporter)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1 (got %v)", c.SampleRate)
	}
	return nil
}

// Provider owns the SDK tracer provider, if any.
type Provider struct {
	sdk    *sdktrace.TracerProvider
	tracer trace.Tracer
}

// NewProvider builds the provider described by cfg and installs it as the
// global OpenTelemetry provider, so tracers obtained with Tracer pick it up.
// A disabled config yields a no-op provider and leaves the global alone.
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{tracer: noop.NewTracerProvider().Tracer(DefaultServiceName)}, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	exporter, err := newExporter(cfg)
	if err != nil {
		return nil, err
	}

	name := cfg.ServiceName
	if name == "" {
		name = DefaultServiceName
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 1.0
	}

	opts := []sdktrace.TracerProviderOption{
		// schemaless so it never conflicts with resource.Default()
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", name))),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	}
	if exporter != nil {
		// synchronous export keeps spans ordered with the blocking editor calls
		opts = append(opts, sdktrace.WithSyncer(exporter))
	}

	sdk := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(sdk)
	log.Info(log.CatTrace, "tracing enabled", "exporter", cfg.Exporter, "service", name, "sample_rate", rate)

	return &Provider{sdk: sdk, tracer: sdk.Tracer(name)}, nil
}

// newExporter returns nil for the none exporter.
func newExporter(cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterFile:
		exp, err := NewFileExporter(cfg.FilePath)
		if err != nil {
			return nil, fmt.Errorf("creating file exporter: %w", err)
		}
		return exp, nil
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
		return exp, nil
	case ExporterOTLP:
		endpoint := cfg.OTLPEndpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		exp, err := otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("creating otlp exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, nil
	}
}

// Tracer returns the provider's tracer; safe to use when disabled.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Enabled reports whether spans are being exported.
func (p *Provider) Enabled() bool {
	return p.sdk != nil
}

// Shutdown flushes pending spans and shuts down the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdk != nil {
		return p.sdk.Shutdown(ctx)
	}
	return nil
}

// Tracer returns a named tracer from the global provider. Packages call it at
// use time so a provider installed later by the CLI is honoured.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
