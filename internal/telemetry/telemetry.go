// Package telemetry configures OpenTelemetry tracing for the agent loop and
// the HTTP boundary.
package telemetry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/leadgate/leadgate/internal/config"
)

// AgentTracer names the tracer of the qualification loop.
const AgentTracer = "leadgate/agent"

// Span attribute keys shared by the agent loop and its phases.
const (
	TraceIDKey          = attribute.Key("leadgate.trace_id")
	LeadKeyKey          = attribute.Key("leadgate.lead_key")
	ScorerKey           = attribute.Key("leadgate.scorer")
	ScoreKey            = attribute.Key("leadgate.score")
	TierKey             = attribute.Key("leadgate.tier")
	SegmentKey          = attribute.Key("leadgate.segment")
	ApprovalRequiredKey = attribute.Key("leadgate.approval_required")
	ApprovalActionKey   = attribute.Key("leadgate.approval_action")
)

// RunAttributes are set on every agent.run span when it starts.
func RunAttributes(traceID, scorer string) []attribute.KeyValue {
	return []attribute.KeyValue{
		TraceIDKey.String(traceID),
		ScorerKey.String(scorer),
	}
}

// Sampler samples root spans at ratio and follows the parent otherwise.
// A ratio of 1 or more samples everything; 0 or less samples nothing.
func Sampler(ratio float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case ratio >= 1:
		root = sdktrace.AlwaysSample()
	case ratio <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(ratio)
	}
	return sdktrace.ParentBased(root)
}

// Init sets up tracing with an OTLP gRPC exporter and returns a shutdown
// function. When tracing is disabled the global no-op provider stays in
// place and the shutdown function does nothing.
func Init(ctx context.Context, cfg config.TelemetryConfig, version string) (func(context.Context) error, error) {
	if !cfg.Enabled || cfg.OTLPEndpoint == "" {
		log.Info().Msg("OpenTelemetry disabled")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(cfg.SampleRatio)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().
		Str("endpoint", cfg.OTLPEndpoint).
		Str("service", cfg.ServiceName).
		Float64("sample_ratio", cfg.SampleRatio).
		Msg("OpenTelemetry tracing initialized")

	return tp.Shutdown, nil
}
