package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const defaultServiceName = "chanbridge"

// Tracer starts bridge spans. A nil *Tracer falls back to the global provider.
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "chanbridge",
//	    Endpoint:    "localhost:4317",
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "bridge.accept")
//	defer span.End()
type Tracer struct {
	tracer trace.Tracer
}

// TraceConfig selects the OTLP collector and sampling.
type TraceConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"-"`
	Environment    string `yaml:"environment"`

	// Endpoint is an OTLP/gRPC collector address. Empty disables export.
	Endpoint string `yaml:"endpoint"`

	// SamplingRate is the recorded fraction of root spans; 0 means 1.0.
	SamplingRate float64 `yaml:"sampling_rate"`

	Insecure bool `yaml:"insecure"`
}

// NewTracer returns a tracer and the shutdown hook for its provider. Export
// setup failures degrade to the global provider rather than failing startup.
func NewTracer(config TraceConfig) (*Tracer, func(context.Context) error) {
	if config.ServiceName == "" {
		config.ServiceName = defaultServiceName
	}
	fallback := &Tracer{tracer: otel.Tracer(config.ServiceName)}
	noop := func(context.Context) error { return nil }
	if config.Endpoint == "" {
		return fallback, noop
	}

	provider, err := newProvider(config)
	if err != nil {
		otel.Handle(err)
		return fallback, noop
	}
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return NewTracerWithProvider(provider, config.ServiceName), provider.Shutdown
}

func newProvider(config TraceConfig) (*sdktrace.TracerProvider, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
	if config.Insecure {
		clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(clientOpts...))
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	kv := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	}
	if config.Environment != "" {
		kv = append(kv, semconv.DeploymentEnvironment(config.Environment))
	}
	res, err := resource.New(ctx, resource.WithAttributes(kv...))
	if err != nil {
		res = resource.Default()
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(samplerFor(config.SamplingRate))),
	), nil
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate == 0 || rate >= 1:
		return sdktrace.AlwaysSample()
	case rate < 0:
		return sdktrace.NeverSample()
	}
	return sdktrace.TraceIDRatioBased(rate)
}

// NewTracerWithProvider builds a tracer on an existing provider.
func NewTracerWithProvider(provider trace.TracerProvider, name string) *Tracer {
	return &Tracer{tracer: provider.Tracer(name)}
}

// Start opens a span; keyvals are alternating attribute keys and values.
func (t *Tracer) Start(ctx context.Context, name string, keyvals ...any) (context.Context, trace.Span) {
	tr := otel.Tracer(defaultServiceName)
	if t != nil && t.tracer != nil {
		tr = t.tracer
	}
	return tr.Start(ctx, name, trace.WithAttributes(toAttributes(keyvals)...))
}

// RecordError marks span as failed.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func toAttributes(keyvals []any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(keyvals)/2)
	for i := 1; i < len(keyvals); i += 2 {
		k, ok := keyvals[i-1].(string)
		if !ok {
			continue
		}
		key := attribute.Key(k)
		switch v := keyvals[i].(type) {
		case string:
			out = append(out, key.String(v))
		case bool:
			out = append(out, key.Bool(v))
		case int:
			out = append(out, key.Int(v))
		case int64:
			out = append(out, key.Int64(v))
		case float64:
			out = append(out, key.Float64(v))
		case fmt.Stringer:
			out = append(out, key.String(v.String()))
		}
	}
	return out
}

// GetTraceID returns the active trace ID, or "" outside a recorded span.
func GetTraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

// GetSpanID returns the active span ID, or "" outside a recorded span.
func GetSpanID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.SpanID().String()
	}
	return ""
}
