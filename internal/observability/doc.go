// Package observability builds the process logger, the Prometheus metrics and
// the OpenTelemetry tracer used by the bridge.
//
// Loggers are plain *slog.Logger values. NewSlogLogger wraps the configured
// handler so secrets (channel keys, admin tokens, bearer credentials) never
// reach the log output, even when a caller logs a raw frame payload.
//
// Metrics are registered on an injected prometheus.Registerer so tests can use
// an isolated registry. All Metrics methods are safe on a nil receiver.
//
// Tracing is a no-op unless an OTLP endpoint is configured.
package observability
