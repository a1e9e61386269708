// Package telemetry wires the OpenTelemetry tracer provider and the
// per-run Prometheus metrics for kapstat.
//
// Tracing is opt-in: without a configured OTLP endpoint the provider is
// a no-op. Metrics are run-scoped collectors gathered once at the end
// of a run into a textfile-collector compatible metrics file.
package telemetry
