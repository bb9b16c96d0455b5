// Package telemetry wires the OpenTelemetry SDK for traces and metrics.
// When telemetry is disabled, no exporters are created and the global
// providers stay noop.
package telemetry
