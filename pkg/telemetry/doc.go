// Package telemetry wires OpenTelemetry exporters for the gateway.
//
// SetupProvider installs process-wide tracer and meter providers that export
// over OTLP/gRPC. The TLS reconcile and handshake instruments and the RPC
// forwarding spans are recorded against these providers; when no collector is
// configured they stay no-ops.
package telemetry
