package tls

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "polis.gateway.tls"

var (
	metricsOnce    sync.Once
	metricsInitErr error
	tlsMetricsInst *TLSMetricsCollector
)

// TLSMetricsCollector records handshake and reconciliation metrics
type TLSMetricsCollector struct {
	// Connection metrics
	handshakesTotal   metric.Int64Counter
	handshakeErrors   metric.Int64Counter
	connectionsActive metric.Int64UpDownCounter
	handshakeDuration metric.Float64Histogram

	// Bundle metrics
	reconciliations   metric.Int64Counter
	reconcileDuration metric.Float64Histogram
	artifactsWritten  metric.Int64Counter
	certificateExpiry metric.Float64Gauge

	logger *slog.Logger
}

// GetTLSMetricsCollector returns the process-wide collector bound to the
// global meter provider.
func GetTLSMetricsCollector(logger *slog.Logger) (*TLSMetricsCollector, error) {
	metricsOnce.Do(func() {
		tlsMetricsInst, metricsInitErr = NewTLSMetricsCollector(otel.GetMeterProvider(), logger)
	})
	return tlsMetricsInst, metricsInitErr
}

// NewTLSMetricsCollector creates a collector on an explicit provider.
func NewTLSMetricsCollector(provider metric.MeterProvider, logger *slog.Logger) (*TLSMetricsCollector, error) {
	if logger == nil {
		logger = slog.Default()
	}

	meter := provider.Meter(meterName)

	collector := &TLSMetricsCollector{
		logger: logger,
	}

	var err error

	collector.handshakesTotal, err = meter.Int64Counter(
		"tls_handshakes_total",
		metric.WithDescription("Total number of completed mutual TLS handshakes"),
		metric.WithUnit("{handshake}"),
	)
	if err != nil {
		return nil, err
	}

	collector.handshakeErrors, err = meter.Int64Counter(
		"tls_handshake_errors_total",
		metric.WithDescription("Total number of rejected TLS handshakes by reason"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	collector.connectionsActive, err = meter.Int64UpDownCounter(
		"tls_connections_active",
		metric.WithDescription("Number of authenticated connections currently open"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}

	collector.handshakeDuration, err = meter.Float64Histogram(
		"tls_handshake_duration_seconds",
		metric.WithDescription("Duration of TLS handshakes"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	collector.reconciliations, err = meter.Int64Counter(
		"tls_bundle_reconciliations_total",
		metric.WithDescription("Certificate bundle reconciliations by starting state and outcome"),
		metric.WithUnit("{reconciliation}"),
	)
	if err != nil {
		return nil, err
	}

	collector.reconcileDuration, err = meter.Float64Histogram(
		"tls_bundle_reconcile_duration_seconds",
		metric.WithDescription("Duration of certificate bundle reconciliation"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	collector.artifactsWritten, err = meter.Int64Counter(
		"tls_artifacts_written_total",
		metric.WithDescription("Artifact files regenerated and written to disk"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, err
	}

	collector.certificateExpiry, err = meter.Float64Gauge(
		"tls_certificate_expiry_seconds",
		metric.WithDescription("Seconds until a bundle certificate expires"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return collector, nil
}

// RecordHandshakeSuccess records an authenticated connection.
func (c *TLSMetricsCollector) RecordHandshakeSuccess(ctx context.Context, version string, duration time.Duration) {
	c.handshakesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tls_version", version),
	))
	c.handshakeDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("outcome", "success"),
	))
	c.connectionsActive.Add(ctx, 1)
}

// RecordHandshakeError records a rejected connection.
func (c *TLSMetricsCollector) RecordHandshakeError(ctx context.Context, errorType TLSErrorType, duration time.Duration) {
	c.handshakeErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error_type", string(errorType)),
	))
	c.handshakeDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("outcome", "failure"),
	))
}

// RecordConnectionClosed decrements the active connection gauge.
func (c *TLSMetricsCollector) RecordConnectionClosed(ctx context.Context) {
	c.connectionsActive.Add(ctx, -1)
}

// RecordReconcile records one reconciliation pass.
func (c *TLSMetricsCollector) RecordReconcile(ctx context.Context, state BundleState, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	attrs := metric.WithAttributes(
		attribute.String("state", state.String()),
		attribute.String("outcome", outcome),
	)
	c.reconciliations.Add(ctx, 1, attrs)
	c.reconcileDuration.Record(ctx, duration.Seconds(), attrs)

	if err != nil {
		c.logger.Debug("Reconciliation failure recorded", "state", state.String(), "error", err)
	}
}

// RecordArtifactWritten counts a regenerated file.
func (c *TLSMetricsCollector) RecordArtifactWritten(ctx context.Context, file ArtifactFile) {
	c.artifactsWritten.Add(ctx, 1, metric.WithAttributes(
		attribute.String("artifact", file.Name()),
	))
}

// RecordBundleExpiry records the remaining lifetime of every bundle certificate.
func (c *TLSMetricsCollector) RecordBundleExpiry(ctx context.Context, bundle *Bundle) {
	now := time.Now()
	for _, id := range []*Identity{bundle.CA, bundle.Server, bundle.Client} {
		c.certificateExpiry.Record(ctx, id.Certificate.NotAfter.Sub(now).Seconds(), metric.WithAttributes(
			attribute.String("role", id.Role.String()),
			attribute.String("subject", id.Certificate.Subject.CommonName),
		))
	}
}
