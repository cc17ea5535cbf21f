package tls

import (
	"context"
	"crypto/tls"
	"log/slog"
	"time"
)

// TLSLogger provides structured logging for artifact and handshake events
type TLSLogger struct {
	logger *slog.Logger
}

// NewTLSLogger creates a new TLS logger
func NewTLSLogger(logger *slog.Logger) *TLSLogger {
	if logger == nil {
		logger = slog.Default()
	}

	return &TLSLogger{
		logger: logger.With("component", "tls"),
	}
}

// Logger exposes the component logger.
func (l *TLSLogger) Logger() *slog.Logger {
	return l.logger
}

// LogArtifactLoad logs reading an artifact that is kept as-is.
func (l *TLSLogger) LogArtifactLoad(ctx context.Context, file ArtifactFile, path string, err error) {
	level := slog.LevelDebug
	message := "Artifact loaded"
	attrs := []slog.Attr{
		slog.String("event", "artifact_load"),
		slog.String("artifact", file.Name()),
		slog.String("path", path),
	}
	if err != nil {
		level = slog.LevelError
		message = "Artifact load failed"
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.logger.LogAttrs(ctx, level, message, attrs...)
}

// LogArtifactWrite logs persisting a regenerated artifact.
func (l *TLSLogger) LogArtifactWrite(ctx context.Context, file ArtifactFile, path string, err error) {
	level := slog.LevelInfo
	message := "Artifact written"
	attrs := []slog.Attr{
		slog.String("event", "artifact_write"),
		slog.String("artifact", file.Name()),
		slog.String("path", path),
		slog.String("mode", file.Mode().String()),
	}
	if err != nil {
		level = slog.LevelError
		message = "Artifact write failed"
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.logger.LogAttrs(ctx, level, message, attrs...)
}

// LogReconcile logs the outcome of a reconciliation pass.
func (l *TLSLogger) LogReconcile(ctx context.Context, dir string, state BundleState, plan Plan, duration time.Duration, err error) {
	attrs := []slog.Attr{
		slog.String("event", "reconcile"),
		slog.String("dir", dir),
		slog.String("state", state.String()),
		slog.String("plan", plan.String()),
		slog.Duration("duration", duration),
	}

	if err != nil {
		attrs = append(attrs,
			slog.String("error", err.Error()),
			slog.String("severity", GetErrorSeverity(err).String()),
		)
		l.logger.LogAttrs(ctx, slog.LevelError, "Certificate bundle reconciliation failed", attrs...)
		return
	}

	message := "Certificate bundle loaded"
	if !plan.Empty() {
		message = "Certificate bundle regenerated"
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, message, attrs...)
}

// LogArtifactDrift logs a change of the on-disk bundle state while the
// gateway keeps serving the bundle it loaded at startup.
func (l *TLSLogger) LogArtifactDrift(ctx context.Context, dir string, state BundleState, err error) {
	attrs := []slog.Attr{
		slog.String("event", "artifact_drift"),
		slog.String("dir", dir),
		slog.String("state", state.String()),
	}

	switch {
	case err != nil:
		attrs = append(attrs, slog.String("error", err.Error()))
		l.logger.LogAttrs(ctx, slog.LevelWarn, "Artifact directory could not be probed", attrs...)
	case state == StateComplete:
		l.logger.LogAttrs(ctx, slog.LevelInfo, "Artifact directory complete", attrs...)
	default:
		attrs = append(attrs, slog.String("plan_on_restart", PlanFor(state).String()))
		l.logger.LogAttrs(ctx, slog.LevelWarn, "Artifact directory changed, restart to reconcile", attrs...)
	}
}

// LogBundleReady reports the identity the gateway will present.
func (l *TLSLogger) LogBundleReady(ctx context.Context, bundle *Bundle, serverName string) {
	server := bundle.Server.Certificate
	l.logger.LogAttrs(ctx, slog.LevelInfo, "Gateway identity ready",
		slog.String("event", "bundle_ready"),
		slog.String("server_name", serverName),
		slog.String("server_subject", server.Subject.CommonName),
		slog.String("server_fingerprint", bundle.ServerFingerprint()),
		slog.String("ca_fingerprint", bundle.CAFingerprint()),
		slog.Time("not_after", server.NotAfter),
	)
}

// LogHandshakeSuccess logs a successful TLS handshake
func (l *TLSLogger) LogHandshakeSuccess(ctx context.Context, connID, remoteAddr string, state tls.ConnectionState, duration time.Duration) {
	attrs := []slog.Attr{
		slog.String("event", "handshake_success"),
		slog.String("conn_id", connID),
		slog.String("remote_addr", remoteAddr),
		slog.String("tls_version", tls.VersionName(state.Version)),
		slog.String("cipher_suite", tls.CipherSuiteName(state.CipherSuite)),
		slog.String("server_name", state.ServerName),
		slog.Duration("handshake_duration", duration),
	}

	if len(state.PeerCertificates) > 0 {
		attrs = append(attrs, slog.String("client_subject", state.PeerCertificates[0].Subject.CommonName))
	}

	l.logger.LogAttrs(ctx, slog.LevelDebug, "TLS handshake completed", attrs...)
}

// LogHandshakeFailure logs a rejected connection. The peer only sees the
// socket close; the reason is recorded here.
func (l *TLSLogger) LogHandshakeFailure(ctx context.Context, connID, remoteAddr string, err error, duration time.Duration) {
	level := slog.LevelWarn
	kind := string(ErrorTypeHandshakeFailure)
	if t, ok := errorType(err); ok {
		kind = string(t)
		if t == ErrorTypeHandshakeTimeout {
			level = slog.LevelInfo
		}
	}

	l.logger.LogAttrs(ctx, level, "TLS handshake rejected",
		slog.String("event", "handshake_failure"),
		slog.String("conn_id", connID),
		slog.String("remote_addr", remoteAddr),
		slog.String("error_type", kind),
		slog.String("error", err.Error()),
		slog.Duration("handshake_duration", duration),
	)
}

// LogSecurityEvent logs security-relevant events
func (l *TLSLogger) LogSecurityEvent(ctx context.Context, eventType, description, remoteAddr string, severity ErrorSeverity) {
	level := slog.LevelWarn
	if severity >= SeverityCritical {
		level = slog.LevelError
	}

	l.logger.LogAttrs(ctx, level, "TLS security event",
		slog.String("event", "security_event"),
		slog.String("event_type", eventType),
		slog.String("description", description),
		slog.String("remote_addr", remoteAddr),
		slog.String("severity", severity.String()),
	)
}
