package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/credentials"
)

// DefaultHandshakeTimeout bounds how long an unauthenticated peer may hold a
// connection open.
const DefaultHandshakeTimeout = 10 * time.Second

// serverCredentials wraps gRPC's TLS credentials so that every rejected
// handshake is classified, logged and counted. gRPC closes the raw
// connection on error, which is all the peer ever observes.
type serverCredentials struct {
	credentials.TransportCredentials
	logger  *TLSLogger
	metrics *TLSMetricsCollector
	timeout time.Duration
}

// NewServerCredentials returns gRPC transport credentials for cfg, which
// should come from BuildServerConfig.
func NewServerCredentials(cfg *tls.Config, logger *TLSLogger, metrics *TLSMetricsCollector, timeout time.Duration) credentials.TransportCredentials {
	if logger == nil {
		logger = NewTLSLogger(nil)
	}
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	return &serverCredentials{
		TransportCredentials: credentials.NewTLS(cfg),
		logger:               logger,
		metrics:              metrics,
		timeout:              timeout,
	}
}

func (c *serverCredentials) ServerHandshake(rawConn net.Conn) (net.Conn, credentials.AuthInfo, error) {
	ctx := context.Background()
	connID := uuid.NewString()
	remoteAddr := rawConn.RemoteAddr().String()
	start := time.Now()

	conn, info, err := c.TransportCredentials.ServerHandshake(rawConn)
	duration := time.Since(start)
	if err != nil {
		tlsErr := ClassifyHandshakeError(err, c.timeout).
			WithContext("remote_addr", remoteAddr).
			WithContext("conn_id", connID)
		c.logger.LogHandshakeFailure(ctx, connID, remoteAddr, tlsErr, duration)
		if tlsErr.Type == ErrorTypeUnknownAuthority {
			c.logger.LogSecurityEvent(ctx, "untrusted_client_certificate",
				"client certificate does not chain to the bundle CA", remoteAddr, SeverityCritical)
		}
		if c.metrics != nil {
			c.metrics.RecordHandshakeError(ctx, tlsErr.Type, duration)
		}
		return nil, nil, tlsErr
	}

	var state tls.ConnectionState
	if tlsInfo, ok := info.(credentials.TLSInfo); ok {
		state = tlsInfo.State
	}
	c.logger.LogHandshakeSuccess(ctx, connID, remoteAddr, state, duration)
	if c.metrics == nil {
		return conn, info, nil
	}
	c.metrics.RecordHandshakeSuccess(ctx, tls.VersionName(state.Version), duration)
	return &trackedConn{Conn: conn, onClose: func() { c.metrics.RecordConnectionClosed(ctx) }}, info, nil
}

func (c *serverCredentials) Clone() credentials.TransportCredentials {
	return &serverCredentials{
		TransportCredentials: c.TransportCredentials.Clone(),
		logger:               c.logger,
		metrics:              c.metrics,
		timeout:              c.timeout,
	}
}

// trackedConn runs onClose once when the authenticated connection closes.
type trackedConn struct {
	net.Conn
	once    sync.Once
	onClose func()
}

func (c *trackedConn) Close() error {
	c.once.Do(c.onClose)
	return c.Conn.Close()
}

// ClassifyHandshakeError maps a failed server-side handshake to a
// HandshakeError. Typed x509 errors are preferred; TLS alerts from the peer
// only exist as text.
func ClassifyHandshakeError(err error, timeout time.Duration) *TLSError {
	var tlsErr *TLSError
	if errors.As(err, &tlsErr) {
		return tlsErr
	}

	var (
		unknownAuthority x509.UnknownAuthorityError
		hostname         x509.HostnameError
		invalid          x509.CertificateInvalidError
		verification     *tls.CertificateVerificationError
		netErr           net.Error
	)
	switch {
	case errors.As(err, &unknownAuthority):
		subject := ""
		if unknownAuthority.Cert != nil {
			subject = unknownAuthority.Cert.Subject.CommonName
		}
		return NewUnknownAuthorityError(subject, err)
	case errors.As(err, &hostname):
		return NewNameMismatchError(hostname.Host, err)
	case errors.As(err, &invalid):
		return NewClientAuthError(fmt.Sprintf("certificate invalid (reason %d)", invalid.Reason), err)
	case errors.As(err, &verification):
		return NewClientAuthError("certificate verification failed", err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return NewHandshakeTimeoutError(timeout.String())
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "didn't provide a certificate"),
		strings.Contains(msg, "certificate required"):
		return NewClientAuthError("no client certificate presented", err)
	case strings.Contains(msg, "unknown certificate authority"):
		return NewUnknownAuthorityError("", err)
	case strings.Contains(msg, "bad certificate"):
		return NewClientAuthError("bad certificate", err)
	case strings.Contains(msg, "protocol version"),
		strings.Contains(msg, "unsupported versions"):
		return NewProtocolMismatchError("no common TLS version", err)
	case strings.Contains(msg, "timeout"):
		return NewHandshakeTimeoutError(timeout.String())
	default:
		return NewHandshakeFailureError("unknown handshake error", err)
	}
}
