package tls

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o deadline reached" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifyHandshakeError(t *testing.T) {
	existing := NewClientAuthError("already classified", nil)

	tests := []struct {
		name     string
		err      error
		expected TLSErrorType
	}{
		{"unknown authority", x509.UnknownAuthorityError{}, ErrorTypeUnknownAuthority},
		{"wrapped unknown authority", &tls.CertificateVerificationError{Err: x509.UnknownAuthorityError{}}, ErrorTypeUnknownAuthority},
		{"hostname", x509.HostnameError{Host: "cln", Certificate: &x509.Certificate{}}, ErrorTypeNameMismatch},
		{"expired", x509.CertificateInvalidError{Reason: x509.Expired}, ErrorTypeClientAuth},
		{"verification", &tls.CertificateVerificationError{Err: errors.New("other")}, ErrorTypeClientAuth},
		{"timeout", fmt.Errorf("read: %w", timeoutError{}), ErrorTypeHandshakeTimeout},
		{"no client certificate", errors.New("tls: client didn't provide a certificate"), ErrorTypeClientAuth},
		{"peer rejected ca", errors.New("remote error: tls: unknown certificate authority"), ErrorTypeUnknownAuthority},
		{"bad certificate", errors.New("remote error: tls: bad certificate"), ErrorTypeClientAuth},
		{"old protocol", errors.New("tls: client offered only unsupported versions: [301]"), ErrorTypeProtocolMismatch},
		{"plain text client", errors.New("tls: first record does not look like a TLS handshake"), ErrorTypeHandshakeFailure},
		{"already classified", existing, ErrorTypeClientAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := ClassifyHandshakeError(tt.err, time.Second)
			assert.Equal(t, tt.expected, classified.Type)
			assert.True(t, IsHandshakeError(classified))
		})
	}

	assert.Same(t, existing, ClassifyHandshakeError(existing, time.Second))
}

func TestServerCredentials_RejectedHandshakeIsClassified(t *testing.T) {
	bundle := reconcileDir(t, t.TempDir())
	serverCfg, err := BuildServerConfig(bundle, testServerName)
	require.NoError(t, err)
	collector, reader := newTestCollector(t)

	creds := NewServerCredentials(serverCfg, NewTLSLogger(slog.New(slog.DiscardHandler)), collector, time.Second)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		clientCfg, err := BuildClientConfig(bundle, testServerName)
		if err != nil {
			return
		}
		clientCfg.Certificates = nil
		conn, err := tls.Dial("tcp", ln.Addr().String(), clientCfg)
		if err != nil {
			return
		}
		_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
		_, _ = conn.Read(make([]byte, 1))
		conn.Close()
	}()

	raw, err := ln.Accept()
	require.NoError(t, err)
	defer raw.Close()

	conn, info, err := creds.ServerHandshake(raw)
	require.Error(t, err)
	assert.Nil(t, conn)
	assert.Nil(t, info)

	var tlsErr *TLSError
	require.ErrorAs(t, err, &tlsErr)
	assert.Equal(t, ErrorTypeClientAuth, tlsErr.Type)
	assert.NotEmpty(t, tlsErr.Context["conn_id"])

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(1), sumCounter(rm, "tls_handshake_errors_total"))
	assert.Equal(t, int64(0), sumCounter(rm, "tls_handshakes_total"))
}

func TestServerCredentials_AcceptedHandshakeTracksConnection(t *testing.T) {
	bundle := reconcileDir(t, t.TempDir())
	serverCfg, err := BuildServerConfig(bundle, testServerName)
	require.NoError(t, err)
	clientCfg, err := BuildClientConfig(bundle, testServerName)
	require.NoError(t, err)
	// gRPC refuses connections that did not negotiate h2.
	clientCfg.NextProtos = []string{"h2"}
	collector, reader := newTestCollector(t)

	creds := NewServerCredentials(serverCfg, NewTLSLogger(slog.New(slog.DiscardHandler)), collector, time.Second)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	clientDone := make(chan error, 1)
	go func() {
		conn, err := tls.Dial("tcp", ln.Addr().String(), clientCfg)
		if err != nil {
			clientDone <- err
			return
		}
		_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
		_, err = conn.Read(make([]byte, 1))
		conn.Close()
		clientDone <- err
	}()

	raw, err := ln.Accept()
	require.NoError(t, err)

	conn, info, err := creds.ServerHandshake(raw)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "tls", info.AuthType())

	_, err = conn.Write([]byte{1})
	require.NoError(t, err)
	require.NoError(t, <-clientDone)

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(1), sumCounter(rm, "tls_handshakes_total"))
	assert.Equal(t, int64(1), sumCounter(rm, "tls_connections_active"))

	_ = conn.Close()
	_ = conn.Close()

	rm = collectMetrics(t, reader)
	assert.Equal(t, int64(0), sumCounter(rm, "tls_connections_active"))
}

func TestServerCredentials_ForeignClientLogsSecurityEvent(t *testing.T) {
	bundle := reconcileDir(t, t.TempDir())
	foreign := reconcileDir(t, t.TempDir())
	serverCfg, err := BuildServerConfig(bundle, testServerName)
	require.NoError(t, err)
	clientCfg, err := BuildClientConfig(bundle, testServerName)
	require.NoError(t, err)
	foreignCfg, err := BuildClientConfig(foreign, testServerName)
	require.NoError(t, err)
	clientCfg.Certificates = foreignCfg.Certificates

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	creds := NewServerCredentials(serverCfg, NewTLSLogger(logger), nil, time.Second)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := tls.Dial("tcp", ln.Addr().String(), clientCfg)
		if err != nil {
			return
		}
		_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
		_, _ = conn.Read(make([]byte, 1))
		conn.Close()
	}()

	raw, err := ln.Accept()
	require.NoError(t, err)
	defer raw.Close()

	_, _, err = creds.ServerHandshake(raw)
	var tlsErr *TLSError
	require.ErrorAs(t, err, &tlsErr)
	assert.Equal(t, ErrorTypeUnknownAuthority, tlsErr.Type)

	out := logs.String()
	assert.Contains(t, out, `"event":"security_event"`)
	assert.Contains(t, out, `"event_type":"untrusted_client_certificate"`)
	assert.Contains(t, out, `"severity":"critical"`)
	assert.Contains(t, out, `"level":"ERROR"`)
}
