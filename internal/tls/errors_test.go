package tls

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTLSError_Error(t *testing.T) {
	tests := []struct {
		name     string
		tlsError *TLSError
		expected string
	}{
		{
			name: "basic error",
			tlsError: &TLSError{
				Type:    ErrorTypeStorageRead,
				Message: "failed to read artifact",
			},
			expected: "[storage_read] failed to read artifact",
		},
		{
			name: "context keys are sorted",
			tlsError: &TLSError{
				Type:    ErrorTypeStorageRead,
				Message: "failed to read artifact",
				Context: map[string]interface{}{
					"path": "/data/ca.pem",
					"op":   "open",
				},
			},
			expected: "[storage_read] failed to read artifact | context: op=open, path=/data/ca.pem",
		},
		{
			name: "error with cause",
			tlsError: &TLSError{
				Type:    ErrorTypeKeyGeneration,
				Message: "failed to generate key pair",
				Cause:   fmt.Errorf("entropy exhausted"),
			},
			expected: "[key_generation] failed to generate key pair | cause: entropy exhausted",
		},
		{
			name: "error with context and cause",
			tlsError: &TLSError{
				Type:    ErrorTypeClientAuth,
				Message: "client authentication failed",
				Context: map[string]interface{}{
					"remote_addr": "127.0.0.1:5000",
				},
				Cause: fmt.Errorf("no certificate"),
			},
			expected: "[client_auth] client authentication failed | context: remote_addr=127.0.0.1:5000 | cause: no certificate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.tlsError.Error())
		})
	}
}

func TestTLSError_Unwrap(t *testing.T) {
	err := NewStorageWriteError("/data/server.pem", os.ErrPermission)

	assert.True(t, errors.Is(err, os.ErrPermission))
	assert.Equal(t, os.ErrPermission, err.Unwrap())
}

func TestTLSError_DetailedMessage(t *testing.T) {
	err := NewTLSError(ErrorTypeStorageCorrupt, "bad file").
		WithSuggestion("first").
		WithSuggestion("second")

	msg := err.GetDetailedMessage()
	assert.Contains(t, msg, "Suggestions:")
	assert.Contains(t, msg, "1. first")
	assert.Contains(t, msg, "2. second")
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		generation bool
		storage    bool
		handshake  bool
		config     bool
		severity   ErrorSeverity
	}{
		{"key generation", NewKeyGenerationError(KeyAlgorithmECDSAP256, errors.New("boom")), true, false, false, false, SeverityCritical},
		{"signing", NewCertificateSigningError(RoleServer, "cln", errors.New("boom")), true, false, false, false, SeverityCritical},
		{"storage read", NewStorageReadError("/x", errors.New("boom")), false, true, false, false, SeverityCritical},
		{"storage corrupt", NewStorageCorruptError("/x", errors.New("boom")), false, true, false, false, SeverityCritical},
		{"storage permission", NewStoragePermissionError("/x", "write", os.ErrPermission), false, true, false, false, SeverityCritical},
		{"client auth", NewClientAuthError("no certificate", nil), false, false, true, false, SeverityWarning},
		{"unknown authority", NewUnknownAuthorityError("cln client", nil), false, false, true, false, SeverityWarning},
		{"name mismatch", NewNameMismatchError("cln", nil), false, false, true, false, SeverityWarning},
		{"timeout", NewHandshakeTimeoutError("10s"), false, false, true, false, SeverityWarning},
		{"config", NewConfigMissingError("server_name"), false, false, false, true, SeverityCritical},
		{"listener", NewListenerCreateError(":50051", errors.New("in use")), false, false, false, false, SeverityCritical},
		{"plain error", errors.New("plain"), false, false, false, false, SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.generation, IsGenerationError(tt.err))
			assert.Equal(t, tt.storage, IsStorageError(tt.err))
			assert.Equal(t, tt.handshake, IsHandshakeError(tt.err))
			assert.Equal(t, tt.config, IsConfigurationError(tt.err))
			assert.Equal(t, tt.severity, GetErrorSeverity(tt.err))
		})
	}
}

func TestErrorClassification_Wrapped(t *testing.T) {
	inner := NewStorageReadError("/data/ca.pem", os.ErrNotExist)
	wrapped := fmt.Errorf("reconcile: %w", inner)

	require.True(t, IsStorageError(wrapped))
	assert.Equal(t, SeverityCritical, GetErrorSeverity(wrapped))
	assert.Equal(t, inner.Suggestions, GetRecoverySuggestions(wrapped))
}

func TestGetRecoverySuggestions_Default(t *testing.T) {
	suggestions := GetRecoverySuggestions(errors.New("plain"))
	assert.Equal(t, []string{"Check gateway logs for more details"}, suggestions)
}

func TestErrorSeverity_String(t *testing.T) {
	assert.Equal(t, "critical", SeverityCritical.String())
	assert.Equal(t, "warning", SeverityWarning.String())
	assert.Equal(t, "unknown", ErrorSeverity(42).String())
}
