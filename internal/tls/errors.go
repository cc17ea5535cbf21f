package tls

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// TLSErrorType represents different categories of TLS errors
type TLSErrorType string

const (
	// Generation errors
	ErrorTypeKeyGeneration      TLSErrorType = "key_generation"
	ErrorTypeCertificateSigning TLSErrorType = "certificate_signing"

	// Storage errors
	ErrorTypeStorageRead       TLSErrorType = "storage_read"
	ErrorTypeStorageWrite      TLSErrorType = "storage_write"
	ErrorTypeStorageCorrupt    TLSErrorType = "storage_corrupt"
	ErrorTypeStoragePermission TLSErrorType = "storage_permission"

	// TLS handshake errors
	ErrorTypeHandshakeFailure TLSErrorType = "handshake_failure"
	ErrorTypeHandshakeTimeout TLSErrorType = "handshake_timeout"
	ErrorTypeProtocolMismatch TLSErrorType = "protocol_mismatch"
	ErrorTypeClientAuth       TLSErrorType = "client_auth"
	ErrorTypeUnknownAuthority TLSErrorType = "unknown_authority"
	ErrorTypeNameMismatch     TLSErrorType = "name_mismatch"

	// Configuration errors
	ErrorTypeConfigValidation TLSErrorType = "config_validation"
	ErrorTypeConfigMissing    TLSErrorType = "config_missing"

	// Server operation errors
	ErrorTypeServerStartup  TLSErrorType = "server_startup"
	ErrorTypeListenerCreate TLSErrorType = "listener_create"
)

// TLSError represents a structured TLS error with context
type TLSError struct {
	Type        TLSErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Suggestions []string
}

// Error implements the error interface
func (e *TLSError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s]", string(e.Type)))
	parts = append(parts, e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for key := range e.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, key := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", key, e.Context[key]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

// Unwrap returns the underlying error for error unwrapping
func (e *TLSError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *TLSError) WithContext(key string, value interface{}) *TLSError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for resolving the error
func (e *TLSError) WithSuggestion(suggestion string) *TLSError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// GetDetailedMessage returns a detailed error message with suggestions
func (e *TLSError) GetDetailedMessage() string {
	message := e.Error()

	if len(e.Suggestions) > 0 {
		message += "\n\nSuggestions:"
		for i, suggestion := range e.Suggestions {
			message += fmt.Sprintf("\n  %d. %s", i+1, suggestion)
		}
	}

	return message
}

// NewTLSError creates a new TLS error with the specified type and message
func NewTLSError(errorType TLSErrorType, message string) *TLSError {
	return &TLSError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewTLSErrorWithCause creates a new TLS error with an underlying cause
func NewTLSErrorWithCause(errorType TLSErrorType, message string, cause error) *TLSError {
	return &TLSError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Generation error constructors

func NewKeyGenerationError(algorithm KeyAlgorithm, cause error) *TLSError {
	return NewTLSErrorWithCause(ErrorTypeKeyGeneration, "failed to generate key pair", cause).
		WithContext("algorithm", string(algorithm)).
		WithSuggestion("Check that the system entropy source is available").
		WithSuggestion("Restart the daemon; key generation is never retried in-process")
}

func NewCertificateSigningError(role Role, subject string, cause error) *TLSError {
	return NewTLSErrorWithCause(ErrorTypeCertificateSigning, fmt.Sprintf("failed to sign %s certificate", role), cause).
		WithContext("role", role.String()).
		WithContext("subject", subject).
		WithSuggestion("Verify the CA key pair matches the CA certificate").
		WithSuggestion("Delete ca.pem and ca-key.pem to bootstrap a fresh authority")
}

// Storage error constructors

func NewStorageReadError(path string, cause error) *TLSError {
	return NewTLSErrorWithCause(ErrorTypeStorageRead, fmt.Sprintf("failed to read artifact: %s", path), cause).
		WithContext("path", path).
		WithSuggestion("Check that the artifact file is readable by the daemon user")
}

func NewStorageWriteError(path string, cause error) *TLSError {
	return NewTLSErrorWithCause(ErrorTypeStorageWrite, fmt.Sprintf("failed to write artifact: %s", path), cause).
		WithContext("path", path).
		WithSuggestion("Check free disk space on the data directory").
		WithSuggestion("Ensure the data directory is writable by the daemon user")
}

func NewStorageCorruptError(path string, cause error) *TLSError {
	return NewTLSErrorWithCause(ErrorTypeStorageCorrupt, fmt.Sprintf("artifact is not a valid PEM document: %s", path), cause).
		WithContext("path", path).
		WithSuggestion("Restore the file from backup, or delete it and its pair to regenerate both")
}

func NewStoragePermissionError(path string, operation string, cause error) *TLSError {
	return NewTLSErrorWithCause(ErrorTypeStoragePermission, fmt.Sprintf("permission denied for %s on %s", operation, path), cause).
		WithContext("path", path).
		WithContext("operation", operation).
		WithSuggestion("Private keys must be owned by the daemon user with mode 0600")
}

// TLS handshake error constructors

func NewHandshakeFailureError(reason string, cause error) *TLSError {
	return NewTLSErrorWithCause(ErrorTypeHandshakeFailure, fmt.Sprintf("TLS handshake failed: %s", reason), cause).
		WithContext("failure_reason", reason)
}

func NewHandshakeTimeoutError(timeout string) *TLSError {
	return NewTLSError(ErrorTypeHandshakeTimeout, "TLS handshake timed out").
		WithContext("timeout", timeout)
}

func NewProtocolMismatchError(reason string, cause error) *TLSError {
	return NewTLSErrorWithCause(ErrorTypeProtocolMismatch, "TLS protocol mismatch", cause).
		WithContext("failure_reason", reason).
		WithSuggestion("Clients must speak TLS 1.2 or newer")
}

func NewClientAuthError(reason string, cause error) *TLSError {
	return NewTLSErrorWithCause(ErrorTypeClientAuth, fmt.Sprintf("client authentication failed: %s", reason), cause).
		WithContext("auth_failure_reason", reason).
		WithSuggestion("Connect with client.pem and client-key.pem from this node's data directory")
}

func NewUnknownAuthorityError(subject string, cause error) *TLSError {
	return NewTLSErrorWithCause(ErrorTypeUnknownAuthority, "certificate signed by an unknown authority", cause).
		WithContext("subject", subject).
		WithSuggestion("Client certificates are only valid for the node that issued them")
}

func NewNameMismatchError(expected string, cause error) *TLSError {
	return NewTLSErrorWithCause(ErrorTypeNameMismatch, "certificate does not cover the expected server name", cause).
		WithContext("server_name", expected).
		WithSuggestion("Set the client target name to the gateway's configured server name")
}

// Configuration error constructors

func NewConfigValidationError(field string, value interface{}, reason string) *TLSError {
	return NewTLSError(ErrorTypeConfigValidation, fmt.Sprintf("invalid configuration field '%s'", field)).
		WithContext("field", field).
		WithContext("value", value).
		WithContext("reason", reason)
}

func NewConfigMissingError(field string) *TLSError {
	return NewTLSError(ErrorTypeConfigMissing, fmt.Sprintf("required configuration field '%s' is missing", field)).
		WithContext("field", field)
}

// Server operation error constructors

func NewServerStartupError(reason string, cause error) *TLSError {
	return NewTLSErrorWithCause(ErrorTypeServerStartup, fmt.Sprintf("gateway startup failed: %s", reason), cause).
		WithContext("startup_failure_reason", reason)
}

func NewListenerCreateError(address string, cause error) *TLSError {
	return NewTLSErrorWithCause(ErrorTypeListenerCreate, fmt.Sprintf("failed to create listener on address: %s", address), cause).
		WithContext("address", address).
		WithSuggestion("Check that the address is not already in use").
		WithSuggestion("Ensure the process has permission to bind to the address")
}

// Error classification helpers

func errorType(err error) (TLSErrorType, bool) {
	var tlsErr *TLSError
	if !errors.As(err, &tlsErr) {
		return "", false
	}
	return tlsErr.Type, true
}

// IsGenerationError reports whether key or certificate creation failed.
func IsGenerationError(err error) bool {
	t, ok := errorType(err)
	return ok && (t == ErrorTypeKeyGeneration || t == ErrorTypeCertificateSigning)
}

// IsStorageError reports whether an artifact could not be read or written.
func IsStorageError(err error) bool {
	t, ok := errorType(err)
	if !ok {
		return false
	}
	switch t {
	case ErrorTypeStorageRead, ErrorTypeStorageWrite, ErrorTypeStorageCorrupt, ErrorTypeStoragePermission:
		return true
	}
	return false
}

func IsHandshakeError(err error) bool {
	t, ok := errorType(err)
	if !ok {
		return false
	}
	switch t {
	case ErrorTypeHandshakeFailure, ErrorTypeHandshakeTimeout, ErrorTypeProtocolMismatch,
		ErrorTypeClientAuth, ErrorTypeUnknownAuthority, ErrorTypeNameMismatch:
		return true
	}
	return false
}

func IsConfigurationError(err error) bool {
	t, ok := errorType(err)
	return ok && (t == ErrorTypeConfigValidation || t == ErrorTypeConfigMissing)
}

// GetRecoverySuggestions returns the suggestions attached to err, or a generic hint.
func GetRecoverySuggestions(err error) []string {
	var tlsErr *TLSError
	if errors.As(err, &tlsErr) && len(tlsErr.Suggestions) > 0 {
		return tlsErr.Suggestions
	}
	return []string{"Check gateway logs for more details"}
}

// Error severity levels
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s ErrorSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// GetErrorSeverity ranks err. Anything that stops the gateway from starting is
// critical; a rejected connection only affects that peer.
func GetErrorSeverity(err error) ErrorSeverity {
	t, ok := errorType(err)
	if !ok {
		return SeverityError
	}
	switch {
	case IsGenerationError(err), IsStorageError(err), IsConfigurationError(err),
		t == ErrorTypeServerStartup, t == ErrorTypeListenerCreate:
		return SeverityCritical
	case IsHandshakeError(err):
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
