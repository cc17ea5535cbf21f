package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultServerName is the logical name the gateway certificate is issued
// for and clients verify. It is deliberately not a host name.
const DefaultServerName = "cln"

// BuildServerConfig returns the listener configuration: the bundle's server
// certificate as identity, and mandatory client certificates verified
// against the bundle CA alone. The server certificate must cover serverName.
func BuildServerConfig(bundle *Bundle, serverName string) (*tls.Config, error) {
	if err := checkBundle(bundle, RoleServer); err != nil {
		return nil, err
	}
	if strings.TrimSpace(serverName) == "" {
		return nil, NewConfigMissingError("server_name")
	}
	if err := bundle.Server.Certificate.VerifyHostname(serverName); err != nil {
		return nil, NewConfigValidationError("server_name", serverName, err.Error()).
			WithSuggestion("Delete server.pem and server-key.pem to reissue the certificate for the configured name")
	}

	certificate, err := tls.X509KeyPair(bundle.Server.CertPEM, bundle.Server.KeyPEM)
	if err != nil {
		return nil, NewConfigValidationError("server_certificate", RoleServer.String(), err.Error())
	}

	return &tls.Config{
		Certificates: []tls.Certificate{certificate},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    bundle.CAPool(),
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// BuildClientConfig returns the configuration a caller uses to reach the
// gateway: the bundle's client certificate as identity, the bundle CA as the
// only trusted root, and serverName as the verified server identity.
func BuildClientConfig(bundle *Bundle, serverName string) (*tls.Config, error) {
	if err := checkBundle(bundle, RoleClient); err != nil {
		return nil, err
	}
	if strings.TrimSpace(serverName) == "" {
		return nil, NewConfigMissingError("server_name")
	}

	certificate, err := tls.X509KeyPair(bundle.Client.CertPEM, bundle.Client.KeyPEM)
	if err != nil {
		return nil, NewConfigValidationError("client_certificate", RoleClient.String(), err.Error())
	}

	return &tls.Config{
		Certificates: []tls.Certificate{certificate},
		RootCAs:      bundle.CAPool(),
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func checkBundle(bundle *Bundle, role Role) error {
	if bundle == nil || bundle.CA == nil || bundle.CA.Certificate == nil {
		return NewConfigMissingError("bundle.ca")
	}
	if id := bundle.Identity(role); id == nil || id.Certificate == nil {
		return NewConfigMissingError("bundle." + role.String())
	}
	return nil
}

// ClientFiles names the three files an operator hands to an RPC client.
type ClientFiles struct {
	CertFile   string
	KeyFile    string
	CAFile     string
	ServerName string
}

// ClientFilesFromDir points at client.pem, client-key.pem and ca.pem in dir.
func ClientFilesFromDir(dir, serverName string) ClientFiles {
	return ClientFiles{
		CertFile:   ArtifactClientCert.Path(dir),
		KeyFile:    ArtifactClientKey.Path(dir),
		CAFile:     ArtifactCACert.Path(dir),
		ServerName: serverName,
	}
}

// Build constructs the client configuration from the files.
func (f ClientFiles) Build() (*tls.Config, error) {
	if f.CertFile == "" || f.KeyFile == "" {
		return nil, fmt.Errorf("both CertFile and KeyFile are required when supplying client certificates")
	}
	if f.CAFile == "" {
		return nil, NewConfigMissingError("ca_file")
	}
	if strings.TrimSpace(f.ServerName) == "" {
		return nil, NewConfigMissingError("server_name")
	}

	certificate, err := tls.LoadX509KeyPair(f.CertFile, f.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}

	caPool, err := loadCertPool(f.CAFile)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{certificate},
		RootCAs:      caPool,
		ServerName:   f.ServerName,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(cleanPath) {
		abs, err := filepath.Abs(cleanPath)
		if err != nil {
			return nil, fmt.Errorf("resolve CA bundle path %q: %w", path, err)
		}
		cleanPath = abs
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in %s", cleanPath)
	}
	return pool, nil
}
