package tls

import (
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ArtifactFile is one of the six files a bundle is persisted as.
type ArtifactFile int

const (
	ArtifactCACert ArtifactFile = iota
	ArtifactCAKey
	ArtifactServerCert
	ArtifactServerKey
	ArtifactClientCert
	ArtifactClientKey

	artifactCount
)

var artifactNames = [artifactCount]string{
	ArtifactCACert:     "ca.pem",
	ArtifactCAKey:      "ca-key.pem",
	ArtifactServerCert: "server.pem",
	ArtifactServerKey:  "server-key.pem",
	ArtifactClientCert: "client.pem",
	ArtifactClientKey:  "client-key.pem",
}

// Artifacts lists every artifact file in canonical order.
func Artifacts() []ArtifactFile {
	files := make([]ArtifactFile, 0, artifactCount)
	for f := ArtifactFile(0); f < artifactCount; f++ {
		files = append(files, f)
	}
	return files
}

// Name is the file name inside the artifact directory.
func (f ArtifactFile) Name() string {
	if f < 0 || f >= artifactCount {
		return fmt.Sprintf("artifact(%d)", int(f))
	}
	return artifactNames[f]
}

func (f ArtifactFile) String() string { return f.Name() }

// Role is the bundle member this file belongs to.
func (f ArtifactFile) Role() Role {
	switch f {
	case ArtifactCACert, ArtifactCAKey:
		return RoleCA
	case ArtifactServerCert, ArtifactServerKey:
		return RoleServer
	default:
		return RoleClient
	}
}

// IsKey reports whether the file holds a private key.
func (f ArtifactFile) IsKey() bool {
	return f == ArtifactCAKey || f == ArtifactServerKey || f == ArtifactClientKey
}

// Mode is the permission the file is written with.
func (f ArtifactFile) Mode() os.FileMode {
	if f.IsKey() {
		return 0o600
	}
	return 0o644
}

// Path joins the file name onto dir.
func (f ArtifactFile) Path(dir string) string {
	return filepath.Join(dir, f.Name())
}

// pairFiles returns the certificate and key file for role.
func pairFiles(role Role) (cert, key ArtifactFile) {
	switch role {
	case RoleCA:
		return ArtifactCACert, ArtifactCAKey
	case RoleServer:
		return ArtifactServerCert, ArtifactServerKey
	default:
		return ArtifactClientCert, ArtifactClientKey
	}
}

// Bundle is the CA, server and client identity of one gateway instance. A
// bundle returned by ArtifactStore.Reconcile is never modified and may be
// shared between goroutines.
type Bundle struct {
	Dir    string
	CA     *Identity
	Server *Identity
	Client *Identity
}

// Identity returns the member for role.
func (b *Bundle) Identity(role Role) *Identity {
	switch role {
	case RoleCA:
		return b.CA
	case RoleServer:
		return b.Server
	case RoleClient:
		return b.Client
	default:
		return nil
	}
}

// Verify checks the bundle's chain: each key matches its certificate, both
// leaves name the CA as issuer, carry its signature and are valid for their
// usage under the CA as the only root.
func (b *Bundle) Verify() error {
	if b.CA == nil || b.Server == nil || b.Client == nil {
		return errors.New("bundle is incomplete")
	}

	for _, id := range []*Identity{b.CA, b.Server, b.Client} {
		if !publicKeysEqual(id.Certificate.PublicKey, id.Key.Public()) {
			return fmt.Errorf("%s private key does not match its certificate", id.Role)
		}
	}

	if !b.CA.Certificate.IsCA {
		return fmt.Errorf("ca certificate %q is not a certificate authority", b.CA.Certificate.Subject.CommonName)
	}

	roots := b.CAPool()
	for _, leaf := range []*Identity{b.Server, b.Client} {
		cert := leaf.Certificate
		if !bytes.Equal(cert.RawIssuer, b.CA.Certificate.RawSubject) {
			return fmt.Errorf("%s certificate issuer %q does not match ca subject %q",
				leaf.Role, cert.Issuer.String(), b.CA.Certificate.Subject.String())
		}
		if err := cert.CheckSignatureFrom(b.CA.Certificate); err != nil {
			return fmt.Errorf("%s certificate signature: %w", leaf.Role, err)
		}

		usage := x509.ExtKeyUsageServerAuth
		if leaf.Role == RoleClient {
			usage = x509.ExtKeyUsageClientAuth
		}
		if _, err := cert.Verify(x509.VerifyOptions{
			Roots:     roots,
			KeyUsages: []x509.ExtKeyUsage{usage},
		}); err != nil {
			return fmt.Errorf("%s certificate chain: %w", leaf.Role, err)
		}
	}
	return nil
}

// CAPool returns a pool holding only this bundle's CA certificate.
func (b *Bundle) CAPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(b.CA.Certificate)
	return pool
}

// ServerFingerprint identifies the certificate the gateway presents.
func (b *Bundle) ServerFingerprint() string {
	return Fingerprint(b.Server.Certificate)
}

// CAFingerprint identifies the authority clients must trust.
func (b *Bundle) CAFingerprint() string {
	return Fingerprint(b.CA.Certificate)
}
