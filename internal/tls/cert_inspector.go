package tls

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"
)

// CertificateInspector provides detailed certificate inspection capabilities
type CertificateInspector struct {
	now func() time.Time
}

// NewCertificateInspector creates a new certificate inspector
func NewCertificateInspector() *CertificateInspector {
	return &CertificateInspector{now: time.Now}
}

// DetailedCertificateInfo contains comprehensive certificate information
type DetailedCertificateInfo struct {
	*CertificateInfo
	SerialNumber       string
	SignatureAlgorithm string
	PublicKeyAlgorithm string
	KeySize            int
	IsCA               bool
	KeyUsage           []string
	ExtKeyUsage        []string
	ValidationStatus   ValidationStatus
}

// ValidationStatus contains certificate validation results
type ValidationStatus struct {
	Valid         bool
	Expired       bool
	NotYetValid   bool
	SelfSigned    bool
	Warnings      []string
	Errors        []string
	ExpiresInDays int
}

// BundleReport is the result of inspecting an artifact directory.
type BundleReport struct {
	Dir               string
	Present           Presence
	State             BundleState
	Certificates      map[ArtifactFile]*DetailedCertificateInfo
	ChainValid        bool
	ChainError        string
	ServerFingerprint string
	CAFingerprint     string
}

// InspectCertificateFile performs detailed inspection of a certificate file
func (ci *CertificateInspector) InspectCertificateFile(certFile string) (*DetailedCertificateInfo, error) {
	data, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}

	return ci.InspectCertificateData(data, certFile)
}

// InspectCertificateData inspects the first certificate in data.
func (ci *CertificateInspector) InspectCertificateData(data []byte, filename string) (*DetailedCertificateInfo, error) {
	cert, err := ParseCertificatePEM(data)
	if err != nil {
		return nil, err
	}
	return ci.inspect(filename, cert), nil
}

func (ci *CertificateInspector) inspect(filename string, cert *x509.Certificate) *DetailedCertificateInfo {
	return &DetailedCertificateInfo{
		CertificateInfo:    certificateInfo(filename, cert),
		SerialNumber:       fmt.Sprintf("%X", cert.SerialNumber),
		SignatureAlgorithm: cert.SignatureAlgorithm.String(),
		PublicKeyAlgorithm: cert.PublicKeyAlgorithm.String(),
		KeySize:            ci.getKeySize(cert.PublicKey),
		IsCA:               cert.IsCA,
		KeyUsage:           ci.parseKeyUsage(cert.KeyUsage),
		ExtKeyUsage:        ci.parseExtKeyUsage(cert.ExtKeyUsage),
		ValidationStatus:   ci.validateCertificate(cert),
	}
}

// InspectBundle reads every certificate present in dir and checks the chain
// when the bundle is complete. It never writes.
func (ci *CertificateInspector) InspectBundle(dir string) (*BundleReport, error) {
	present, err := ProbeDir(dir)
	if err != nil {
		return nil, err
	}

	report := &BundleReport{
		Dir:          dir,
		Present:      present,
		State:        DetectState(present),
		Certificates: make(map[ArtifactFile]*DetailedCertificateInfo),
	}

	for _, f := range []ArtifactFile{ArtifactCACert, ArtifactServerCert, ArtifactClientCert} {
		if !present[f] {
			continue
		}
		info, err := ci.InspectCertificateFile(f.Path(dir))
		if err != nil {
			return nil, NewStorageCorruptError(f.Path(dir), err)
		}
		report.Certificates[f] = info
	}

	if report.State != StateComplete {
		report.ChainError = fmt.Sprintf("bundle is %s", report.State)
		return report, nil
	}

	bundle := &Bundle{Dir: dir}
	for _, role := range []Role{RoleCA, RoleServer, RoleClient} {
		id, err := readIdentity(dir, role)
		if err != nil {
			return nil, err
		}
		switch role {
		case RoleCA:
			bundle.CA = id
		case RoleServer:
			bundle.Server = id
		case RoleClient:
			bundle.Client = id
		}
	}

	if err := bundle.Verify(); err != nil {
		report.ChainError = err.Error()
	} else {
		report.ChainValid = true
	}
	report.ServerFingerprint = bundle.ServerFingerprint()
	report.CAFingerprint = bundle.CAFingerprint()
	return report, nil
}

// parseKeyUsage converts key usage flags to string descriptions
func (ci *CertificateInspector) parseKeyUsage(keyUsage x509.KeyUsage) []string {
	var usages []string

	if keyUsage&x509.KeyUsageDigitalSignature != 0 {
		usages = append(usages, "Digital Signature")
	}
	if keyUsage&x509.KeyUsageKeyEncipherment != 0 {
		usages = append(usages, "Key Encipherment")
	}
	if keyUsage&x509.KeyUsageCertSign != 0 {
		usages = append(usages, "Certificate Sign")
	}
	if keyUsage&x509.KeyUsageCRLSign != 0 {
		usages = append(usages, "CRL Sign")
	}

	return usages
}

// parseExtKeyUsage converts extended key usage to string descriptions
func (ci *CertificateInspector) parseExtKeyUsage(extKeyUsage []x509.ExtKeyUsage) []string {
	var usages []string

	for _, usage := range extKeyUsage {
		switch usage {
		case x509.ExtKeyUsageServerAuth:
			usages = append(usages, "Server Authentication")
		case x509.ExtKeyUsageClientAuth:
			usages = append(usages, "Client Authentication")
		default:
			usages = append(usages, fmt.Sprintf("Unknown (%v)", usage))
		}
	}

	return usages
}

// validateCertificate checks the validity window and key strength
func (ci *CertificateInspector) validateCertificate(cert *x509.Certificate) ValidationStatus {
	status := ValidationStatus{
		Valid:      true,
		SelfSigned: cert.Subject.String() == cert.Issuer.String(),
		Warnings:   make([]string, 0),
		Errors:     make([]string, 0),
	}

	now := ci.now()

	if now.After(cert.NotAfter) {
		status.Expired = true
		status.Valid = false
		status.Errors = append(status.Errors, fmt.Sprintf("Certificate expired on %s", cert.NotAfter.Format(time.RFC3339)))
	} else {
		status.ExpiresInDays = int(cert.NotAfter.Sub(now).Hours() / 24)
		if status.ExpiresInDays <= 30 {
			status.Warnings = append(status.Warnings, fmt.Sprintf("Certificate expires in %d days", status.ExpiresInDays))
		}
	}

	if now.Before(cert.NotBefore) {
		status.NotYetValid = true
		status.Valid = false
		status.Errors = append(status.Errors, fmt.Sprintf("Certificate is not yet valid (valid from %s)", cert.NotBefore.Format(time.RFC3339)))
	}

	if _, ok := cert.PublicKey.(*rsa.PublicKey); ok {
		if keySize := ci.getKeySize(cert.PublicKey); keySize < 2048 {
			status.Warnings = append(status.Warnings, fmt.Sprintf("Weak key size: %d bits (recommended: 2048+ bits)", keySize))
		}
	}

	if strings.Contains(strings.ToLower(cert.SignatureAlgorithm.String()), "sha1") {
		status.Warnings = append(status.Warnings, "Uses SHA-1 signature algorithm (deprecated)")
	}

	return status
}

// getKeySize determines the key size from the public key
func (ci *CertificateInspector) getKeySize(publicKey interface{}) int {
	switch key := publicKey.(type) {
	case *rsa.PublicKey:
		return key.N.BitLen()
	case *ecdsa.PublicKey:
		return key.Curve.Params().BitSize
	default:
		return 0
	}
}

// readIdentity loads one pair from dir. A parse failure names the file that
// failed.
func readIdentity(dir string, role Role) (*Identity, error) {
	certFile, keyFile := pairFiles(role)

	certPEM, err := os.ReadFile(certFile.Path(dir))
	if err != nil {
		return nil, NewStorageReadError(certFile.Path(dir), err)
	}
	keyPEM, err := os.ReadFile(keyFile.Path(dir))
	if err != nil {
		return nil, NewStorageReadError(keyFile.Path(dir), err)
	}

	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, NewStorageCorruptError(certFile.Path(dir), err)
	}
	key, err := ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, NewStorageCorruptError(keyFile.Path(dir), err)
	}
	return &Identity{
		Role:        role,
		Certificate: cert,
		Key:         key,
		CertPEM:     certPEM,
		KeyPEM:      keyPEM,
	}, nil
}
