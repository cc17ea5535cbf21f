package tls

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"time"
)

// Role is the purpose a certificate was issued for.
type Role int

const (
	RoleCA Role = iota
	RoleServer
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleCA:
		return "ca"
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

const (
	// DefaultValidity keeps artifacts usable for the life of a node; there is
	// no rotation, operators replace files by hand.
	DefaultValidity = 10 * 365 * 24 * time.Hour

	// clockSkew back-dates NotBefore so peers with a slightly slow clock
	// accept freshly issued certificates.
	clockSkew = time.Hour
)

var serialLimit = new(big.Int).Lsh(big.NewInt(1), 128)

// Identity is a certificate together with its private key and their PEM forms.
type Identity struct {
	Role        Role
	Certificate *x509.Certificate
	Key         crypto.Signer
	CertPEM     []byte
	KeyPEM      []byte
}

// NewIdentity parses a certificate/key PEM pair. It does not check that the
// two belong together; see Bundle.Verify.
func NewIdentity(role Role, certPEM, keyPEM []byte) (*Identity, error) {
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, err
	}
	key, err := ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}
	return &Identity{
		Role:        role,
		Certificate: cert,
		Key:         key,
		CertPEM:     certPEM,
		KeyPEM:      keyPEM,
	}, nil
}

// AuthorityOptions shapes the certificates a CertificateAuthority produces.
type AuthorityOptions struct {
	Keys         *KeyPairGenerator
	Organization string
	Validity     time.Duration

	// ServerDNSNames and ServerIPs are added to the server certificate next
	// to its subject name.
	ServerDNSNames []string
	ServerIPs      []net.IP

	// Now and Rand are overridable for tests.
	Now  func() time.Time
	Rand io.Reader
}

// CertificateAuthority creates roots and signs leaf certificates. It holds no
// key material of its own; the root Identity it returns is the CA.
type CertificateAuthority struct {
	keys         *KeyPairGenerator
	organization string
	validity     time.Duration
	serverDNS    []string
	serverIPs    []net.IP
	now          func() time.Time
	rand         io.Reader
}

// NewCertificateAuthority applies defaults to opts.
func NewCertificateAuthority(opts AuthorityOptions) *CertificateAuthority {
	ca := &CertificateAuthority{
		keys:         opts.Keys,
		organization: opts.Organization,
		validity:     opts.Validity,
		serverDNS:    opts.ServerDNSNames,
		serverIPs:    opts.ServerIPs,
		now:          opts.Now,
		rand:         opts.Rand,
	}
	if ca.keys == nil {
		ca.keys = NewKeyPairGenerator(DefaultKeyAlgorithm)
	}
	if ca.validity <= 0 {
		ca.validity = DefaultValidity
	}
	if ca.now == nil {
		ca.now = time.Now
	}
	if ca.rand == nil {
		ca.rand = rand.Reader
	}
	return ca
}

// CreateRoot generates a fresh key pair and a self-signed root certificate.
func (ca *CertificateAuthority) CreateRoot(name string) (*Identity, error) {
	key, err := ca.keys.Generate()
	if err != nil {
		return nil, err
	}

	template, err := ca.template(name)
	if err != nil {
		return nil, NewCertificateSigningError(RoleCA, name, err)
	}
	template.IsCA = true
	template.MaxPathLenZero = true
	template.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature

	return ca.sign(RoleCA, name, template, template, key, key)
}

// Issue generates a fresh key pair for role and signs a certificate for it
// with the issuer's key. The issuer must be a CA identity.
func (ca *CertificateAuthority) Issue(role Role, subject string, issuer *Identity) (*Identity, error) {
	if role != RoleServer && role != RoleClient {
		return nil, NewCertificateSigningError(role, subject, fmt.Errorf("cannot issue a leaf certificate for role %s", role))
	}
	if issuer == nil || issuer.Certificate == nil || issuer.Key == nil {
		return nil, NewCertificateSigningError(role, subject, errors.New("issuer is missing"))
	}
	if !issuer.Certificate.IsCA {
		return nil, NewCertificateSigningError(role, subject,
			fmt.Errorf("issuer %q is not a certificate authority", issuer.Certificate.Subject.CommonName))
	}

	key, err := ca.keys.Generate()
	if err != nil {
		return nil, err
	}

	template, err := ca.template(subject)
	if err != nil {
		return nil, NewCertificateSigningError(role, subject, err)
	}
	template.KeyUsage = x509.KeyUsageDigitalSignature
	if _, ok := key.(*rsa.PrivateKey); ok {
		template.KeyUsage |= x509.KeyUsageKeyEncipherment
	}

	switch role {
	case RoleServer:
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
		template.DNSNames, template.IPAddresses = ca.serverNames(subject)
	case RoleClient:
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	}

	return ca.sign(role, subject, template, issuer.Certificate, key, issuer.Key)
}

func (ca *CertificateAuthority) template(commonName string) (*x509.Certificate, error) {
	serial, err := rand.Int(ca.rand, serialLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	subject := pkix.Name{CommonName: commonName}
	if ca.organization != "" {
		subject.Organization = []string{ca.organization}
	}

	now := ca.now()
	return &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject,
		NotBefore:             now.Add(-clockSkew),
		NotAfter:              now.Add(ca.validity),
		BasicConstraintsValid: true,
	}, nil
}

func (ca *CertificateAuthority) serverNames(subject string) ([]string, []net.IP) {
	var dns []string
	var ips []net.IP
	seen := make(map[string]bool)
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		if ip := net.ParseIP(name); ip != nil {
			ips = append(ips, ip)
			return
		}
		dns = append(dns, name)
	}

	add(subject)
	for _, name := range ca.serverDNS {
		add(name)
	}
	for _, ip := range ca.serverIPs {
		add(ip.String())
	}
	return dns, ips
}

func (ca *CertificateAuthority) sign(role Role, subject string, template, parent *x509.Certificate, key crypto.Signer, parentKey crypto.Signer) (*Identity, error) {
	der, err := x509.CreateCertificate(ca.rand, template, parent, key.Public(), parentKey)
	if err != nil {
		return nil, NewCertificateSigningError(role, subject, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, NewCertificateSigningError(role, subject, err)
	}

	keyPEM, err := EncodePrivateKeyPEM(key)
	if err != nil {
		return nil, NewKeyGenerationError(ca.keys.Algorithm, err)
	}

	return &Identity{
		Role:        role,
		Certificate: cert,
		Key:         key,
		CertPEM:     pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:      keyPEM,
	}, nil
}
