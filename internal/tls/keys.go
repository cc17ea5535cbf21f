package tls

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"strings"
)

// KeyAlgorithm names the asymmetric algorithm used for every key in a bundle.
type KeyAlgorithm string

const (
	KeyAlgorithmECDSAP256 KeyAlgorithm = "ecdsa-p256"
	KeyAlgorithmECDSAP384 KeyAlgorithm = "ecdsa-p384"
	KeyAlgorithmRSA       KeyAlgorithm = "rsa"
)

const (
	DefaultKeyAlgorithm = KeyAlgorithmECDSAP256
	DefaultRSABits      = 2048
	minRSABits          = 2048
)

// ParseKeyAlgorithm accepts the configuration spelling of an algorithm.
func ParseKeyAlgorithm(s string) (KeyAlgorithm, error) {
	switch KeyAlgorithm(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultKeyAlgorithm, nil
	case KeyAlgorithmECDSAP256:
		return KeyAlgorithmECDSAP256, nil
	case KeyAlgorithmECDSAP384:
		return KeyAlgorithmECDSAP384, nil
	case KeyAlgorithmRSA:
		return KeyAlgorithmRSA, nil
	default:
		return "", fmt.Errorf("unsupported key algorithm %q", s)
	}
}

// KeyPairGenerator produces key pairs of a fixed shape. Every call draws fresh
// material from Rand; two generators with the same settings never share keys.
type KeyPairGenerator struct {
	Algorithm KeyAlgorithm
	RSABits   int

	// Rand defaults to crypto/rand.Reader.
	Rand io.Reader
}

// NewKeyPairGenerator returns a generator for the given algorithm.
func NewKeyPairGenerator(algorithm KeyAlgorithm) *KeyPairGenerator {
	return &KeyPairGenerator{Algorithm: algorithm, RSABits: DefaultRSABits}
}

// Generate creates a new private key. Failures are GenerationErrors and are
// not retried.
func (g *KeyPairGenerator) Generate() (crypto.Signer, error) {
	random := g.Rand
	if random == nil {
		random = rand.Reader
	}

	algorithm := g.Algorithm
	if algorithm == "" {
		algorithm = DefaultKeyAlgorithm
	}

	var (
		key crypto.Signer
		err error
	)
	switch algorithm {
	case KeyAlgorithmECDSAP256:
		key, err = ecdsa.GenerateKey(elliptic.P256(), random)
	case KeyAlgorithmECDSAP384:
		key, err = ecdsa.GenerateKey(elliptic.P384(), random)
	case KeyAlgorithmRSA:
		bits := g.RSABits
		if bits == 0 {
			bits = DefaultRSABits
		}
		if bits < minRSABits {
			return nil, NewKeyGenerationError(algorithm, fmt.Errorf("rsa key size %d is below the %d bit minimum", bits, minRSABits))
		}
		key, err = rsa.GenerateKey(random, bits)
	default:
		return nil, NewKeyGenerationError(algorithm, fmt.Errorf("unsupported key algorithm %q", algorithm))
	}
	if err != nil {
		return nil, NewKeyGenerationError(algorithm, err)
	}
	return key, nil
}

// EncodePrivateKeyPEM encodes key as a PKCS#8 "PRIVATE KEY" block.
func EncodePrivateKeyPEM(key crypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// ParsePrivateKeyPEM decodes the first private key block in data. PKCS#8,
// SEC 1 and PKCS#1 encodings are accepted so hand-placed keys still load.
func ParsePrivateKeyPEM(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	var (
		key any
		err error
	)
	switch block.Type {
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("PEM block is not a private key (type: %s)", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", key)
	}
	return signer, nil
}

// publicKeysEqual reports whether two public keys are identical.
func publicKeysEqual(a, b crypto.PublicKey) bool {
	type equaler interface {
		Equal(crypto.PublicKey) bool
	}
	eq, ok := a.(equaler)
	return ok && eq.Equal(b)
}
