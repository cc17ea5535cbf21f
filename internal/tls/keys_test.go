package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestKeyPairGenerator_Algorithms(t *testing.T) {
	tests := []struct {
		algorithm KeyAlgorithm
		check     func(t *testing.T, key any)
	}{
		{KeyAlgorithmECDSAP256, func(t *testing.T, key any) {
			ec, ok := key.(*ecdsa.PrivateKey)
			require.True(t, ok)
			assert.Equal(t, elliptic.P256(), ec.Curve)
		}},
		{KeyAlgorithmECDSAP384, func(t *testing.T, key any) {
			ec, ok := key.(*ecdsa.PrivateKey)
			require.True(t, ok)
			assert.Equal(t, elliptic.P384(), ec.Curve)
		}},
		{KeyAlgorithmRSA, func(t *testing.T, key any) {
			r, ok := key.(*rsa.PrivateKey)
			require.True(t, ok)
			assert.Equal(t, DefaultRSABits, r.N.BitLen())
		}},
	}

	for _, tt := range tests {
		t.Run(string(tt.algorithm), func(t *testing.T) {
			key, err := NewKeyPairGenerator(tt.algorithm).Generate()
			require.NoError(t, err)
			tt.check(t, key)
		})
	}
}

func TestKeyPairGenerator_DefaultsToP256(t *testing.T) {
	key, err := (&KeyPairGenerator{}).Generate()
	require.NoError(t, err)

	ec, ok := key.(*ecdsa.PrivateKey)
	require.True(t, ok)
	assert.Equal(t, elliptic.P256(), ec.Curve)
}

func TestKeyPairGenerator_Failures(t *testing.T) {
	t.Run("rsa below minimum", func(t *testing.T) {
		_, err := (&KeyPairGenerator{Algorithm: KeyAlgorithmRSA, RSABits: 1024}).Generate()
		require.Error(t, err)
		assert.True(t, IsGenerationError(err))
	})

	t.Run("unknown algorithm", func(t *testing.T) {
		_, err := (&KeyPairGenerator{Algorithm: "dsa"}).Generate()
		require.Error(t, err)
		assert.True(t, IsGenerationError(err))
	})
}

func TestKeyPairGenerator_IndependentKeys(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		algorithm := rapid.SampledFrom([]KeyAlgorithm{KeyAlgorithmECDSAP256, KeyAlgorithmECDSAP384}).Draw(t, "algorithm")
		n := rapid.IntRange(2, 5).Draw(t, "n")

		gen := NewKeyPairGenerator(algorithm)
		seen := make(map[string]bool)
		for i := 0; i < n; i++ {
			key, err := gen.Generate()
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			der, err := x509.MarshalPKIXPublicKey(key.Public())
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if seen[string(der)] {
				t.Fatalf("generator returned the same key twice")
			}
			seen[string(der)] = true
		}
	})
}

func TestParsePrivateKeyPEM_Encodings(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pkcs8, err := EncodePrivateKeyPEM(ecKey)
	require.NoError(t, err)
	sec1DER, err := x509.MarshalECPrivateKey(ecKey)
	require.NoError(t, err)
	sec1 := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: sec1DER})
	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey)})

	for name, data := range map[string][]byte{"pkcs8": pkcs8, "sec1": sec1, "pkcs1": pkcs1} {
		t.Run(name, func(t *testing.T) {
			key, err := ParsePrivateKeyPEM(data)
			require.NoError(t, err)
			assert.NotNil(t, key.Public())
		})
	}

	t.Run("certificate block", func(t *testing.T) {
		_, err := ParsePrivateKeyPEM(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{1}}))
		assert.ErrorContains(t, err, "not a private key")
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParsePrivateKeyPEM([]byte("not pem"))
		assert.Error(t, err)
	})
}

func TestParseKeyAlgorithm(t *testing.T) {
	algorithm, err := ParseKeyAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, KeyAlgorithmECDSAP256, algorithm)

	algorithm, err = ParseKeyAlgorithm(" RSA ")
	require.NoError(t, err)
	assert.Equal(t, KeyAlgorithmRSA, algorithm)

	_, err = ParseKeyAlgorithm("ed448")
	assert.Error(t, err)
}
