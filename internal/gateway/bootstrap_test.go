package gateway

import (
	"crypto/rsa"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-gateway/pkg/config"
	gwtls "github.com/polisai/polis-gateway/internal/tls"
)

func TestNewArtifactStoreFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Network = "signet"
	cfg.GRPC.ExtraDNSNames = []string{"localhost"}
	cfg.GRPC.ExtraIPs = []string{"127.0.0.1"}
	cfg.PKI.KeyAlgorithm = "rsa"
	cfg.PKI.RSABits = 2048
	cfg.PKI.Validity = config.Duration(48 * time.Hour)
	cfg.PKI.Organization = "Example"
	require.NoError(t, cfg.Validate())

	store, err := NewArtifactStore(cfg, gwtls.NewTLSLogger(discard), nil)
	require.NoError(t, err)
	assert.Equal(t, cfg.ArtifactDir(), store.Dir())

	bundle, err := store.Reconcile(t.Context())
	require.NoError(t, err)
	require.NoError(t, bundle.Verify())

	server := bundle.Server.Certificate
	assert.Equal(t, []string{"cln", "localhost"}, server.DNSNames)
	require.Len(t, server.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", server.IPAddresses[0].String())
	assert.Equal(t, []string{"Example"}, server.Subject.Organization)
	assert.IsType(t, &rsa.PublicKey{}, server.PublicKey)
	assert.WithinDuration(t, time.Now().Add(48*time.Hour), server.NotAfter, 2*time.Minute)

	for _, f := range gwtls.Artifacts() {
		_, err := os.Stat(f.Path(cfg.ArtifactDir()))
		assert.NoError(t, err, f.Name())
	}
}

func TestNewArtifactStoreRejectsBadPKI(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.PKI.KeyAlgorithm = "dsa"

	_, err := NewArtifactStore(cfg, nil, nil)
	assert.True(t, gwtls.IsConfigurationError(err))

	cfg.PKI.KeyAlgorithm = "ecdsa-p256"
	cfg.GRPC.ExtraIPs = []string{"not-an-ip"}
	_, err = NewArtifactStore(cfg, nil, nil)
	assert.True(t, gwtls.IsConfigurationError(err))
}
