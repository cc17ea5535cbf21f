package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/polisai/polis-gateway/internal/forwarder"
	"github.com/polisai/polis-gateway/internal/gateway"
	gwtls "github.com/polisai/polis-gateway/internal/tls"
	"github.com/polisai/polis-gateway/pkg/config"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func TestReconcileBootstrapsThenLoads(t *testing.T) {
	dataDir := t.TempDir()
	dir := filepath.Join(dataDir, "regtest")

	out, err := run(t, "reconcile", "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, "State: missing_ca|missing_server_pair|missing_client_pair")
	assert.Contains(t, out, "Action: regenerate:ca,server,client")
	for _, f := range gwtls.Artifacts() {
		assert.FileExists(t, f.Path(dir))
	}

	require.NoError(t, os.Remove(gwtls.ArtifactClientKey.Path(dir)))
	out, err = run(t, "reconcile", "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, "State: missing_client_pair")
	assert.Contains(t, out, "Action: regenerate:client")

	out, err = run(t, "reconcile", "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, "State: complete")
	assert.Contains(t, out, "Action: load")
}

func TestVerify(t *testing.T) {
	dataDir := t.TempDir()
	dir := filepath.Join(dataDir, "signet")

	_, err := run(t, "reconcile", "--data-dir", dataDir, "--network", "signet")
	require.NoError(t, err)

	out, err := run(t, "verify", "--data-dir", dataDir, "--network", "signet")
	require.NoError(t, err)
	assert.Contains(t, out, "✅ Bundle in "+dir+" is valid")

	require.NoError(t, os.Remove(gwtls.ArtifactServerCert.Path(dir)))
	out, err = run(t, "verify", "--data-dir", dataDir, "--network", "signet")
	require.Error(t, err)
	assert.Contains(t, out, "incomplete: missing_server_pair")
	assert.NoFileExists(t, gwtls.ArtifactServerCert.Path(dir), "verify never writes")
}

func TestVerifyReportsExpiredBundle(t *testing.T) {
	dataDir := t.TempDir()
	dir := filepath.Join(dataDir, "regtest")

	issued := time.Now().Add(-48 * time.Hour)
	store, err := gwtls.NewArtifactStore(dir, gwtls.StoreOptions{
		ServerName: "cln",
		Authority: gwtls.NewCertificateAuthority(gwtls.AuthorityOptions{
			Validity: 24 * time.Hour,
			Now:      func() time.Time { return issued },
		}),
		Logger: gwtls.NewTLSLogger(slog.New(slog.DiscardHandler)),
	})
	require.NoError(t, err)
	_, err = store.Reconcile(t.Context())
	require.NoError(t, err)

	out, err := run(t, "verify", "--data-dir", dataDir)
	require.ErrorContains(t, err, "outside their validity period: ca.pem, server.pem, client.pem")
	assert.Contains(t, out, "❌ ca.pem: certificate has expired")
	assert.NotContains(t, out, "is valid")
}

func TestVerifyDetectsForeignLeaf(t *testing.T) {
	ours, theirs := t.TempDir(), t.TempDir()
	_, err := run(t, "reconcile", "--data-dir", ours)
	require.NoError(t, err)
	_, err = run(t, "reconcile", "--data-dir", theirs)
	require.NoError(t, err)

	for _, f := range []gwtls.ArtifactFile{gwtls.ArtifactClientCert, gwtls.ArtifactClientKey} {
		data, err := os.ReadFile(f.Path(filepath.Join(theirs, "regtest")))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(f.Path(filepath.Join(ours, "regtest")), data, f.Mode()))
	}

	out, err := run(t, "verify", "--data-dir", ours)
	require.Error(t, err)
	assert.Contains(t, out, "inconsistent")
}

func TestInspect(t *testing.T) {
	dataDir := t.TempDir()
	dir := filepath.Join(dataDir, "regtest")
	_, err := run(t, "reconcile", "--data-dir", dataDir)
	require.NoError(t, err)

	out, err := run(t, "inspect", "--data-dir", dataDir, "--format", "json")
	require.NoError(t, err)
	var report bundleJSON
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "complete", report.State)
	assert.True(t, report.ChainValid)
	assert.Len(t, report.Present, 6)
	assert.Contains(t, report.Certificates, "ca.pem")
	assert.Contains(t, report.Certificates, "server.pem")
	assert.Contains(t, report.Certificates, "client.pem")
	assert.True(t, report.Certificates["ca.pem"].IsCA)

	out, err = run(t, "inspect", gwtls.ArtifactServerCert.Path(dir))
	require.NoError(t, err)
	assert.Contains(t, out, "Subject: CN=cln")
	assert.Contains(t, out, "DNS Names: cln")
	assert.Contains(t, out, "Status: ✅ VALID")

	out, err = run(t, "inspect", "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Chain: ✅ valid")

	_, err = run(t, "inspect", "--format", "xml", gwtls.ArtifactServerCert.Path(dir))
	assert.ErrorContains(t, err, "unsupported format")
}

func TestCallThroughGateway(t *testing.T) {
	dataDir := t.TempDir()
	_, err := run(t, "reconcile", "--data-dir", dataDir)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.DataDir = dataDir
	discard := slog.New(slog.DiscardHandler)
	store, err := gateway.NewArtifactStore(cfg, gwtls.NewTLSLogger(discard), nil)
	require.NoError(t, err)
	bundle, err := store.Reconcile(t.Context())
	require.NoError(t, err)

	router := forwarder.NewRouter(nil)
	gateway.RegisterBuiltins(router, gateway.NodeInfo{Network: "regtest", Version: "test", ServerName: "cln", Bundle: bundle})
	tlsMetrics, err := gwtls.NewTLSMetricsCollector(sdkmetric.NewMeterProvider(), discard)
	require.NoError(t, err)
	server, err := gateway.New(gateway.Config{}, bundle, forwarder.New(router, forwarder.Options{Logger: discard}), gateway.Options{
		Logger:     discard,
		TLSMetrics: tlsMetrics,
	})
	require.NoError(t, err)
	require.NoError(t, server.Start(t.Context(), "127.0.0.1:0"))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})

	out, err := run(t, "call", "getinfo", "{}", "--data-dir", dataDir, "--addr", server.Addr().String())
	require.NoError(t, err)
	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "regtest", result["network"])
	assert.Equal(t, bundle.CAFingerprint(), result["ca_fingerprint"])

	_, err = run(t, "call", "listfunds", "--data-dir", dataDir, "--addr", server.Addr().String())
	assert.ErrorContains(t, err, "Unimplemented")

	_, err = run(t, "call", "getinfo", "[1,2]", "--data-dir", dataDir, "--addr", server.Addr().String())
	assert.ErrorContains(t, err, "JSON object")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchReportsChanges(t *testing.T) {
	dataDir := t.TempDir()
	dir := filepath.Join(dataDir, "regtest")
	_, err := run(t, "reconcile", "--data-dir", dataDir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var out syncBuffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"watch", "--data-dir", dataDir})
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "State: complete (on restart: load)")
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(gwtls.ArtifactServerKey.Path(dir)))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "State: missing_server_pair (on restart: regenerate:server)")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "polis-cert version dev\n", out)
}
