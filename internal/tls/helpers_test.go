package tls

import (
	"crypto/tls"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testServerName = "cln"

func newTestStore(t *testing.T, dir string) *ArtifactStore {
	t.Helper()

	store, err := NewArtifactStore(dir, StoreOptions{
		ServerName: testServerName,
		Authority: NewCertificateAuthority(AuthorityOptions{
			ServerDNSNames: []string{"localhost"},
		}),
		Logger: NewTLSLogger(slog.New(slog.DiscardHandler)),
	})
	require.NoError(t, err)
	return store
}

func reconcileDir(t *testing.T, dir string) *Bundle {
	t.Helper()

	bundle, err := newTestStore(t, dir).Reconcile(t.Context())
	require.NoError(t, err)
	return bundle
}

func readArtifacts(t *testing.T, dir string) map[ArtifactFile][]byte {
	t.Helper()

	contents := make(map[ArtifactFile][]byte)
	for _, f := range Artifacts() {
		data, err := os.ReadFile(f.Path(dir))
		require.NoError(t, err, f.Name())
		contents[f] = data
	}
	return contents
}

// handshake runs one TLS handshake over loopback TCP. On success the server
// writes a single byte so the client observes the server's verdict even
// under TLS 1.3, where the client finishes before its certificate is checked.
func handshake(t *testing.T, serverCfg, clientCfg *tls.Config) (serverErr, clientErr error) {
	t.Helper()

	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverCfg)
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
		if err := conn.(*tls.Conn).Handshake(); err != nil {
			done <- err
			return
		}
		_, err = conn.Write([]byte{1})
		done <- err
	}()

	conn, clientErr := tls.Dial("tcp", ln.Addr().String(), clientCfg)
	if clientErr == nil {
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
		_, clientErr = conn.Read(make([]byte, 1))
		conn.Close()
	}

	return <-done, clientErr
}
