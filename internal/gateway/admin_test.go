package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminServer(t *testing.T) {
	bundle := newBundle(t)
	metrics := NewMetrics()
	metrics.SetBundleInfo(testServerName, bundle.CAFingerprint(), bundle.ServerFingerprint())

	var ready atomic.Bool
	ready.Store(true)

	admin := NewAdminServer(metrics, bundle, testServerName, "v1.2.3", ready.Load, discard)
	require.NoError(t, admin.Start(t.Context(), "127.0.0.1:0"))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = admin.Shutdown(ctx)
	})
	base := "http://" + admin.Addr().String()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	var health HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "serving", health.Status)
	assert.Equal(t, bundle.CAFingerprint(), health.CAFingerprint)
	assert.Equal(t, bundle.ServerFingerprint(), health.ServerFingerprint)
	assert.Equal(t, "v1.2.3", health.Version)

	ready.Store(false)
	resp, err = http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `gateway_tls_bundle_info{ca_fingerprint="`+bundle.CAFingerprint())

	resp, err = http.Get(base + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/healthz", "200"))+
		testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/healthz", "503")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "other", "404")))
}

func TestSetBundleInfoReplacesSeries(t *testing.T) {
	metrics := NewMetrics()
	metrics.SetBundleInfo("cln", "AA", "BB")
	metrics.SetBundleInfo("cln", "CC", "DD")

	assert.Equal(t, 1, testutil.CollectAndCount(metrics.bundleInfo))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.bundleInfo.WithLabelValues("cln", "CC", "DD")))
}
