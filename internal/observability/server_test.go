// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NyaDerator/DiscordBridgeMC/internal/gateway"
)

func startServer(t *testing.T, ready ReadinessChecker) (*Server, func()) {
	t.Helper()
	server := NewServer("127.0.0.1:0", ready)
	_, err := server.Start()
	require.NoError(t, err)
	require.NotEmpty(t, server.Addr())
	return server, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	}
}

func get(t *testing.T, server *Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get("http://" + server.Addr() + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_Metrics(t *testing.T) {
	server, stop := startServer(t, func() bool { return true })
	defer stop()

	server.Metrics().RequestsTotal.WithLabelValues("/v1/players", "200").Inc()
	server.Metrics().RequestsTotal.WithLabelValues("/v1/players", "200").Inc()
	RecordSinkFailure("show")
	gateway.RecordVerdict(gateway.Verdict{Stage: gateway.StateVerdict})

	status, body := get(t, server, "/metrics")
	require.Equal(t, http.StatusOK, status)

	for _, want := range []string{
		"# HELP",
		"go_goroutines",
		"process_",
		"go_build_info",
		`bridgemc_api_requests_total{route="/v1/players",status="200"} 2`,
		`bridgemc_cooldown_sink_failures_total{op="show"}`,
		`bridgemc_gateway_verdicts_total{code="OK"}`,
	} {
		assert.Contains(t, body, want)
	}
}

func TestServer_Registry(t *testing.T) {
	server, stop := startServer(t, nil)
	defer stop()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "bridgemc_test_gauge", Help: "test"})
	server.Registry().MustRegister(gauge)
	gauge.Set(7)

	_, body := get(t, server, "/metrics")
	assert.Contains(t, body, "bridgemc_test_gauge 7")
}

func TestServer_Liveness(t *testing.T) {
	server, stop := startServer(t, func() bool { return false })
	defer stop()

	status, body := get(t, server, "/healthz/liveness")
	assert.Equal(t, http.StatusOK, status, "liveness does not depend on readiness")
	assert.Equal(t, "ok", strings.TrimSpace(body))
}

func TestServer_ReadinessFollowsChecker(t *testing.T) {
	var ready atomic.Bool
	server, stop := startServer(t, ready.Load)
	defer stop()

	status, body := get(t, server, "/healthz/readiness")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "not ready", strings.TrimSpace(body))

	ready.Store(true)
	status, body = get(t, server, "/healthz/readiness")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", strings.TrimSpace(body))
}

func TestServer_ReadinessWithNilChecker(t *testing.T) {
	server, stop := startServer(t, nil)
	defer stop()

	status, _ := get(t, server, "/healthz/readiness")
	assert.Equal(t, http.StatusOK, status)
}

func TestServer_DoubleStartFails(t *testing.T) {
	server, stop := startServer(t, nil)
	defer stop()

	_, err := server.Start()
	assert.Error(t, err)
}

func TestServer_StopWithoutStart(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	assert.NoError(t, server.Stop(context.Background()))
	assert.Empty(t, server.Addr())
}

func TestServer_ErrorChannelReportsServeErrors(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	errCh, err := server.Start()
	require.NoError(t, err)
	defer func() { _ = server.Stop(context.Background()) }()

	// Closing the listener makes Serve fail.
	require.NoError(t, server.listener.Close())

	select {
	case serveErr := <-errCh:
		assert.Error(t, serveErr)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for serve error")
	}
}

func TestServer_ErrorChannelClosesOnShutdown(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	errCh, err := server.Start()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))

	select {
	case err, ok := <-errCh:
		assert.False(t, ok && err != nil, "unexpected error on shutdown: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error channel to close")
	}
}
