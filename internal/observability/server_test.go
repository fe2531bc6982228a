// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

package observability

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer starts a server on an ephemeral port and stops it on cleanup.
func startServer(t *testing.T, ready ReadinessChecker) *Server {
	t.Helper()
	server := NewServer("127.0.0.1:0", ready, discardLogger())
	_, err := server.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})
	return server
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
	server := startServer(t, nil)

	status, body := get(t, server, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "# TYPE")
	assert.Contains(t, body, "go_")
	assert.Contains(t, body, "process_")
}

func TestServer_MetricsIncrement(t *testing.T) {
	server := startServer(t, nil)

	m := server.Metrics()
	m.ObserveRequest("GET /login", http.MethodGet, http.StatusOK, 15*time.Millisecond)
	m.ObserveRequest("GET /login", http.MethodGet, http.StatusOK, 5*time.Millisecond)
	m.RecordEmail("sent")
	m.RecordAuthEvent("login", "failure")

	_, body := get(t, server, "/metrics")
	assert.Contains(t, body, `accounts_http_requests_total{method="GET",route="GET /login",status="200"} 2`)
	assert.Contains(t, body, `accounts_http_request_duration_seconds_count{route="GET /login"} 2`)
	assert.Contains(t, body, `accounts_emails_total{result="sent"} 1`)
	assert.Contains(t, body, `accounts_auth_events_total{event="login",outcome="failure"} 1`)
}

func TestServer_LivenessReturns200(t *testing.T) {
	server := startServer(t, func(context.Context) bool { return false })

	status, body := get(t, server, "/healthz/liveness")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", strings.TrimSpace(body))
}

func TestServer_Readiness(t *testing.T) {
	tests := []struct {
		name       string
		checker    ReadinessChecker
		wantStatus int
		wantBody   string
	}{
		{"ready", func(context.Context) bool { return true }, http.StatusOK, "ok"},
		{"not ready", func(context.Context) bool { return false }, http.StatusServiceUnavailable, "not ready"},
		{"nil checker defaults to ready", nil, http.StatusOK, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := startServer(t, tt.checker)

			status, body := get(t, server, "/healthz/readiness")
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantBody, strings.TrimSpace(body))
		})
	}
}

func TestServer_ReadinessCheckerGetsDeadline(t *testing.T) {
	var hadDeadline atomic.Bool
	server := startServer(t, func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		hadDeadline.Store(ok)
		return true
	})

	get(t, server, "/healthz/readiness")
	assert.True(t, hadDeadline.Load())
}

func TestServer_DoubleStartFails(t *testing.T) {
	server := startServer(t, nil)

	_, err := server.Start()
	assert.Error(t, err)
}

func TestServer_StopIdempotent(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, server.Stop(ctx), "stop without start should not error")
}

func TestServer_ErrorChannelReportsServeErrors(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, discardLogger())

	errCh, err := server.Start()
	require.NoError(t, err)
	require.NotEmpty(t, server.Addr())

	// Closing the listener makes Serve fail.
	_ = server.listener.Close()

	select {
	case serveErr := <-errCh:
		assert.Error(t, serveErr)
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for error on error channel")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Stop(ctx)
}

func TestServer_ErrorChannelClosesOnNormalShutdown(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, discardLogger())

	errCh, err := server.Start()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))

	select {
	case err, ok := <-errCh:
		if ok {
			assert.NoError(t, err)
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for error channel to close")
	}
}
