// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cchanitur/accounts/internal/auth"
	"github.com/cchanitur/accounts/internal/auth/memory"
	"github.com/cchanitur/accounts/internal/config"
	"github.com/cchanitur/accounts/internal/observability"
	"github.com/cchanitur/accounts/pkg/errutil"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers.
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

// fakeStore is an in-memory UserStore with a controllable ping.
type fakeStore struct {
	*memory.UserRepository
	pingErr error
	closed  atomic.Bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{UserRepository: memory.NewUserRepository()}
}

func (s *fakeStore) Ping(context.Context) error { return s.pingErr }

func (s *fakeStore) Close(context.Context) error {
	s.closed.Store(true)
	return nil
}

// mockObservabilityServer implements ObservabilityServer for testing.
type mockObservabilityServer struct {
	startFunc func() (<-chan error, error)
	metrics   *observability.Metrics
	ready     observability.ReadinessChecker
	stopped   atomic.Bool
}

func newMockObservability() *mockObservabilityServer {
	return &mockObservabilityServer{metrics: observability.NewMetrics(prometheus.NewRegistry())}
}

func (m *mockObservabilityServer) factory(_ string, ready observability.ReadinessChecker, _ *slog.Logger) ObservabilityServer {
	m.ready = ready
	return m
}

func (m *mockObservabilityServer) Start() (<-chan error, error) {
	if m.startFunc != nil {
		return m.startFunc()
	}
	return make(chan error, 1), nil
}

func (m *mockObservabilityServer) Stop(context.Context) error {
	m.stopped.Store(true)
	return nil
}

func (m *mockObservabilityServer) Addr() string { return "127.0.0.1:9100" }

func (m *mockObservabilityServer) Metrics() *observability.Metrics { return m.metrics }

// clearEnv keeps the host environment out of configuration loading.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"USER_STORE", "MONGO_URI", "MONGO_DB_NAME", "MONGO_COLLECTION_NAME", "SECRET_KEY",
		"SENDGRID_API_KEY", "SENDGRID_FROM_EMAIL", "SMTP_HOST", "SMTP_PORT",
		"SMTP_USERNAME", "SMTP_PASSWORD", "LISTEN_ADDR", "BASE_URL", "TRUST_PROXY",
		"METRICS_ADDR", "LOG_FORMAT", "LOG_LEVEL", "SESSION_TTL", "COOKIE_SECURE",
	} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

type running struct {
	addr   string
	logs   *syncBuffer
	cancel context.CancelFunc
	done   chan error
}

// stop cancels the server and returns its exit error.
func (r *running) stop(t *testing.T) error {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not shut down")
		return nil
	}
}

func (r *running) url(path string) string {
	return "http://" + r.addr + path
}

func serveArgs(t *testing.T, extra ...string) []string {
	t.Helper()
	return append([]string{
		"--env-file", filepath.Join(t.TempDir(), ".env"),
		"--listen-addr", "127.0.0.1:0",
		"--log-format", "text",
	}, extra...)
}

// startServe runs the serve command until it is listening.
func startServe(t *testing.T, deps *ServeDeps, args ...string) *running {
	t.Helper()
	clearEnv(t)
	configFile = ""

	addrCh := make(chan string, 1)
	if deps.ListenerFactory == nil {
		deps.ListenerFactory = func(network, address string) (net.Listener, error) {
			l, err := net.Listen(network, address)
			if err == nil {
				addrCh <- l.Addr().String()
			}
			return l, err
		}
	}

	logs := &syncBuffer{}
	cmd := newServeCmd(deps)
	cmd.SetArgs(serveArgs(t, args...))
	cmd.SetOut(io.Discard)
	cmd.SetErr(logs)

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{logs: logs, cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- cmd.ExecuteContext(ctx) }()

	select {
	case r.addr = <-addrCh:
	case err := <-r.done:
		cancel()
		t.Fatalf("serve exited early: %v\n%s", err, logs.String())
	case <-time.After(10 * time.Second):
		cancel()
		t.Fatal("serve did not start listening")
	}
	t.Cleanup(cancel)
	return r
}

var noRedirects = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	Timeout:       10 * time.Second,
}

func fetch(t *testing.T, resp *http.Response, err error) (int, string) {
	t.Helper()
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServeCommand_Flags(t *testing.T) {
	cmd := NewServeCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())

	for _, flag := range []string{
		"--user-store", "--mongo-uri", "--mongo-database", "--secret-key",
		"--sendgrid-api-key", "--smtp-host", "--listen-addr", "--metrics-addr",
		"--log-format", "--log-level", "--session-ttl", "--env-file",
	} {
		assert.Contains(t, buf.String(), flag, "help missing %q", flag)
	}
}

func TestServe_MemoryStore(t *testing.T) {
	r := startServe(t, &ServeDeps{}, "--user-store=memory", "--metrics-addr=")

	getResp, getErr := noRedirects.Get(r.url("/registro"))
	status, body := fetch(t, getResp, getErr)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `name="usuario"`)

	resp, err := noRedirects.PostForm(r.url("/registro"), url.Values{
		"usuario":    {"alice"},
		"email":      {"alice@example.com"},
		"contrasena": {"pw1"},
	})
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/pagina_principal", resp.Header.Get("Location"))

	require.NoError(t, r.stop(t))
	logs := r.logs.String()
	assert.Contains(t, logs, "accounts server ready")
	assert.Contains(t, logs, "in-memory user store")
	assert.Contains(t, logs, "shutdown complete")
}

func TestServe_StoreFailureKeepsServing(t *testing.T) {
	obs := newMockObservability()
	deps := &ServeDeps{
		UserStoreFactory: func(context.Context, *config.Config, *slog.Logger) (UserStore, error) {
			return nil, errors.New("server selection timeout")
		},
		ObservabilityServerFactory: obs.factory,
	}
	r := startServe(t, deps)

	loginResp, loginErr := noRedirects.PostForm(r.url("/login"), url.Values{
		"usuario":    {"alice"},
		"contrasena": {"pw1"},
	})
	status, body := fetch(t, loginResp, loginErr)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "No se puede establecer conexión con la base de datos")

	require.NotNil(t, obs.ready)
	assert.False(t, obs.ready(context.Background()))

	require.NoError(t, r.stop(t))
	assert.True(t, obs.stopped.Load())
	assert.Contains(t, r.logs.String(), "user store unavailable")
}

func TestServe_ReadinessFollowsStorePing(t *testing.T) {
	store := newFakeStore()
	obs := newMockObservability()
	deps := &ServeDeps{
		UserStoreFactory: func(context.Context, *config.Config, *slog.Logger) (UserStore, error) {
			return store, nil
		},
		ObservabilityServerFactory: obs.factory,
	}
	r := startServe(t, deps)

	assert.True(t, obs.ready(context.Background()))

	require.NoError(t, r.stop(t))
	assert.True(t, store.closed.Load(), "store must be closed on shutdown")
}

func TestServe_InvalidConfig(t *testing.T) {
	clearEnv(t)
	configFile = ""

	called := false
	cmd := newServeCmd(&ServeDeps{
		UserStoreFactory: func(context.Context, *config.Config, *slog.Logger) (UserStore, error) {
			called = true
			return newFakeStore(), nil
		},
	})
	cmd.SetArgs(serveArgs(t, "--log-format=xml"))
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	err := cmd.Execute()
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	assert.False(t, called, "store must not be opened with bad config")
}

func TestServe_ListenFailureClosesStore(t *testing.T) {
	clearEnv(t)
	configFile = ""

	store := newFakeStore()
	obs := newMockObservability()
	cmd := newServeCmd(&ServeDeps{
		UserStoreFactory: func(context.Context, *config.Config, *slog.Logger) (UserStore, error) {
			return store, nil
		},
		ObservabilityServerFactory: obs.factory,
		ListenerFactory: func(string, string) (net.Listener, error) {
			return nil, errors.New("address already in use")
		},
	})
	cmd.SetArgs(serveArgs(t))
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	err := cmd.Execute()
	errutil.AssertErrorCode(t, err, "SERVE_START_FAILED")
	assert.True(t, store.closed.Load())
	assert.True(t, obs.stopped.Load())
}

func TestServe_ObservabilityStartFailure(t *testing.T) {
	clearEnv(t)
	configFile = ""

	store := newFakeStore()
	obs := newMockObservability()
	obs.startFunc = func() (<-chan error, error) {
		return nil, errors.New("bind: permission denied")
	}
	cmd := newServeCmd(&ServeDeps{
		UserStoreFactory: func(context.Context, *config.Config, *slog.Logger) (UserStore, error) {
			return store, nil
		},
		ObservabilityServerFactory: obs.factory,
	})
	cmd.SetArgs(serveArgs(t))
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	err := cmd.Execute()
	errutil.AssertErrorCode(t, err, "SERVE_START_FAILED")
	assert.True(t, store.closed.Load())
}

func TestServe_ObservabilityErrorTriggersShutdown(t *testing.T) {
	obsErr := make(chan error, 1)
	obs := newMockObservability()
	obs.startFunc = func() (<-chan error, error) { return obsErr, nil }

	r := startServe(t, &ServeDeps{
		UserStoreFactory: func(context.Context, *config.Config, *slog.Logger) (UserStore, error) {
			return newFakeStore(), nil
		},
		ObservabilityServerFactory: obs.factory,
	})

	obsErr <- errors.New("metrics listener died")

	select {
	case err := <-r.done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down after observability error")
	}
	assert.True(t, strings.Contains(r.logs.String(), "server error, triggering shutdown"))
}

func TestOpenUserStore(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	t.Run("memory", func(t *testing.T) {
		store, err := openUserStore(context.Background(), &config.Config{UserStore: config.StoreMemory}, logger)
		require.NoError(t, err)
		require.NoError(t, store.Ping(context.Background()))
		require.NoError(t, store.Close(context.Background()))

		_, err = store.GetByUsername(context.Background(), "alice")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("mongo without uri", func(t *testing.T) {
		_, err := openUserStore(context.Background(), &config.Config{UserStore: config.StoreMongo}, logger)
		errutil.AssertErrorCode(t, err, "USER_STORE_CONFIG_INVALID")
	})
}

func TestMonitorServerErrors(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	t.Run("error cancels", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		errCh := make(chan error, 1)
		errCh <- errors.New("test server error")

		done := make(chan struct{})
		go func() {
			monitorServerErrors(ctx, cancel, errCh, "test-server", logger)
			close(done)
		}()

		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			t.Fatal("context was not cancelled after server error")
		}
		<-done
	})

	t.Run("closed channel leaves context alone", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		errCh := make(chan error)
		close(errCh)
		monitorServerErrors(ctx, cancel, errCh, "test-server", logger)

		assert.NoError(t, ctx.Err())
	})

	t.Run("nil error leaves context alone", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		errCh := make(chan error, 1)
		errCh <- nil
		monitorServerErrors(ctx, cancel, errCh, "test-server", logger)

		assert.NoError(t, ctx.Err())
	})

	t.Run("cancelled context returns", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		monitorServerErrors(ctx, cancel, make(chan error), "test-server", logger)
	})
}
