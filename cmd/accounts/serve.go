// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/cchanitur/accounts/internal/auth"
	"github.com/cchanitur/accounts/internal/auth/memory"
	authmongo "github.com/cchanitur/accounts/internal/auth/mongo"
	"github.com/cchanitur/accounts/internal/config"
	"github.com/cchanitur/accounts/internal/logging"
	"github.com/cchanitur/accounts/internal/mail"
	"github.com/cchanitur/accounts/internal/observability"
	"github.com/cchanitur/accounts/internal/session"
	"github.com/cchanitur/accounts/internal/web"
	"github.com/cchanitur/accounts/pkg/errutil"
)

const (
	serviceName       = "accounts"
	defaultEnvFile    = ".env"
	shutdownTimeout   = 5 * time.Second
	reaperInterval    = 10 * time.Minute
	storePingRetries  = 3
	readHeaderTimeout = 10 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return newServeCmd(nil)
}

func newServeCmd(deps *ServeDeps) *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the accounts web server",
		Long: `Start the web server for registration, login, profile and password
recovery. Configuration comes from a .env file, an optional YAML file,
the environment and flags, in increasing order of precedence.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, envFile, deps)
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.Flags().StringVar(&envFile, "env-file", defaultEnvFile, "dotenv file to load (ignored when missing)")

	return cmd
}

// runServeWithDeps starts the web server with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, envFile string, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.UserStoreFactory == nil {
		deps.UserStoreFactory = openUserStore
	}
	if deps.SinkFactory == nil {
		deps.SinkFactory = mail.NewSinkFromConfig
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, ready, logger)
		}
	}
	if deps.ListenerFactory == nil {
		deps.ListenerFactory = net.Listen
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, warnings, err := config.Load(config.Options{
		Flags:      cmd.Flags(),
		ConfigFile: configFile,
		DotEnvFile: envFile,
	})
	if err != nil {
		return oops.Code("SERVE_CONFIG_INVALID").Wrapf(err, "invalid configuration")
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return oops.Code("SERVE_CONFIG_INVALID").Wrapf(err, "invalid configuration")
	}
	logger := logging.Setup(serviceName, version, cfg.LogFormat, level, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	for _, w := range warnings {
		logger.WarnContext(ctx, w)
	}
	logger.InfoContext(ctx, "starting accounts server",
		"listen_addr", cfg.ListenAddr,
		"user_store", cfg.UserStore,
		"log_format", cfg.LogFormat,
	)

	store, err := deps.UserStoreFactory(ctx, cfg, logger)
	if err != nil {
		errutil.LogError(ctx, logger, "user store unavailable, requests needing it will fail", err)
		store = unownedStore{auth.NewUnavailableUserRepository(err)}
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer closeCancel()
		if closeErr := store.Close(closeCtx); closeErr != nil {
			errutil.LogWarn(closeCtx, logger, "error closing user store", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start observability server if configured
	var (
		obsServer   ObservabilityServer
		webMetrics  web.Metrics
		mailMetrics mail.Recorder
	)
	if cfg.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, func(ctx context.Context) bool {
			return store.Ping(ctx) == nil
		}, logger)
		obsErrChan, startErr := obsServer.Start()
		if startErr != nil {
			return oops.Code("SERVE_START_FAILED").With("server", "observability").Wrap(startErr)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if stopErr := obsServer.Stop(stopCtx); stopErr != nil {
				errutil.LogWarn(stopCtx, logger, "error stopping observability server", stopErr)
			}
		}()
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability", logger)

		metrics := obsServer.Metrics()
		webMetrics = metrics
		mailMetrics = metrics
	}

	handler, sessions, err := buildWebServer(cfg, store, deps.SinkFactory, webMetrics, mailMetrics, logger)
	if err != nil {
		return err
	}

	listener, err := deps.ListenerFactory("tcp", cfg.ListenAddr)
	if err != nil {
		return oops.Code("SERVE_START_FAILED").With("addr", cfg.ListenAddr).Wrap(err)
	}

	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	errChan := make(chan error, 1)
	go func() {
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()

	var reaper sync.WaitGroup
	reaper.Add(1)
	go func() {
		defer reaper.Done()
		sessions.RunReaper(ctx, reaperInterval)
	}()

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Accounts server started")
	logger.InfoContext(ctx, "accounts server ready", "addr", listener.Addr().String())

	var serveErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case serveErr = <-errChan:
		errutil.LogError(ctx, logger, "web server error", serveErr)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errutil.LogWarn(shutdownCtx, logger, "error stopping web server", err)
	}
	reaper.Wait()

	if serveErr != nil {
		return oops.Code("SERVE_FAILED").Wrap(serveErr)
	}
	logger.Info("shutdown complete")
	return nil
}

// buildWebServer wires the account services, sessions and mail into the
// web handler.
func buildWebServer(
	cfg *config.Config,
	store auth.UserRepository,
	sinkFactory func(mail.Config, *slog.Logger) mail.Sink,
	webMetrics web.Metrics,
	mailMetrics mail.Recorder,
	logger *slog.Logger,
) (*web.Server, *session.Manager, error) {
	hasher := auth.NewHasher()

	accounts, err := auth.NewAccountService(store, hasher, logger)
	if err != nil {
		return nil, nil, err
	}

	codec, err := auth.NewTokenCodec(cfg.SecretKey, auth.DefaultResetSalt)
	if err != nil {
		return nil, nil, err
	}

	sink := sinkFactory(mail.Config{
		From:           cfg.MailFrom,
		SendGridAPIKey: cfg.SendGridAPIKey,
		SMTPHost:       cfg.SMTPHost,
		SMTPPort:       cfg.SMTPPort,
		SMTPUsername:   cfg.SMTPUsername,
		SMTPPassword:   cfg.SMTPPassword,
	}, logger)
	notifier := mail.NewNotifier(sink, mailMetrics, logger)

	resets, err := auth.NewPasswordResetService(store, hasher, codec, notifier, logger)
	if err != nil {
		return nil, nil, err
	}

	sessions, err := session.NewManager(session.NewMemoryRepository(), session.Config{
		TTL:    cfg.SessionTTL,
		Secure: cfg.CookieSecure,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	srv, err := web.NewServer(web.Config{BaseURL: cfg.BaseURL, TrustProxy: cfg.TrustProxy}, web.Deps{
		Accounts: accounts,
		Resets:   resets,
		Sessions: sessions,
		Metrics:  webMetrics,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return srv, sessions, nil
}

// openUserStore opens the configured user store. MongoDB connections are
// pinged with retries before giving up.
func openUserStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (UserStore, error) {
	if cfg.UserStore == config.StoreMemory {
		logger.WarnContext(ctx, "using in-memory user store, accounts are lost on restart")
		return unownedStore{memory.NewUserRepository()}, nil
	}

	repo, err := authmongo.Open(ctx, authmongo.Config{
		URI:         cfg.MongoURI,
		Database:    cfg.MongoDatabase,
		Collection:  cfg.MongoCollection,
		PingRetries: storePingRetries,
	}, logger)
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded by the store
	}
	if err := repo.EnsureIndexes(ctx); err != nil {
		errutil.LogWarn(ctx, logger, "could not create user indexes", err)
	}
	return repo, nil
}

// monitorServerErrors cancels the context when a server reports an error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
