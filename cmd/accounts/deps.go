// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/cchanitur/accounts/internal/auth"
	"github.com/cchanitur/accounts/internal/config"
	"github.com/cchanitur/accounts/internal/mail"
	"github.com/cchanitur/accounts/internal/observability"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// UserStoreFactory opens the user store selected by the configuration.
	// Default: openUserStore
	UserStoreFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (UserStore, error)

	// SinkFactory builds the outgoing mail sink.
	// Default: mail.NewSinkFromConfig
	SinkFactory func(cfg mail.Config, logger *slog.Logger) mail.Sink

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// ListenerFactory creates the listener for the web server.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)
}

// UserStore is a user repository the process owns and closes on shutdown.
type UserStore interface {
	auth.UserRepository
	Close(ctx context.Context) error
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// unownedStore adapts a repository with nothing to release.
type unownedStore struct {
	auth.UserRepository
}

func (unownedStore) Close(context.Context) error { return nil }
