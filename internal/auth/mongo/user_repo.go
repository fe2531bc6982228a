// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

// Package mongo implements auth.UserRepository on a MongoDB collection.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/cchanitur/accounts/internal/auth"
)

// Field names of a user document.
const (
	fieldUsername  = "usuario"
	fieldEmail     = "email"
	fieldPassword  = "contrasena"
	fieldCreatedAt = "creado_en"
)

// Config describes how to reach the user collection.
type Config struct {
	URI        string
	Database   string
	Collection string

	// ServerSelectionTimeout bounds each connection attempt. Defaults to 5s.
	ServerSelectionTimeout time.Duration
	// PingRetries is the number of extra ping attempts after the first.
	PingRetries uint64
	// PingBackoff is the base delay between ping attempts. Defaults to 500ms.
	PingBackoff time.Duration
}

type userDocument struct {
	Username     string    `bson:"usuario"`
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"contrasena"`
	CreatedAt    time.Time `bson:"creado_en,omitempty"`
}

func (d *userDocument) toUser() *auth.User {
	return &auth.User{
		Username:     d.Username,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		CreatedAt:    d.CreatedAt,
	}
}

// UserRepository implements auth.UserRepository using MongoDB.
type UserRepository struct {
	client *mongo.Client
	users  *mongo.Collection
}

// Open connects to MongoDB and pings the primary until it answers or the
// retries run out. The returned repository owns the client.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*UserRepository, error) {
	if cfg.URI == "" || cfg.Database == "" || cfg.Collection == "" {
		return nil, oops.Code("USER_STORE_CONFIG_INVALID").
			With("database", cfg.Database).
			With("collection", cfg.Collection).
			Errorf("mongo uri, database and collection are required")
	}
	if cfg.ServerSelectionTimeout <= 0 {
		cfg.ServerSelectionTimeout = 5 * time.Second
	}
	if cfg.PingBackoff <= 0 {
		cfg.PingBackoff = 500 * time.Millisecond
	}

	client, err := mongo.Connect(options.Client().
		ApplyURI(cfg.URI).
		SetServerSelectionTimeout(cfg.ServerSelectionTimeout))
	if err != nil {
		return nil, oops.Code("USER_STORE_CONNECT_FAILED").
			With("operation", "connect").
			Wrap(fmt.Errorf("%w: %w", auth.ErrStoreUnavailable, err))
	}

	attempt := 0
	backoff := retry.WithMaxRetries(cfg.PingRetries, retry.NewExponential(cfg.PingBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if pingErr := client.Ping(ctx, readpref.Primary()); pingErr != nil {
			logger.WarnContext(ctx, "mongo ping failed", "attempt", attempt, "error", pingErr)
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, oops.Code("USER_STORE_CONNECT_FAILED").
			With("operation", "ping").
			With("attempts", attempt).
			Wrap(fmt.Errorf("%w: %w", auth.ErrStoreUnavailable, err))
	}

	logger.InfoContext(ctx, "connected to user store",
		"database", cfg.Database,
		"collection", cfg.Collection)

	return &UserRepository{
		client: client,
		users:  client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

// EnsureIndexes creates lookup indexes on username and email. They are not
// unique so collections holding historical duplicates still load.
func (r *UserRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: fieldUsername, Value: 1}}, Options: options.Index().SetName("usuario_lookup")},
		{Keys: bson.D{{Key: fieldEmail, Value: 1}}, Options: options.Index().SetName("email_lookup")},
	})
	if err != nil {
		return storeError("USER_STORE_INDEX_FAILED", "create indexes", err)
	}
	return nil
}

// GetByUsername retrieves a user by exact username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	user, err := r.findOne(ctx, bson.M{fieldUsername: username})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("username", username).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, storeError("USER_GET_BY_USERNAME_FAILED", "get user by username", err)
	}
	return user, nil
}

// GetByEmail retrieves a user by exact email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	user, err := r.findOne(ctx, bson.M{fieldEmail: email})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, storeError("USER_GET_BY_EMAIL_FAILED", "get user by email", err)
	}
	return user, nil
}

// Create inserts a new user document.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	doc := userDocument{
		Username:     user.Username,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		CreatedAt:    user.CreatedAt.UTC().Truncate(time.Millisecond),
	}
	if _, err := r.users.InsertOne(ctx, doc); err != nil {
		return storeError("USER_CREATE_FAILED", "insert user", err)
	}
	return nil
}

// UpdatePassword sets the password hash on the user with the given email.
func (r *UserRepository) UpdatePassword(ctx context.Context, email, passwordHash string) error {
	res, err := r.users.UpdateOne(ctx,
		bson.M{fieldEmail: email},
		bson.M{"$set": bson.M{fieldPassword: passwordHash}})
	if err != nil {
		return storeError("USER_UPDATE_PASSWORD_FAILED", "update password", err)
	}
	if res.MatchedCount == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Ping reports whether the primary is reachable.
func (r *UserRepository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx, readpref.Primary()); err != nil {
		return storeError("USER_STORE_PING_FAILED", "ping", err)
	}
	return nil
}

// Close disconnects the client.
func (r *UserRepository) Close(ctx context.Context) error {
	if err := r.client.Disconnect(ctx); err != nil {
		return oops.Code("USER_STORE_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (*auth.User, error) {
	var doc userDocument
	if err := r.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, err //nolint:wrapcheck // callers classify driver errors
	}
	return doc.toUser(), nil
}

// storeError marks a driver failure as an unavailable store so callers can
// tell it apart from a missing record.
func storeError(code, operation string, err error) error {
	return oops.Code(code).
		With("operation", operation).
		Wrap(fmt.Errorf("%w: %w", auth.ErrStoreUnavailable, err))
}

var _ auth.UserRepository = (*UserRepository)(nil)
