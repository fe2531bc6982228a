// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"

	"github.com/cchanitur/accounts/pkg/errutil"
)

// AccountService registers users, checks credentials and loads profiles.
type AccountService struct {
	users  UserRepository
	hasher PasswordHasher
	logger *slog.Logger
}

// NewAccountService creates a new AccountService.
func NewAccountService(users UserRepository, hasher PasswordHasher, logger *slog.Logger) (*AccountService, error) {
	if users == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("user repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{
		users:  users,
		hasher: hasher,
		logger: logger,
	}, nil
}

// dummyPasswordHash is used when a user doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Register creates a new user after checking that neither the email nor the
// username is taken. The check and the insert are separate store calls.
func (s *AccountService) Register(ctx context.Context, username, email, password string) (*User, error) {
	email = NormalizeEmail(email)

	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, oops.Code("AUTH_EMPTY_PASSWORD").Wrapf(ErrInvalidInput, "password cannot be empty")
	}

	if err := s.ensureFree(ctx, "email", email, s.users.GetByEmail, ErrDuplicateEmail); err != nil {
		return nil, err
	}
	if err := s.ensureFree(ctx, "username", username, s.users.GetByUsername, ErrDuplicateUsername); err != nil {
		return nil, err
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user, err := NewUser(username, email, digest)
	if err != nil {
		return nil, err
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user").
			With("username", username).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "user registered", "username", username)
	return user, nil
}

func (s *AccountService) ensureFree(
	ctx context.Context,
	field, value string,
	lookup func(context.Context, string) (*User, error),
	taken error,
) error {
	_, err := lookup(ctx, value)
	switch {
	case err == nil:
		return oops.Code("AUTH_DUPLICATE").With("field", field).Wrap(taken)
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		return oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "check "+field).
			Wrap(err)
	}
}

// Authenticate checks a username and password pair.
// Unknown users and wrong passwords both yield ErrInvalidCredentials, and both
// paths run a full hash verification so response time does not reveal which.
func (s *AccountService) Authenticate(ctx context.Context, username, password string) (*User, error) {
	user, lookupErr := s.users.GetByUsername(ctx, username)

	var target string
	switch {
	case lookupErr == nil:
		target = user.PasswordHash
	case errors.Is(lookupErr, ErrNotFound):
		target = dummyPasswordHash
	default:
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get user by username").
			Wrap(lookupErr)
	}

	valid, verifyErr := s.hasher.Verify(password, target)
	if verifyErr != nil && lookupErr == nil {
		// A corrupt stored digest can never match; treat it as a mismatch.
		errutil.LogError(ctx, s.logger, "stored password hash is unreadable", verifyErr)
	}

	if lookupErr != nil || !valid {
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").
			With("username", username).
			Wrap(ErrInvalidCredentials)
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradeHash(ctx, user, password)
	}

	return user, nil
}

// upgradeHash re-hashes a legacy digest with the current algorithm.
// Failure only means the upgrade is retried on the next login.
func (s *AccountService) upgradeHash(ctx context.Context, user *User, password string) {
	digest, err := s.hasher.Hash(password)
	if err == nil {
		err = s.users.UpdatePassword(ctx, user.Email, digest)
	}
	if err != nil {
		errutil.LogWarn(ctx, s.logger, "password hash upgrade failed", err)
		return
	}
	user.PasswordHash = digest
	s.logger.InfoContext(ctx, "password hash upgraded", "username", user.Username)
}

// Profile loads the user behind an authenticated session.
func (s *AccountService) Profile(ctx context.Context, username string) (*User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, oops.Code("AUTH_PROFILE_FAILED").
			With("username", username).
			Wrap(err)
	}
	return user, nil
}
