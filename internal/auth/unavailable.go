// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

package auth

import (
	"context"

	"github.com/samber/oops"
)

// UnavailableUserRepository stands in for a user store that could not be
// reached at startup. Every operation reports ErrStoreUnavailable, so the
// process keeps serving pages and tells users the store is down.
type UnavailableUserRepository struct {
	cause error
}

// NewUnavailableUserRepository creates a stand-in that reports cause on every call.
func NewUnavailableUserRepository(cause error) *UnavailableUserRepository {
	return &UnavailableUserRepository{cause: cause}
}

func (r *UnavailableUserRepository) fail(operation string) error {
	b := oops.Code("USER_STORE_UNAVAILABLE").With("operation", operation)
	if r.cause != nil {
		b = b.With("cause", r.cause.Error())
	}
	return b.Wrap(ErrStoreUnavailable)
}

// GetByUsername always fails with ErrStoreUnavailable.
func (r *UnavailableUserRepository) GetByUsername(_ context.Context, _ string) (*User, error) {
	return nil, r.fail("get user by username")
}

// GetByEmail always fails with ErrStoreUnavailable.
func (r *UnavailableUserRepository) GetByEmail(_ context.Context, _ string) (*User, error) {
	return nil, r.fail("get user by email")
}

// Create always fails with ErrStoreUnavailable.
func (r *UnavailableUserRepository) Create(_ context.Context, _ *User) error {
	return r.fail("create user")
}

// UpdatePassword always fails with ErrStoreUnavailable.
func (r *UnavailableUserRepository) UpdatePassword(_ context.Context, _, _ string) error {
	return r.fail("update password")
}

// Ping always fails with ErrStoreUnavailable.
func (r *UnavailableUserRepository) Ping(_ context.Context) error {
	return r.fail("ping")
}
