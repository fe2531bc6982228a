// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

// Package memory provides an in-process auth.UserRepository for local runs
// and tests.
package memory

import (
	"context"
	"sync"

	"github.com/samber/oops"

	"github.com/cchanitur/accounts/internal/auth"
)

// UserRepository implements auth.UserRepository over a slice guarded by a mutex.
// Lookups are exact-match, mirroring the document store.
type UserRepository struct {
	mu    sync.RWMutex
	users []auth.User
}

// NewUserRepository creates an empty UserRepository.
func NewUserRepository() *UserRepository {
	return &UserRepository{}
}

// GetByUsername returns the first user with the given username.
func (r *UserRepository) GetByUsername(_ context.Context, username string) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.users {
		if r.users[i].Username == username {
			u := r.users[i]
			return &u, nil
		}
	}
	return nil, oops.Code("USER_NOT_FOUND").
		With("username", username).
		Wrap(auth.ErrNotFound)
}

// GetByEmail returns the first user with the given email.
func (r *UserRepository) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i := r.indexByEmail(email); i >= 0 {
		u := r.users[i]
		return &u, nil
	}
	return nil, oops.Code("USER_NOT_FOUND").
		With("email", email).
		Wrap(auth.ErrNotFound)
}

// Create appends a copy of user.
func (r *UserRepository) Create(_ context.Context, user *auth.User) error {
	if user == nil {
		return oops.Code("USER_CREATE_FAILED").Errorf("user is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.users = append(r.users, *user)
	return nil
}

// UpdatePassword sets the hash of the first user with the given email.
func (r *UserRepository) UpdatePassword(_ context.Context, email, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexByEmail(email)
	if i < 0 {
		return oops.Code("USER_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	r.users[i].PasswordHash = passwordHash
	return nil
}

// Ping always succeeds.
func (r *UserRepository) Ping(context.Context) error {
	return nil
}

// Len returns the number of stored users.
func (r *UserRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func (r *UserRepository) indexByEmail(email string) int {
	for i := range r.users {
		if r.users[i].Email == email {
			return i
		}
	}
	return -1
}

var _ auth.UserRepository = (*UserRepository)(nil)
