// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

package session

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MemoryRepository keeps sessions in process memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	byHash map[string]*Session
	now    func() time.Time
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byHash: make(map[string]*Session),
		now:    time.Now,
	}
}

// Create stores a new session.
func (r *MemoryRepository) Create(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byHash[s.TokenHash]; exists {
		return oops.Code("SESSION_CREATE_FAILED").
			With("session_id", s.ID.String()).
			Errorf("session token already in use")
	}
	r.byHash[s.TokenHash] = s.clone()
	return nil
}

// GetByTokenHash retrieves an unexpired session by its token hash.
func (r *MemoryRepository) GetByTokenHash(_ context.Context, tokenHash string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byHash[tokenHash]
	if !ok || s.IsExpiredAt(r.now()) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(ErrNotFound)
	}
	return s.clone(), nil
}

// Update replaces the stored state of an existing session.
func (r *MemoryRepository) Update(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byHash[s.TokenHash]
	if !ok || current.ID != s.ID {
		return oops.Code("SESSION_NOT_FOUND").
			With("session_id", s.ID.String()).
			Wrap(ErrNotFound)
	}
	r.byHash[s.TokenHash] = s.clone()
	return nil
}

// Delete removes a session by ID.
func (r *MemoryRepository) Delete(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for hash, s := range r.byHash {
		if s.ID == id {
			delete(r.byHash, hash)
			return nil
		}
	}
	return oops.Code("SESSION_NOT_FOUND").
		With("session_id", id.String()).
		Wrap(ErrNotFound)
}

// DeleteExpired removes all expired sessions.
func (r *MemoryRepository) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var n int64
	for hash, s := range r.byHash {
		if s.IsExpiredAt(now) {
			delete(r.byHash, hash)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions, expired ones included.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHash)
}
