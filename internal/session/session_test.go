// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

package session_test

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cchanitur/accounts/internal/session"
	"github.com/cchanitur/accounts/pkg/errutil"
)

func TestGenerateToken(t *testing.T) {
	t.Run("generates secure token", func(t *testing.T) {
		token, hash, err := session.GenerateToken()
		require.NoError(t, err)
		assert.Len(t, token, 64) // 32 bytes hex-encoded
		assert.NotEmpty(t, hash)
		assert.NotEqual(t, token, hash)
	})

	t.Run("generates unique tokens", func(t *testing.T) {
		token1, hash1, err := session.GenerateToken()
		require.NoError(t, err)

		token2, hash2, err := session.GenerateToken()
		require.NoError(t, err)

		assert.NotEqual(t, token1, token2)
		assert.NotEqual(t, hash1, hash2)
	})

	t.Run("returned hash matches HashToken", func(t *testing.T) {
		token, hash, err := session.GenerateToken()
		require.NoError(t, err)
		assert.Equal(t, session.HashToken(token), hash)
	})
}

func TestHashToken(t *testing.T) {
	t.Run("produces consistent hash", func(t *testing.T) {
		assert.Equal(t, session.HashToken("testtoken123"), session.HashToken("testtoken123"))
	})

	t.Run("produces different hashes for different tokens", func(t *testing.T) {
		assert.NotEqual(t, session.HashToken("token1"), session.HashToken("token2"))
	})

	t.Run("hash is SHA256 hex-encoded", func(t *testing.T) {
		assert.Len(t, session.HashToken("anytoken"), 64)
	})
}

func TestSession_IsExpiredAt(t *testing.T) {
	baseTime := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	s := &session.Session{
		ID:        ulid.Make(),
		TokenHash: "somehash",
		ExpiresAt: baseTime.Add(time.Hour),
		CreatedAt: baseTime,
	}

	assert.False(t, s.IsExpiredAt(baseTime.Add(30*time.Minute)))
	assert.True(t, s.IsExpiredAt(baseTime.Add(2*time.Hour)))
	// time.After returns false when times are equal
	assert.False(t, s.IsExpiredAt(baseTime.Add(time.Hour)))
}

func TestNewSession(t *testing.T) {
	validExpiry := time.Now().Add(24 * time.Hour)

	t.Run("creates anonymous session", func(t *testing.T) {
		s, err := session.NewSession("abc123def456", validExpiry)
		require.NoError(t, err)
		assert.Equal(t, "abc123def456", s.TokenHash)
		assert.Equal(t, validExpiry, s.ExpiresAt)
		assert.Empty(t, s.Username)
		assert.Empty(t, s.Flashes)
		assert.NotEqual(t, ulid.ULID{}, s.ID)
		assert.False(t, s.CreatedAt.IsZero())
		assert.False(t, s.LastSeenAt.IsZero())
	})

	t.Run("rejects empty token hash", func(t *testing.T) {
		_, err := session.NewSession("", validExpiry)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SESSION_INVALID_HASH")
	})

	t.Run("rejects zero expiry time", func(t *testing.T) {
		_, err := session.NewSession("abc", time.Time{})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SESSION_INVALID_EXPIRY")
	})
}

func TestTokenConstants(t *testing.T) {
	assert.Equal(t, 32, session.TokenBytes)
	assert.Equal(t, 24*time.Hour, session.DefaultTTL)
}
