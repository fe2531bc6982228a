// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

package memory_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cchanitur/accounts/internal/auth"
	"github.com/cchanitur/accounts/internal/auth/memory"
	"github.com/cchanitur/accounts/pkg/errutil"
)

func seed(t *testing.T, repo *memory.UserRepository, username, email string) {
	t.Helper()
	u, err := auth.NewUser(username, email, "digest-"+username)
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), u))
}

func TestUserRepository_Lookups(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewUserRepository()
	seed(t, repo, "alice", "alice@example.com")

	t.Run("by username", func(t *testing.T) {
		u, err := repo.GetByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", u.Email)
	})

	t.Run("by email", func(t *testing.T) {
		u, err := repo.GetByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, "alice", u.Username)
	})

	t.Run("lookups are case sensitive", func(t *testing.T) {
		_, err := repo.GetByUsername(ctx, "Alice")
		errutil.AssertCodedError(t, err, "USER_NOT_FOUND", auth.ErrNotFound)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := repo.GetByEmail(ctx, "bob@example.com")
		require.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorContext(t, err, "email", "bob@example.com")
	})

	t.Run("returned user is a copy", func(t *testing.T) {
		u, err := repo.GetByUsername(ctx, "alice")
		require.NoError(t, err)
		u.PasswordHash = "tampered"

		again, err := repo.GetByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "digest-alice", again.PasswordHash)
	})
}

func TestUserRepository_Create(t *testing.T) {
	repo := memory.NewUserRepository()
	seed(t, repo, "alice", "alice@example.com")
	assert.Equal(t, 1, repo.Len())

	err := repo.Create(context.Background(), nil)
	errutil.AssertErrorCode(t, err, "USER_CREATE_FAILED")
}

func TestUserRepository_UpdatePassword(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewUserRepository()
	seed(t, repo, "alice", "alice@example.com")

	require.NoError(t, repo.UpdatePassword(ctx, "alice@example.com", "new-digest"))
	u, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "new-digest", u.PasswordHash)

	err = repo.UpdatePassword(ctx, "nobody@example.com", "x")
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func TestUserRepository_Ping(t *testing.T) {
	assert.NoError(t, memory.NewUserRepository().Ping(context.Background()))
}

func TestUserRepository_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewUserRepository()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("user%02d", i)
			u, err := auth.NewUser(name, name+"@example.com", "digest")
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, repo.Create(ctx, u))
			_, err = repo.GetByEmail(ctx, name+"@example.com")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, repo.Len())
}
