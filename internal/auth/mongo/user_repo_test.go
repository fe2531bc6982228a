// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

//go:build integration

package mongo_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/oklog/ulid/v2"

	"github.com/cchanitur/accounts/internal/auth"
	usermongo "github.com/cchanitur/accounts/internal/auth/mongo"
)

var _ = Describe("UserRepository", func() {
	var repo *usermongo.UserRepository

	BeforeEach(func() {
		repo = openRepo("usuarios_" + ulid.Make().String())
		Expect(repo.EnsureIndexes(env.ctx)).To(Succeed())
	})

	Describe("Create and lookups", func() {
		It("stores a user retrievable by username and by email", func() {
			created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			Expect(repo.Create(env.ctx, &auth.User{
				Username:     "alice",
				Email:        "alice@example.com",
				PasswordHash: "digest",
				CreatedAt:    created,
			})).To(Succeed())

			byName, err := repo.GetByUsername(env.ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(byName.Email).To(Equal("alice@example.com"))
			Expect(byName.PasswordHash).To(Equal("digest"))
			Expect(byName.CreatedAt.Equal(created)).To(BeTrue())

			byEmail, err := repo.GetByEmail(env.ctx, "alice@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(byEmail.Username).To(Equal("alice"))
		})

		It("reports missing users as not found", func() {
			_, err := repo.GetByUsername(env.ctx, "nobody")
			Expect(err).To(MatchError(auth.ErrNotFound))

			_, err = repo.GetByEmail(env.ctx, "nobody@example.com")
			Expect(err).To(MatchError(auth.ErrNotFound))
		})
	})

	Describe("UpdatePassword", func() {
		It("replaces the stored digest", func() {
			Expect(repo.Create(env.ctx, &auth.User{
				Username:     "bob",
				Email:        "bob@example.com",
				PasswordHash: "old",
				CreatedAt:    time.Now(),
			})).To(Succeed())

			Expect(repo.UpdatePassword(env.ctx, "bob@example.com", "new")).To(Succeed())

			u, err := repo.GetByUsername(env.ctx, "bob")
			Expect(err).NotTo(HaveOccurred())
			Expect(u.PasswordHash).To(Equal("new"))
		})

		It("returns not found when no document matches", func() {
			err := repo.UpdatePassword(env.ctx, "ghost@example.com", "x")
			Expect(err).To(MatchError(auth.ErrNotFound))
		})
	})

	Describe("Ping", func() {
		It("succeeds against a live server", func() {
			Expect(repo.Ping(env.ctx)).To(Succeed())
		})
	})
})

var _ = Describe("Open", func() {
	It("rejects an incomplete configuration", func() {
		_, err := usermongo.Open(env.ctx, usermongo.Config{URI: env.uri}, env.logger)
		Expect(err).To(HaveOccurred())
	})

	It("gives up with ErrStoreUnavailable when the server is unreachable", func() {
		_, err := usermongo.Open(env.ctx, usermongo.Config{
			URI:                    "mongodb://127.0.0.1:1/?connectTimeoutMS=200",
			Database:               "accounts_test",
			Collection:             "usuarios",
			ServerSelectionTimeout: 300 * time.Millisecond,
			PingRetries:            1,
			PingBackoff:            10 * time.Millisecond,
		}, env.logger)
		Expect(err).To(MatchError(auth.ErrStoreUnavailable))
	})
})
