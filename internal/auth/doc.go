// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

// Package auth provides the account primitives of the accounts service.
//
// # Primitives
//
//   - Hasher - argon2id password hashing with legacy bcrypt verification
//   - TokenCodec - signed, time-limited tokens carrying an email address
//   - User and UserRepository - the single user collection
//
// # Services
//
// Service types coordinate domain operations:
//   - AccountService - registration, authentication, profile lookup
//   - PasswordResetService - reset request, token validation, password change
//
// Services are created with New*Service constructors that validate dependencies.
//
// # Errors
//
// Callers branch on the package sentinels with errors.Is. The oops code on a
// returned error carries the detailed reason for logs and never reaches users.
package auth
