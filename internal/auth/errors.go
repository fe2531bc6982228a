// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

package auth

import "errors"

var (
	// ErrNotFound is returned when a requested user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable is returned when the user store cannot be reached
	// or a query against it fails.
	ErrStoreUnavailable = errors.New("user store unavailable")

	// ErrDuplicateEmail is returned when registering an email that is already in use.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrDuplicateUsername is returned when registering a username that is already in use.
	ErrDuplicateUsername = errors.New("username already taken")

	// ErrInvalidCredentials is returned for an unknown username or a wrong password.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrInvalidToken is returned for any reset token that fails verification,
	// whether malformed, forged, issued for another purpose or expired.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrInvalidInput is returned when registration or reset input fails validation.
	ErrInvalidInput = errors.New("invalid input")
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = errors.New("password cannot be empty")
