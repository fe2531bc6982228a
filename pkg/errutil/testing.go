// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode asserts that err carries the oops code. oops reports the
// deepest code in the chain, so the code of the innermost coded error wins.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	assert.Equal(t, code, oopsErr.Code(), "error: %v", err)
}

// AssertCodedError asserts that err wraps cause and carries the oops code.
// Services return coded errors around the account sentinels; handlers
// branch on the sentinel while logs report the code.
func AssertCodedError(t *testing.T, err error, code string, cause error) {
	t.Helper()
	require.ErrorIs(t, err, cause)
	AssertErrorCode(t, err, code)
}

// AssertErrorContext asserts that err carries key=value in its oops context.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	got, found := oopsErr.Context()[key]
	require.True(t, found, "context has no %q: %v", key, oopsErr.Context())
	assert.Equal(t, value, got)
}
