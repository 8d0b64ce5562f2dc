// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode fails t unless err is an oops error whose code is code.
func AssertErrorCode(t testing.TB, err error, code string) {
	t.Helper()
	require.Error(t, err, "expected an error with code %s", code)
	oopsErr, ok := oops.AsOops(err)
	require.Truef(t, ok, "expected an oops error, got %T: %v", err, err)
	assert.Equalf(t, code, oopsErr.Code(), "error: %v", err)
}

// AssertErrorContext fails t unless err carries key with value in its
// oops context.
func AssertErrorContext(t testing.TB, err error, key string, value any) {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.Truef(t, ok, "expected an oops error, got %T: %v", err, err)
	got, found := oopsErr.Context()[key]
	require.Truef(t, found, "context has no %q: %v", key, oopsErr.Context())
	assert.Equal(t, value, got)
}
