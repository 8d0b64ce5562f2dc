// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NyaDerator/DiscordBridgeMC/internal/config"
)

func holderWithRoles(t *testing.T, roles map[string][]string) *config.Holder {
	t.Helper()
	cfg := config.Default()
	cfg.Identity.Roles = roles
	snap, err := config.Compile(cfg, nil)
	require.NoError(t, err)
	return config.NewHolder(snap)
}

func TestStatic_HasRole(t *testing.T) {
	h := holderWithRoles(t, map[string][]string{
		"123": {"Minecraft-Admin", "viewer"},
	})
	s := NewStatic(h)
	ctx := context.Background()

	assert.True(t, s.HasRole(ctx, "123", "minecraft-admin"))
	assert.True(t, s.HasRole(ctx, "123", "viewer"))
	assert.False(t, s.HasRole(ctx, "123", "owner"))
	assert.False(t, s.HasRole(ctx, "456", "viewer"))
	assert.Equal(t, []string{"Minecraft-Admin", "viewer"}, s.Roles("123"))
}

func TestStatic_FollowsReload(t *testing.T) {
	h := holderWithRoles(t, nil)
	s := NewStatic(h)
	assert.False(t, s.HasRole(context.Background(), "123", "admin"))

	cfg := config.Default()
	cfg.Identity.Roles = map[string][]string{"123": {"admin"}}
	snap, err := config.Compile(cfg, nil)
	require.NoError(t, err)
	h.Swap(snap)

	assert.True(t, s.HasRole(context.Background(), "123", "admin"))
}
