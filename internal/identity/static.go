// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

// Package identity answers role questions about requesters.
package identity

import (
	"context"
	"strings"

	"github.com/NyaDerator/DiscordBridgeMC/internal/config"
)

// SnapshotSource provides the current configuration snapshot.
type SnapshotSource interface {
	Current() *config.Snapshot
}

// Static resolves roles from the identity.roles table of the current
// configuration. Reloads take effect on the next lookup.
type Static struct {
	source SnapshotSource
}

// NewStatic creates a Static provider.
func NewStatic(source SnapshotSource) *Static {
	return &Static{source: source}
}

// HasRole reports whether requester holds role. Role names compare
// case-insensitively.
func (s *Static) HasRole(_ context.Context, requester, role string) bool {
	snap := s.source.Current()
	if snap == nil {
		return false
	}
	for _, r := range snap.Roles[requester] {
		if strings.EqualFold(strings.TrimSpace(r), role) {
			return true
		}
	}
	return false
}

// Roles returns a copy of the roles held by requester.
func (s *Static) Roles(requester string) []string {
	snap := s.source.Current()
	if snap == nil {
		return nil
	}
	rs := snap.Roles[requester]
	out := make([]string, len(rs))
	copy(out, rs)
	return out
}
