// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package config

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/NyaDerator/DiscordBridgeMC/internal/interceptor"
	"github.com/NyaDerator/DiscordBridgeMC/internal/rules"
)

// Snapshot is the compiled, immutable form of a Config. Readers hold a
// pointer for the duration of one request and never see a partial reload.
type Snapshot struct {
	Generation uint64
	LoadedAt   time.Time

	RequiredRole   string
	ActorCooldown  time.Duration
	GlobalCooldown time.Duration
	CaptureWindow  time.Duration
	Impersonation  string

	Engine     *rules.Engine
	Classifier *interceptor.Classifier
	Roles      map[string][]string

	// Warnings lists rule entries skipped while compiling.
	Warnings []string

	// Config is the source configuration. Treat it as read-only.
	Config *Config
}

// Compile turns cfg into a Snapshot. Malformed limit entries are skipped and
// reported through logger and Snapshot.Warnings; a rule with no valid limits
// is dropped. Invalid failure markers are an error.
func Compile(cfg *Config, logger *slog.Logger) (*Snapshot, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var warnings []string
	warn := func(msg string, args ...any) {
		logger.Warn(msg, args...)
		warnings = append(warnings, formatWarning(msg, args...))
	}

	compiled := make([]rules.Rule, 0, len(cfg.Filters.CommandLimits))
	for i, rc := range cfg.Filters.CommandLimits {
		pattern := strings.TrimSpace(rc.Pattern)
		if pattern == "" {
			warn("skipping limit rule with empty pattern", "rule", i)
			continue
		}
		if len(rc.Limits) == 0 {
			warn("skipping limit rule without limits", "pattern", pattern)
			continue
		}

		limits := make(map[int]rules.Range, len(rc.Limits))
		for _, key := range sortedKeys(rc.Limits) {
			index, err := strconv.Atoi(strings.TrimSpace(key))
			if err != nil || index < 0 {
				warn("skipping invalid limit index", "pattern", pattern, "index", key)
				continue
			}
			r, err := rules.ParseRange(rc.Limits[key])
			if err != nil {
				warn("skipping invalid limit range", "pattern", pattern, "index", index, "range", rc.Limits[key])
				continue
			}
			limits[index] = r
		}

		if len(limits) == 0 {
			warn("dropping limit rule with no valid limits", "pattern", pattern)
			continue
		}

		rule, err := rules.NewRule(pattern, limits)
		if err != nil {
			warn("dropping invalid limit rule", "pattern", pattern, "error", err.Error())
			continue
		}
		compiled = append(compiled, rule)
	}

	classifier, err := interceptor.NewClassifier(cfg.Gateway.FailureMarkers...)
	if err != nil {
		return nil, oops.With("markers", cfg.Gateway.FailureMarkers).Wrap(err)
	}

	roles := make(map[string][]string, len(cfg.Identity.Roles))
	for requester, rs := range cfg.Identity.Roles {
		cp := make([]string, len(rs))
		copy(cp, rs)
		roles[strings.TrimSpace(requester)] = cp
	}

	return &Snapshot{
		LoadedAt:       time.Now(),
		RequiredRole:   strings.TrimSpace(cfg.Gateway.RequiredRole),
		ActorCooldown:  cfg.Cooldowns.Actor.D(),
		GlobalCooldown: cfg.Cooldowns.Global.D(),
		CaptureWindow:  cfg.Gateway.CaptureWindow.D(),
		Impersonation:  cfg.Gateway.Impersonation,
		Engine: rules.NewEngine(rules.EngineConfig{
			Commands: rules.NewFilterList(cfg.Filters.CommandWhitelist, cfg.Filters.CommandBlacklist),
			Actors:   rules.NewFilterList(cfg.Filters.PlayersWhitelist, cfg.Filters.PlayersBlacklist),
			Rules:    compiled,
		}),
		Classifier: classifier,
		Roles:      roles,
		Warnings:   warnings,
		Config:     cfg,
	}, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatWarning(msg string, args ...any) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	return b.String()
}

// Holder publishes the current snapshot. It is safe for concurrent use.
type Holder struct {
	current    atomic.Pointer[Snapshot]
	generation atomic.Uint64
}

// NewHolder creates a holder publishing s.
func NewHolder(s *Snapshot) *Holder {
	h := &Holder{}
	h.Swap(s)
	return h
}

// Current returns the published snapshot.
func (h *Holder) Current() *Snapshot {
	return h.current.Load()
}

// Swap publishes s with the next generation number and returns it.
func (h *Holder) Swap(s *Snapshot) uint64 {
	s.Generation = h.generation.Add(1)
	h.current.Store(s)
	return s.Generation
}

// Reloader rebuilds the snapshot from disk. A failed reload leaves the
// previous snapshot in place.
type Reloader struct {
	path   string
	flags  *pflag.FlagSet
	holder *Holder
	logger *slog.Logger

	mu sync.Mutex
}

// NewReloader creates a reloader for the file at path.
func NewReloader(path string, flags *pflag.FlagSet, holder *Holder, logger *slog.Logger) *Reloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reloader{path: path, flags: flags, holder: holder, logger: logger}
}

// Path returns the configuration file path.
func (r *Reloader) Path() string {
	return r.path
}

// Reload loads, compiles and publishes the configuration.
func (r *Reloader) Reload(ctx context.Context) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, err := Load(r.path, r.flags)
	if err != nil {
		r.logger.WarnContext(ctx, "config reload failed, keeping previous configuration",
			"path", r.path, "error", err)
		return nil, err
	}
	snap, err := Compile(cfg, r.logger)
	if err != nil {
		r.logger.WarnContext(ctx, "config reload failed, keeping previous configuration",
			"path", r.path, "error", err)
		return nil, err
	}

	gen := r.holder.Swap(snap)
	r.logger.InfoContext(ctx, "configuration reloaded",
		"path", r.path,
		"generation", gen,
		"rules", len(snap.Engine.Rules()),
		"warnings", len(snap.Warnings))
	return snap, nil
}
