// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

// Package stats keeps best-effort counters of gateway verdicts. Recording
// never fails a request: backend errors are logged and dropped.
package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/NyaDerator/DiscordBridgeMC/internal/config"
	"github.com/NyaDerator/DiscordBridgeMC/internal/gateway"
)

// Backend names accepted in stats.backend.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// CodeUnavailable marks a backend that could not be reached.
const CodeUnavailable = "STATS_UNAVAILABLE"

// Summary is a snapshot of the counters.
type Summary struct {
	Backend  string           `json:"backend"`
	Executed int64            `json:"executed"`
	Rejected int64            `json:"rejected"`
	ByCode   map[string]int64 `json:"by_code,omitempty"`
}

// Backend stores verdict counters.
type Backend interface {
	gateway.StatsRecorder
	Summary(ctx context.Context) (Summary, error)
	Close() error
}

// Open creates the backend selected by cfg.
func Open(ctx context.Context, cfg config.StatsConfig, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case BackendNone, "":
		return Nop{}, nil
	case BackendMemory:
		return NewMemory(), nil
	case BackendRedis:
		rdb, err := Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewRedis(rdb,
			WithPrefix(cfg.Redis.Prefix),
			WithTTL(cfg.Redis.TTL.D()),
			WithLogger(logger),
		), nil
	default:
		return nil, oops.Code(config.CodeInvalidConfig).
			With("backend", cfg.Backend).
			Errorf("unknown stats backend %q", cfg.Backend)
	}
}

// Nop discards every verdict.
type Nop struct{}

// Record implements gateway.StatsRecorder.
func (Nop) Record(context.Context, gateway.Verdict) {}

// Summary returns an empty summary.
func (Nop) Summary(context.Context) (Summary, error) {
	return Summary{Backend: BackendNone}, nil
}

// Close is a no-op.
func (Nop) Close() error { return nil }

// field returns the counter a verdict increments.
func field(v gateway.Verdict) string {
	if v.OK() {
		return "executed"
	}
	return "rejected"
}

// code returns the per-code counter name.
func code(v gateway.Verdict) string {
	if c := v.Code(); c != "" {
		return c
	}
	return gateway.CodeSuccess
}

func minuteBucket(at time.Time) string {
	return at.UTC().Format("200601021504")
}
