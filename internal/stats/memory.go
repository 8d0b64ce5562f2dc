// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package stats

import (
	"context"
	"sync"

	"github.com/NyaDerator/DiscordBridgeMC/internal/gateway"
)

// Memory keeps counters in process. Counters reset on restart.
type Memory struct {
	mu       sync.Mutex
	executed int64
	rejected int64
	byCode   map[string]int64
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{byCode: make(map[string]int64)}
}

// Record implements gateway.StatsRecorder.
func (m *Memory) Record(_ context.Context, v gateway.Verdict) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v.OK() {
		m.executed++
	} else {
		m.rejected++
	}
	m.byCode[code(v)]++
}

// Summary returns a copy of the counters.
func (m *Memory) Summary(context.Context) (Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byCode := make(map[string]int64, len(m.byCode))
	for k, v := range m.byCode {
		byCode[k] = v
	}
	return Summary{
		Backend:  BackendMemory,
		Executed: m.executed,
		Rejected: m.rejected,
		ByCode:   byCode,
	}, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
