// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package target

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/NyaDerator/DiscordBridgeMC/internal/cooldown"
	"github.com/NyaDerator/DiscordBridgeMC/internal/gateway"
	"github.com/NyaDerator/DiscordBridgeMC/internal/observability"
)

// bossBarNamespace prefixes every boss bar the sink creates.
const bossBarNamespace = "bridgemc:cooldown_"

// BossBarSink renders cooldown countdowns as per-player boss bars by issuing
// /bossbar console commands on the scheduler.
type BossBarSink struct {
	executor  gateway.Executor
	scheduler gateway.Scheduler

	mu   sync.Mutex
	bars map[string]cooldown.Style // actor ID -> current style
}

var _ cooldown.Sink = (*BossBarSink)(nil)

// NewBossBarSink creates a sink that runs commands through executor on
// scheduler.
func NewBossBarSink(executor gateway.Executor, scheduler gateway.Scheduler) *BossBarSink {
	return &BossBarSink{
		executor:  executor,
		scheduler: scheduler,
		bars:      make(map[string]cooldown.Style),
	}
}

// Show creates or updates the actor's bar.
func (s *BossBarSink) Show(actor, label string, progress float64, style cooldown.Style) error {
	id := BossBarID(actor)

	s.mu.Lock()
	current, exists := s.bars[actor]
	s.bars[actor] = style
	s.mu.Unlock()

	var cmds []string
	if !exists {
		cmds = append(cmds,
			fmt.Sprintf("bossbar add %s %s", id, textComponent(label)),
			fmt.Sprintf("bossbar set %s max 100", id),
			fmt.Sprintf("bossbar set %s players %s", id, Selector(actor)),
		)
	}
	if !exists || current != style {
		color, segments := "red", "notched_10"
		if style == cooldown.StyleAvailable {
			color, segments = "green", "progress"
		}
		cmds = append(cmds,
			fmt.Sprintf("bossbar set %s name %s", id, textComponent(label)),
			fmt.Sprintf("bossbar set %s color %s", id, color),
			fmt.Sprintf("bossbar set %s style %s", id, segments),
		)
	}
	cmds = append(cmds, fmt.Sprintf("bossbar set %s value %d", id, percent(progress)))

	return s.run("show", cmds)
}

// Clear removes the actor's bar if one is shown.
func (s *BossBarSink) Clear(actor string) error {
	s.mu.Lock()
	_, exists := s.bars[actor]
	delete(s.bars, actor)
	s.mu.Unlock()

	if !exists {
		return nil
	}
	return s.run("clear", []string{"bossbar remove " + BossBarID(actor)})
}

func (s *BossBarSink) run(op string, cmds []string) error {
	return s.scheduler.Run(func() {
		for _, c := range cmds {
			if err := s.executor.Execute(context.Background(), c); err != nil {
				observability.RecordSinkFailure(op)
				return
			}
		}
	})
}

// BossBarID returns the resource location of an actor's bar. Characters not
// allowed in a resource path are replaced with '_'.
func BossBarID(actor string) string {
	var b strings.Builder
	b.WriteString(bossBarNamespace)
	for _, r := range strings.ToLower(actor) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func textComponent(label string) string {
	data, err := json.Marshal(map[string]string{"text": label})
	if err != nil {
		return `{"text":""}`
	}
	return string(data)
}

func percent(progress float64) int {
	return int(math.Round(math.Max(0, math.Min(1, progress)) * 100))
}
