// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package rules

import "strings"

// EngineConfig holds the lists and rules an Engine evaluates.
type EngineConfig struct {
	Commands FilterList
	Actors   FilterList
	Rules    []Rule
}

// Engine is a stateless evaluator over an immutable rule set.
// It is safe for concurrent use.
type Engine struct {
	commands FilterList
	actors   FilterList
	rules    []Rule
}

// Outcome is the result of evaluating a command.
type Outcome struct {
	Allowed   bool
	Reason    string
	Code      string     // empty when allowed
	Violation *Violation // set for CodeOutOfRange
	err       error
}

// Err returns the rejection as an oops error, or nil when allowed.
func (o Outcome) Err() error {
	return o.err
}

// NewEngine creates an engine. The rule slice is copied.
func NewEngine(cfg EngineConfig) *Engine {
	rs := make([]Rule, len(cfg.Rules))
	copy(rs, cfg.Rules)
	return &Engine{
		commands: cfg.Commands,
		actors:   cfg.Actors,
		rules:    rs,
	}
}

// Rules returns a copy of the engine's rules in evaluation order.
func (e *Engine) Rules() []Rule {
	rs := make([]Rule, len(e.rules))
	copy(rs, e.rules)
	return rs
}

// Evaluate checks the actor name (when non-empty), then the command lists,
// then the numeric limits of the first rule whose pattern matches.
func (e *Engine) Evaluate(command, actor string) Outcome {
	if actor != "" && !e.actors.Allows(Tokenize(actor)) {
		return reject(CodeFilteredActor, ErrFilteredActor(actor), nil)
	}

	// A line break would smuggle a second console command past the filters.
	tokens := Tokenize(command)
	if strings.ContainsAny(command, "\r\n") || !e.commands.Allows(tokens) {
		return reject(CodeFilteredCommand, ErrFilteredCommand(command), nil)
	}

	if v := e.CheckLimits(tokens); v != nil {
		return reject(CodeOutOfRange, ErrOutOfRange(*v), v)
	}

	return Outcome{Allowed: true}
}

// CheckLimits returns the first violation of the first matching rule.
// Rules are not combined: once a pattern matches, later rules are ignored.
func (e *Engine) CheckLimits(tokens []string) *Violation {
	for _, r := range e.rules {
		if r.Matches(tokens) {
			return r.check(tokens)
		}
	}
	return nil
}

func reject(code string, err error, v *Violation) Outcome {
	return Outcome{
		Allowed:   false,
		Reason:    err.Error(),
		Code:      code,
		Violation: v,
		err:       err,
	}
}
