// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package rules

import "github.com/samber/oops"

// Error codes for rule evaluation and rule construction.
const (
	CodeFilteredCommand = "FILTERED_COMMAND"
	CodeFilteredActor   = "FILTERED_ACTOR"
	CodeOutOfRange      = "OUT_OF_RANGE"
	CodeInvalidRange    = "INVALID_RANGE"
	CodeInvalidRule     = "INVALID_RULE"
)

// ErrFilteredCommand creates an error for a command rejected by the command lists.
func ErrFilteredCommand(command string) error {
	return oops.Code(CodeFilteredCommand).
		With("command", command).
		Errorf("command `%s` is not allowed", command)
}

// ErrFilteredActor creates an error for an actor rejected by the actor lists.
func ErrFilteredActor(actor string) error {
	return oops.Code(CodeFilteredActor).
		With("actor", actor).
		Errorf("commands on behalf of `%s` are not allowed", actor)
}

// ErrOutOfRange creates an error for a numeric argument outside its limit.
func ErrOutOfRange(v Violation) error {
	return oops.Code(CodeOutOfRange).
		With("token", v.Token).
		With("position", v.Position).
		With("min", v.Range.Min).
		With("max", v.Range.Max).
		Errorf("%s", v.String())
}
