// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package gateway

import (
	"fmt"
	"time"

	"github.com/samber/oops"

	"github.com/NyaDerator/DiscordBridgeMC/internal/rules"
)

// Error codes for gateway verdicts. Rule engine rejections keep the codes
// from the rules package.
const (
	CodeForbidden        = "FORBIDDEN"
	CodeFilteredCommand  = rules.CodeFilteredCommand
	CodeFilteredActor    = rules.CodeFilteredActor
	CodeOutOfRange       = rules.CodeOutOfRange
	CodeOnCooldown       = "ON_COOLDOWN"
	CodeGlobalOnCooldown = "GLOBAL_ON_COOLDOWN"
	CodeActorNotFound    = "ACTOR_NOT_FOUND"
	CodeExecutionFailed  = "EXECUTION_FAILED"
	CodeInternalError    = "INTERNAL_ERROR"
)

// Constructor errors.
var (
	ErrNilExecutor  = oops.Code(CodeInternalError).Errorf("executor cannot be nil")
	ErrNilScheduler = oops.Code(CodeInternalError).Errorf("scheduler cannot be nil")
	ErrNilDirectory = oops.Code(CodeInternalError).Errorf("directory cannot be nil")
	ErrNilIdentity  = oops.Code(CodeInternalError).Errorf("identity provider cannot be nil")
	ErrNilConfig    = oops.Code(CodeInternalError).Errorf("config source cannot be nil")
	ErrNilCooldowns = oops.Code(CodeInternalError).Errorf("cooldown store cannot be nil")
	ErrNilStream    = oops.Code(CodeInternalError).Errorf("diagnostic stream cannot be nil")
)

// ErrForbidden creates an error for a requester lacking the required role.
func ErrForbidden(requester, role string) error {
	return oops.Code(CodeForbidden).
		With("requester", requester).
		With("role", role).
		Errorf("requester %s lacks role %s", requester, role)
}

// ErrOnCooldown creates an error for an actor whose cooldown has not expired.
func ErrOnCooldown(actor string, remaining time.Duration) error {
	return oops.Code(CodeOnCooldown).
		With("actor", actor).
		With("remaining_ms", remaining.Milliseconds()).
		Errorf("%s is on cooldown for %s", actor, remaining.Round(time.Millisecond))
}

// ErrGlobalOnCooldown creates an error for an active global cooldown.
func ErrGlobalOnCooldown(remaining time.Duration) error {
	return oops.Code(CodeGlobalOnCooldown).
		With("remaining_ms", remaining.Milliseconds()).
		Errorf("global cooldown active for %s", remaining.Round(time.Millisecond))
}

// ErrActorNotFound creates an error for a target that is not online.
func ErrActorNotFound(actor string) error {
	return oops.Code(CodeActorNotFound).
		With("actor", actor).
		Errorf("player %s not found or offline", actor)
}

// ErrExecutionFailed creates an error carrying the captured failure output.
func ErrExecutionFailed(command, output string) error {
	return oops.Code(CodeExecutionFailed).
		With("command", command).
		With("output", output).
		Errorf("command reported a failure")
}

// ErrInternal creates an error for an unexpected failure. The cause's text is
// kept as the message so the code stays INTERNAL_ERROR.
func ErrInternal(cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return oops.Code(CodeInternalError).
		With("message", msg).
		Errorf("internal error: %s", msg)
}

// Code returns the oops code of err, or "" when it has none.
func Code(err error) string {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := any(oopsErr.Code()).(string)
	return code
}

// RemainingMillis returns the remaining_ms context value of a cooldown error.
func RemainingMillis(err error) (int64, bool) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return 0, false
	}
	ms, ok := oopsErr.Context()["remaining_ms"].(int64)
	return ms, ok
}

// Output returns the captured output of an EXECUTION_FAILED error.
func Output(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	out, _ := oopsErr.Context()["output"].(string)
	return out
}

// Reason extracts a requester-facing message from an error.
func Reason(err error) string {
	if err == nil {
		return "Command executed."
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return "Something went wrong. Try again."
	}

	ctx := oopsErr.Context()
	switch oopsErr.Code() {
	case CodeForbidden:
		return "You don't have permission to run server commands."
	case CodeFilteredCommand:
		if cmd, ok := ctx["command"].(string); ok {
			return fmt.Sprintf("Command `%s` is not allowed.", cmd)
		}
		return "That command is not allowed."
	case CodeFilteredActor:
		if actor, ok := ctx["actor"].(string); ok {
			return fmt.Sprintf("Commands on behalf of `%s` are not allowed.", actor)
		}
		return "Commands on behalf of that player are not allowed."
	case CodeOutOfRange:
		return "Command rejected: " + oopsErr.Error()
	case CodeOnCooldown:
		ms, _ := ctx["remaining_ms"].(int64)
		return fmt.Sprintf("Player is on cooldown. Try again in %.1f s.", float64(ms)/1000)
	case CodeGlobalOnCooldown:
		ms, _ := ctx["remaining_ms"].(int64)
		return fmt.Sprintf("Global cooldown active. Try again in %.1f s.", float64(ms)/1000)
	case CodeActorNotFound:
		if actor, ok := ctx["actor"].(string); ok {
			return fmt.Sprintf("Player `%s` not found or offline.", actor)
		}
		return "Player not found or offline."
	case CodeExecutionFailed:
		return "The server reported an error while running the command."
	case CodeInternalError:
		if msg, ok := ctx["message"].(string); ok && msg != "" {
			return "Internal error: " + msg
		}
		return "Something went wrong. Try again."
	default:
		return "Something went wrong. Try again."
	}
}
