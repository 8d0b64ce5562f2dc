// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package gateway

// State is a stage of request handling. A rejected request's Verdict
// records the stage that rejected it.
type State int

// Request states in transition order.
const (
	StateReceived State = iota
	StateAuthorizingRole
	StateFiltering
	StateRateLimitCheck
	StateDispatched
	StateAwaitingOutcome
	StateVerdict
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateAuthorizingRole:
		return "authorizing_role"
	case StateFiltering:
		return "filtering"
	case StateRateLimitCheck:
		return "rate_limit_check"
	case StateDispatched:
		return "dispatched"
	case StateAwaitingOutcome:
		return "awaiting_outcome"
	case StateVerdict:
		return "verdict"
	default:
		return "unknown"
	}
}
