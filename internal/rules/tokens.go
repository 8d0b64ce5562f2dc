// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

// Package rules evaluates console commands against allow/deny lists and
// per-argument numeric limits.
package rules

import (
	"math"
	"strconv"
	"strings"
)

// Tokenize splits input on runs of whitespace. Empty tokens are discarded.
func Tokenize(input string) []string {
	return strings.Fields(input)
}

// ParseArgument parses a command argument as an integer.
//
// The literal "infinite" (any case) maps to math.MaxInt64. A leading "~"
// marks a relative coordinate: the prefix is stripped and the remainder is
// parsed, with an empty remainder meaning zero. ok is false when the token is
// not a number; callers skip such tokens rather than treating them as
// violations.
func ParseArgument(token string) (value int64, ok bool) {
	if strings.EqualFold(token, "infinite") {
		return math.MaxInt64, true
	}

	if rest, relative := strings.CutPrefix(token, "~"); relative {
		if rest == "" {
			return 0, true
		}
		token = rest
	}

	v, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
