// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package rules

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/oops"
)

// Wildcard matches any single token in a rule pattern.
const Wildcard = "*"

// Range is an inclusive integer interval.
type Range struct {
	Min int64
	Max int64
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v int64) bool {
	return v >= r.Min && v <= r.Max
}

func (r Range) String() string {
	return fmt.Sprintf("%d..%d", r.Min, r.Max)
}

// ParseRange parses "min..max" or a single integer "n" (meaning n..n).
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)

	if lo, hi, found := strings.Cut(s, ".."); found {
		minV, err := strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
		if err != nil {
			return Range{}, oops.Code(CodeInvalidRange).With("range", s).Wrap(err)
		}
		maxV, err := strconv.ParseInt(strings.TrimSpace(hi), 10, 64)
		if err != nil {
			return Range{}, oops.Code(CodeInvalidRange).With("range", s).Wrap(err)
		}
		if minV > maxV {
			return Range{}, oops.Code(CodeInvalidRange).
				With("range", s).
				Errorf("range lower bound %d exceeds upper bound %d", minV, maxV)
		}
		return Range{Min: minV, Max: maxV}, nil
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Range{}, oops.Code(CodeInvalidRange).With("range", s).Wrap(err)
	}
	return Range{Min: v, Max: v}, nil
}

// limit pairs a 0-based token index with its allowed range.
type limit struct {
	index int
	rng   Range
}

// Rule bounds numeric arguments of commands whose tokens match Pattern.
// Rules are immutable once built.
type Rule struct {
	pattern []string
	limits  []limit // sorted by index
}

// NewRule builds a rule from a whitespace-separated pattern and 0-based
// index limits. A rule with an empty pattern or no limits is rejected.
func NewRule(pattern string, limits map[int]Range) (Rule, error) {
	tokens := Tokenize(pattern)
	if len(tokens) == 0 {
		return Rule{}, oops.Code(CodeInvalidRule).Errorf("rule pattern is empty")
	}
	if len(limits) == 0 {
		return Rule{}, oops.Code(CodeInvalidRule).
			With("pattern", pattern).
			Errorf("rule %q has no limits", pattern)
	}

	ls := make([]limit, 0, len(limits))
	for idx, rng := range limits {
		if idx < 0 {
			return Rule{}, oops.Code(CodeInvalidRule).
				With("pattern", pattern).
				With("index", idx).
				Errorf("negative limit index %d", idx)
		}
		ls = append(ls, limit{index: idx, rng: rng})
	}
	sort.Slice(ls, func(i, j int) bool { return ls[i].index < ls[j].index })

	return Rule{pattern: tokens, limits: ls}, nil
}

// Pattern returns the rule's pattern re-joined with single spaces.
func (r Rule) Pattern() string {
	return strings.Join(r.pattern, " ")
}

// Limits returns a copy of the rule's limits keyed by 0-based index.
func (r Rule) Limits() map[int]Range {
	out := make(map[int]Range, len(r.limits))
	for _, l := range r.limits {
		out[l.index] = l.rng
	}
	return out
}

// Matches reports whether tokens have the same length as the pattern and
// every non-wildcard pattern token equals the token at that position.
func (r Rule) Matches(tokens []string) bool {
	if len(tokens) != len(r.pattern) {
		return false
	}
	for i, p := range r.pattern {
		if p != Wildcard && p != tokens[i] {
			return false
		}
	}
	return true
}

// Violation describes an argument outside its allowed range.
type Violation struct {
	Token    string
	Position int // 1-based
	Range    Range
}

func (v Violation) String() string {
	return fmt.Sprintf("argument '%s' at position %d exceeds the allowed limit %s",
		v.Token, v.Position, v.Range)
}

// check returns the first violation of the rule's limits, if any.
func (r Rule) check(tokens []string) *Violation {
	for _, l := range r.limits {
		if l.index >= len(tokens) {
			continue
		}
		token := tokens[l.index]
		v, ok := ParseArgument(token)
		if !ok {
			continue
		}
		if !l.rng.Contains(v) {
			return &Violation{Token: token, Position: l.index + 1, Range: l.rng}
		}
	}
	return nil
}
