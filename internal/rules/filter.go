// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package rules

import "strings"

// FilterList is a pair of allow/deny word sets. Matching is case-insensitive.
type FilterList struct {
	whitelist map[string]struct{}
	blacklist map[string]struct{}
}

// NewFilterList builds a FilterList from raw entries. Blank entries are ignored.
func NewFilterList(whitelist, blacklist []string) FilterList {
	return FilterList{
		whitelist: toSet(whitelist),
		blacklist: toSet(blacklist),
	}
}

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

// Empty reports whether both lists are empty.
func (f FilterList) Empty() bool {
	return len(f.whitelist) == 0 && len(f.blacklist) == 0
}

// Allows applies the list to tokens:
//   - both lists empty: allow
//   - only a blacklist: deny if any token is blacklisted
//   - only a whitelist: allow only if some token is whitelisted
//   - both: require a whitelist match AND no blacklist match
func (f FilterList) Allows(tokens []string) bool {
	hasWhite := len(f.whitelist) > 0
	hasBlack := len(f.blacklist) > 0

	switch {
	case !hasWhite && !hasBlack:
		return true
	case !hasWhite:
		return !f.anyIn(tokens, f.blacklist)
	case !hasBlack:
		return f.anyIn(tokens, f.whitelist)
	default:
		return f.anyIn(tokens, f.whitelist) && !f.anyIn(tokens, f.blacklist)
	}
}

func (f FilterList) anyIn(tokens []string, set map[string]struct{}) bool {
	for _, t := range tokens {
		if _, ok := set[strings.ToLower(t)]; ok {
			return true
		}
	}
	return false
}
