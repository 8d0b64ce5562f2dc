// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package interceptor

import (
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// CodeInvalidMarker is returned when a configured failure marker does not compile.
const CodeInvalidMarker = "INVALID_MARKER"

// DefaultMarkers are the substrings that mark a diagnostic line as evidence
// of a failed command. Matching is case-insensitive.
var DefaultMarkers = []string{
	"unknown command",
	"incorrect argument",
	"usage:",
	"[here]",
	"error",
	"exception",
}

// Classifier decides whether a diagnostic line is failure evidence.
type Classifier struct {
	patterns []glob.Glob
}

// NewClassifier compiles DefaultMarkers plus any extra glob markers.
// Extra markers are lowercased and matched anywhere in the line.
func NewClassifier(extra ...string) (*Classifier, error) {
	c := &Classifier{patterns: make([]glob.Glob, 0, len(DefaultMarkers)+len(extra))}

	for _, m := range DefaultMarkers {
		g, err := glob.Compile("*" + glob.QuoteMeta(m) + "*")
		if err != nil {
			return nil, oops.Code(CodeInvalidMarker).With("marker", m).Wrap(err)
		}
		c.patterns = append(c.patterns, g)
	}

	for _, m := range extra {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" {
			continue
		}
		g, err := glob.Compile("*" + m + "*")
		if err != nil {
			return nil, oops.Code(CodeInvalidMarker).
				With("marker", m).
				Wrapf(err, "invalid failure marker %q", m)
		}
		c.patterns = append(c.patterns, g)
	}

	return c, nil
}

// IsFailure reports whether line contains any marker.
func (c *Classifier) IsFailure(line string) bool {
	lower := strings.ToLower(line)
	for _, g := range c.patterns {
		if g.Match(lower) {
			return true
		}
	}
	return false
}
