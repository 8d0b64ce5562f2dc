// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package interceptor

import (
	"strings"
)

const esc = 0x1b

// ToMarkdown rewrites ANSI styling in line as chat markdown. Bold and red
// (SGR 1, 31, 91) become **, italic (SGR 3) becomes *, and a reset (SGR 0 or
// an empty parameter list) closes whatever is open. Every other escape
// sequence is dropped.
func ToMarkdown(line string) string {
	var (
		b      strings.Builder
		strong bool
		em     bool
	)
	b.Grow(len(line))

	closeAll := func() {
		if em {
			b.WriteString("*")
			em = false
		}
		if strong {
			b.WriteString("**")
			strong = false
		}
	}

	for i := 0; i < len(line); {
		if line[i] != esc {
			b.WriteByte(line[i])
			i++
			continue
		}

		params, final, next := scanEscape(line, i)
		i = next
		if final != 'm' {
			continue
		}

		for _, p := range splitParams(params) {
			switch p {
			case "", "0":
				closeAll()
			case "1", "31", "91":
				if !strong {
					b.WriteString("**")
					strong = true
				}
			case "3":
				if !em {
					b.WriteString("*")
					em = true
				}
			case "22", "39":
				if strong {
					b.WriteString("**")
					strong = false
				}
			case "23":
				if em {
					b.WriteString("*")
					em = false
				}
			}
		}
	}
	closeAll()

	return b.String()
}

// scanEscape parses the escape sequence starting at line[start] and returns
// its CSI parameters, the final byte (0 for non-CSI sequences), and the index
// just past the sequence.
func scanEscape(line string, start int) (params string, final byte, next int) {
	i := start + 1
	if i >= len(line) {
		return "", 0, i
	}
	if line[i] != '[' {
		// Two-byte escape such as ESC c.
		return "", 0, i + 1
	}
	i++
	paramStart := i
	for i < len(line) {
		c := line[i]
		if c >= 0x40 && c <= 0x7e {
			return line[paramStart:i], c, i + 1
		}
		i++
	}
	return "", 0, i
}

func splitParams(params string) []string {
	if params == "" {
		return []string{""}
	}
	return strings.Split(params, ";")
}
