// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package cooldown

// Style selects how a countdown presentation is rendered.
type Style int

// Presentation styles.
const (
	// StyleCooldown is the segmented red bar shown while a cooldown runs.
	StyleCooldown Style = iota
	// StyleAvailable is the solid green bar shown once the cooldown ends.
	StyleAvailable
)

// String returns the style name.
func (s Style) String() string {
	switch s {
	case StyleCooldown:
		return "cooldown"
	case StyleAvailable:
		return "available"
	default:
		return "unknown"
	}
}

// Default presentation labels.
const (
	DefaultCooldownLabel  = "Command cooldown..."
	DefaultAvailableLabel = "Command available!"
)

// Sink displays countdown progress to an actor. It is a best-effort
// feedback channel: errors are logged and otherwise ignored.
//
// Show may be called repeatedly for the same actor; each call replaces the
// previous presentation. Clear removes it.
type Sink interface {
	Show(actor, label string, progress float64, style Style) error
	Clear(actor string) error
}
