// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package interceptor

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/NyaDerator/DiscordBridgeMC/internal/diagnostic"
	"github.com/NyaDerator/DiscordBridgeMC/pkg/errutil"
)

func TestClassifier_DefaultMarkers(t *testing.T) {
	c, err := NewClassifier()
	require.NoError(t, err)

	tests := []struct {
		line string
		want bool
	}{
		{"Unknown command. Type \"/help\" for help.", true},
		{"Incorrect argument for command", true},
		{"Usage: /give <player> <item> [amount]", true},
		{"...give steve dirt<--[HERE]", true},
		{"An ERROR occurred", true},
		{"java.lang.NullPointerException", true},
		{"Teleported Steve to 10.5, 64.0, 20.5", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, c.IsFailure(tt.line))
		})
	}
}

func TestClassifier_ExtraMarkers(t *testing.T) {
	c, err := NewClassifier("No player was found", "  ", "that * is not loaded")
	require.NoError(t, err)

	assert.True(t, c.IsFailure("No player was found"))
	assert.True(t, c.IsFailure("That position is not loaded"))
	assert.False(t, c.IsFailure("Set the time to 1000"))
}

func TestClassifier_InvalidMarker(t *testing.T) {
	_, err := NewClassifier("[unterminated")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeInvalidMarker)
}

func TestSession_NoLinesNoCallback(t *testing.T) {
	stream := diagnostic.NewStream()
	ic := New(stream, nil)

	called := false
	s := ic.Attach(func(string) { called = true })
	stream.Publish("Gave 1 [Dirt] to Steve")

	out, failed := s.Close()
	assert.False(t, failed)
	assert.Empty(t, out)
	assert.False(t, called)
	assert.Equal(t, 0, stream.SubscriberCount())
}

func TestSession_FailureLineInvokesCallbackOnce(t *testing.T) {
	stream := diagnostic.NewStream()
	ic := New(stream, nil)

	var calls int
	var got string
	s := ic.Attach(func(out string) {
		calls++
		got = out
	})
	stream.Publish("Unknown command")

	out, failed := s.Close()
	assert.True(t, failed)
	assert.Equal(t, "Unknown command", out)

	out, failed = s.Close()
	assert.False(t, failed)
	assert.Empty(t, out)

	assert.Equal(t, 1, calls)
	assert.Equal(t, "Unknown command", got)
}

func TestSession_JoinsLinesAndConvertsANSI(t *testing.T) {
	stream := diagnostic.NewStream()
	ic := New(stream, nil)

	s := ic.Attach(nil)
	stream.Publish("\x1b[31mIncorrect argument for command\x1b[0m")
	stream.Publish("ok line")
	stream.Publish("...tp 1 2<--\x1b[3m[HERE]\x1b[0m")

	out, failed := s.Close()
	require.True(t, failed)
	assert.Equal(t, "**Incorrect argument for command**\n...tp 1 2<--*[HERE]*", out)
}

func TestSession_BlankLinesAreNotEvidence(t *testing.T) {
	stream := diagnostic.NewStream()
	matchAll, err := NewClassifier("*")
	require.NoError(t, err)
	ic := New(stream, matchAll)

	var calls int
	s := ic.Attach(func(string) { calls++ })
	stream.Publish("   ")
	stream.Publish("\x1b[2K\x1b[1G")

	out, failed := s.Close()
	assert.False(t, failed)
	assert.Empty(t, out)
	assert.Zero(t, calls)

	s = ic.Attach(nil)
	stream.Publish("")
	stream.Publish("done")
	out, failed = s.Close()
	assert.True(t, failed)
	assert.Equal(t, "done", out)
}

func TestSession_LinesAfterCloseIgnored(t *testing.T) {
	stream := diagnostic.NewStream()
	ic := New(stream, nil)

	first := ic.Attach(nil)
	_, failed := first.Close()
	assert.False(t, failed)
	assert.False(t, first.Active())

	stream.Publish("Unknown command")
	_, failed = first.Close()
	assert.False(t, failed)
}

func TestSession_ConcurrentSessionsShareStream(t *testing.T) {
	stream := diagnostic.NewStream()
	ic := New(stream, nil)

	a := ic.Attach(nil)
	b := ic.Attach(nil)
	stream.Publish("Unknown command")

	_, aFailed := a.Close()
	_, bFailed := b.Close()
	assert.True(t, aFailed, "shared stream attributes the line to every open session")
	assert.True(t, bFailed)
}

func TestSession_ConcurrentCloseAndPublish(t *testing.T) {
	defer goleak.VerifyNone(t)

	stream := diagnostic.NewStream()
	ic := New(stream, nil)

	var callbacks atomic.Int32
	s := ic.Attach(func(string) { callbacks.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				stream.Publish("error")
			}
		}()
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, callbacks.Load(), int32(1))
	assert.False(t, s.Active())
}

func TestToMarkdown(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"red", "\x1b[31mbad\x1b[0m", "**bad**"},
		{"bright red", "\x1b[91mbad\x1b[m", "**bad**"},
		{"bold", "\x1b[1mbold\x1b[0m", "**bold**"},
		{"italic", "\x1b[3mit\x1b[0m", "*it*"},
		{"combined params", "\x1b[1;3mboth\x1b[0m", "***both***"},
		{"unclosed marker closed at end", "\x1b[31mbad", "**bad**"},
		{"other colors stripped", "\x1b[32mgreen\x1b[39m text", "green text"},
		{"cursor sequences stripped", "\x1b[2Kline\x1b[1G", "line"},
		{"two byte escape stripped", "\x1bcreset", "reset"},
		{"trailing escape", "text\x1b", "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToMarkdown(tt.in))
		})
	}
}
