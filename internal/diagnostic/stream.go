// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

// Package diagnostic provides the process-wide textual log feed of the game
// server. Any number of subscribers can tap it; every subscriber sees every
// line, regardless of which operation produced it.
package diagnostic

import (
	"bufio"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
)

// maxLineSize bounds a single diagnostic line read by Consume.
const maxLineSize = 1 << 20

// Line is one line of diagnostic output.
type Line struct {
	Text string
	At   time.Time
}

// Handler receives published lines. Handlers run on the publisher's
// goroutine and must not block.
type Handler func(Line)

// Token identifies a subscription.
type Token uint64

// Stream distributes lines to subscribers.
type Stream struct {
	mu   sync.RWMutex
	next Token
	subs map[Token]Handler
	now  func() time.Time
}

// NewStream creates an empty stream.
func NewStream() *Stream {
	return &Stream{
		subs: make(map[Token]Handler),
		now:  time.Now,
	}
}

// Subscribe registers h and returns a token for Unsubscribe.
func (s *Stream) Subscribe(h Handler) Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	s.subs[s.next] = h
	return s.next
}

// Unsubscribe removes a subscription. It reports whether the token was
// registered; removing an unknown token is a no-op.
//
// A Publish that already snapshotted the subscriber list may still deliver
// one line to the handler after Unsubscribe returns. Handlers that need a
// hard cut-off must guard themselves.
func (s *Stream) Unsubscribe(tok Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[tok]; !ok {
		return false
	}
	delete(s.subs, tok)
	return true
}

// SubscriberCount returns the number of active subscriptions.
func (s *Stream) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Publish delivers text to every subscriber.
func (s *Stream) Publish(text string) {
	line := Line{Text: text, At: s.now()}

	s.mu.RLock()
	handlers := make([]Handler, 0, len(s.subs))
	for _, h := range s.subs {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		deliver(h, line)
	}
}

func deliver(h Handler, line Line) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("diagnostic subscriber panicked", "panic", r)
		}
	}()
	h(line)
}

// Consume reads r line by line and publishes each line until EOF or a read
// error. Trailing carriage returns are stripped.
func (s *Stream) Consume(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		text := scanner.Text()
		if n := len(text); n > 0 && text[n-1] == '\r' {
			text = text[:n-1]
		}
		s.Publish(text)
	}

	if err := scanner.Err(); err != nil {
		return oops.In("diagnostic").Wrapf(err, "reading diagnostic output")
	}
	return nil
}
