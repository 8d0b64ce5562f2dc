// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

// Package interceptor captures failure evidence from the diagnostic stream
// during a bounded window after a command is dispatched.
//
// The stream is shared by the whole game server. A line produced by an
// unrelated operation inside the capture window is attributed to whichever
// sessions are open at the time. Callers accept this misattribution.
package interceptor

import (
	"strings"
	"sync"
	"time"

	"github.com/NyaDerator/DiscordBridgeMC/internal/diagnostic"
)

// Stream is the subscription surface of the diagnostic stream.
type Stream interface {
	Subscribe(h diagnostic.Handler) diagnostic.Token
	Unsubscribe(tok diagnostic.Token) bool
}

// Interceptor opens capture sessions on a stream.
type Interceptor struct {
	stream     Stream
	classifier *Classifier
	now        func() time.Time
}

// New creates an interceptor. A nil classifier uses DefaultMarkers.
func New(stream Stream, classifier *Classifier) *Interceptor {
	if classifier == nil {
		// Default markers are static and always compile.
		classifier, _ = NewClassifier() //nolint:errcheck // cannot fail
	}
	return &Interceptor{stream: stream, classifier: classifier, now: time.Now}
}

// Session is one capture window. It starts collecting on Attach and stops
// on Close.
type Session struct {
	mu        sync.Mutex
	active    bool
	lines     []string
	startedAt time.Time

	stream     Stream
	token      diagnostic.Token
	classifier *Classifier
	onFailure  func(string)
}

// Attach subscribes a new session to the stream. onFailure runs at most once,
// from Close, when at least one failure line was captured. It may be nil.
func (i *Interceptor) Attach(onFailure func(string)) *Session {
	s := &Session{
		active:     true,
		startedAt:  i.now(),
		stream:     i.stream,
		classifier: i.classifier,
		onFailure:  onFailure,
	}
	s.token = i.stream.Subscribe(s.append)
	return s
}

// append keeps failure lines as markdown. Lines with nothing visible are
// never evidence.
func (s *Session) append(line diagnostic.Line) {
	if !s.classifier.IsFailure(line.Text) {
		return
	}
	text := ToMarkdown(line.Text)
	if strings.TrimSpace(text) == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.lines = append(s.lines, text)
}

// StartedAt returns when the session was attached.
func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

// Active reports whether the session is still collecting.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Close detaches the session and reports the captured evidence converted to
// markdown. failed is false when nothing was captured. Only the first call
// returns evidence and invokes the failure callback; later calls return
// ("", false).
func (s *Session) Close() (output string, failed bool) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return "", false
	}
	s.active = false
	lines := s.lines
	s.lines = nil
	s.mu.Unlock()

	s.stream.Unsubscribe(s.token)

	if len(lines) == 0 {
		return "", false
	}

	output = strings.Join(lines, "\n")

	if s.onFailure != nil {
		s.onFailure(output)
	}
	return output, true
}
