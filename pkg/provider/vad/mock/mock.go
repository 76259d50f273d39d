// Package mock provides test doubles for the vad package interfaces.
//
// Script a Session with the per-frame Events you want ProcessFrame to return;
// once the script is exhausted the session keeps returning the last event.
package mock

import (
	"sync"

	"github.com/mynah-ai/mynah/pkg/provider/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil, NewSession
	// returns a new empty Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records the Config of every NewSession call.
	NewSessionCalls []vad.Config
}

var _ vad.Engine = (*Engine)(nil)

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Session is a mock implementation of vad.SessionHandle. Populate Events with
// the scripted results; each ProcessFrame call consumes one entry. When the
// script runs out, the last entry repeats (or a zero silence event if the
// script is empty).
type Session struct {
	mu sync.Mutex

	// Events is the scripted sequence of results.
	Events []vad.Event

	// ProcessErr, if non-nil, is returned by every ProcessFrame call.
	ProcessErr error

	// ProcessCalls counts ProcessFrame invocations.
	ProcessCalls int

	// ResetCalls counts Reset invocations.
	ResetCalls int

	// CloseCalls counts Close invocations.
	CloseCalls int
}

var _ vad.SessionHandle = (*Session)(nil)

// ProcessFrame consumes and returns the next scripted event.
func (s *Session) ProcessFrame(_ []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProcessCalls++
	if s.ProcessErr != nil {
		return vad.Event{}, s.ProcessErr
	}
	if len(s.Events) == 0 {
		return vad.Event{Type: vad.EventSilence}, nil
	}
	ev := s.Events[0]
	if len(s.Events) > 1 {
		s.Events = s.Events[1:]
	}
	return ev, nil
}

// Reset records the call.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCalls++
}

// Close records the call and returns nil.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	return nil
}
