// Package mock provides test doubles for the capture package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// Request, and Session to drive controlled event sequences into the caller's
// callbacks.
//
// Example:
//
//	p := &mock.Provider{}
//	eng.ToggleCapture() // eng uses p.Start internally
//	p.LastSession().Final("cup")
package mock

import (
	"context"
	"sync"

	"github.com/aphelia-health/aphelia/pkg/capture"
)

// StartCall records a single invocation of Provider.Start.
type StartCall struct {
	// Ctx is the context passed to Start.
	Ctx context.Context
	// Req is the Request passed to Start.
	Req capture.Request
}

// Provider is a mock implementation of capture.Provider. The zero value is
// ready to use: each Start returns a fresh Session wired to the request's
// callbacks.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// StartErr, if non-nil, is returned from Start instead of a session.
	StartErr error

	// AutoStart, when true, fires OnStart synchronously inside Start.
	AutoStart bool

	// StartCalls records every call to Start.
	StartCalls []StartCall

	// Sessions holds every session handed out, in creation order.
	Sessions []*Session
}

// Compile-time interface check.
var _ capture.Provider = (*Provider)(nil)

// Start records the call and returns a new Session bound to req.Callbacks.
func (p *Provider) Start(ctx context.Context, req capture.Request) (capture.Handle, error) {
	p.mu.Lock()
	p.StartCalls = append(p.StartCalls, StartCall{Ctx: ctx, Req: req})
	if p.StartErr != nil {
		err := p.StartErr
		p.mu.Unlock()
		return nil, err
	}
	s := &Session{cb: req.Callbacks}
	p.Sessions = append(p.Sessions, s)
	auto := p.AutoStart
	p.mu.Unlock()

	if auto {
		s.Begin()
	}
	return s, nil
}

// Name returns ProviderName, or "mock" when unset.
func (p *Provider) Name() string {
	if p.ProviderName != "" {
		return p.ProviderName
	}
	return "mock"
}

// LastSession returns the most recently created session, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sessions) == 0 {
		return nil
	}
	return p.Sessions[len(p.Sessions)-1]
}

// Reset clears all recorded calls and sessions.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartCalls = nil
	p.Sessions = nil
}

// Session is a mock capture.Handle driven entirely by the test. Event
// methods replicate the contract: one terminal event, then OnEnd; Stop
// before a result ends the session silently.
type Session struct {
	mu sync.Mutex
	cb capture.Callbacks

	started bool
	ended   bool

	// StopCalls counts invocations of Stop.
	StopCalls int

	// AudioChunks holds copies of every chunk passed to SendAudio.
	AudioChunks [][]byte
}

// Compile-time interface check.
var _ capture.Handle = (*Session)(nil)

// Begin fires OnStart once. Subsequent calls are no-ops.
func (s *Session) Begin() {
	s.mu.Lock()
	if s.started || s.ended {
		s.mu.Unlock()
		return
	}
	s.started = true
	cb := s.cb
	s.mu.Unlock()
	if cb.OnStart != nil {
		cb.OnStart()
	}
}

// Interim fires OnInterim with text. No-op after the session ended.
func (s *Session) Interim(text string) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	cb := s.cb
	s.mu.Unlock()
	if cb.OnInterim != nil {
		cb.OnInterim(text)
	}
}

// Final fires OnFinal with text, then OnEnd.
func (s *Session) Final(text string) {
	s.terminate(func(cb capture.Callbacks) {
		if cb.OnFinal != nil {
			cb.OnFinal(text)
		}
	})
}

// Fail fires OnError with kind, then OnEnd.
func (s *Session) Fail(kind capture.ErrorKind) {
	s.terminate(func(cb capture.Callbacks) {
		if cb.OnError != nil {
			cb.OnError(kind)
		}
	})
}

// SendAudio records chunk. Returns capture.ErrSessionClosed once ended.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return capture.ErrSessionClosed
	}
	s.AudioChunks = append(s.AudioChunks, append([]byte(nil), chunk...))
	return nil
}

// Stop ends the session silently when no terminal event has fired yet:
// only OnEnd is delivered, matching the cancelled-session contract.
func (s *Session) Stop() {
	s.mu.Lock()
	s.StopCalls++
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	cb := s.cb
	s.mu.Unlock()
	if cb.OnEnd != nil {
		cb.OnEnd()
	}
}

// Audio returns a copy of the chunks delivered so far.
func (s *Session) Audio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.AudioChunks...)
}

// Ended reports whether the session has delivered OnEnd.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *Session) terminate(deliver func(capture.Callbacks)) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	cb := s.cb
	s.mu.Unlock()

	deliver(cb)
	if cb.OnEnd != nil {
		cb.OnEnd()
	}
}
