// Package capture defines the Provider interface for speech-capture backends.
//
// A capture backend wraps one utterance-sized speech-recognition cycle
// (e.g., a Deepgram streaming socket or a local whisper.cpp context) and
// exposes it through a uniform callback contract. The central abstraction is
// Handle: once a session is started, the backend pushes zero or more interim
// transcripts followed by exactly one terminal event — a final transcript or
// an error kind — and then an end notification.
//
// Event ordering guarantees every implementation must honour:
//
//  1. OnStart fires once, when audio capture actually begins.
//  2. OnInterim may fire zero or more times with partial text.
//  3. Exactly one terminal event fires: OnFinal (completed transcript) or
//     OnError (an ErrorKind). Stop before any result suppresses both.
//  4. OnEnd fires last, exactly once, on every path including Stop.
//
// Implementations must be safe for concurrent use; callbacks are invoked
// from a single backend-owned goroutine so callers never see two events
// in flight at once.
package capture

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by Handle.SendAudio after the session has
// reached its terminal event.
var ErrSessionClosed = errors.New("capture: session closed")

// ErrorKind classifies the terminal error of a capture session.
type ErrorKind string

const (
	// ErrorNoInput means the backend detected no speech before its silence
	// window elapsed. Recoverable; no trial should be recorded.
	ErrorNoInput ErrorKind = "no-input"

	// ErrorAborted means the user (or owner code) cancelled the session.
	// Must never be surfaced as a user-facing error.
	ErrorAborted ErrorKind = "aborted"

	// ErrorTransport means the backend failed to initialise or lost its
	// connection mid-session.
	ErrorTransport ErrorKind = "transport"

	// ErrorUnsupported means the backend cannot run on this platform or
	// configuration at all.
	ErrorUnsupported ErrorKind = "unsupported"
)

// UserFacing reports whether this error kind should produce visible feedback.
// Aborts are user-initiated and stay silent.
func (k ErrorKind) UserFacing() bool {
	return k != ErrorAborted
}

// Callbacks carries the event handlers for one capture session. Any field may
// be nil; nil handlers are skipped.
type Callbacks struct {
	// OnStart fires once when the backend begins accepting audio.
	OnStart func()

	// OnInterim delivers low-latency partial text. Suitable for live UI
	// display only; never score or persist interim text.
	OnInterim func(text string)

	// OnFinal delivers the completed transcript. Terminal.
	OnFinal func(text string)

	// OnError delivers the terminal error kind. Terminal.
	OnError func(kind ErrorKind)

	// OnEnd fires after the terminal event (or after Stop with no result).
	OnEnd func()
}

// Request configures a new capture session.
type Request struct {
	// TargetHint is the expected utterance (or space-joined candidate set).
	// Backends that support vocabulary boosting use it to raise recognition
	// probability for the therapy target; others ignore it.
	TargetHint string

	// Language is the BCP-47 recognition language tag (e.g., "en-US").
	// Empty lets the backend use its configured default.
	Language string

	// Callbacks receives the session's events.
	Callbacks Callbacks
}

// Handle represents one running capture session.
//
// Callers must eventually call Stop (it is idempotent) to release backend
// resources; an open microphone stream or recognition socket surviving its
// owner is a defect.
type Handle interface {
	// SendAudio delivers a chunk of 16-bit little-endian mono PCM to the
	// backend. Backends that source audio themselves may reject it with
	// ErrSessionClosed or ignore it. Calling SendAudio after the terminal
	// event returns ErrSessionClosed.
	SendAudio(chunk []byte) error

	// Stop requests early termination. If no terminal event has fired yet
	// the session ends silently: OnEnd fires, OnFinal/OnError do not.
	// Safe to call multiple times and from any goroutine.
	Stop()
}

// Provider is the abstraction over any speech-capture backend.
//
// Implementations must be safe for concurrent use; multiple sessions may be
// open at once (one per engine instance).
type Provider interface {
	// Start opens a new capture session. The returned Handle is live
	// immediately; req.Callbacks.OnStart fires once the backend is ready
	// for audio.
	//
	// A non-nil error means the session never started and no callbacks
	// will fire. Callers own the Handle and must call Stop when done.
	Start(ctx context.Context, req Request) (Handle, error)

	// Name identifies the backend for logs and metrics (e.g., "deepgram",
	// "whisper").
	Name() string
}
