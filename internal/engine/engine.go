// Package engine implements the per-task trial state machine.
//
// One Engine instance drives one task at a time: it owns the capture
// session lifecycle, scores final transcripts through the fuzzy matcher,
// escalates hints, reveals the timed touch fallback, and records one trial
// attempt per scored utterance. The state machine is shared across all task
// variants; per-variant behaviour (scoring lane, feedback text, fallback
// option set) is supplied by a small strategy object selected from the
// task's variant tag.
//
// All externally triggered operations and all capture callbacks are
// serialised through one mutex, so callers may drive the engine from any
// goroutine. Timer-driven transitions (fallback reveal, success display
// delay, sequencing soft reset) carry the generation counter current when
// they were scheduled and are discarded if the task changed in the
// meantime.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/aphelia-health/aphelia/internal/curriculum"
	"github.com/aphelia-health/aphelia/internal/match"
	"github.com/aphelia-health/aphelia/internal/observe"
	"github.com/aphelia-health/aphelia/internal/trial"
	"github.com/aphelia-health/aphelia/pkg/capture"
)

// State is the engine's coarse task state.
type State int

const (
	// StateIdle accepts capture starts, hint requests, and touch input.
	StateIdle State = iota

	// StateCapturing has an open capture session; terminal capture events
	// drive the next transition.
	StateCapturing

	// StateSucceeded is terminal for the task instance; only a task change
	// leaves it.
	StateSucceeded
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateSucceeded:
		return "succeeded"
	}
	return "unknown"
}

// maxHintLevel is the full-answer reveal tier; a further request wraps
// back to level 1.
const maxHintLevel = 3

// Patient-facing feedback for capture outcomes that are not scored.
const (
	msgNoInput       = "I didn't hear anything."
	msgTransport     = "I couldn't hear you clearly."
	msgFallbackWrong = "Not quite. Have another look."
)

// Sentinel errors returned by engine operations.
var (
	// ErrNoTask means no task has been set yet.
	ErrNoTask = fmt.Errorf("engine: no active task")

	// ErrCaptureActive rejects a second capture start while one session
	// is open.
	ErrCaptureActive = fmt.Errorf("engine: capture already active")

	// ErrTaskComplete rejects input after the task succeeded.
	ErrTaskComplete = fmt.Errorf("engine: task already complete")

	// ErrNoSpeech rejects capture operations on a task variant without a
	// speech component.
	ErrNoSpeech = fmt.Errorf("engine: task variant has no speech component")

	// ErrNotSequencing rejects board operations on non-sequencing tasks.
	ErrNotSequencing = fmt.Errorf("engine: task variant has no sequencing board")

	// ErrFallbackHidden rejects a fallback selection before the panel is
	// revealed.
	ErrFallbackHidden = fmt.Errorf("engine: fallback panel not revealed")

	// ErrClosed rejects operations after Close.
	ErrClosed = fmt.Errorf("engine: closed")
)

// Delays holds the engine's timer durations. The zero value of any field
// falls back to the matching default.
type Delays struct {
	// Fallback is the wait before the touch-fallback panel is revealed.
	Fallback time.Duration

	// Success is the display pause between success feedback and the
	// completion callback.
	Success time.Duration

	// SoftReset is the pause before a wrong full sequencing board is
	// cleared and reshuffled.
	SoftReset time.Duration
}

// DefaultDelays are the production timer durations.
var DefaultDelays = Delays{
	Fallback:  7 * time.Second,
	Success:   2500 * time.Millisecond,
	SoftReset: 2500 * time.Millisecond,
}

// Deps bundles the engine's collaborators. Capture and Matcher are
// required; Recorder, Metrics, and OnSuccess may be nil.
type Deps struct {
	// Capture starts speech sessions for the patient.
	Capture capture.Provider

	// Matcher scores transcripts against targets.
	Matcher *match.Matcher

	// Recorder receives one Attempt per non-empty final transcript.
	Recorder trial.Recorder

	// Metrics receives trial/capture telemetry; nil disables it.
	Metrics *observe.Metrics

	// UserID identifies the patient on recorded attempts.
	UserID string

	// OnSuccess is invoked once per task instance, after the success
	// display delay. The caller owns advancement.
	OnSuccess func()
}

// Option configures an Engine.
type Option func(*Engine)

// WithDelays overrides the timer durations; zero fields keep defaults.
func WithDelays(d Delays) Option {
	return func(e *Engine) {
		if d.Fallback > 0 {
			e.delays.Fallback = d.Fallback
		}
		if d.Success > 0 {
			e.delays.Success = d.Success
		}
		if d.SoftReset > 0 {
			e.delays.SoftReset = d.SoftReset
		}
	}
}

// Engine is the per-task trial state machine. Create one with [New], feed
// it tasks with [Engine.SetTask], and drive it through the capture, hint,
// fallback, and board operations. Safe for concurrent use.
type Engine struct {
	delays Delays
	deps   Deps

	mu    sync.Mutex
	state State
	task  *curriculum.Task
	strat strategy

	// gen increments on every task change and on Close. Capture callbacks
	// and timer closures carry the generation they were created under and
	// are ignored once it is stale.
	gen uint64

	hintLevel  int
	feedback   string
	interim    string
	succeeded  bool
	trialStart time.Time
	handle     capture.Handle
	closed     bool

	// rng is seeded once per task so that fallback and board shuffles
	// stay fixed for the task instance.
	rng *rand.Rand

	fallbackVisible bool
	fallbackOptions []string

	board *Board

	fallbackTimer *time.Timer
	successTimer  *time.Timer
	resetTimer    *time.Timer
}

// New creates an Engine with no active task.
func New(deps Deps, opts ...Option) *Engine {
	e := &Engine{
		deps:   deps,
		delays: DefaultDelays,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetTask makes t the active task and fully resets the engine: any
// in-flight capture is stopped, hint level, feedback, success flag, and
// timers are cleared, and the task-scoped shuffle is drawn once. Passing
// nil clears the active task.
func (e *Engine) SetTask(t *curriculum.Task) {
	e.mu.Lock()
	e.gen++
	e.clearTimersLocked()
	stale := e.handle
	e.handle = nil

	e.state = StateIdle
	e.task = t
	e.hintLevel = 0
	e.feedback = ""
	e.interim = ""
	e.succeeded = false
	e.trialStart = time.Time{}
	e.fallbackVisible = false
	e.fallbackOptions = nil
	e.board = nil

	if t != nil {
		e.strat = strategyFor(t.Variant)
		e.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))

		if opts := e.strat.fallbackOptions(t); len(opts) > 0 {
			e.fallbackOptions = append([]string(nil), opts...)
			e.rng.Shuffle(len(e.fallbackOptions), func(i, j int) {
				e.fallbackOptions[i], e.fallbackOptions[j] = e.fallbackOptions[j], e.fallbackOptions[i]
			})
			e.armFallbackLocked()
		}
		if t.Variant == curriculum.VariantSequencing {
			e.board = NewBoard(t.Steps, e.rng)
		}
	} else {
		e.strat = nil
		e.rng = nil
	}
	e.mu.Unlock()

	if stale != nil {
		stale.Stop()
	}
}

// armFallbackLocked schedules the one-shot fallback reveal. Never re-armed
// within one task instance.
func (e *Engine) armFallbackLocked() {
	g := e.gen
	e.fallbackTimer = time.AfterFunc(e.delays.Fallback, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.gen != g || e.succeeded {
			return
		}
		e.fallbackVisible = true
		e.deps.Metrics.RecordFallbackReveal(context.Background(), string(e.task.Variant))
	})
}

// clearTimersLocked stops every pending timer.
func (e *Engine) clearTimersLocked() {
	for _, t := range []*time.Timer{e.fallbackTimer, e.successTimer, e.resetTimer} {
		if t != nil {
			t.Stop()
		}
	}
	e.fallbackTimer, e.successTimer, e.resetTimer = nil, nil, nil
}

// StartCapture opens a capture session for the active task. Exactly one
// session may be open per engine; a start while one is active returns
// [ErrCaptureActive].
func (e *Engine) StartCapture(ctx context.Context) error {
	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		return ErrClosed
	case e.task == nil:
		e.mu.Unlock()
		return ErrNoTask
	case !e.strat.speech():
		e.mu.Unlock()
		return ErrNoSpeech
	case e.succeeded:
		e.mu.Unlock()
		return ErrTaskComplete
	case e.state == StateCapturing:
		e.mu.Unlock()
		return ErrCaptureActive
	}

	g := e.gen
	e.state = StateCapturing
	e.feedback = ""
	e.interim = ""
	e.trialStart = time.Now()
	req := capture.Request{
		TargetHint: e.strat.recordTarget(e.task),
		Callbacks: capture.Callbacks{
			OnStart:   func() {},
			OnInterim: func(text string) { e.onInterim(g, text) },
			OnFinal:   func(text string) { e.onFinal(g, text) },
			OnError:   func(kind capture.ErrorKind) { e.onError(g, kind) },
			OnEnd:     func() { e.onEnd(g) },
		},
	}
	e.mu.Unlock()

	// The gauge goes up before Start and comes down exactly once: in the
	// error path below when the session never opened, or through onEnd on
	// every other path. Backends may fire a terminal event synchronously
	// inside Start, so incrementing after it returns would let onEnd
	// decrement first.
	e.deps.Metrics.AddActiveCaptures(ctx, 1)

	// Start outside the lock: backends may fire OnStart (or even a
	// terminal event) synchronously.
	h, err := e.deps.Capture.Start(ctx, req)

	e.mu.Lock()
	if e.gen != g {
		e.mu.Unlock()
		if h != nil {
			// Stop delivers OnEnd, which settles the gauge.
			h.Stop()
		} else {
			e.deps.Metrics.AddActiveCaptures(ctx, -1)
		}
		return nil
	}
	if err != nil {
		e.state = StateIdle
		e.trialStart = time.Time{}
		e.feedback = msgTransport
		e.mu.Unlock()
		e.deps.Metrics.AddActiveCaptures(ctx, -1)
		e.deps.Metrics.RecordCaptureError(ctx, e.deps.Capture.Name(), string(capture.ErrorTransport))
		return fmt.Errorf("engine: start capture: %w", err)
	}
	e.handle = h
	e.mu.Unlock()
	return nil
}

// StopCapture requests early termination of the open capture session, if
// any. The state transition happens when the backend emits its events.
func (e *Engine) StopCapture() {
	e.mu.Lock()
	h := e.handle
	e.mu.Unlock()
	if h != nil {
		h.Stop()
	}
}

// SendAudio forwards a chunk of 16-bit mono PCM to the open capture
// session. With no session open it returns [capture.ErrSessionClosed],
// which callers streaming ahead of a capture start may treat as a dropped
// frame rather than a failure.
func (e *Engine) SendAudio(chunk []byte) error {
	e.mu.Lock()
	h := e.handle
	e.mu.Unlock()
	if h == nil {
		return capture.ErrSessionClosed
	}
	return h.SendAudio(chunk)
}

// ToggleCapture stops the session when one is open and starts one
// otherwise.
func (e *Engine) ToggleCapture(ctx context.Context) error {
	e.mu.Lock()
	capturing := e.state == StateCapturing
	e.mu.Unlock()
	if capturing {
		e.StopCapture()
		return nil
	}
	return e.StartCapture(ctx)
}

func (e *Engine) onInterim(g uint64, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != g || e.state != StateCapturing {
		return
	}
	e.interim = text
}

func (e *Engine) onFinal(g uint64, text string) {
	e.mu.Lock()
	if e.gen != g || e.state != StateCapturing {
		e.mu.Unlock()
		return
	}
	latency := time.Since(e.trialStart)
	e.trialStart = time.Time{}
	e.interim = ""

	perceived := match.Normalize(text)
	if perceived == "" {
		// Nothing to score; no attempt is recorded.
		e.state = StateIdle
		e.feedback = msgNoInput
		e.mu.Unlock()
		return
	}

	pass, score := e.strat.evaluate(e.deps.Matcher, e.task, perceived)
	variant := string(e.task.Variant)
	attempt := trial.Attempt{
		UserID:     e.deps.UserID,
		TaskID:     e.task.ID(),
		Target:     e.strat.recordTarget(e.task),
		Perceived:  perceived,
		Similarity: score,
		Latency:    latency,
		Timestamp:  time.Now().UTC(),
	}

	if pass {
		e.succeedLocked()
	} else {
		e.state = StateIdle
		e.feedback = e.strat.retryMessage(perceived)
	}
	e.mu.Unlock()

	if e.deps.Recorder != nil {
		e.deps.Recorder.Record(attempt)
	}
	ctx := context.Background()
	e.deps.Metrics.RecordTrialOutcome(ctx, variant, pass)
	e.deps.Metrics.RecordCapture(ctx, e.deps.Capture.Name(), variant, outcomeLabel(pass), latency)
}

func outcomeLabel(pass bool) string {
	if pass {
		return "pass"
	}
	return "retry"
}

func (e *Engine) onError(g uint64, kind capture.ErrorKind) {
	e.mu.Lock()
	if e.gen != g || e.state != StateCapturing {
		e.mu.Unlock()
		return
	}
	e.state = StateIdle
	e.trialStart = time.Time{}
	e.interim = ""
	variant := string(e.task.Variant)

	switch kind {
	case capture.ErrorNoInput:
		e.feedback = msgNoInput
	case capture.ErrorAborted:
		// Patient-initiated cancel, not a failure.
	default:
		e.feedback = msgTransport
	}
	e.mu.Unlock()

	if kind != capture.ErrorAborted {
		slog.Warn("engine: capture ended with error",
			"user_id", e.deps.UserID,
			"variant", variant,
			"kind", string(kind),
		)
		e.deps.Metrics.RecordCaptureError(context.Background(), e.deps.Capture.Name(), string(kind))
	}
}

func (e *Engine) onEnd(g uint64) {
	// The session is gone regardless of whether the task changed.
	e.deps.Metrics.AddActiveCaptures(context.Background(), -1)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != g {
		return
	}
	e.handle = nil
	if e.state == StateCapturing {
		// Stopped before any result: a cancelled cycle, nothing scored.
		e.state = StateIdle
		e.trialStart = time.Time{}
		e.interim = ""
	}
}

// succeedLocked moves the task to its terminal state and schedules the
// completion callback after the success display delay.
func (e *Engine) succeedLocked() {
	e.state = StateSucceeded
	e.succeeded = true
	e.feedback = e.strat.successMessage()
	e.fallbackVisible = false
	if e.fallbackTimer != nil {
		e.fallbackTimer.Stop()
		e.fallbackTimer = nil
	}

	g := e.gen
	e.successTimer = time.AfterFunc(e.delays.Success, func() {
		e.mu.Lock()
		stale := e.gen != g
		e.mu.Unlock()
		if stale || e.deps.OnSuccess == nil {
			return
		}
		e.deps.OnSuccess()
	})
}

// RequestHint escalates the hint level (0→1→2→3→1…) and returns the new
// level. A request while capturing, after success, or without an active
// speech task is a no-op and returns the current level.
func (e *Engine) RequestHint() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.task == nil || !e.strat.speech() || e.state == StateCapturing || e.succeeded {
		return e.hintLevel
	}
	if e.hintLevel >= maxHintLevel {
		e.hintLevel = 1
	} else {
		e.hintLevel++
	}
	e.deps.Metrics.RecordHintRequest(context.Background(), e.hintLevel)
	return e.hintLevel
}

// SelectFallback scores a tap on the revealed touch-fallback panel. The
// correct option completes the task through the normal success path; no
// trial attempt is recorded for touch input. A capture session still open
// at the moment of a correct tap is stopped so the microphone does not
// outlive the task.
func (e *Engine) SelectFallback(option string) error {
	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		return ErrClosed
	case e.task == nil:
		e.mu.Unlock()
		return ErrNoTask
	case e.succeeded:
		e.mu.Unlock()
		return ErrTaskComplete
	case !e.fallbackVisible:
		e.mu.Unlock()
		return ErrFallbackHidden
	}
	var open capture.Handle
	if option == e.task.FallbackCorrect {
		if e.state == StateCapturing {
			open = e.handle
			e.trialStart = time.Time{}
			e.interim = ""
		}
		e.succeedLocked()
	} else {
		e.feedback = msgFallbackWrong
	}
	e.mu.Unlock()

	if open != nil {
		open.Stop()
	}
	return nil
}

// PlaceStep places the i-th available item (by board position) into the
// first empty slot of the sequencing board. Filling the last slot triggers
// the win check: a correct order succeeds, a wrong one soft-resets the
// board with a fresh shuffle after a pause. Placements during the pause
// are ignored.
func (e *Engine) PlaceStep(i int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.closed:
		return ErrClosed
	case e.task == nil:
		return ErrNoTask
	case e.board == nil:
		return ErrNotSequencing
	case e.succeeded:
		return ErrTaskComplete
	}
	if e.resetTimer != nil {
		return nil
	}
	if err := e.board.Place(i); err != nil {
		return err
	}
	if !e.board.Full() {
		return nil
	}
	if e.board.Win() {
		e.succeedLocked()
		return nil
	}

	g := e.gen
	e.resetTimer = time.AfterFunc(e.delays.SoftReset, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.gen != g {
			return
		}
		e.resetTimer = nil
		e.board.Reset(e.rng)
	})
	return nil
}

// RemoveStep clears the given slot of the sequencing board, returning its
// item to the available pool.
func (e *Engine) RemoveStep(slot int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.closed:
		return ErrClosed
	case e.task == nil:
		return ErrNoTask
	case e.board == nil:
		return ErrNotSequencing
	case e.succeeded:
		return ErrTaskComplete
	}
	if e.resetTimer != nil {
		return nil
	}
	return e.board.Remove(slot)
}

// Snapshot is a point-in-time copy of the engine's presentable state.
type Snapshot struct {
	State           State
	HintLevel       int
	HintText        string
	Feedback        string
	Interim         string
	Succeeded       bool
	FallbackVisible bool
	FallbackOptions []string
	Board           *BoardView
}

// Snapshot returns the current presentable state. The returned value is
// detached; later engine transitions do not modify it.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Snapshot{
		State:     e.state,
		HintLevel: e.hintLevel,
		Feedback:  e.feedback,
		Interim:   e.interim,
		Succeeded: e.succeeded,
	}
	if e.task != nil {
		s.HintText = e.task.Hints.Level(e.hintLevel)
	}
	if e.fallbackVisible {
		s.FallbackVisible = true
		s.FallbackOptions = append([]string(nil), e.fallbackOptions...)
	}
	if e.board != nil {
		v := e.board.View()
		s.Board = &v
	}
	return s
}

// Close tears the engine down: the active capture is stopped and all
// timers are cancelled. Safe to call multiple times.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.gen++
	e.clearTimersLocked()
	h := e.handle
	e.handle = nil
	e.mu.Unlock()

	if h != nil {
		h.Stop()
	}
}
