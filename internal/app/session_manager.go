package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aphelia-health/aphelia/internal/curriculum"
	"github.com/aphelia-health/aphelia/internal/engine"
	"github.com/aphelia-health/aphelia/internal/match"
	"github.com/aphelia-health/aphelia/internal/observe"
	"github.com/aphelia-health/aphelia/internal/trial"
	"github.com/aphelia-health/aphelia/internal/worksheet"
	"github.com/aphelia-health/aphelia/pkg/capture"
	"github.com/aphelia-health/aphelia/pkg/capture/route"
	"github.com/aphelia-health/aphelia/pkg/types"
)

// commitTimeout bounds the progress pointer write after a completed day.
const commitTimeout = 10 * time.Second

// Session lifecycle errors.
var (
	ErrSessionActive   = errors.New("app: session already active for user")
	ErrNoSession       = errors.New("app: no active session for user")
	ErrDayLocked       = errors.New("app: day is locked for the free tier")
	ErrUnknownDay      = errors.New("app: day is not in the therapy plan")
	ErrUnknownScenario = errors.New("app: unknown scenario")
)

// SessionInfo holds metadata about an active therapy session.
type SessionInfo struct {
	// UserID is the patient the session belongs to.
	UserID string

	// Day is the therapy day being worked, 0 for scenario sessions.
	Day int

	// ScenarioID is the roleplay scenario ID, empty for day sessions.
	ScenarioID string

	// Backend names the capture backend the routing policy selected.
	Backend string

	// StartedAt is when the session was started.
	StartedAt time.Time
}

// SessionView is a point-in-time snapshot of a session for rendering.
type SessionView struct {
	Info      SessionInfo
	Engine    engine.Snapshot
	TaskIndex int
	TaskCount int
	Complete  bool
}

// therapySession bundles one patient's running engine and sequencer.
type therapySession struct {
	info SessionInfo
	eng  *engine.Engine
	seq  *worksheet.Sequencer
	done bool
}

// SessionManager owns the lifecycle of therapy sessions. Each patient has
// at most one active session; all exported methods are safe for
// concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*therapySession

	library  *curriculum.Library
	router   *route.Router
	matcher  *match.Matcher
	recorder trial.Recorder
	progress ProgressStore
	metrics  *observe.Metrics
	delays   engine.Delays
}

// SessionManagerConfig holds the dependencies for a [SessionManager].
// Library, Router, and Progress are required; Matcher defaults to
// [match.New], zero Delays keep the engine defaults.
type SessionManagerConfig struct {
	Library  *curriculum.Library
	Router   *route.Router
	Matcher  *match.Matcher
	Recorder trial.Recorder
	Progress ProgressStore
	Metrics  *observe.Metrics
	Delays   engine.Delays
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	m := &SessionManager{
		sessions: make(map[string]*therapySession),
		library:  cfg.Library,
		router:   cfg.Router,
		matcher:  cfg.Matcher,
		recorder: cfg.Recorder,
		progress: cfg.Progress,
		metrics:  cfg.Metrics,
		delays:   cfg.Delays,
	}
	if m.matcher == nil {
		m.matcher = match.New()
	}
	if m.progress == nil {
		m.progress = NewMemProgress()
	}
	return m
}

// SetDelays replaces the engine timer durations for sessions started after
// the call. Running sessions keep the delays they were built with.
func (sm *SessionManager) SetDelays(d engine.Delays) {
	sm.mu.Lock()
	sm.delays = d
	sm.mu.Unlock()
}

// SetMatcher replaces the transcript matcher for sessions started after
// the call. Passing nil keeps the current matcher.
func (sm *SessionManager) SetMatcher(m *match.Matcher) {
	if m == nil {
		return
	}
	sm.mu.Lock()
	sm.matcher = m
	sm.mu.Unlock()
}

// StartDay begins a therapy session for the given day. Free-tier patients
// may only work day 1; admins and premium patients reach the full plan.
// Returns [ErrSessionActive] when the patient already has a session.
func (sm *SessionManager) StartDay(ctx context.Context, profile types.Profile, day int) (SessionInfo, error) {
	if day > 1 && profile.Tier != types.TierPremium && profile.Role != types.RoleAdmin {
		return SessionInfo{}, fmt.Errorf("%w: day %d", ErrDayLocked, day)
	}

	tasks, ok := sm.library.DayTasks(day)
	if !ok || len(tasks) == 0 {
		return SessionInfo{}, fmt.Errorf("%w: day %d", ErrUnknownDay, day)
	}

	userID := profile.UserID
	provider := sm.router.For(profile)

	onComplete := func() {
		sm.commitDay(userID, day)
	}
	seq := worksheet.New(tasks, onComplete)

	info := SessionInfo{
		UserID:    userID,
		Day:       day,
		Backend:   provider.Name(),
		StartedAt: time.Now().UTC(),
	}
	return info, sm.install(ctx, info, provider, seq)
}

// StartScenario begins a roleplay scenario session, chaining the scenario
// steps as the task list.
func (sm *SessionManager) StartScenario(ctx context.Context, profile types.Profile, scenarioID string) (SessionInfo, error) {
	s := sm.library.Scenario(scenarioID)
	if s == nil {
		return SessionInfo{}, fmt.Errorf("%w: %q", ErrUnknownScenario, scenarioID)
	}

	userID := profile.UserID
	provider := sm.router.For(profile)

	seq := worksheet.NewScenario(s, func() {
		slog.Info("scenario complete", "user_id", userID, "scenario", scenarioID)
	})

	info := SessionInfo{
		UserID:     userID,
		ScenarioID: scenarioID,
		Backend:    provider.Name(),
		StartedAt:  time.Now().UTC(),
	}
	return info, sm.install(ctx, info, provider, seq)
}

// install builds the engine for a prepared sequencer and registers the
// session under its user.
func (sm *SessionManager) install(ctx context.Context, info SessionInfo, provider capture.Provider, seq *worksheet.Sequencer) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, exists := sm.sessions[info.UserID]; exists {
		return fmt.Errorf("%w: %s", ErrSessionActive, info.UserID)
	}

	first := seq.Current()
	if first == nil {
		return fmt.Errorf("app: session for %s has no tasks", info.UserID)
	}

	userID := info.UserID
	eng := engine.New(engine.Deps{
		Capture:  provider,
		Matcher:  sm.matcher,
		Recorder: sm.recorder,
		Metrics:  sm.metrics,
		UserID:   userID,
		OnSuccess: func() {
			sm.advance(userID)
		},
	}, engine.WithDelays(sm.delays))
	eng.SetTask(first)

	sm.sessions[userID] = &therapySession{info: info, eng: eng, seq: seq}
	sm.metrics.AddActiveSessions(ctx, 1)

	slog.Info("session started",
		"user_id", userID,
		"day", info.Day,
		"scenario", info.ScenarioID,
		"backend", info.Backend,
		"tasks", seq.Len(),
	)
	return nil
}

// Stop tears down the patient's active session, cancelling any in-flight
// capture.
func (sm *SessionManager) Stop(ctx context.Context, userID string) error {
	sm.mu.Lock()
	sess, ok := sm.sessions[userID]
	if ok {
		delete(sm.sessions, userID)
	}
	sm.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, userID)
	}

	sess.eng.Close()
	sm.metrics.AddActiveSessions(ctx, -1)
	slog.Info("session stopped", "user_id", userID)
	return nil
}

// StopAll tears down every active session. Used during server shutdown.
func (sm *SessionManager) StopAll(ctx context.Context) {
	sm.mu.Lock()
	sessions := sm.sessions
	sm.sessions = make(map[string]*therapySession)
	sm.mu.Unlock()

	for userID, sess := range sessions {
		sess.eng.Close()
		sm.metrics.AddActiveSessions(ctx, -1)
		slog.Info("session stopped", "user_id", userID)
	}
}

// advance moves the sequencer forward after a verified success and feeds
// the engine its next task. Runs on the engine's success timer.
func (sm *SessionManager) advance(userID string) {
	sm.mu.Lock()
	sess, ok := sm.sessions[userID]
	if !ok || sess.done {
		sm.mu.Unlock()
		return
	}
	next, done := sess.seq.Advance()
	if done {
		sess.done = true
	}
	eng := sess.eng
	sm.mu.Unlock()

	// SetTask outside the manager lock; it stops capture and timers.
	if !done {
		eng.SetTask(next)
	}
}

// commitDay persists the day-complete progress pointer. Persistence
// failures are logged and never surface to the session.
func (sm *SessionManager) commitDay(userID string, day int) {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()

	next := day + 1
	if err := sm.progress.SetDay(ctx, userID, next); err != nil {
		slog.Error("day progress commit failed", "user_id", userID, "day", next, "err", err)
		return
	}
	slog.Info("day complete", "user_id", userID, "next_day", next)
}

// ToggleCapture starts or stops the microphone for the session's current
// task.
func (sm *SessionManager) ToggleCapture(ctx context.Context, userID string) error {
	sess, err := sm.session(userID)
	if err != nil {
		return err
	}
	return sess.eng.ToggleCapture(ctx)
}

// SendAudio forwards recognition-ready PCM to the session's open capture.
// Chunks arriving while no capture is open surface the engine's
// [capture.ErrSessionClosed].
func (sm *SessionManager) SendAudio(userID string, chunk []byte) error {
	sess, err := sm.session(userID)
	if err != nil {
		return err
	}
	return sess.eng.SendAudio(chunk)
}

// RequestHint escalates the hint level and returns the new level.
func (sm *SessionManager) RequestHint(userID string) (int, error) {
	sess, err := sm.session(userID)
	if err != nil {
		return 0, err
	}
	return sess.eng.RequestHint(), nil
}

// SelectFallback resolves a touch fallback selection.
func (sm *SessionManager) SelectFallback(userID, option string) error {
	sess, err := sm.session(userID)
	if err != nil {
		return err
	}
	return sess.eng.SelectFallback(option)
}

// PlaceStep places an available sequencing item onto the board.
func (sm *SessionManager) PlaceStep(userID string, item int) error {
	sess, err := sm.session(userID)
	if err != nil {
		return err
	}
	return sess.eng.PlaceStep(item)
}

// RemoveStep clears a filled sequencing slot.
func (sm *SessionManager) RemoveStep(userID string, slot int) error {
	sess, err := sm.session(userID)
	if err != nil {
		return err
	}
	return sess.eng.RemoveStep(slot)
}

// View returns the session's current state for rendering.
func (sm *SessionManager) View(userID string) (SessionView, error) {
	sm.mu.Lock()
	sess, ok := sm.sessions[userID]
	sm.mu.Unlock()
	if !ok {
		return SessionView{}, fmt.Errorf("%w: %s", ErrNoSession, userID)
	}

	return SessionView{
		Info:      sess.info,
		Engine:    sess.eng.Snapshot(),
		TaskIndex: sess.seq.Index(),
		TaskCount: sess.seq.Len(),
		Complete:  sess.seq.Done(),
	}, nil
}

// Active reports whether the patient has a running session.
func (sm *SessionManager) Active(userID string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	_, ok := sm.sessions[userID]
	return ok
}

// session looks up the patient's running session.
func (sm *SessionManager) session(userID string) (*therapySession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sess, ok := sm.sessions[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, userID)
	}
	return sess, nil
}
