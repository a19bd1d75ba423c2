package authgate

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authgate/store"
)

// Engine owns the authentication state. Every transition is applied, persisted and
// published while holding notifyMu, so subscribers see each state once and in order.
//
// Subscriber callbacks run synchronously. They may call [Engine.State] and the other
// read methods but must not start a transition, subscribe or cancel a subscription.
type Engine struct {
	config   Config
	session  store.Scope
	durable  store.Scope
	clock    Clock
	logger   *slog.Logger
	verifier TokenVerifier
	reporter ErrorReporter
	audit    *auditQueue
	metrics  *Metrics

	notifyMu sync.Mutex

	mu             sync.RWMutex
	state          AuthState
	failedUsername string
	subs           []*subscription
	nextSubID      uint64
	closed         bool
}

type subscription struct {
	id uint64
	fn func(AuthState)
}

func (e *Engine) now() time.Time {
	if e.clock != nil {
		return e.clock()
	}
	return time.Now()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// State returns a copy of the current state with IsLocked evaluated at the current time.
func (e *Engine) State() AuthState {
	if e == nil {
		return AuthState{}
	}
	e.mu.RLock()
	s := e.state.clone()
	e.mu.RUnlock()
	s.IsLocked = e.lockedAt(s, e.now())
	return s
}

// FailedUsername returns the username of the most recent failed login, or "".
func (e *Engine) FailedUsername() string {
	if e == nil {
		return ""
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.failedUsername
}

// RemainingLockout returns how long the lockout still holds at now, or 0 when unlocked.
func (e *Engine) RemainingLockout(now time.Time) time.Duration {
	if e == nil {
		return 0
	}
	e.mu.RLock()
	s := e.state
	e.mu.RUnlock()
	return e.remainingAt(s, now)
}

// lockoutPending reports whether the counter reached the threshold, regardless of
// whether the duration has elapsed.
func (e *Engine) lockoutPending(s AuthState) bool {
	return s.FailedAttempts >= e.config.Lockout.MaxFailedAttempts && !s.LastFailedAttempt.IsZero()
}

func (e *Engine) remainingAt(s AuthState, now time.Time) time.Duration {
	if !e.lockoutPending(s) {
		return 0
	}
	left := s.LastFailedAttempt.Add(e.config.Lockout.Duration).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

func (e *Engine) lockedAt(s AuthState, now time.Time) bool {
	return e.remainingAt(s, now) > 0
}

// Initialize rehydrates the state from both scopes and publishes it. Missing,
// unparsable or unreadable values are treated as absent, so Initialize never fails.
func (e *Engine) Initialize(ctx context.Context) AuthState {
	if e == nil {
		return AuthState{}
	}
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	loaded, failedUsername := e.load(ctx)
	loaded.IsLocked = e.lockedAt(loaded, e.now())

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return AuthState{}
	}
	e.state = loaded
	e.failedUsername = failedUsername
	e.mu.Unlock()

	e.publish(loaded)
	return loaded.clone()
}

// RecordSuccess marks user as authenticated with token and clears the failure
// tracking. It is rejected with a *LockedError while the lockout holds.
func (e *Engine) RecordSuccess(ctx context.Context, user User, token string) (AuthState, error) {
	if e == nil {
		return AuthState{}, ErrEngineNotReady
	}
	if token == "" || strings.TrimSpace(user.Username) == "" {
		return e.State(), validationError("user and token are required")
	}

	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	now := e.now()
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return AuthState{}, ErrEngineClosed
	}
	if left := e.remainingAt(e.state, now); left > 0 {
		s := e.state.clone()
		e.mu.Unlock()
		s.IsLocked = true
		return s, &LockedError{Remaining: left}
	}
	u := user
	e.state = AuthState{
		IsAuthenticated: true,
		User:            &u,
		Token:           token,
	}
	e.failedUsername = ""
	next := e.state.clone()
	e.mu.Unlock()

	err := errors.Join(
		e.writeSession(ctx, u, token),
		e.clearDurable(ctx),
	)
	e.publish(next)

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, u.Username, string(u.ID), nil, nil)
	return next, err
}

// RecordFailure counts one failed login for username and stamps it with the current
// time. Authenticated fields are left untouched.
func (e *Engine) RecordFailure(ctx context.Context, username string) (AuthState, error) {
	if e == nil {
		return AuthState{}, ErrEngineNotReady
	}
	username = strings.TrimSpace(username)

	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	now := e.now()
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return AuthState{}, ErrEngineClosed
	}
	e.state.FailedAttempts++
	e.state.LastFailedAttempt = now
	e.state.IsLocked = e.lockedAt(e.state, now)
	e.failedUsername = username
	next := e.state.clone()
	e.mu.Unlock()

	err := e.writeDurable(ctx, next.FailedAttempts, next.LastFailedAttempt, username)
	e.publish(next)

	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, username, "", ErrInvalidCredentials, func() map[string]string {
		return map[string]string{"failed_attempts": strconv.Itoa(next.FailedAttempts)}
	})
	if next.IsLocked {
		e.metricInc(MetricLockoutTriggered)
		e.emitAudit(ctx, auditEventAccountLocked, false, username, "", ErrAccountLocked, func() map[string]string {
			return map[string]string{"lockout": e.config.Lockout.Duration.String()}
		})
	}
	return next, err
}

// Logout clears the authenticated fields and the session scope. The failure tracking
// survives. Subscribers are notified even when nobody was logged in.
func (e *Engine) Logout(ctx context.Context) (AuthState, error) {
	if e == nil {
		return AuthState{}, ErrEngineNotReady
	}

	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	now := e.now()
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return AuthState{}, ErrEngineClosed
	}
	prev := e.state.clone()
	e.state.IsAuthenticated = false
	e.state.User = nil
	e.state.Token = ""
	e.state.IsLocked = e.lockedAt(e.state, now)
	next := e.state.clone()
	e.mu.Unlock()

	err := e.clearSession(ctx)
	e.publish(next)
	if !prev.IsAuthenticated {
		return next, err
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, prev.User.Username, string(prev.User.ID), nil, nil)
	return next, err
}

// ResetFailedAttempts clears the failure tracking and the durable scope. Calling it
// with nothing to clear persists and publishes nothing.
func (e *Engine) ResetFailedAttempts(ctx context.Context) (AuthState, error) {
	if e == nil {
		return AuthState{}, ErrEngineNotReady
	}

	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	now := e.now()
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return AuthState{}, ErrEngineClosed
	}
	prev := e.state.clone()
	if prev.FailedAttempts == 0 && prev.LastFailedAttempt.IsZero() && e.failedUsername == "" {
		e.mu.Unlock()
		return prev, nil
	}
	username := e.failedUsername
	e.state.FailedAttempts = 0
	e.state.LastFailedAttempt = time.Time{}
	e.state.IsLocked = false
	e.failedUsername = ""
	next := e.state.clone()
	e.mu.Unlock()

	err := e.clearDurable(ctx)
	e.publish(next)

	if e.lockoutPending(prev) && !e.lockedAt(prev, now) {
		e.metricInc(MetricLockoutExpired)
		e.emitAudit(ctx, auditEventLockoutExpired, true, username, "", nil, nil)
	}
	return next, err
}

// Subscribe registers fn and immediately calls it with the current state. fn then
// receives every later transition. The returned cancel waits for an in-flight
// delivery and must not be called from inside a callback.
func (e *Engine) Subscribe(fn func(AuthState)) (cancel func()) {
	if e == nil || fn == nil {
		return func() {}
	}

	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return func() {}
	}
	e.nextSubID++
	sub := &subscription{id: e.nextSubID, fn: fn}
	e.subs = append(e.subs, sub)
	e.mu.Unlock()

	fn(e.State())

	var once sync.Once
	return func() {
		once.Do(func() {
			e.notifyMu.Lock()
			defer e.notifyMu.Unlock()
			e.mu.Lock()
			defer e.mu.Unlock()
			for i, s := range e.subs {
				if s.id == sub.id {
					e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// publish must be called with notifyMu held.
func (e *Engine) publish(s AuthState) {
	e.mu.RLock()
	subs := append([]*subscription(nil), e.subs...)
	e.mu.RUnlock()

	for _, sub := range subs {
		sub.fn(s.clone())
	}
}

// Close drops every subscription and flushes the audit dispatcher. No callback fires
// after Close returns, and later transitions fail with ErrEngineClosed.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.notifyMu.Lock()
	e.mu.Lock()
	e.closed = true
	e.subs = nil
	e.mu.Unlock()
	e.notifyMu.Unlock()

	e.audit.shutdown()
}

// AuditDropped returns how many audit events were dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.droppedEvents()
}

// MetricsSnapshot returns a copy of the engine and controller counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) reportError(ctx context.Context, err error) {
	if e == nil || e.reporter == nil || err == nil {
		return
	}
	e.reporter.Report(ctx, err)
}
