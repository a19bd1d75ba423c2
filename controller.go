package authgate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Controller runs the login flow for one client: check the username, learn whether a
// password exists, then create it or log in. Operations are serialized; every one
// returns a displayable [FlowState] and an error that classifies the outcome.
type Controller struct {
	engine  *Engine
	backend Backend
	flowCfg FlowConfig
	maxFail int

	opMu sync.Mutex

	mu   sync.RWMutex
	flow FlowState

	unsubscribe func()

	// opsCtx is cancelled by Close to abort in-flight backend calls.
	opsCtx    context.Context
	cancelOps context.CancelFunc

	tickMu    sync.Mutex
	stopTick  context.CancelFunc
	tickWG    sync.WaitGroup
	closed    bool
	closeOnce sync.Once
}

// NewController binds backend to engine and subscribes to engine transitions. Call
// [Controller.Start] to run the lockout ticker and [Controller.Close] to release both.
func NewController(engine *Engine, backend Backend) (*Controller, error) {
	if engine == nil || backend == nil {
		return nil, ErrEngineNotReady
	}
	c := &Controller{
		engine:  engine,
		backend: backend,
		flowCfg: engine.config.Flow,
		maxFail: engine.config.Lockout.MaxFailedAttempts,
	}
	c.flow.RemainingAttempts = c.maxFail
	c.opsCtx, c.cancelOps = context.WithCancel(context.Background())
	c.unsubscribe = engine.Subscribe(c.onState)
	return c, nil
}

// State returns the current flow snapshot.
func (c *Controller) State() FlowState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.flow
}

func (c *Controller) setFlow(f FlowState) FlowState {
	c.mu.Lock()
	c.flow = f
	c.mu.Unlock()
	return f
}

// onState follows lockout changes published by the engine.
func (c *Controller) onState(s AuthState) {
	left := c.engine.remainingAt(s, c.engine.now())

	c.mu.Lock()
	defer c.mu.Unlock()
	if left > 0 {
		c.flow.LockoutRemaining = left
		return
	}
	if c.flow.LockoutRemaining == 0 && c.flow.Stage != StageLocked {
		return
	}
	c.flow.LockoutRemaining = 0
	if c.flow.Stage == StageLocked {
		c.flow.Stage = c.retryStage(c.flow)
		c.flow.Message = Message{Kind: MessageInfo, Text: msgLockoutExpired}
	}
}

func (c *Controller) retryStage(f FlowState) Stage {
	if f.UsernameChecked {
		return StagePasswordStatusKnown
	}
	return StageIdle
}

func (c *Controller) idle(f FlowState, msg Message) FlowState {
	return FlowState{
		Stage:              StageIdle,
		Message:            msg,
		ShowForgotPassword: f.ShowForgotPassword,
		RemainingAttempts:  f.RemainingAttempts,
		LockoutRemaining:   f.LockoutRemaining,
	}
}

func (c *Controller) reject(f FlowState, err error, text string) (FlowState, error) {
	f.Message = Message{Kind: MessageWarning, Text: text}
	c.engine.metricInc(MetricValidationRejected)
	return c.setFlow(f), err
}

// CheckUser verifies that username exists and learns whether it has a password.
func (c *Controller) CheckUser(ctx context.Context, username string) (FlowState, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.isClosed() {
		return c.State(), ErrEngineClosed
	}

	cur := c.State()
	name := strings.TrimSpace(username)
	if name == "" {
		return c.reject(c.idle(cur, Message{}), validationError("username is required"), msgEnterUsername)
	}
	if utf8.RuneCountInString(name) < c.flowCfg.MinUsernameLength {
		return c.reject(c.idle(cur, Message{}), validationError("username too short"),
			fmt.Sprintf(msgUsernameTooShort, c.flowCfg.MinUsernameLength))
	}

	ctx, done := c.bind(ctx)
	defer done()

	c.engine.metricInc(MetricUserCheck)
	var exists bool
	err := c.call(func() error {
		var callErr error
		exists, callErr = c.backend.CheckUserExists(ctx, name)
		return callErr
	})
	if errors.Is(err, ErrEngineClosed) {
		return c.State(), err
	}
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		f := c.idle(cur, Message{Kind: MessageError, Text: fmt.Sprintf(msgCheckUserFailed, err.Error())})
		f.Username = name
		c.recordTransport(ctx, err)
		return c.setFlow(f), err
	}
	if !exists {
		c.engine.metricInc(MetricUserNotFound)
		return c.setFlow(c.idle(cur, Message{Kind: MessageError, Text: msgUnknownUsername})), ErrUserNotFound
	}

	f := c.idle(cur, Message{})
	f.Stage = StageUsernameChecked
	f.Username = name
	f.UsernameChecked = true
	c.setFlow(f)

	var hasPassword bool
	err = c.call(func() error {
		var callErr error
		hasPassword, callErr = c.backend.IsPasswordSet(ctx, name)
		return callErr
	})
	if errors.Is(err, ErrEngineClosed) {
		return c.State(), err
	}
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			c.engine.metricInc(MetricUserNotFound)
			return c.setFlow(c.idle(cur, Message{Kind: MessageError, Text: msgUnknownUsername})), err
		}
		f.Message = Message{Kind: MessageError, Text: fmt.Sprintf(msgPasswordStatusFail, err.Error())}
		c.recordTransport(ctx, err)
		return c.setFlow(f), err
	}

	f.Stage = StagePasswordStatusKnown
	f.PasswordAlreadySet = hasPassword
	if hasPassword {
		f.Message = Message{Kind: MessageInfo, Text: msgPasswordExists}
	} else {
		f.Message = Message{Kind: MessageInfo, Text: msgNoPassword}
	}
	return c.setFlow(f), nil
}

// Submit creates the password when none is set, otherwise logs in. Nothing reaches
// the backend while the lockout holds.
func (c *Controller) Submit(ctx context.Context, username, password string) (FlowState, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.isClosed() {
		return c.State(), ErrEngineClosed
	}

	cur := c.State()
	now := c.engine.now()

	if left := c.engine.RemainingLockout(now); left > 0 {
		cur.Stage = StageLocked
		cur.Message = Message{Kind: MessageError, Text: lockoutWaitMessage(left)}
		cur.LockoutRemaining = left
		cur.ShowForgotPassword = true
		c.engine.metricInc(MetricLockoutRejected)
		c.engine.emitAudit(ctx, auditEventLockoutRejected, false, strings.TrimSpace(username), "", ErrAccountLocked, nil)
		return c.setFlow(cur), &LockedError{Remaining: left}
	}
	if c.engine.lockoutPending(c.engine.State()) {
		// Lock elapsed without the ticker running.
		if _, err := c.engine.ResetFailedAttempts(ctx); err != nil {
			c.engine.logger.Warn("authgate: clearing expired lockout", "error", err)
		}
		cur = c.State()
	}

	name := strings.TrimSpace(username)
	if password == "" {
		return c.reject(cur, validationError("password is required"), msgPasswordRequired)
	}
	if utf8.RuneCountInString(password) < c.flowCfg.MinPasswordLength {
		return c.reject(cur, validationError("password too short"),
			fmt.Sprintf(msgPasswordTooShort, c.flowCfg.MinPasswordLength))
	}
	if cur.UsernameChecked && name != cur.Username {
		return c.reject(cur, validationError("username differs from the checked one"), msgUsernameChanged)
	}

	switch {
	case cur.Stage == StagePasswordStatusKnown:
	case (cur.Stage == StageFailure || cur.Stage == StageLocked) && cur.UsernameChecked:
	default:
		cur.Message = Message{Kind: MessageWarning, Text: msgCheckUsernameFirst}
		return c.setFlow(cur), fmt.Errorf("%w: submit in stage %s", ErrFlowStage, cur.Stage)
	}

	cur.Stage = StageSubmitting
	cur.Message = Message{}
	c.setFlow(cur)

	ctx, done := c.bind(ctx)
	defer done()

	if !cur.PasswordAlreadySet {
		return c.createPassword(ctx, cur, name, password)
	}
	return c.login(ctx, cur, name, password)
}

func (c *Controller) createPassword(ctx context.Context, f FlowState, name, password string) (FlowState, error) {
	err := c.call(func() error {
		return c.backend.SetPassword(ctx, name, password)
	})
	switch {
	case errors.Is(err, ErrEngineClosed):
		return c.State(), err
	case err == nil:
		f.Stage = StagePasswordStatusKnown
		f.PasswordAlreadySet = true
		f.Message = Message{Kind: MessageSuccess, Text: msgPasswordCreated}
		c.engine.metricInc(MetricPasswordSet)
		c.engine.emitAudit(ctx, auditEventPasswordSet, true, name, "", nil, nil)
		return c.setFlow(f), nil
	case errors.Is(err, ErrUserNotFound):
		c.engine.metricInc(MetricUserNotFound)
		return c.setFlow(c.idle(f, Message{Kind: MessageError, Text: fmt.Sprintf(msgPasswordCreateFail, err.Error())})), err
	default:
		f.Stage = StagePasswordStatusKnown
		f.Message = Message{Kind: MessageError, Text: fmt.Sprintf(msgPasswordCreateFail, err.Error())}
		c.recordTransport(ctx, err)
		c.engine.emitAudit(ctx, auditEventPasswordSet, false, name, "", err, nil)
		return c.setFlow(f), err
	}
}

func (c *Controller) login(ctx context.Context, f FlowState, name, password string) (FlowState, error) {
	var res LoginResult
	err := c.call(func() error {
		var callErr error
		res, callErr = c.backend.Login(ctx, name, password)
		return callErr
	})

	switch {
	case errors.Is(err, ErrEngineClosed):
		return c.State(), err
	case err == nil:
		if _, recErr := c.engine.RecordSuccess(ctx, res.User, res.Token); recErr != nil && !errors.Is(recErr, ErrStoreUnavailable) {
			f.Stage = StagePasswordStatusKnown
			f.Message = Message{Kind: MessageError, Text: recErr.Error()}
			return c.setFlow(f), recErr
		}
		f.Stage = StageSuccess
		f.Message = Message{Kind: MessageSuccess, Text: msgLoginSuccess}
		f.ShowForgotPassword = false
		f.RemainingAttempts = c.maxFail
		f.LockoutRemaining = 0
		f.Destination = c.flowCfg.DestinationFor(res.User.Role)
		return c.setFlow(f), nil

	case errors.Is(err, ErrInvalidCredentials):
		next, recErr := c.engine.RecordFailure(ctx, name)
		if recErr != nil && !errors.Is(recErr, ErrStoreUnavailable) {
			f.Stage = StagePasswordStatusKnown
			f.Message = Message{Kind: MessageError, Text: recErr.Error()}
			return c.setFlow(f), recErr
		}
		remaining := c.maxFail - next.FailedAttempts - 1
		f.RemainingAttempts = remaining
		f.Stage = StageFailure
		switch {
		case remaining > 0:
			f.Message = Message{Kind: MessageWarning, Text: fmt.Sprintf(msgAttemptsRemaining, remaining)}
		case remaining == 0:
			f.Message = Message{Kind: MessageWarning, Text: msgLastAttempt}
		default:
			f.Message = Message{Kind: MessageError, Text: msgLockedOfferReset}
			f.ShowForgotPassword = true
		}
		if next.IsLocked {
			f.Stage = StageLocked
			f.LockoutRemaining = c.engine.RemainingLockout(c.engine.now())
		}
		return c.setFlow(f), err

	case errors.Is(err, ErrUserNotFound):
		c.engine.metricInc(MetricUserNotFound)
		return c.setFlow(c.idle(f, Message{Kind: MessageError, Text: msgUnknownUsername})), err

	default:
		f.Stage = StagePasswordStatusKnown
		f.Message = Message{Kind: MessageError, Text: err.Error()}
		c.recordTransport(ctx, err)
		return c.setFlow(f), err
	}
}

// ForgotPassword requests reset instructions for username, or for the last failed
// username when username is blank. It never changes the authentication state.
func (c *Controller) ForgotPassword(ctx context.Context, username string) (FlowState, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.isClosed() {
		return c.State(), ErrEngineClosed
	}

	cur := c.State()
	name := strings.TrimSpace(username)
	if name == "" {
		name = c.engine.FailedUsername()
	}
	if name == "" {
		name = cur.Username
	}
	if name == "" {
		return c.reject(cur, validationError("username is required"), msgForgotNoUsername)
	}

	ctx, done := c.bind(ctx)
	defer done()

	err := c.call(func() error {
		return c.backend.ForgotPassword(ctx, name)
	})
	switch {
	case errors.Is(err, ErrEngineClosed):
		return c.State(), err
	case err == nil:
		cur.Message = Message{Kind: MessageSuccess, Text: msgResetSent}
		c.engine.metricInc(MetricPasswordResetRequest)
		c.engine.emitAudit(ctx, auditEventPasswordResetRequest, true, name, "", nil, nil)
		return c.setFlow(cur), nil
	case errors.Is(err, ErrUserNotFound):
		c.engine.metricInc(MetricUserNotFound)
		c.engine.emitAudit(ctx, auditEventPasswordResetRequest, false, name, "", err, nil)
		return c.setFlow(c.idle(cur, Message{Kind: MessageError, Text: fmt.Sprintf(msgResetFailed, err.Error())})), err
	default:
		cur.Message = Message{Kind: MessageError, Text: fmt.Sprintf(msgResetFailed, err.Error())}
		c.recordTransport(ctx, err)
		return c.setFlow(cur), err
	}
}

// ResetPassword completes a reset with the token sent after ForgotPassword. A
// successful reset clears the failed-attempt tracking, lifting any lockout, and
// returns the flow to Idle.
func (c *Controller) ResetPassword(ctx context.Context, token, newPassword string) (FlowState, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.isClosed() {
		return c.State(), ErrEngineClosed
	}

	cur := c.State()
	token = strings.TrimSpace(token)
	if token == "" {
		return c.reject(cur, validationError("reset token is required"), msgResetTokenRequired)
	}
	if newPassword == "" {
		return c.reject(cur, validationError("password is required"), msgPasswordRequired)
	}
	if utf8.RuneCountInString(newPassword) < c.flowCfg.MinPasswordLength {
		return c.reject(cur, validationError("password too short"),
			fmt.Sprintf(msgPasswordTooShort, c.flowCfg.MinPasswordLength))
	}
	resetter, ok := c.backend.(PasswordResetter)
	if !ok {
		cur.Message = Message{Kind: MessageError, Text: msgResetUnsupported}
		return c.setFlow(cur), ErrResetUnsupported
	}

	ctx, done := c.bind(ctx)
	defer done()

	err := c.call(func() error {
		return resetter.ResetPassword(ctx, token, newPassword)
	})
	switch {
	case errors.Is(err, ErrEngineClosed):
		return c.State(), err
	case err == nil:
		if _, resetErr := c.engine.ResetFailedAttempts(ctx); resetErr != nil && !errors.Is(resetErr, ErrStoreUnavailable) {
			cur.Message = Message{Kind: MessageError, Text: resetErr.Error()}
			return c.setFlow(cur), resetErr
		}
		c.engine.metricInc(MetricPasswordReset)
		c.engine.emitAudit(ctx, auditEventPasswordReset, true, "", "", nil, nil)
		f := FlowState{
			Stage:             StageIdle,
			Message:           Message{Kind: MessageSuccess, Text: msgPasswordResetDone},
			RemainingAttempts: c.maxFail,
		}
		return c.setFlow(f), nil
	case errors.Is(err, ErrResetTokenInvalid):
		c.engine.emitAudit(ctx, auditEventPasswordReset, false, "", "", err, nil)
		cur.Message = Message{Kind: MessageError, Text: msgResetTokenInvalid}
		return c.setFlow(cur), err
	case errors.Is(err, ErrResetUnsupported):
		cur.Message = Message{Kind: MessageError, Text: msgResetUnsupported}
		return c.setFlow(cur), err
	default:
		cur.Message = Message{Kind: MessageError, Text: fmt.Sprintf(msgPasswordResetFail, err.Error())}
		c.recordTransport(ctx, err)
		return c.setFlow(cur), err
	}
}

// ResetFlow discards the current attempt. The lockout countdown is kept.
func (c *Controller) ResetFlow() FlowState {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.isClosed() {
		return c.State()
	}

	cur := c.State()
	f := FlowState{
		Stage:             StageIdle,
		RemainingAttempts: c.maxFail,
		LockoutRemaining:  cur.LockoutRemaining,
	}
	return c.setFlow(f)
}

// Logout ends the authenticated session and resets the flow.
func (c *Controller) Logout(ctx context.Context) (FlowState, error) {
	c.opMu.Lock()
	if c.isClosed() {
		c.opMu.Unlock()
		return c.State(), ErrEngineClosed
	}
	_, err := c.engine.Logout(ctx)
	c.opMu.Unlock()

	f := c.ResetFlow()
	if err != nil && !errors.Is(err, ErrStoreUnavailable) {
		return f, err
	}
	return f, nil
}

// bind derives a context that is also cancelled when the controller closes.
func (c *Controller) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.opsCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// call runs one backend request, records its latency and classifies its error. It
// returns ErrEngineClosed when Close ran during the request; the caller must then
// leave the flow and the engine untouched.
func (c *Controller) call(fn func() error) error {
	start := time.Now()
	err := fn()
	if c.isClosed() {
		return ErrEngineClosed
	}
	if c.engine.metrics != nil {
		c.engine.metrics.Observe(MetricBackendLatency, time.Since(start))
	}
	return classifyBackendError(err)
}

func (c *Controller) recordTransport(ctx context.Context, err error) {
	if !errors.Is(err, ErrTransport) {
		return
	}
	c.engine.metricInc(MetricTransportError)
	c.engine.logger.Warn("authgate: backend request failed", "error", err)
	c.engine.reportError(ctx, err)
}

func (c *Controller) isClosed() bool {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()
	return c.closed
}
