package authgate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newFlowFixture(t *testing.T) (*Controller, *Engine, *fakeBackend, *fakeClock) {
	t.Helper()

	clk := newFakeClock()
	engine := newTestEngine(t, testConfig(), newTestStores(), clk)
	backend := newFakeBackend()
	return newTestController(t, engine, backend), engine, backend, clk
}

func checkUser(t *testing.T, c *Controller, username string) FlowState {
	t.Helper()

	f, err := c.CheckUser(context.Background(), username)
	if err != nil {
		t.Fatalf("CheckUser(%q) failed: %v", username, err)
	}
	if f.Stage != StagePasswordStatusKnown {
		t.Fatalf("expected password status known, got %s", f.Stage)
	}
	return f
}

func TestControllerAdminLockedOnThirdFailure(t *testing.T) {
	c, engine, backend, _ := newFlowFixture(t)
	ctx := context.Background()

	f := checkUser(t, c, "admin")
	if !f.PasswordAlreadySet || f.Message.Text != msgPasswordExists {
		t.Fatalf("unexpected status for admin: %+v", f)
	}

	f, err := c.Submit(ctx, "admin", "wrong-1")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if f.Stage != StageFailure || f.RemainingAttempts != 1 ||
		f.Message.Text != "Invalid password. 1 attempt(s) remaining before account lockout." {
		t.Fatalf("unexpected first failure: %+v", f)
	}

	f, _ = c.Submit(ctx, "admin", "wrong-2")
	if f.Stage != StageFailure || f.RemainingAttempts != 0 || f.Message.Text != msgLastAttempt {
		t.Fatalf("unexpected second failure: %+v", f)
	}
	if f.Message.Kind != MessageWarning {
		t.Fatalf("expected warning, got %s", f.Message.Kind)
	}

	f, err = c.Submit(ctx, "admin", "wrong-3")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials on third failure, got %v", err)
	}
	if f.Stage != StageLocked || !f.ShowForgotPassword || f.Message.Text != msgLockedOfferReset {
		t.Fatalf("unexpected third failure: %+v", f)
	}
	if f.LockoutRemaining != DefaultLockoutDuration {
		t.Fatalf("expected %v lockout remaining, got %v", DefaultLockoutDuration, f.LockoutRemaining)
	}
	if !engine.State().IsLocked {
		t.Fatal("expected engine locked")
	}
	if got := backend.Calls("login"); got != 3 {
		t.Fatalf("expected 3 login calls, got %d", got)
	}
}

func TestControllerLockedSubmitNeverReachesBackend(t *testing.T) {
	c, engine, backend, clk := newFlowFixture(t)
	ctx := context.Background()

	checkUser(t, c, "admin")
	for i := 0; i < DefaultMaxFailedAttempts; i++ {
		_, _ = c.Submit(ctx, "admin", "wrong-pass")
	}
	before := backend.TotalCalls()
	stateBefore := engine.State()

	clk.Advance(4*time.Minute + 30*time.Second)
	f, err := c.Submit(ctx, "admin", "admin123")
	var locked *LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected LockedError, got %v", err)
	}
	if locked.Remaining != 10*time.Minute+30*time.Second {
		t.Fatalf("unexpected remaining %v", locked.Remaining)
	}
	if f.Message.Text != "Account locked due to multiple failed attempts. Try again in 11 minute(s)." {
		t.Fatalf("unexpected lockout message %q", f.Message.Text)
	}
	if backend.TotalCalls() != before {
		t.Fatal("expected no backend call while locked")
	}
	if engine.State() != stateBefore {
		t.Fatal("expected no AuthState mutation while locked")
	}
	if got := engine.MetricsSnapshot().Counters[MetricLockoutRejected]; got != 1 {
		t.Fatalf("expected 1 lockout rejection, got %d", got)
	}
}

func TestControllerCreatePasswordThenLoginRoutesUser(t *testing.T) {
	c, engine, backend, _ := newFlowFixture(t)
	ctx := context.Background()

	f := checkUser(t, c, "user")
	if f.PasswordAlreadySet || f.Message.Text != msgNoPassword {
		t.Fatalf("expected no password for user, got %+v", f)
	}

	f, err := c.Submit(ctx, "user", "secret1")
	if err != nil {
		t.Fatalf("set password failed: %v", err)
	}
	if f.Stage != StagePasswordStatusKnown || !f.PasswordAlreadySet || f.Message.Text != msgPasswordCreated {
		t.Fatalf("unexpected state after set password: %+v", f)
	}
	if engine.State().IsAuthenticated {
		t.Fatal("set password must not log in")
	}
	if backend.Calls("login") != 0 {
		t.Fatal("set password must not call Login")
	}

	f, err = c.Submit(ctx, "user", "secret1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if f.Stage != StageSuccess || f.Destination != "/book" {
		t.Fatalf("expected success routed to /book, got %+v", f)
	}
	s := engine.State()
	if !s.IsAuthenticated || s.User.Role != "USER" {
		t.Fatalf("expected authenticated USER, got %+v", s)
	}
}

func TestControllerAdminRolesRouteToAdminDestination(t *testing.T) {
	for _, role := range []string{"ROLE_ADMIN", "admin", " Admin "} {
		t.Run(strings.TrimSpace(role), func(t *testing.T) {
			c, _, backend, _ := newFlowFixture(t)
			backend.users["admin"].role = role

			checkUser(t, c, "admin")
			f, err := c.Submit(context.Background(), "admin", "admin123")
			if err != nil {
				t.Fatalf("login failed: %v", err)
			}
			if f.Destination != "/user" {
				t.Fatalf("expected /user for role %q, got %q", role, f.Destination)
			}
		})
	}
}

func TestControllerSuccessResetsAfterFailures(t *testing.T) {
	c, engine, _, _ := newFlowFixture(t)
	ctx := context.Background()

	checkUser(t, c, "admin")
	_, _ = c.Submit(ctx, "admin", "wrong-pass")
	f, err := c.Submit(ctx, "admin", "admin123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if f.Stage != StageSuccess || f.Message.Text != msgLoginSuccess {
		t.Fatalf("unexpected state: %+v", f)
	}
	if got := engine.State().FailedAttempts; got != 0 {
		t.Fatalf("expected counter reset, got %d", got)
	}
}

func TestControllerCheckUserValidation(t *testing.T) {
	c, _, backend, _ := newFlowFixture(t)

	cases := []struct {
		input string
		text  string
	}{
		{"", msgEnterUsername},
		{"   ", msgEnterUsername},
		{"ab", "Username must be at least 3 characters long"},
	}
	for _, tc := range cases {
		f, err := c.CheckUser(context.Background(), tc.input)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("input %q: expected ErrValidation, got %v", tc.input, err)
		}
		if f.Message.Text != tc.text || f.Message.Kind != MessageWarning {
			t.Fatalf("input %q: unexpected message %+v", tc.input, f.Message)
		}
	}
	if backend.TotalCalls() != 0 {
		t.Fatal("validation must not reach the backend")
	}
}

func TestControllerCheckUserUnknownResetsToIdle(t *testing.T) {
	c, _, _, _ := newFlowFixture(t)

	f, err := c.CheckUser(context.Background(), "  nobody  ")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if f.Stage != StageIdle || f.UsernameChecked || f.Message.Text != msgUnknownUsername {
		t.Fatalf("unexpected state: %+v", f)
	}
}

func TestControllerCheckUserTransportFailure(t *testing.T) {
	c, _, backend, _ := newFlowFixture(t)
	backend.FailNext(errors.New("connection refused"))

	f, err := c.CheckUser(context.Background(), "admin")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if f.Message.Text != "Error checking username: connection refused" {
		t.Fatalf("unexpected message %q", f.Message.Text)
	}
}

func TestControllerSubmitValidationAndStage(t *testing.T) {
	c, _, backend, _ := newFlowFixture(t)
	ctx := context.Background()

	if _, err := c.Submit(ctx, "admin", "admin123"); !errors.Is(err, ErrFlowStage) {
		t.Fatalf("expected ErrFlowStage before check, got %v", err)
	}
	if got := c.State().Message.Text; got != msgCheckUsernameFirst {
		t.Fatalf("unexpected message %q", got)
	}

	checkUser(t, c, "admin")
	calls := backend.TotalCalls()

	if _, err := c.Submit(ctx, "admin", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty password, got %v", err)
	}
	f, err := c.Submit(ctx, "admin", "12345")
	if !errors.Is(err, ErrValidation) || f.Message.Text != "Password must be at least 6 characters long" {
		t.Fatalf("expected short password rejection, got %v %+v", err, f.Message)
	}
	if _, err := c.Submit(ctx, "akanksha", "akanksha123"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for changed username, got %v", err)
	}
	if backend.TotalCalls() != calls {
		t.Fatal("validation must not reach the backend")
	}
	if c.State().Stage != StagePasswordStatusKnown {
		t.Fatalf("validation must not move the stage, got %s", c.State().Stage)
	}
}

func TestControllerTransportFailureLeavesCountersAlone(t *testing.T) {
	clk := newFakeClock()
	engine, err := New().
		WithConfig(testConfig()).
		WithClock(clk.Now).
		WithErrorReporter(&recordingReporter{}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()
	reporter := engine.reporter.(*recordingReporter)
	backend := newFakeBackend()
	c := newTestController(t, engine, backend)

	checkUser(t, c, "admin")
	backend.FailNext(errors.New("Server error: 502"))
	f, err := c.Submit(context.Background(), "admin", "admin123")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if f.Stage != StagePasswordStatusKnown || f.Message.Text != "Server error: 502" {
		t.Fatalf("unexpected state: %+v", f)
	}
	if engine.State().FailedAttempts != 0 {
		t.Fatal("transport failure must not count as a failed attempt")
	}
	if reporter.Count() != 1 {
		t.Fatalf("expected 1 reported error, got %d", reporter.Count())
	}
	if got := engine.MetricsSnapshot().Counters[MetricTransportError]; got != 1 {
		t.Fatalf("expected 1 transport error, got %d", got)
	}
}

func TestControllerLoginUserNotFoundResetsFlow(t *testing.T) {
	c, engine, backend, _ := newFlowFixture(t)

	checkUser(t, c, "akanksha")
	delete(backend.users, "akanksha")

	f, err := c.Submit(context.Background(), "akanksha", "akanksha123")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if f.Stage != StageIdle || f.UsernameChecked {
		t.Fatalf("expected reset to idle, got %+v", f)
	}
	if engine.State().FailedAttempts != 0 {
		t.Fatal("not found must not count as a failed attempt")
	}
}

func TestControllerTickClearsExpiredLockoutOnce(t *testing.T) {
	c, engine, _, clk := newFlowFixture(t)
	ctx := context.Background()

	checkUser(t, c, "admin")
	for i := 0; i < DefaultMaxFailedAttempts; i++ {
		_, _ = c.Submit(ctx, "admin", "wrong-pass")
	}

	clk.Advance(time.Minute)
	c.tick(ctx)
	if got := c.State().LockoutRemaining; got != 14*time.Minute {
		t.Fatalf("expected 14m remaining, got %v", got)
	}

	deliveries := 0
	cancel := engine.Subscribe(func(AuthState) { deliveries++ })
	defer cancel()

	clk.Advance(14 * time.Minute)
	c.tick(ctx)
	c.tick(ctx)

	if deliveries != 2 {
		t.Fatalf("expected replay plus one reset, got %d deliveries", deliveries)
	}
	s := engine.State()
	if s.FailedAttempts != 0 || s.IsLocked {
		t.Fatalf("expected cleared lockout, got %+v", s)
	}
	f := c.State()
	if f.Stage != StagePasswordStatusKnown || f.LockoutRemaining != 0 || f.Message.Text != msgLockoutExpired {
		t.Fatalf("unexpected flow after expiry: %+v", f)
	}
	if got := engine.MetricsSnapshot().Counters[MetricLockoutExpired]; got != 1 {
		t.Fatalf("expected 1 lockout expiry, got %d", got)
	}

	if _, err := c.Submit(ctx, "admin", "admin123"); err != nil {
		t.Fatalf("expected login allowed after expiry, got %v", err)
	}
}

func TestControllerSubmitClearsExpiredLockoutWithoutTicker(t *testing.T) {
	c, engine, backend, clk := newFlowFixture(t)
	ctx := context.Background()

	checkUser(t, c, "admin")
	for i := 0; i < DefaultMaxFailedAttempts; i++ {
		_, _ = c.Submit(ctx, "admin", "wrong-pass")
	}
	clk.Advance(DefaultLockoutDuration)

	f, err := c.Submit(ctx, "admin", "wrong-again")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected a fresh failure, got %v", err)
	}
	if engine.State().FailedAttempts != 1 || f.RemainingAttempts != 1 {
		t.Fatalf("expected counter restarted at 1, got %d", engine.State().FailedAttempts)
	}
	if backend.Calls("login") != 4 {
		t.Fatalf("expected 4 login calls, got %d", backend.Calls("login"))
	}
}

func TestControllerStartAndCloseRunTicker(t *testing.T) {
	cfg := testConfig()
	cfg.Flow.TickInterval = 5 * time.Millisecond
	clk := newFakeClock()
	engine := newTestEngine(t, cfg, newTestStores(), clk)
	c, err := NewController(engine, newFakeBackend())
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	for i := 0; i < DefaultMaxFailedAttempts; i++ {
		_, _ = engine.RecordFailure(context.Background(), "admin")
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	clk.Advance(DefaultLockoutDuration)

	deadline := time.Now().Add(2 * time.Second)
	for engine.State().FailedAttempts != 0 {
		if time.Now().After(deadline) {
			t.Fatal("ticker did not clear the expired lockout")
		}
		time.Sleep(5 * time.Millisecond)
	}

	c.Close()
	c.Close()

	_, _ = engine.RecordFailure(context.Background(), "admin")
	_, _ = engine.RecordFailure(context.Background(), "admin")
	_, _ = engine.RecordFailure(context.Background(), "admin")
	if got := c.State().LockoutRemaining; got != 0 {
		t.Fatalf("expected no flow updates after Close, got %v", got)
	}
	if _, err := c.CheckUser(context.Background(), "admin"); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("expected ErrEngineClosed after Close, got %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("expected Start to fail after Close, got %v", err)
	}
}

func TestControllerRestoredLockoutRejectsSubmit(t *testing.T) {
	clk := newFakeClock()
	stores := newTestStores()
	first := newTestEngine(t, testConfig(), stores, clk)
	for i := 0; i < DefaultMaxFailedAttempts; i++ {
		_, _ = first.RecordFailure(context.Background(), "admin")
	}
	first.Close()

	engine := newTestEngine(t, testConfig(), stores, clk)
	backend := newFakeBackend()
	c := newTestController(t, engine, backend)

	if got := c.State().LockoutRemaining; got != DefaultLockoutDuration {
		t.Fatalf("expected restored countdown, got %v", got)
	}
	if _, err := c.Submit(context.Background(), "admin", "admin123"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
	if backend.TotalCalls() != 0 {
		t.Fatal("expected no backend calls")
	}
}

func TestControllerForgotPassword(t *testing.T) {
	c, engine, backend, _ := newFlowFixture(t)
	ctx := context.Background()

	if _, err := c.ForgotPassword(ctx, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation without any username, got %v", err)
	}
	if got := c.State().Message.Text; got != msgForgotNoUsername {
		t.Fatalf("unexpected message %q", got)
	}

	checkUser(t, c, "admin")
	for i := 0; i < DefaultMaxFailedAttempts; i++ {
		_, _ = c.Submit(ctx, "admin", "wrong-pass")
	}
	before := engine.State()

	f, err := c.ForgotPassword(ctx, "")
	if err != nil {
		t.Fatalf("ForgotPassword failed: %v", err)
	}
	if f.Message.Text != msgResetSent || f.Message.Kind != MessageSuccess {
		t.Fatalf("unexpected message %+v", f.Message)
	}
	if len(backend.resetReqs) != 1 || backend.resetReqs[0] != "admin" {
		t.Fatalf("expected reset for failed username, got %v", backend.resetReqs)
	}
	if engine.State() != before {
		t.Fatal("ForgotPassword must not mutate AuthState")
	}

	f, err = c.ForgotPassword(ctx, "ghost")
	if !errors.Is(err, ErrUserNotFound) || f.Stage != StageIdle {
		t.Fatalf("expected not found and idle, got %v %+v", err, f)
	}
	if f.Message.Text != "Failed to send reset instructions: user not found" {
		t.Fatalf("unexpected message %q", f.Message.Text)
	}
}

func TestControllerResetFlowKeepsCountdown(t *testing.T) {
	c, _, _, _ := newFlowFixture(t)
	ctx := context.Background()

	checkUser(t, c, "admin")
	for i := 0; i < DefaultMaxFailedAttempts; i++ {
		_, _ = c.Submit(ctx, "admin", "wrong-pass")
	}

	f := c.ResetFlow()
	if f.Stage != StageIdle || f.Username != "" || f.UsernameChecked || f.Message.Text != "" {
		t.Fatalf("expected cleared attempt, got %+v", f)
	}
	if f.LockoutRemaining != DefaultLockoutDuration {
		t.Fatalf("expected countdown kept, got %v", f.LockoutRemaining)
	}
}

func TestControllerLogout(t *testing.T) {
	c, engine, _, _ := newFlowFixture(t)
	ctx := context.Background()

	checkUser(t, c, "akanksha")
	if _, err := c.Submit(ctx, "akanksha", "akanksha123"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	f, err := c.Logout(ctx)
	if err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if f.Stage != StageIdle || engine.State().IsAuthenticated {
		t.Fatalf("expected logged out idle flow, got %+v", f)
	}
}

func TestNewControllerRequiresEngineAndBackend(t *testing.T) {
	if _, err := NewController(nil, newFakeBackend()); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}

// blockingBackend holds Login until release is closed.
type blockingBackend struct {
	*fakeBackend
	entered  chan struct{}
	release  chan struct{}
	honorCtx bool
}

func newBlockingBackend(honorCtx bool) *blockingBackend {
	return &blockingBackend{
		fakeBackend: newFakeBackend(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
		honorCtx:    honorCtx,
	}
}

func (b *blockingBackend) Login(ctx context.Context, username, password string) (LoginResult, error) {
	close(b.entered)
	if b.honorCtx {
		select {
		case <-b.release:
		case <-ctx.Done():
			return LoginResult{}, ctx.Err()
		}
	} else {
		<-b.release
	}
	return b.fakeBackend.Login(ctx, username, password)
}

type submitResult struct {
	flow FlowState
	err  error
}

func TestControllerCloseWaitsForInFlightSubmit(t *testing.T) {
	clk := newFakeClock()
	engine := newTestEngine(t, testConfig(), newTestStores(), clk)
	backend := newBlockingBackend(false)
	c := newTestController(t, engine, backend)

	checkUser(t, c, "admin")

	results := make(chan submitResult, 1)
	go func() {
		f, err := c.Submit(context.Background(), "admin", "wrong-pass")
		results <- submitResult{f, err}
	}()
	<-backend.entered

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a submit was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(backend.release)
	res := <-results
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the submit finished")
	}

	if !errors.Is(res.err, ErrEngineClosed) {
		t.Fatalf("expected ErrEngineClosed, got %v", res.err)
	}
	if got := engine.State().FailedAttempts; got != 0 {
		t.Fatalf("expected no failure recorded after Close, got %d", got)
	}
	if got := c.State().Stage; got != StageSubmitting {
		t.Fatalf("expected flow left at submitting, got %s", got)
	}
}

func TestControllerCloseCancelsBackendCall(t *testing.T) {
	clk := newFakeClock()
	engine := newTestEngine(t, testConfig(), newTestStores(), clk)
	backend := newBlockingBackend(true)
	c := newTestController(t, engine, backend)

	checkUser(t, c, "admin")

	results := make(chan submitResult, 1)
	go func() {
		f, err := c.Submit(context.Background(), "admin", "admin123")
		results <- submitResult{f, err}
	}()
	<-backend.entered

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not cancel the backend call")
	}

	res := <-results
	if !errors.Is(res.err, ErrEngineClosed) {
		t.Fatalf("expected ErrEngineClosed, got %v", res.err)
	}
	if engine.State().IsAuthenticated {
		t.Fatal("expected no session after Close")
	}
}

func TestControllerResetPasswordLiftsLockout(t *testing.T) {
	c, engine, backend, _ := newFlowFixture(t)
	ctx := context.Background()

	checkUser(t, c, "admin")
	for i := 0; i < DefaultMaxFailedAttempts; i++ {
		_, _ = c.Submit(ctx, "admin", "wrong-pass")
	}
	if !engine.State().IsLocked {
		t.Fatal("expected engine locked")
	}
	if _, err := c.ForgotPassword(ctx, ""); err != nil {
		t.Fatalf("ForgotPassword failed: %v", err)
	}

	f, err := c.ResetPassword(ctx, "reset-admin", "fresh-secret")
	if err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if f.Stage != StageIdle || f.Message.Text != msgPasswordResetDone || f.LockoutRemaining != 0 {
		t.Fatalf("unexpected flow after reset: %+v", f)
	}
	if f.RemainingAttempts != DefaultMaxFailedAttempts {
		t.Fatalf("expected attempts restored, got %d", f.RemainingAttempts)
	}
	if s := engine.State(); s.IsLocked || s.FailedAttempts != 0 || !s.LastFailedAttempt.IsZero() {
		t.Fatalf("expected lockout lifted, got %+v", s)
	}

	checkUser(t, c, "admin")
	if f, err = c.Submit(ctx, "admin", "fresh-secret"); err != nil || f.Stage != StageSuccess {
		t.Fatalf("expected login with the new password, got %v %+v", err, f)
	}
	if backend.Calls("reset") != 1 {
		t.Fatalf("expected 1 reset call, got %d", backend.Calls("reset"))
	}
}

func TestControllerResetPasswordRejectsBadInput(t *testing.T) {
	c, _, backend, _ := newFlowFixture(t)
	ctx := context.Background()

	if _, err := c.ResetPassword(ctx, "  ", "fresh-secret"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for a blank token, got %v", err)
	}
	if got := c.State().Message.Text; got != msgResetTokenRequired {
		t.Fatalf("unexpected message %q", got)
	}
	if _, err := c.ResetPassword(ctx, "reset-admin", "abc"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for a short password, got %v", err)
	}
	if backend.Calls("reset") != 0 {
		t.Fatal("expected no backend calls")
	}

	f, err := c.ResetPassword(ctx, "reset-admin", "fresh-secret")
	if !errors.Is(err, ErrResetTokenInvalid) || f.Message.Text != msgResetTokenInvalid {
		t.Fatalf("expected invalid token, got %v %+v", err, f)
	}

	if _, err := c.ForgotPassword(ctx, "akanksha"); err != nil {
		t.Fatalf("ForgotPassword failed: %v", err)
	}
	if _, err := c.ResetPassword(ctx, "reset-akanksha", "fresh-secret"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if _, err := c.ResetPassword(ctx, "reset-akanksha", "other-secret"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expected a used token to be rejected, got %v", err)
	}
}

func TestControllerResetPasswordUnsupportedBackend(t *testing.T) {
	clk := newFakeClock()
	engine := newTestEngine(t, testConfig(), newTestStores(), clk)
	c := newTestController(t, engine, struct{ Backend }{newFakeBackend()})

	f, err := c.ResetPassword(context.Background(), "reset-admin", "fresh-secret")
	if !errors.Is(err, ErrResetUnsupported) || f.Message.Text != msgResetUnsupported {
		t.Fatalf("expected unsupported, got %v %+v", err, f)
	}
}
