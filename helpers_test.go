package authgate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authgate/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testEpoch = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type backendUser struct {
	id       UserID
	role     string
	password string
}

// fakeBackend mirrors the reference directory: it stores plain passwords and counts
// every call so tests can assert that nothing reached it.
type fakeBackend struct {
	mu        sync.Mutex
	users     map[string]*backendUser
	calls     map[string]int
	failNext  error
	resetReqs []string
	tokens    map[string]string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		users: map[string]*backendUser{
			"admin":    {id: "1", role: "ROLE_ADMIN", password: "admin123"},
			"akanksha": {id: "2", role: "USER", password: "akanksha123"},
			"user":     {id: "5", role: "USER"},
		},
		calls:  map[string]int{},
		tokens: map[string]string{},
	}
}

func (b *fakeBackend) enter(op string) (func(), error) {
	b.mu.Lock()
	b.calls[op]++
	err := b.failNext
	b.failNext = nil
	return b.mu.Unlock, err
}

func (b *fakeBackend) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

func (b *fakeBackend) TotalCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, v := range b.calls {
		n += v
	}
	return n
}

func (b *fakeBackend) FailNext(err error) {
	b.mu.Lock()
	b.failNext = err
	b.mu.Unlock()
}

func (b *fakeBackend) CheckUserExists(_ context.Context, username string) (bool, error) {
	done, err := b.enter("check")
	defer done()
	if err != nil {
		return false, err
	}
	_, ok := b.users[username]
	return ok, nil
}

func (b *fakeBackend) IsPasswordSet(_ context.Context, username string) (bool, error) {
	done, err := b.enter("status")
	defer done()
	if err != nil {
		return false, err
	}
	u, ok := b.users[username]
	if !ok {
		return false, ErrUserNotFound
	}
	return u.password != "", nil
}

func (b *fakeBackend) SetPassword(_ context.Context, username, password string) error {
	done, err := b.enter("set")
	defer done()
	if err != nil {
		return err
	}
	u, ok := b.users[username]
	if !ok {
		return ErrUserNotFound
	}
	u.password = password
	return nil
}

func (b *fakeBackend) Login(_ context.Context, username, password string) (LoginResult, error) {
	done, err := b.enter("login")
	defer done()
	if err != nil {
		return LoginResult{}, err
	}
	u, ok := b.users[username]
	if !ok {
		return LoginResult{}, ErrUserNotFound
	}
	if u.password == "" || u.password != password {
		return LoginResult{}, ErrInvalidCredentials
	}
	return LoginResult{
		Token: "token-" + username,
		User:  User{ID: u.id, Username: username, Role: u.role},
	}, nil
}

func (b *fakeBackend) ForgotPassword(_ context.Context, username string) error {
	done, err := b.enter("forgot")
	defer done()
	if err != nil {
		return err
	}
	if _, ok := b.users[username]; !ok {
		return ErrUserNotFound
	}
	b.resetReqs = append(b.resetReqs, username)
	b.tokens["reset-"+username] = username
	return nil
}

func (b *fakeBackend) ResetPassword(_ context.Context, token, newPassword string) error {
	done, err := b.enter("reset")
	defer done()
	if err != nil {
		return err
	}
	username, ok := b.tokens[token]
	if !ok {
		return ErrResetTokenInvalid
	}
	delete(b.tokens, token)
	b.users[username].password = newPassword
	return nil
}

// failingScope fails every write and reads as empty.
type failingScope struct{}

var errScopeDown = errors.New("scope down")

func (failingScope) Get(context.Context, string) (string, bool, error) { return "", false, nil }
func (failingScope) Set(context.Context, map[string]string) error      { return errScopeDown }
func (failingScope) Remove(context.Context, ...string) error           { return errScopeDown }

// journalScope records every write to the wrapped scope in a shared journal.
type journalScope struct {
	store.Scope
	name    string
	mu      *sync.Mutex
	journal *[]string
}

func (s journalScope) Set(ctx context.Context, entries map[string]string) error {
	s.note("set")
	return s.Scope.Set(ctx, entries)
}

func (s journalScope) Remove(ctx context.Context, keys ...string) error {
	s.note("remove")
	return s.Scope.Remove(ctx, keys...)
}

func (s journalScope) note(op string) {
	s.mu.Lock()
	*s.journal = append(*s.journal, s.name+":"+op)
	s.mu.Unlock()
}

type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) Report(_ context.Context, err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recordingReporter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

type testStores struct {
	session store.Scope
	durable store.Scope
}

func newTestStores() testStores {
	return testStores{session: store.NewMemory(), durable: store.NewMemory()}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func newTestEngine(t testing.TB, cfg Config, stores testStores, clk *fakeClock) *Engine {
	t.Helper()

	engine, err := New().
		WithConfig(cfg).
		WithSessionStore(stores.session).
		WithDurableStore(stores.durable).
		WithClock(clk.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func newTestController(t testing.TB, engine *Engine, backend Backend) *Controller {
	t.Helper()

	c, err := NewController(engine, backend)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func mustGet(t *testing.T, s store.Scope, key string) (string, bool) {
	t.Helper()

	v, ok, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	return v, ok
}
