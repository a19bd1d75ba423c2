package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authgate"
)

type stubBackend struct {
	mu        sync.Mutex
	passwords map[string]string
	forgot    []string
	fail      error
	resets    map[string]string
}

func newStubBackend() *stubBackend {
	return &stubBackend{
		passwords: map[string]string{"admin": "admin123", "user": ""},
		resets:    map[string]string{"tok-reset-admin": "admin"},
	}
}

func (b *stubBackend) CheckUserExists(_ context.Context, username string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return false, b.fail
	}
	_, ok := b.passwords[username]
	return ok, nil
}

func (b *stubBackend) IsPasswordSet(_ context.Context, username string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pw, ok := b.passwords[username]
	if !ok {
		return false, authgate.ErrUserNotFound
	}
	return pw != "", nil
}

func (b *stubBackend) SetPassword(_ context.Context, username, password string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.passwords[username]; !ok {
		return authgate.ErrUserNotFound
	}
	b.passwords[username] = password
	return nil
}

func (b *stubBackend) Login(_ context.Context, username, password string) (authgate.LoginResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pw, ok := b.passwords[username]
	if !ok {
		return authgate.LoginResult{}, authgate.ErrUserNotFound
	}
	if pw == "" || pw != password {
		return authgate.LoginResult{}, authgate.ErrInvalidCredentials
	}
	role := "USER"
	if username == "admin" {
		role = "ROLE_ADMIN"
	}
	return authgate.LoginResult{Token: "tok-" + username, User: authgate.User{ID: "7", Username: username, Role: role}}, nil
}

func (b *stubBackend) ForgotPassword(_ context.Context, username string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.passwords[username]; !ok {
		return authgate.ErrUserNotFound
	}
	b.forgot = append(b.forgot, username)
	return nil
}

func (b *stubBackend) ResetPassword(_ context.Context, token, newPassword string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	username, ok := b.resets[token]
	if !ok {
		return authgate.ErrResetTokenInvalid
	}
	delete(b.resets, token)
	b.passwords[username] = newPassword
	return nil
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, srv.Client(), 0)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestClientRoundTrip(t *testing.T) {
	backend := newStubBackend()
	c := newTestClient(t, NewHandler(backend, nil))
	ctx := context.Background()

	ok, err := c.CheckUserExists(ctx, "admin")
	if err != nil || !ok {
		t.Fatalf("expected admin to exist, got %v %v", ok, err)
	}
	ok, err = c.CheckUserExists(ctx, "ghost")
	if err != nil || ok {
		t.Fatalf("expected ghost unknown, got %v %v", ok, err)
	}

	set, err := c.IsPasswordSet(ctx, "user")
	if err != nil || set {
		t.Fatalf("expected no password for user, got %v %v", set, err)
	}
	if err := c.SetPassword(ctx, "user", "secret1"); err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}

	res, err := c.Login(ctx, "user", "secret1")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.Token != "tok-user" || res.User.ID != "7" || res.User.Role != "USER" {
		t.Fatalf("unexpected login result: %+v", res)
	}

	if err := c.ForgotPassword(ctx, "admin"); err != nil {
		t.Fatalf("ForgotPassword failed: %v", err)
	}
	if len(backend.forgot) != 1 || backend.forgot[0] != "admin" {
		t.Fatalf("forgot-password not forwarded: %v", backend.forgot)
	}
}

func TestClientMapsStatusCodes(t *testing.T) {
	backend := newStubBackend()
	c := newTestClient(t, NewHandler(backend, nil))
	ctx := context.Background()

	if _, err := c.Login(ctx, "ghost", "x"); !errors.Is(err, authgate.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := c.Login(ctx, "admin", "wrong"); !errors.Is(err, authgate.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := c.ForgotPassword(ctx, "ghost"); !errors.Is(err, authgate.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	backend.fail = errors.New("directory offline")
	_, err := c.CheckUserExists(ctx, "admin")
	if !errors.Is(err, authgate.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if err.Error() != "directory offline" {
		t.Fatalf("expected server message, got %q", err.Error())
	}
}

func TestClientServerErrorWithoutMessage(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := c.IsPasswordSet(context.Background(), "admin")
	if !errors.Is(err, authgate.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if err.Error() != "Server error: 502" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestClientFillsMissingUsername(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"abc","id":42,"role":"ROLE_ADMIN"}`))
	}))

	res, err := c.Login(context.Background(), "admin", "admin123")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.User.Username != "admin" || res.User.ID != "42" {
		t.Fatalf("unexpected user: %+v", res.User)
	}
}

func TestClientMalformedResponse(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))

	_, err := c.CheckUserExists(context.Background(), "admin")
	if !errors.Is(err, authgate.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(url, nil, time.Second)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if _, err := c.CheckUserExists(context.Background(), "admin"); !errors.Is(err, authgate.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8080", "::"} {
		if _, err := NewClient(raw, nil, time.Second); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestHandlerRejectsBadBody(t *testing.T) {
	h := NewHandler(newStubBackend(), nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("nope"))
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestClientResetPassword(t *testing.T) {
	backend := newStubBackend()
	c := newTestClient(t, NewHandler(backend, nil))
	ctx := context.Background()

	if err := c.ResetPassword(ctx, "tok-reset-admin", "fresh-secret"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if _, err := c.Login(ctx, "admin", "fresh-secret"); err != nil {
		t.Fatalf("Login with the new password failed: %v", err)
	}
	if err := c.ResetPassword(ctx, "tok-reset-admin", "other-secret"); !errors.Is(err, authgate.ErrResetTokenInvalid) {
		t.Fatalf("expected ErrResetTokenInvalid for a used token, got %v", err)
	}
}

func TestClientResetPasswordUnsupported(t *testing.T) {
	c := newTestClient(t, NewHandler(struct{ authgate.Backend }{newStubBackend()}, nil))

	err := c.ResetPassword(context.Background(), "tok-reset-admin", "fresh-secret")
	if !errors.Is(err, authgate.ErrResetUnsupported) {
		t.Fatalf("expected ErrResetUnsupported, got %v", err)
	}
}

func TestControllerResetPasswordAgainstServerWithoutReset(t *testing.T) {
	engine, err := authgate.New().Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()
	c := newTestClient(t, NewHandler(struct{ authgate.Backend }{newStubBackend()}, nil))
	ctrl, err := authgate.NewController(engine, c)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	defer ctrl.Close()

	f, err := ctrl.ResetPassword(context.Background(), "tok-reset-admin", "fresh-secret")
	if !errors.Is(err, authgate.ErrResetUnsupported) || errors.Is(err, authgate.ErrTransport) {
		t.Fatalf("expected ErrResetUnsupported, got %v", err)
	}
	if f.Message.Text != "Password reset is not available" {
		t.Fatalf("unexpected message %q", f.Message.Text)
	}
}

func TestHandlerResetPasswordStatus(t *testing.T) {
	h := NewHandler(newStubBackend(), nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/reset-password",
		strings.NewReader(`{"token":"unknown","newPassword":"fresh-secret"}`))
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusGone {
		t.Fatalf("expected 410, got %d", rec.Code)
	}
}
