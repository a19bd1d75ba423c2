package authgate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authgate/store"
)

// Session scope keys.
const (
	KeyAuthToken   = "authToken"
	KeyCurrentUser = "currentUser"
)

// Durable scope keys.
const (
	KeyFailedAttempts    = "failedAttempts"
	KeyLastFailedAttempt = "lastFailedAttempt"
	KeyFailedUsername    = "failedUsername"
)

var (
	sessionKeys = []string{KeyAuthToken, KeyCurrentUser}
	durableKeys = []string{KeyFailedAttempts, KeyLastFailedAttempt, KeyFailedUsername}
)

func (e *Engine) load(ctx context.Context) (AuthState, string) {
	var s AuthState

	token := e.read(ctx, "session", e.session, KeyAuthToken)
	rawUser := e.read(ctx, "session", e.session, KeyCurrentUser)
	if user, ok := decodeUser(rawUser); ok && token != "" {
		if e.verifier != nil {
			if err := e.verifier.Verify(token); err != nil {
				e.logger.Info("authgate: discarding stored session token", "error", err)
				if err := e.clearSession(ctx); err != nil {
					e.logger.Warn("authgate: clear rejected session failed", "error", err)
				}
				token = ""
			}
		}
		if token != "" {
			s.IsAuthenticated = true
			s.User = &user
			s.Token = token
		}
	}

	if n, err := strconv.Atoi(e.read(ctx, "durable", e.durable, KeyFailedAttempts)); err == nil && n > 0 {
		s.FailedAttempts = n
	}
	if raw := e.read(ctx, "durable", e.durable, KeyLastFailedAttempt); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			s.LastFailedAttempt = ts
		}
	}
	failedUsername := strings.TrimSpace(e.read(ctx, "durable", e.durable, KeyFailedUsername))

	return s, failedUsername
}

func (e *Engine) read(ctx context.Context, group string, scope store.Scope, key string) string {
	if scope == nil {
		return ""
	}
	v, ok, err := scope.Get(ctx, key)
	if err != nil {
		e.logger.Warn("authgate: store read failed", "group", group, "key", key, "error", err)
		return ""
	}
	if !ok {
		return ""
	}
	return v
}

func decodeUser(raw string) (User, bool) {
	if raw == "" {
		return User{}, false
	}
	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return User{}, false
	}
	if strings.TrimSpace(u.Username) == "" {
		return User{}, false
	}
	return u, true
}

func (e *Engine) writeSession(ctx context.Context, user User, token string) error {
	data, err := json.Marshal(user)
	if err != nil {
		return e.storeFailure("session", err)
	}
	if err := e.session.Set(ctx, map[string]string{
		KeyAuthToken:   token,
		KeyCurrentUser: string(data),
	}); err != nil {
		return e.storeFailure("session", err)
	}
	return nil
}

func (e *Engine) clearSession(ctx context.Context) error {
	if err := e.session.Remove(ctx, sessionKeys...); err != nil {
		return e.storeFailure("session", err)
	}
	return nil
}

func (e *Engine) writeDurable(ctx context.Context, attempts int, last time.Time, username string) error {
	if err := e.durable.Set(ctx, map[string]string{
		KeyFailedAttempts:    strconv.Itoa(attempts),
		KeyLastFailedAttempt: last.UTC().Format(time.RFC3339Nano),
		KeyFailedUsername:    username,
	}); err != nil {
		return e.storeFailure("durable", err)
	}
	return nil
}

func (e *Engine) clearDurable(ctx context.Context) error {
	if err := e.durable.Remove(ctx, durableKeys...); err != nil {
		return e.storeFailure("durable", err)
	}
	return nil
}

func (e *Engine) storeFailure(group string, err error) error {
	e.metricInc(MetricStoreWriteFailure)
	e.logger.Warn("authgate: store write failed", "group", group, "error", err)
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, group, err)
}
