package authgate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// UserID identifies an account. The backend may report it as a JSON number or string.
type UserID string

// UnmarshalJSON accepts both `42` and `"42"`.
func (id *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	*id = UserID(n.String())
	return nil
}

// User is the authenticated principal kept in the session scope.
type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// AuthState is the single authentication record owned by [Engine].
//
// IsAuthenticated holds exactly when User is non-nil and Token is non-empty. IsLocked is
// derived from FailedAttempts and LastFailedAttempt and is never set on its own.
// A zero LastFailedAttempt means no failure has been recorded.
type AuthState struct {
	IsAuthenticated   bool
	User              *User
	Token             string
	FailedAttempts    int
	LastFailedAttempt time.Time
	IsLocked          bool
}

func (s AuthState) clone() AuthState {
	out := s
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	return out
}

// LoginResult is returned by [Backend.Login] on success.
type LoginResult struct {
	Token string
	User  User
}

// Backend is the credential service consumed by [Controller]. Implementations return
// [ErrUserNotFound] and [ErrInvalidCredentials] (possibly wrapped) for the corresponding
// outcomes; every other error is treated as a transport failure.
type Backend interface {
	CheckUserExists(ctx context.Context, username string) (bool, error)
	IsPasswordSet(ctx context.Context, username string) (bool, error)
	SetPassword(ctx context.Context, username, password string) error
	Login(ctx context.Context, username, password string) (LoginResult, error)
	ForgotPassword(ctx context.Context, username string) error
}

// PasswordResetter is implemented by backends that complete a password reset with the
// token delivered after [Backend.ForgotPassword]. An unknown, used or expired token is
// reported as [ErrResetTokenInvalid].
type PasswordResetter interface {
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// TokenVerifier validates a rehydrated session token. A token that fails verification is
// discarded during [Engine.Initialize].
type TokenVerifier interface {
	Verify(token string) error
}

// ErrorReporter receives transport failures recovered at the controller boundary.
type ErrorReporter interface {
	Report(ctx context.Context, err error)
}

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

// Stage is the per-attempt position in the login flow.
type Stage uint8

const (
	StageIdle Stage = iota
	StageUsernameChecked
	StagePasswordStatusKnown
	StageSubmitting
	StageSuccess
	StageFailure
	StageLocked
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageUsernameChecked:
		return "username_checked"
	case StagePasswordStatusKnown:
		return "password_status_known"
	case StageSubmitting:
		return "submitting"
	case StageSuccess:
		return "success"
	case StageFailure:
		return "failure"
	case StageLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// MessageKind classifies a user-facing message.
type MessageKind uint8

const (
	MessageInfo MessageKind = iota
	MessageSuccess
	MessageWarning
	MessageError
)

func (k MessageKind) String() string {
	switch k {
	case MessageSuccess:
		return "success"
	case MessageWarning:
		return "warning"
	case MessageError:
		return "error"
	default:
		return "info"
	}
}

// Message is the text the presentation layer shows for the current flow state.
type Message struct {
	Kind MessageKind
	Text string
}

// Destination is where the presentation layer routes after a successful login.
type Destination string

// FlowState is a displayable snapshot of the [Controller].
type FlowState struct {
	Stage              Stage
	Username           string
	UsernameChecked    bool
	PasswordAlreadySet bool
	Message            Message
	ShowForgotPassword bool
	// RemainingAttempts is MaxFailedAttempts - FailedAttempts - 1 after the last failed
	// login. It is negative once that failure caused a lockout.
	RemainingAttempts int
	LockoutRemaining  time.Duration
	Destination       Destination
}
