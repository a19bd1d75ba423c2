package authgate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation reports a local input problem. It is raised before any backend call.
	ErrValidation = errors.New("validation failed")
	// ErrUserNotFound reports that the backend does not know the username.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials reports a confirmed wrong password.
	ErrInvalidCredentials = errors.New("invalid password")
	// ErrAccountLocked reports an action attempted while the failed-attempt lockout is active.
	ErrAccountLocked = errors.New("account is temporarily locked due to multiple failed attempts")
	// ErrResetTokenInvalid reports an unknown, used or expired password reset token.
	ErrResetTokenInvalid = errors.New("password reset token is invalid or expired")
	// ErrResetUnsupported reports a backend that does not implement PasswordResetter.
	ErrResetUnsupported = errors.New("backend does not support password reset")
	// ErrTransport reports an unreachable backend or a malformed backend response.
	ErrTransport = errors.New("backend unavailable")
	// ErrFlowStage reports an operation invoked out of order in the login flow.
	ErrFlowStage = errors.New("login flow stage mismatch")
	// ErrStoreUnavailable reports a failed read or write against a persistent store scope.
	ErrStoreUnavailable = errors.New("persistent store unavailable")
	// ErrEngineClosed reports a transition attempted after Close.
	ErrEngineClosed = errors.New("engine closed")
	// ErrEngineNotReady reports a nil or partially constructed engine or controller.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// LockedError carries the remaining lockout time. It matches ErrAccountLocked with errors.Is.
type LockedError struct {
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s (%s remaining)", ErrAccountLocked.Error(), FormatLockout(e.Remaining))
}

// Is reports whether target is ErrAccountLocked.
func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// TransportError wraps a backend failure that is neither a missing user nor a wrong password.
// Its message is the raw backend message. It matches ErrTransport with errors.Is.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return ErrTransport.Error()
	}
	return e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// classifyBackendError maps a backend error onto the error taxonomy.
func classifyBackendError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrResetTokenInvalid),
		errors.Is(err, ErrResetUnsupported), errors.Is(err, ErrTransport):
		return err
	default:
		return &TransportError{Err: err}
	}
}
