package authgate

import (
	"context"
	"errors"
)

const (
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventAccountLocked        = "account_locked"
	auditEventLockoutExpired       = "lockout_expired"
	auditEventLockoutRejected      = "lockout_rejected"
	auditEventLogout               = "logout"
	auditEventPasswordSet          = "password_set"
	auditEventPasswordResetRequest = "password_reset_request"
	auditEventPasswordReset        = "password_reset"
)

// AuditErrorCode is the stable error label carried by [AuditEvent].
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrValidation         AuditErrorCode = "validation"
	auditErrResetToken         AuditErrorCode = "reset_token_invalid"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrStore              AuditErrorCode = "store_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	username string,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Username:  username,
		UserID:    userID,
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	if !e.audit.enqueue(ctx, event) {
		e.logger.Debug("authgate: audit event not queued", "event", eventType)
	}
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrResetTokenInvalid):
		return auditErrResetToken
	case errors.Is(err, ErrTransport):
		return auditErrUnavailable
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrStore
	default:
		return auditErrInternal
	}
}
