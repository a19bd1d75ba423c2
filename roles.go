package authgate

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// NormalizeRole trims role and applies Unicode case folding, so "admin", " ADMIN "
// and "Admin" compare equal.
func NormalizeRole(role string) string {
	// A Caser is stateful and must not be shared between goroutines.
	return cases.Fold().String(strings.TrimSpace(role))
}

// IsAdminRole reports whether role matches one of adminRoles after normalization.
func IsAdminRole(role string, adminRoles []string) bool {
	r := NormalizeRole(role)
	if r == "" {
		return false
	}
	for _, candidate := range adminRoles {
		if NormalizeRole(candidate) == r {
			return true
		}
	}
	return false
}

// DestinationFor picks the post-login destination for role.
func (c FlowConfig) DestinationFor(role string) Destination {
	if IsAdminRole(role, c.AdminRoles) {
		return Destination(c.AdminDestination)
	}
	return Destination(c.DefaultDestination)
}

// FormatLockout renders d as m:ss, rounding partial seconds up.
func FormatLockout(d time.Duration) string {
	if d <= 0 {
		return "0:00"
	}
	secs := int64((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// lockoutMinutes rounds d up to whole minutes.
func lockoutMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Minute - 1) / time.Minute)
}

func lockoutWaitMessage(d time.Duration) string {
	return fmt.Sprintf("Account locked due to multiple failed attempts. Try again in %d minute(s).", lockoutMinutes(d))
}

const (
	msgEnterUsername      = "Please enter a username to check"
	msgUsernameTooShort   = "Username must be at least %d characters long"
	msgUnknownUsername    = "Invalid username - please register first"
	msgPasswordExists     = "Password exists - please enter your password"
	msgNoPassword         = "No password set - please create a password now"
	msgPasswordRequired   = "Please enter your password"
	msgPasswordTooShort   = "Password must be at least %d characters long"
	msgCheckUsernameFirst = "Please check username first"
	msgUsernameChanged    = "Username changed - please check username again"
	msgPasswordCreated    = "Password created successfully. Please log in now."
	msgPasswordCreateFail = "Password creation failed: %s"
	msgLoginSuccess       = "Login successful"
	msgAttemptsRemaining  = "Invalid password. %d attempt(s) remaining before account lockout."
	msgLastAttempt        = "Invalid password. This is your last attempt before account lockout."
	msgLockedOfferReset   = "Account locked due to multiple failed attempts. Consider resetting your password."
	msgForgotNoUsername   = "Please enter your username first"
	msgResetSent          = "Password reset instructions have been sent to your registered email."
	msgResetFailed        = "Failed to send reset instructions: %s"
	msgCheckUserFailed    = "Error checking username: %s"
	msgPasswordStatusFail = "Error checking password status: %s"
	msgLockoutExpired     = "Lockout expired - you may try again"
	msgResetTokenRequired = "Please enter the reset token from your email"
	msgPasswordResetDone  = "Password reset successfully. Please log in with your new password."
	msgResetTokenInvalid  = "Reset link is invalid or has expired. Please request a new one."
	msgPasswordResetFail  = "Password reset failed: %s"
	msgResetUnsupported   = "Password reset is not available"
)
