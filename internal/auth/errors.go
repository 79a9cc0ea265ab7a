package auth

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy shared by the account, oauth and webhook services. The
// HTTP layer maps these to status codes and stable machine-readable kinds;
// enumeration-sensitive flows deliberately collapse onto
// ErrInvalidCredentials so unknown-email and wrong-password are
// indistinguishable to callers.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrWeakPassword       = errors.New("password does not meet policy")
	ErrBreachedPassword   = errors.New("password found in breach corpus")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrRateLimited        = errors.New("rate limited")

	ErrSessionNotFound = errors.New("session not found")
	ErrTokenInvalid    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")

	ErrMFARequired          = errors.New("mfa required")
	ErrMFANotEnabled        = errors.New("mfa not enabled")
	ErrMFAAlreadyEnabled    = errors.New("mfa already enabled")
	ErrMFASetupNotStarted   = errors.New("mfa setup not started")
	ErrChallengeNotFound    = errors.New("mfa challenge not found")
	ErrChallengeExhausted   = errors.New("mfa challenge attempts exceeded")
	ErrInvalidCode          = errors.New("invalid verification code")
	ErrBackupCodeInvalid    = errors.New("invalid backup code")
	ErrBackupCodesDepleted  = errors.New("no backup codes remaining")
	ErrPasswordReauthFailed = errors.New("password re-authentication failed")

	ErrProviderNotConfigured = errors.New("oauth provider not configured")
	ErrStateInvalid          = errors.New("oauth state invalid or expired")
	ErrAccountAlreadyLinked  = errors.New("external account already linked")
	ErrProviderEmailMissing  = errors.New("provider returned no email")

	ErrWebhookNotFound   = errors.New("webhook not found")
	ErrWebhookURLInvalid = errors.New("webhook url must be absolute http(s)")
	ErrDeliveryNotFound  = errors.New("delivery not found")
	ErrUserNotFound      = errors.New("user not found")
)

// LockoutError is returned from sign-in while the account is locked. It
// wraps the taxonomy's authentication kind but carries the unlock time so
// callers can surface it.
type LockoutError struct {
	Until time.Time
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// IsLocked unwraps err into a LockoutError if one is present.
func IsLocked(err error) (*LockoutError, bool) {
	var le *LockoutError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}
