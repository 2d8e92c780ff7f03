package authgate

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrEngineNotReady is returned when a required collaborator was not
	// configured before the engine method was called.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidCredentials covers a password mismatch during login or
	// password change.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountInactive covers both an unknown email and a soft-deleted
	// account. The two cases are deliberately indistinguishable to the
	// caller.
	ErrAccountInactive = errors.New("user is inactive or not found")
	// ErrEmailNotConfirmed rejects login before the confirmation link was
	// followed.
	ErrEmailNotConfirmed = errors.New("email not confirmed")
	// ErrAccountExists rejects registration with an email that already has
	// an account, soft-deleted ones included.
	ErrAccountExists = errors.New("account already exists")
	// ErrCaptchaMismatch rejects a login attempt whose captcha answer was
	// missing or wrong. The failure counter is not incremented for it.
	ErrCaptchaMismatch = errors.New("captcha verification failed")
	// ErrNoPendingCaptcha is returned by CaptchaChallenge when the
	// (email, ip) pair has no challenge outstanding.
	ErrNoPendingCaptcha = errors.New("no pending captcha challenge")
	// ErrTooManyAttempts is the sentinel all lockout rejections unwrap to.
	// The concrete error is a [*TooManyAttemptsError] carrying RetryAfter.
	ErrTooManyAttempts = errors.New("too many failed login attempts")
	// ErrInvalidOrExpiredToken covers refresh, confirmation and reset
	// tokens that are unknown, expired, or already consumed.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	// ErrTokenOwnershipMismatch rejects a refresh request whose token
	// belongs to a different user than claimed.
	ErrTokenOwnershipMismatch = errors.New("refresh token ownership mismatch")
	// ErrPermissionDenied is returned by Authorize when the resolved
	// permission set does not cover the route's requirements.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUserNotFound is returned by account-scoped operations when the
	// user id or email resolves to nothing.
	ErrUserNotFound = errors.New("user not found")
	// ErrPasswordRequired rejects a reset request with an empty new
	// password.
	ErrPasswordRequired = errors.New("new password is required")
	// ErrOAuthEmailMissing rejects an OAuth login whose profile carries no
	// email claim.
	ErrOAuthEmailMissing = errors.New("oauth profile missing email")
	// ErrNotificationFailed signals that the durable side effect succeeded
	// but the notification email could not be delivered. It is never
	// folded into a credential error.
	ErrNotificationFailed = errors.New("notification email delivery failed")
)

// TooManyAttemptsError is returned while an (email, ip) pair is locked out.
// It unwraps to [ErrTooManyAttempts].
type TooManyAttemptsError struct {
	RetryAfter time.Duration
}

func (e *TooManyAttemptsError) Error() string {
	return fmt.Sprintf("too many failed login attempts, retry after %s", formatRetryAfter(e.RetryAfter))
}

func (e *TooManyAttemptsError) Unwrap() error { return ErrTooManyAttempts }

// RetryAfterSeconds is the remaining lockout window rounded up to whole
// seconds, suitable for a Retry-After header.
func (e *TooManyAttemptsError) RetryAfterSeconds() int {
	return int((e.RetryAfter + time.Second - 1) / time.Second)
}

// formatRetryAfter renders the remaining time in minutes when above a
// minute, otherwise in seconds.
func formatRetryAfter(d time.Duration) string {
	seconds := int((d + time.Second - 1) / time.Second)
	if seconds > 60 {
		return fmt.Sprintf("%d minutes", (seconds+59)/60)
	}
	return fmt.Sprintf("%d seconds", seconds)
}

// StatusForError maps engine errors to the HTTP status a transport layer
// should answer with. Unrecognized errors map to 500.
func StatusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrEmailNotConfirmed), errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrAccountInactive),
		errors.Is(err, ErrInvalidOrExpiredToken),
		errors.Is(err, ErrTokenOwnershipMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrCaptchaMismatch),
		errors.Is(err, ErrNoPendingCaptcha),
		errors.Is(err, ErrPasswordRequired),
		errors.Is(err, ErrAccountExists),
		errors.Is(err, ErrOAuthEmailMissing):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
