package authgate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ecamli/authgate/internal/stores"
)

// ChangePassword re-verifies the current password before installing the new
// one, then notifies the account by email. Outstanding refresh tokens stay
// valid; callers wanting a full re-login should revoke them separately.
func (e *Engine) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if e == nil || e.creds == nil || e.email == nil {
		return ErrEngineNotReady
	}

	user, err := e.creds.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil || user.Deleted() {
		return ErrUserNotFound
	}

	if !e.hasher.Verify(currentPassword, user.PasswordHash) {
		e.emitAudit(ctx, "password_change_failed: invalid credentials", OutcomeFailure, user, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.creds.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return err
	}

	e.metricInc(MetricPasswordChanged)
	e.emitAudit(ctx, "password_changed", OutcomeSuccess, user, "", nil, nil)

	if err := e.email.Send(ctx, user.Email, "Password Change Notification", "password-changed", map[string]string{
		"Name": user.Name,
	}); err != nil {
		e.warn(err, "authgate: password change notification failed")
		return fmt.Errorf("%w: %v", ErrNotificationFailed, err)
	}

	return nil
}

// ForgotPassword mails a time-limited reset link to an active, known
// account. Unknown or soft-deleted accounts fail with ErrUserNotFound.
func (e *Engine) ForgotPassword(ctx context.Context, emailAddr string) error {
	if e == nil || e.creds == nil || e.email == nil {
		return ErrEngineNotReady
	}

	user, err := e.creds.FindByEmail(ctx, strings.TrimSpace(emailAddr), false)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	token, err := e.resetStore.Generate(ctx, user.ID, e.config.Tokens.ResetTTL)
	if err != nil {
		return err
	}

	e.metricInc(MetricPasswordResetRequested)
	e.emitAudit(ctx, "password_reset_requested", OutcomeSuccess, user, "", nil, nil)

	resetURL := e.config.AppURL + "/auth/reset-password/" + token
	if err := e.email.Send(ctx, user.Email, "Password Reset", "password-reset", map[string]string{
		"Name": user.Name,
		"URL":  resetURL,
	}); err != nil {
		e.warn(err, "authgate: password reset email failed")
		return fmt.Errorf("%w: %v", ErrNotificationFailed, err)
	}

	return nil
}

// ResetPassword consumes a reset token and installs the new password. The
// token is single use; retrying with a consumed or expired token fails with
// ErrInvalidOrExpiredToken.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if e == nil || e.creds == nil || e.resetStore == nil {
		return ErrEngineNotReady
	}

	if newPassword == "" {
		return ErrPasswordRequired
	}

	record, err := e.resetStore.Consume(ctx, token)
	if err != nil {
		if errors.Is(err, stores.ErrTokenNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return err
	}

	user, err := e.creds.FindByID(ctx, record.UserID)
	if err != nil {
		return err
	}
	if user == nil || user.Deleted() {
		return ErrUserNotFound
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.creds.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return err
	}

	e.metricInc(MetricPasswordResetCompleted)
	e.emitAudit(ctx, "password_reset", OutcomeSuccess, user, "", nil, nil)

	if err := e.email.Send(ctx, user.Email, "Password Reset Confirmation", "password-reset-confirmed", map[string]string{
		"Name": user.Name,
	}); err != nil {
		e.warn(err, "authgate: password reset confirmation email failed")
		return fmt.Errorf("%w: %v", ErrNotificationFailed, err)
	}

	return nil
}
