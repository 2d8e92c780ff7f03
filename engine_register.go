package authgate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ecamli/authgate/internal/stores"
)

// Register creates an unconfirmed account with the default role and mails a
// confirmation link. The confirmation token is the durable side effect;
// when only the email fails to go out, the error unwraps to
// ErrNotificationFailed and the account still exists.
func (e *Engine) Register(ctx context.Context, input RegisterInput) error {
	if e == nil || e.creds == nil || e.email == nil {
		return ErrEngineNotReady
	}

	email := strings.TrimSpace(input.Email)

	existing, err := e.creds.FindByEmail(ctx, email, true)
	if err != nil {
		return err
	}
	if existing != nil {
		e.metricInc(MetricRegistrationDuplicate)
		return ErrAccountExists
	}

	hash, err := e.hasher.Hash(input.Password)
	if err != nil {
		return err
	}

	user, err := e.creds.Create(ctx, &User{
		Email:          email,
		Name:           input.Name,
		Surname:        input.Surname,
		PasswordHash:   hash,
		EmailConfirmed: false,
		Roles:          []string{e.config.DefaultRole},
	})
	if err != nil {
		return err
	}

	token, err := e.confirmStore.Generate(ctx, user.ID, e.config.Tokens.ConfirmationTTL)
	if err != nil {
		return err
	}

	e.metricInc(MetricRegistrationCreated)
	e.emitAudit(ctx, "register", OutcomeSuccess, user, "", nil, nil)

	confirmationURL := e.config.AppURL + "/auth/confirm/" + token
	if err := e.email.Send(ctx, user.Email, "Confirm your email", "email-confirmation", map[string]string{
		"Name": user.Name,
		"URL":  confirmationURL,
	}); err != nil {
		e.warn(err, "authgate: confirmation email delivery failed")
		return fmt.Errorf("%w: %v", ErrNotificationFailed, err)
	}

	return nil
}

// ConfirmEmail consumes a confirmation token and flips the account's
// confirmed flag. A second call with the same token fails with
// ErrInvalidOrExpiredToken and leaves the flag untouched.
func (e *Engine) ConfirmEmail(ctx context.Context, token string) error {
	if e == nil || e.creds == nil || e.confirmStore == nil {
		return ErrEngineNotReady
	}

	record, err := e.confirmStore.Consume(ctx, token)
	if err != nil {
		if errors.Is(err, stores.ErrTokenNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return err
	}

	if err := e.creds.MarkEmailConfirmed(ctx, record.UserID); err != nil {
		return err
	}

	e.metricInc(MetricEmailConfirmed)
	e.emitAudit(ctx, "email_confirmed", OutcomeSuccess, &User{ID: record.UserID}, "", nil, nil)
	return nil
}
