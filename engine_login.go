package authgate

import (
	"context"
	"errors"
	"strings"

	"github.com/ecamli/authgate/internal/lockout"
)

// Login runs the password login state machine: lockout check, captcha gate,
// credential check, token issue, audit. While the (email, ip) pair is
// locked the credential store is never consulted and no failure is
// recorded — the lock itself is the signal.
func (e *Engine) Login(ctx context.Context, input LoginInput) (*TokenPair, error) {
	if e == nil || e.creds == nil || e.lockout == nil {
		return nil, ErrEngineNotReady
	}

	email := strings.TrimSpace(input.Email)

	state, err := e.lockout.Check(ctx, email, input.IP)
	if err != nil {
		var locked *lockout.LockedError
		if errors.As(err, &locked) {
			e.metricInc(MetricLoginThrottled)
			return nil, &TooManyAttemptsError{RetryAfter: locked.RetryAfter}
		}
		return nil, err
	}

	if state.MustSolveCaptcha(e.config.Lockout.CaptchaAfter) {
		// A wrong or missing captcha answer is terminal for this request
		// but does not advance the failure counter; forgotten captchas
		// must not compound into lockouts.
		if !e.captcha.Verify(input.CaptchaAnswer, state.CaptchaText) {
			e.metricInc(MetricLoginCaptchaRejected)
			return nil, ErrCaptchaMismatch
		}
	}

	user, err := e.creds.FindByEmail(ctx, email, true)
	if err != nil {
		return nil, err
	}

	if user == nil || user.Deleted() {
		if user != nil {
			e.emitAudit(ctx, "login_failed: user is inactive or not found", OutcomeFailure, user, input.IP, ErrAccountInactive, nil)
		}
		return nil, e.failLogin(ctx, email, input.IP, ErrAccountInactive)
	}

	if !user.EmailConfirmed {
		e.emitAudit(ctx, "login_failed: email not confirmed", OutcomeFailure, user, input.IP, ErrEmailNotConfirmed, nil)
		return nil, e.failLogin(ctx, email, input.IP, ErrEmailNotConfirmed)
	}

	if !e.hasher.Verify(input.Password, user.PasswordHash) {
		e.emitAudit(ctx, "login_failed: invalid credentials", OutcomeFailure, user, input.IP, ErrInvalidCredentials, nil)
		return nil, e.failLogin(ctx, email, input.IP, ErrInvalidCredentials)
	}

	if err := e.lockout.Clear(ctx, email, input.IP); err != nil {
		e.warn(err, "authgate: clearing failed attempts failed")
	}

	pair, err := e.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, "login", OutcomeSuccess, user, input.IP, nil, nil)
	return pair, nil
}

// failLogin records the failed attempt against the (email, ip) pair and
// returns cause. Tracker escalation (captcha, lockout windows) happens
// inside RecordFailure.
func (e *Engine) failLogin(ctx context.Context, email, ip string, cause error) error {
	if _, err := e.lockout.RecordFailure(ctx, email, ip); err != nil {
		e.warn(err, "authgate: recording failed attempt failed")
	}
	e.metricInc(MetricLoginFailure)
	return cause
}

// CaptchaChallenge renders the outstanding captcha for an (email, ip) pair
// as a base64 PNG data URI. Fails with ErrNoPendingCaptcha when the pair
// has not escalated to the captcha stage, and with the usual lockout error
// while a window is active.
func (e *Engine) CaptchaChallenge(ctx context.Context, email, ip string) (string, error) {
	if e == nil || e.lockout == nil {
		return "", ErrEngineNotReady
	}

	state, err := e.lockout.Check(ctx, strings.TrimSpace(email), ip)
	if err != nil {
		var locked *lockout.LockedError
		if errors.As(err, &locked) {
			return "", &TooManyAttemptsError{RetryAfter: locked.RetryAfter}
		}
		return "", err
	}
	if state.CaptchaText == "" {
		return "", ErrNoPendingCaptcha
	}

	return e.captcha.Render(state.CaptchaText)
}

func (e *Engine) issueTokens(ctx context.Context, user *User) (*TokenPair, error) {
	access, err := e.jwtManager.Issue(user.ID, user.Email, user.Roles)
	if err != nil {
		return nil, err
	}
	refresh, err := e.refreshStore.Issue(ctx, user.ID, e.config.Tokens.RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
