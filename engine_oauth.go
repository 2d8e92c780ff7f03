package authgate

import (
	"context"
	"strings"
)

// GoogleLogin signs in a user from a verified Google profile, provisioning
// the account on first sight. Provisioned accounts have a confirmed email,
// no password hash, and the default role; they can only sign in through
// OAuth until a password is set via the reset flow. Only an access token is
// returned — OAuth sessions re-authenticate with the provider instead of
// rotating refresh tokens.
func (e *Engine) GoogleLogin(ctx context.Context, profile OAuthProfile, ip string) (string, error) {
	if e == nil || e.creds == nil {
		return "", ErrEngineNotReady
	}

	email := strings.TrimSpace(profile.Email)
	if email == "" {
		return "", ErrOAuthEmailMissing
	}

	user, err := e.creds.FindByEmail(ctx, email, true)
	if err != nil {
		return "", err
	}
	if user != nil && user.Deleted() {
		e.emitAudit(ctx, "google_login_failed: user is inactive or not found", OutcomeFailure, user, ip, ErrAccountInactive, nil)
		return "", ErrAccountInactive
	}

	if user == nil {
		user, err = e.creds.Create(ctx, &User{
			Email:          email,
			Name:           profile.FirstName,
			Surname:        profile.LastName,
			EmailConfirmed: true,
			Roles:          []string{e.config.DefaultRole},
		})
		if err != nil {
			return "", err
		}
	}

	access, err := e.jwtManager.Issue(user.ID, user.Email, user.Roles)
	if err != nil {
		return "", err
	}

	e.metricInc(MetricOAuthLogin)
	e.emitAudit(ctx, "google_login", OutcomeSuccess, user, ip, nil, nil)
	return access, nil
}
