package authgate

import (
	"context"
	"errors"

	"github.com/ecamli/authgate/internal/stores"
)

// Refresh rotates a refresh token. The token must exist and be unexpired,
// belong to the claimed user, and be presented together with an access
// token whose signature verifies (expiry ignored) — binding the rotation to
// the session that issued it. On success the old refresh token is consumed
// and a fresh access+refresh pair is returned; a refresh token never
// rotates twice.
func (e *Engine) Refresh(ctx context.Context, input RefreshInput) (*TokenPair, error) {
	if e == nil || e.creds == nil || e.refreshStore == nil {
		return nil, ErrEngineNotReady
	}

	record, err := e.refreshStore.Get(ctx, input.RefreshToken)
	if err != nil {
		if errors.Is(err, stores.ErrTokenNotFound) {
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, "refresh_failed: invalid refresh token", OutcomeFailure, nil, input.IP, ErrInvalidOrExpiredToken, nil)
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, err
	}

	user, err := e.creds.FindByID(ctx, record.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Deleted() {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, "refresh_failed: user is inactive or not found", OutcomeFailure, user, input.IP, ErrAccountInactive, nil)
		return nil, ErrAccountInactive
	}

	if record.UserID != input.UserID {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, "refresh_failed: token ownership mismatch", OutcomeFailure, user, input.IP, ErrTokenOwnershipMismatch, nil)
		return nil, ErrTokenOwnershipMismatch
	}

	if _, err := e.jwtManager.ParseIgnoringExpiry(input.AccessToken); err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, "refresh_failed: invalid access token", OutcomeFailure, user, input.IP, ErrInvalidOrExpiredToken, nil)
		return nil, ErrInvalidOrExpiredToken
	}

	// Consume is atomic; when two requests race on the same token only one
	// gets past this point.
	if _, err := e.refreshStore.Consume(ctx, input.RefreshToken); err != nil {
		if errors.Is(err, stores.ErrTokenNotFound) {
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, "refresh_failed: refresh token already rotated", OutcomeFailure, user, input.IP, ErrInvalidOrExpiredToken, nil)
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, err
	}

	pair, err := e.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, "refresh", OutcomeSuccess, user, input.IP, nil, nil)
	return pair, nil
}

// RevokeRefreshToken invalidates a refresh token out of band, e.g. on
// logout. Revoking an unknown token is not an error.
func (e *Engine) RevokeRefreshToken(ctx context.Context, token string) error {
	if e == nil || e.refreshStore == nil {
		return ErrEngineNotReady
	}
	return e.refreshStore.Revoke(ctx, token)
}
