// Package authgate is an embeddable authentication and authorization engine
// for role-based admin backends. It owns credential validation, access and
// refresh token lifecycle, progressive lockout with captcha escalation,
// one-time confirmation/reset tokens, and permission resolution; the host
// application supplies user storage, permission data, email delivery, and
// geo lookup through interfaces.
package authgate

import (
	"context"
	"time"

	"github.com/phuslu/log"

	"github.com/ecamli/authgate/geo"
	internalaudit "github.com/ecamli/authgate/internal/audit"
	"github.com/ecamli/authgate/internal/captcha"
	"github.com/ecamli/authgate/internal/lockout"
	internalmetrics "github.com/ecamli/authgate/internal/metrics"
	"github.com/ecamli/authgate/internal/stores"
	"github.com/ecamli/authgate/jwt"
	"github.com/ecamli/authgate/password"
)

// Engine coordinates the authentication flows. Build one with [New]; an
// Engine is immutable after Build and safe for concurrent use.
type Engine struct {
	config Config

	creds CredentialStore
	perms PermissionSource
	email EmailSender
	geo   geo.Resolver

	lockout      *lockout.Tracker
	captcha      *captcha.Service
	refreshStore *stores.RefreshStore
	confirmStore *stores.OneTimeStore
	resetStore   *stores.OneTimeStore
	jwtManager   *jwt.Manager
	hasher       *password.Hasher
	audit        *internalaudit.Dispatcher
	metrics      *internalmetrics.Metrics
	logger       *log.Logger
}

// Close drains the audit dispatcher. Call it on shutdown.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// ValidateAccess verifies an access token's signature and expiry and
// returns the authenticated identity.
func (e *Engine) ValidateAccess(tokenStr string) (*Identity, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.jwtManager.Parse(tokenStr)
	if err != nil {
		return nil, ErrInvalidOrExpiredToken
	}
	return &Identity{
		UserID: claims.UserID,
		Email:  claims.Email,
		Roles:  claims.Roles,
	}, nil
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.SnapshotNow()
}

// AuditDropped reports how many audit events were discarded under
// back-pressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) lookupGeo(ip string) geo.Location {
	if e.geo == nil {
		return geo.Unknown
	}
	return e.geo.Lookup(ip)
}

func (e *Engine) emitAudit(ctx context.Context, action, outcome string, user *User, ip string, cause error, metadata map[string]string) {
	if e.audit == nil {
		return
	}

	event := internalaudit.Event{
		Timestamp: time.Now(),
		Action:    action,
		Outcome:   outcome,
		IP:        ip,
		Metadata:  metadata,
	}
	if user != nil {
		event.UserID = user.ID
		event.Email = user.Email
	}
	if ip != "" {
		loc := e.lookupGeo(ip)
		event.Country = loc.Country
		event.City = loc.City
	}
	if cause != nil {
		event.Error = cause.Error()
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) warn(err error, msg string) {
	if e.logger == nil {
		return
	}
	e.logger.Warn().Err(err).Msg(msg)
}
