package authgate

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/ecamli/authgate/internal/audit"
	internalmetrics "github.com/ecamli/authgate/internal/metrics"
)

// User is the account record exchanged with the host application's
// [CredentialStore]. PasswordHash is empty for OAuth-provisioned accounts.
type User struct {
	ID             string
	Email          string
	Name           string
	Surname        string
	PasswordHash   string
	EmailConfirmed bool
	DeletedAt      *time.Time
	Roles          []string
}

// Deleted reports whether the account carries a soft-delete marker.
func (u *User) Deleted() bool {
	return u != nil && u.DeletedAt != nil
}

// CredentialStore is the interface the host application implements to give
// the engine access to its user database. FindByEmail and FindByID return
// (nil, nil) when no matching row exists.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string, includeDeleted bool) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, user *User) (*User, error)
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
	MarkEmailConfirmed(ctx context.Context, userID string) error
}

// RoleGrant is one role held by a user together with the permission names
// that role carries.
type RoleGrant struct {
	Role        string
	Permissions []string
}

// PermissionSource resolves a user's current roles and permissions. The
// engine consults it on every authorization decision instead of trusting
// role claims baked into an access token, so role changes take effect
// before the token expires.
type PermissionSource interface {
	RolesWithPermissions(ctx context.Context, userID string) ([]RoleGrant, error)
}

// EmailSender delivers a templated notification. Implementations render
// templateName with data; [email.SMTPSender] is the bundled implementation.
type EmailSender interface {
	Send(ctx context.Context, to, subject, templateName string, data map[string]string) error
}

// TokenPair is the access+refresh credential pair returned by Login and
// Refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// LoginInput carries one password login attempt. CaptchaAnswer is required
// once the (email, ip) pair has accumulated enough failures.
type LoginInput struct {
	Email         string
	Password      string
	IP            string
	CaptchaAnswer string
}

// RegisterInput is the self-service registration request.
type RegisterInput struct {
	Name     string
	Surname  string
	Email    string
	Password string
}

// RefreshInput carries a token rotation request. AccessToken is the
// (possibly expired) token from the session being refreshed; its signature
// binds the refresh call to that session.
type RefreshInput struct {
	RefreshToken string
	UserID       string
	AccessToken  string
	IP           string
}

// OAuthProfile is the subset of an OAuth provider profile the engine needs.
type OAuthProfile struct {
	Email     string
	FirstName string
	LastName  string
}

// Identity is the authenticated principal extracted from a verified access
// token. Roles reflect the token's claims at issue time; authorization
// re-resolves them through [PermissionSource].
type Identity struct {
	UserID string
	Email  string
	Roles  []string
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

const (
	// OutcomeSuccess marks a successful audit event.
	OutcomeSuccess = internalaudit.OutcomeSuccess
	// OutcomeFailure marks a failed audit event.
	OutcomeFailure = internalaudit.OutcomeFailure
)

// MetricID identifies a counter in the in-process metrics set.
type MetricID = internalmetrics.MetricID

const (
	MetricLoginSuccess           = internalmetrics.MetricLoginSuccess
	MetricLoginFailure           = internalmetrics.MetricLoginFailure
	MetricLoginThrottled         = internalmetrics.MetricLoginThrottled
	MetricLoginCaptchaRejected   = internalmetrics.MetricLoginCaptchaRejected
	MetricRefreshSuccess         = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure         = internalmetrics.MetricRefreshFailure
	MetricRegistrationCreated    = internalmetrics.MetricRegistrationCreated
	MetricRegistrationDuplicate  = internalmetrics.MetricRegistrationDuplicate
	MetricEmailConfirmed         = internalmetrics.MetricEmailConfirmed
	MetricPasswordChanged        = internalmetrics.MetricPasswordChanged
	MetricPasswordResetRequested = internalmetrics.MetricPasswordResetRequested
	MetricPasswordResetCompleted = internalmetrics.MetricPasswordResetCompleted
	MetricOAuthLogin             = internalmetrics.MetricOAuthLogin
	MetricPermissionDenied       = internalmetrics.MetricPermissionDenied
)

// Metrics holds the engine's atomic counters.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot = internalmetrics.Snapshot
