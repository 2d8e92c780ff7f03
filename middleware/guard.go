// Package middleware exposes net/http adapters for authgate's token
// validation and permission checks.
//
// [Guard] authenticates the request from its Authorization header and puts
// the identity in the request context. [RequirePermissions] and
// [RequirePermissionsOrSelf] additionally authorize, resolving the user's
// permissions server-side on every request.
//
// This package translates HTTP semantics into Engine calls; it makes no
// authentication or authorization decisions of its own.
package middleware

import (
	"context"
	"net/http"
	"strings"

	authgate "github.com/ecamli/authgate"
)

type identityContextKey struct{}

// IdentityFromContext returns the identity stored by [Guard], if any.
func IdentityFromContext(ctx context.Context) (*authgate.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*authgate.Identity)
	return id, ok
}

// Guard authenticates the request with the engine and injects the resulting
// identity into the request context. Missing or invalid tokens get a 401.
func Guard(engine *authgate.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := authenticate(engine, w, r)
			if !ok {
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermissions authenticates and then checks that the caller holds
// every listed permission. Permissions come from the engine's
// PermissionSource, not from token claims.
func RequirePermissions(engine *authgate.Engine, permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := authenticate(engine, w, r)
			if !ok {
				return
			}

			if err := engine.Authorize(r.Context(), identity.UserID, permissions...); err != nil {
				reject(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermissionsOrSelf is [RequirePermissions] with a self-service
// escape hatch: when the route's path value named by userIDParam equals the
// caller's own user ID, the permission check is skipped. Register routes
// with a matching pattern, e.g. "PUT /users/{userId}".
func RequirePermissionsOrSelf(engine *authgate.Engine, userIDParam string, permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := authenticate(engine, w, r)
			if !ok {
				return
			}

			target := r.PathValue(userIDParam)
			if err := engine.AuthorizeSelfOr(r.Context(), identity.UserID, target, permissions...); err != nil {
				reject(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(engine *authgate.Engine, w http.ResponseWriter, r *http.Request) (*authgate.Identity, bool) {
	if engine == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}

	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}

	identity, err := engine.ValidateAccess(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}

	return identity, true
}

func reject(w http.ResponseWriter, err error) {
	status := authgate.StatusForError(err)
	if status == http.StatusForbidden {
		http.Error(w, "forbidden", status)
		return
	}
	http.Error(w, http.StatusText(status), status)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
