package authgate

import "context"

// Authorize checks that the user holds every required permission. The
// permission set is resolved fresh from the [PermissionSource] on each call;
// role claims baked into a token are never trusted for authorization. An
// empty requirement always passes.
func (e *Engine) Authorize(ctx context.Context, userID string, required ...string) error {
	if len(required) == 0 {
		return nil
	}
	if e == nil || e.perms == nil {
		return ErrEngineNotReady
	}

	grants, err := e.perms.RolesWithPermissions(ctx, userID)
	if err != nil {
		return err
	}

	held := make(map[string]struct{})
	for _, grant := range grants {
		for _, perm := range grant.Permissions {
			held[perm] = struct{}{}
		}
	}

	for _, perm := range required {
		if _, ok := held[perm]; !ok {
			e.metricInc(MetricPermissionDenied)
			e.emitAudit(ctx, "permission_denied", OutcomeFailure, &User{ID: userID}, "", ErrPermissionDenied, map[string]string{
				"required": perm,
			})
			return ErrPermissionDenied
		}
	}

	return nil
}

// AuthorizeSelfOr passes when the caller is acting on their own resource,
// and otherwise falls back to a full permission check. Route handlers use
// this for endpoints like "update user" where users may edit themselves
// without holding the admin permission.
func (e *Engine) AuthorizeSelfOr(ctx context.Context, userID, targetUserID string, required ...string) error {
	if userID != "" && userID == targetUserID {
		return nil
	}
	return e.Authorize(ctx, userID, required...)
}
