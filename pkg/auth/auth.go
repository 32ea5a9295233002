package auth

import (
	"context"

	"github.com/google/uuid"
)

const (
	XUserIDHeader   = "X-User-Id"
	XUserRoleHeader = "X-User-Role"

	RoleStaff  = "STAFF"
	RolePatron = "PATRON"
)

type ctxKey struct{}

type Identity struct {
	UserID uuid.UUID
	Role   string
}

func SetAuthContext(ctx context.Context, userID uuid.UUID, role string) context.Context {
	return context.WithValue(ctx, ctxKey{}, Identity{UserID: userID, Role: role})
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

func IsStaff(ctx context.Context) bool {
	id, ok := FromContext(ctx)
	return ok && id.Role == RoleStaff
}
