package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

type contextKey string

const ctxPrincipal contextKey = "principal"

// Principal is the authenticated caller resolved from the access token.
type Principal struct {
	SubjectID uuid.UUID
	Role      enums.ActorRole
	VendorID  *uuid.UUID
}

// Is reports whether the principal holds one of roles.
func (p Principal) Is(roles ...enums.ActorRole) bool {
	for _, role := range roles {
		if p.Role == role {
			return true
		}
	}
	return false
}

// OwnsVendor reports whether the principal may act for vendorID. Admins act
// for every vendor.
func (p Principal) OwnsVendor(vendorID uuid.UUID) bool {
	if p.Role == enums.ActorRoleAdmin {
		return true
	}
	return p.Role == enums.ActorRoleVendor && p.VendorID != nil && *p.VendorID == vendorID
}

// PrincipalFromContext returns the caller stored by Auth.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(ctxPrincipal).(Principal)
	return p, ok
}

func RoleFromContext(ctx context.Context) enums.ActorRole {
	p, _ := PrincipalFromContext(ctx)
	return p.Role
}

// WithPrincipal injects the caller into the context for downstream handlers.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxPrincipal, p)
}
