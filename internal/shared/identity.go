package shared

import "context"

// Identity is the authenticated caller, supplied by middleware.
type Identity struct {
	UserID    int64
	CompanyID int64
	Roles     []Role
}

// IsSuperAdmin reports whether any role is a super-admin role.
func (i Identity) IsSuperAdmin() bool {
	for _, r := range i.Roles {
		if r.Kind == RoleSuperAdmin {
			return true
		}
	}
	return false
}

// HasRole reports whether the identity holds the named role (normalized comparison).
func (i Identity) HasRole(name string) bool {
	want := NormalizeRoleName(name)
	if want == "" {
		return false
	}
	for _, r := range i.Roles {
		if r.Name == want {
			return true
		}
	}
	return false
}

// RoleNames returns the normalized role names.
func (i Identity) RoleNames() []string {
	names := make([]string, 0, len(i.Roles))
	for _, r := range i.Roles {
		names = append(names, r.Name)
	}
	return names
}

type identityContextKey struct{}

// ContextWithIdentity stores the identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
