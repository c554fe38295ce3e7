package shared

import (
	"strings"

	"golang.org/x/text/cases"
)

// RoleKind is the closed set of role classes the back office distinguishes.
type RoleKind int

const (
	// RoleCustom is any tenant-defined role; it is matched by its normalized name.
	RoleCustom RoleKind = iota
	// RoleSuperAdmin bypasses approval-role checks and sees all companies.
	RoleSuperAdmin
	// RoleAdmin administers a single company.
	RoleAdmin
)

var folder = cases.Fold()

// superAdminNames are the normalized role names recognised as super-admin.
var superAdminNames = map[string]struct{}{
	"super_admin":          {},
	"superadmin":           {},
	"super_user":           {},
	"system_admin":         {},
	"system_administrator": {},
}

var adminNames = map[string]struct{}{
	"admin":         {},
	"administrator": {},
	"company_admin": {},
}

// Role is a role resolved once when the identity is built.
type Role struct {
	Kind RoleKind
	Name string
}

// NormalizeRoleName case-folds the name and joins words with underscores.
func NormalizeRoleName(name string) string {
	name = folder.String(strings.TrimSpace(name))
	name = strings.NewReplacer("-", " ", ".", " ").Replace(name)
	return strings.Join(strings.Fields(name), "_")
}

// ParseRole resolves a raw role name into its kind.
func ParseRole(name string) Role {
	normalized := NormalizeRoleName(name)
	if _, ok := superAdminNames[normalized]; ok {
		return Role{Kind: RoleSuperAdmin, Name: normalized}
	}
	if _, ok := adminNames[normalized]; ok {
		return Role{Kind: RoleAdmin, Name: normalized}
	}
	return Role{Kind: RoleCustom, Name: normalized}
}

// ParseRoles resolves every name, dropping blanks.
func ParseRoles(names []string) []Role {
	roles := make([]Role, 0, len(names))
	for _, n := range names {
		r := ParseRole(n)
		if r.Name == "" {
			continue
		}
		roles = append(roles, r)
	}
	return roles
}
