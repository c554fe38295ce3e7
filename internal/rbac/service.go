// Package rbac answers permission questions for authenticated users.
package rbac

import (
	"context"
	"fmt"
	"strings"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
)

// Service resolves permissions from user_roles and role_permissions.
type Service struct {
	q db.DBTX
}

// NewService constructs a Service backed by the provided pool.
func NewService(q db.DBTX) *Service {
	return &Service{q: q}
}

// EffectivePermissions returns the permission codes granted to a user through any role.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.q.Query(ctx, `SELECT DISTINCT p.code
FROM user_roles ur
JOIN role_permissions rp ON rp.role_id = ur.role_id
JOIN permissions p ON p.id = rp.permission_id
WHERE ur.user_id = $1
ORDER BY p.code`, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: effective permissions: %w", err)
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		perms = append(perms, strings.ToLower(code))
	}
	return perms, rows.Err()
}

// HasPermission reports whether the user holds the permission code.
func (s *Service) HasPermission(ctx context.Context, userID int64, code string) (bool, error) {
	var ok bool
	err := s.q.QueryRow(ctx, `SELECT EXISTS (
	SELECT 1 FROM user_roles ur
	JOIN role_permissions rp ON rp.role_id = ur.role_id
	JOIN permissions p ON p.id = rp.permission_id
	WHERE ur.user_id = $1 AND lower(p.code) = $2
)`, userID, strings.ToLower(strings.TrimSpace(code))).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("rbac: has permission: %w", err)
	}
	return ok, nil
}
