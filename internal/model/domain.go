package model

import (
	"github.com/google/uuid"
)

type UserRole string

const (
	UserRoleAdmin      UserRole = "ADMIN"
	UserRoleSupervisor UserRole = "SUPERVISOR"
	UserRoleViewer     UserRole = "VIEWER"
)

type Principal struct {
	UserID uuid.UUID
	Role   UserRole
}

func (p Principal) IsAdmin() bool {
	return p.Role == UserRoleAdmin
}

// CanManageMetrics reports whether the principal may reset metrics or publish reports.
func (p Principal) CanManageMetrics() bool {
	return p.Role == UserRoleAdmin || p.Role == UserRoleSupervisor
}
