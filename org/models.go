package org

import (
	"fmt"
	"strings"
	"time"
)

// Role is the authority a user acts with inside an organization.
type Role string

const (
	RoleAgent      Role = "AGENT"
	RoleSupervisor Role = "SUPERVISOR"
	RoleSystem     Role = "SYSTEM"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAgent, RoleSupervisor, RoleSystem:
		return true
	}
	return false
}

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("org: unknown role %q", s)
	}
	return r, nil
}

// Organization is a tenant. Every dispute, policy and user belongs to one.
type Organization struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// User is a member of exactly one organization.
type User struct {
	ID             string
	OrganizationID string
	Email          string
	Name           string
	Role           Role
	CreatedAt      time.Time
}
