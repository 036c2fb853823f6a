package domain

import (
	dErrors "certifier/pkg/domain-errors"
)

// Role is the coarse authorization level carried by an identity token.
type Role string

const (
	RoleApplicant Role = "applicant"
	RoleReviewer  Role = "reviewer"
)

// ParseRole validates a role claim. Unknown roles are rejected.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleApplicant, RoleReviewer:
		return r, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown role")
	}
}

func (r Role) String() string { return string(r) }

func (r Role) IsReviewer() bool { return r == RoleReviewer }
