// Package rbac is the organization role model: owner > admin > member.
package rbac

import (
	"strings"

	"github.com/cockroachdb/errors"
)

type Role string

const (
	Owner  Role = "owner"
	Admin  Role = "admin"
	Member Role = "member"
)

var ErrUnknownRole = errors.New("unknown role")

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if r.Rank() == 0 {
		return "", errors.Wrapf(ErrUnknownRole, "%q", s)
	}
	return r, nil
}

// Rank orders roles; unknown roles rank 0.
func (r Role) Rank() int {
	switch r {
	case Owner:
		return 3
	case Admin:
		return 2
	case Member:
		return 1
	default:
		return 0
	}
}

type Permissions struct {
	CanView              bool `json:"canView"`
	CanCreate            bool `json:"canCreate"`
	CanEdit              bool `json:"canEdit"`
	CanDelete            bool `json:"canDelete"`
	CanManageMembers     bool `json:"canManageMembers"`
	CanManageTeams       bool `json:"canManageTeams"`
	CanManageOrgSettings bool `json:"canManageOrgSettings"`
}

var matrix = map[Role]Permissions{
	Owner: {
		CanView: true, CanCreate: true, CanEdit: true, CanDelete: true,
		CanManageMembers: true, CanManageTeams: true, CanManageOrgSettings: true,
	},
	Admin: {
		CanView: true, CanCreate: true, CanEdit: true, CanDelete: true,
		CanManageMembers: true, CanManageTeams: true,
	},
	Member: {
		CanView: true, CanCreate: true,
	},
}

// PermissionsFor returns the role's base permissions. A member acting on a
// resource they created also gets edit and delete.
func PermissionsFor(r Role, isResourceOwner bool) Permissions {
	p := matrix[r]
	if isResourceOwner && r.Rank() > 0 {
		p.CanEdit = true
		p.CanDelete = true
	}
	return p
}

// CanAssignRole reports whether actor may move a member from current to next.
// Only owners and admins assign roles, only owners grant owner, and a role
// cannot be downgraded by someone of lower or equal rank.
func CanAssignRole(actor, current, next Role) bool {
	if actor.Rank() < Admin.Rank() || next.Rank() == 0 {
		return false
	}
	if next == Owner && actor != Owner {
		return false
	}
	if next.Rank() < current.Rank() && current.Rank() >= actor.Rank() {
		return false
	}
	return true
}
