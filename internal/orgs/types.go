// Package orgs holds the core organization domain: membership roles,
// permission resolution, seat pricing, and the error taxonomy shared by
// the reconciliation workflows and the HTTP surface.
package orgs

import "time"

// Role is a membership role within an organization, ordered by privilege.
type Role string

const (
	RoleDeveloper  Role = "developer"
	RoleTeamAdmin  Role = "team-admin"
	RoleSuperAdmin Role = "super-admin"
)

// rank maps roles onto a privilege ladder so "at least" checks stay cheap.
func (r Role) rank() int {
	switch r {
	case RoleSuperAdmin:
		return 3
	case RoleTeamAdmin:
		return 2
	case RoleDeveloper:
		return 1
	default:
		return 0
	}
}

// Valid reports whether r is one of the known membership roles.
func (r Role) Valid() bool {
	return r.rank() > 0
}

// Org is an organization record as returned by the membership directory.
type Org struct {
	Name        string     `json:"name"`
	HumanName   string     `json:"human_name,omitempty"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// DisplayName returns the human-facing name, falling back to the scope name.
func (o *Org) DisplayName() string {
	if o.HumanName != "" {
		return o.HumanName
	}
	return o.Name
}

// Member is a single membership row for an organization.
type Member struct {
	User      string     `json:"user"`
	Role      Role       `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Active reports whether the membership row is live (not soft-deleted).
func (m *Member) Active() bool {
	return m.DeletedAt == nil
}
