package orgs

// Perms is the resolved permission set of a caller with respect to one
// organization. The three flags are cumulative: a super-admin is also at
// least a team admin and at least a member.
type Perms struct {
	IsSuperAdmin       bool `json:"is_super_admin"`
	IsAtLeastTeamAdmin bool `json:"is_at_least_team_admin"`
	IsAtLeastMember    bool `json:"is_at_least_member"`
}

// Resolve computes the caller's permissions from the organization's member
// roster. Soft-deleted memberships grant nothing. Platform operators
// (siteAdmin) get the full permission set regardless of membership.
func Resolve(members []Member, caller string, siteAdmin bool) Perms {
	if siteAdmin {
		return Perms{IsSuperAdmin: true, IsAtLeastTeamAdmin: true, IsAtLeastMember: true}
	}
	var best int
	for i := range members {
		m := &members[i]
		if m.User != caller || !m.Active() {
			continue
		}
		if r := m.Role.rank(); r > best {
			best = r
		}
	}
	return Perms{
		IsSuperAdmin:       best >= RoleSuperAdmin.rank(),
		IsAtLeastTeamAdmin: best >= RoleTeamAdmin.rank(),
		IsAtLeastMember:    best >= RoleDeveloper.rank(),
	}
}
