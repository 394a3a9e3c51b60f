package brix

// IsValid checks if the role is one of the predefined valid roles
func (r UserRole) IsValid() bool {
	switch r {
	case RoleMember, RoleModerator, RoleAdmin:
		return true
	default:
		return false
	}
}

// CanModerate checks if this role can curate other people's submissions
func (r UserRole) CanModerate() bool {
	switch r {
	case RoleModerator, RoleAdmin:
		return true
	default:
		return false
	}
}

// ParseRole converts a string to a UserRole, returning whether it was valid
func ParseRole(roleStr string) (UserRole, bool) {
	role := UserRole(roleStr)
	return role, role.IsValid()
}
