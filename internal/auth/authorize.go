package auth

import "strings"

// Principal is a user with roles and permissions resolved fresh from the
// Directory, as opposed to the possibly stale role list inside a token.
type Principal struct {
	User        *User
	Roles       []Role
	Permissions map[string]struct{}
}

// NewPrincipal constructs a principal with preloaded permissions.
func NewPrincipal(user *User, roles []Role, permKeys []string) Principal {
	set := make(map[string]struct{}, len(permKeys))
	for _, k := range permKeys {
		set[k] = struct{}{}
	}
	return Principal{User: user, Roles: roles, Permissions: set}
}

// RoleNames returns the principal's role names.
func (p Principal) RoleNames() []string {
	names := make([]string, 0, len(p.Roles))
	for _, r := range p.Roles {
		names = append(names, r.Name)
	}
	return names
}

// HasRole reports whether the principal holds the named role.
func (p Principal) HasRole(name string) bool {
	for _, r := range p.Roles {
		if strings.EqualFold(r.Name, name) {
			return true
		}
	}
	return false
}

// HasPermission reports whether the principal can execute the action
// identified by key.
func (p Principal) HasPermission(key string) bool {
	_, ok := p.Permissions[key]
	return ok
}
