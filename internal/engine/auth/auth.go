package auth

import "fmt"

// Role is an ordered access level. Comparison is integer ordering, so any
// check is "at least this role" rather than a permission-set lookup.
type Role int

const (
	RoleObserver Role = iota
	RolePlayer
	RoleReferee
)

var roleNames = map[Role]string{
	RoleObserver: "observer",
	RolePlayer:   "player",
	RoleReferee:  "referee",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// ParseRole maps a stored role name to its level. Unknown names fail closed.
func ParseRole(name string) (Role, error) {
	for role, n := range roleNames {
		if n == name {
			return role, nil
		}
	}
	return RoleObserver, fmt.Errorf("unknown role %q", name)
}

// AtLeast reports whether r grants everything min does.
func (r Role) AtLeast(min Role) bool {
	return r >= min
}

// ForbiddenError indicates the caller's role is below the required level.
type ForbiddenError struct {
	Required Role
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("%s role required", e.Required)
}
