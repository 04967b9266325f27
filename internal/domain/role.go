package domain

import "strings"

// Role is the coarse permission level attached to a user.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// ParseRole maps free-form input onto a known role. Anything unrecognised,
// including the empty string, is a student.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleTeacher:
		return RoleTeacher
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleStudent
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleTeacher || r == RoleAdmin
}

func (r Role) String() string { return string(r) }
