package model

import "strings"

// Role is a user's permission level as exchanged on the wire.
type Role string

const (
	RoleUser  Role = "user"  // can browse and search
	RoleAdmin Role = "admin" // can also upload and delete images
)

func (r Role) String() string {
	return string(r)
}

// ParseRole converts a string to a Role. Unknown or empty values map to RoleUser.
func ParseRole(s string) Role {
	if strings.EqualFold(strings.TrimSpace(s), string(RoleAdmin)) {
		return RoleAdmin
	}
	return RoleUser
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Permission is an action guarded by role checks on the backend.
type Permission int

const (
	PermUploadImage Permission = iota
	PermDeleteImage
	PermExportData
)
