package model

// Roles carried in the JWT "role" claim.
const (
	RoleMember    = "MEMBER"
	RoleLibrarian = "LIBRARIAN"
)
