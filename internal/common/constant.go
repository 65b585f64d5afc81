package common

// AuthorizationHeaderName carries the portal-issued bearer token.
const AuthorizationHeaderName = "Authorization"

// Roles recognised by the portal-issued JWTs.
const (
	RoleStudent    = "student"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)
