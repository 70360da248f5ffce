package models

const (
	RoleAdmin  = "admin"
	RoleDevice = "device"
)

// MPrincipal is the authenticated caller supplied by the auth collaborator.
type MPrincipal struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}
