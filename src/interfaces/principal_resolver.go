package interfaces

import "vote-spin/src/models"

// -----------------------------------------------------------------------------
// IPrincipalResolver turns a bearer token into an authenticated principal.
// Token issuance lives outside this service.
// -----------------------------------------------------------------------------

type IPrincipalResolver interface {
	Resolve(token string) (*models.MPrincipal, error)
}
