package auth

import (
	"vote-spin/src/helpers"
	"vote-spin/src/models"
)

// StaticTokenResolver maps bearer tokens issued elsewhere onto principals.
type StaticTokenResolver struct {
	tokens map[string]models.MPrincipal
}

// -----------------------------------------------------------------------------

func NewStaticTokenResolver(entries []models.MTokenEntry) *StaticTokenResolver {
	tokens := make(map[string]models.MPrincipal, len(entries))
	for _, e := range entries {
		id := e.ID
		if id == "" {
			id = e.Role
		}
		tokens[e.Token] = models.MPrincipal{ID: id, Role: e.Role}
	}
	return &StaticTokenResolver{tokens: tokens}
}

// -----------------------------------------------------------------------------

func (r *StaticTokenResolver) Resolve(token string) (*models.MPrincipal, error) {
	if token == "" {
		return nil, helpers.NewUnauthorizedError("missing token")
	}
	p, ok := r.tokens[token]
	if !ok {
		return nil, helpers.NewUnauthorizedError("invalid token")
	}
	return &p, nil
}
