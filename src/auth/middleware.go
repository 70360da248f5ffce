package auth

import (
	"crypto/subtle"
	"strings"

	"vote-spin/src/helpers"
	"vote-spin/src/interfaces"
	"vote-spin/src/models"

	"github.com/gin-gonic/gin"
)

const (
	principalKey    = "principal"
	DeviceKeyHeader = "X-Device-Key"
)

// -----------------------------------------------------------------------------

func abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(helpers.HTTPStatus(err), gin.H{"error": err.Error()})
}

// -----------------------------------------------------------------------------

// Authenticate resolves an optional bearer token. Requests without one pass
// through anonymously; a token that does not resolve is rejected.
func Authenticate(resolver interfaces.IPrincipalResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			abort(c, helpers.NewUnauthorizedError("authorization header must use the Bearer scheme"))
			return
		}

		principal, err := resolver.Resolve(strings.TrimSpace(token))
		if err != nil {
			abort(c, err)
			return
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

// -----------------------------------------------------------------------------

// PrincipalFrom returns the principal Authenticate stored on the request.
func PrincipalFrom(c *gin.Context) (*models.MPrincipal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*models.MPrincipal)
	return p, ok
}

// -----------------------------------------------------------------------------

// RequireRole admits only principals holding role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			abort(c, helpers.NewUnauthorizedError("authentication required"))
			return
		}
		if p.Role != role {
			abort(c, helpers.NewForbiddenError("role "+role+" required"))
			return
		}
		c.Next()
	}
}

// -----------------------------------------------------------------------------

// RequireDevice guards hardware-facing routes with the shared device key.
// With no key configured the routes stay open. Device and admin principals
// are admitted without the key.
func RequireDevice(deviceKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deviceKey == "" {
			c.Next()
			return
		}
		if p, ok := PrincipalFrom(c); ok && (p.Role == models.RoleDevice || p.Role == models.RoleAdmin) {
			c.Next()
			return
		}

		got := c.GetHeader(DeviceKeyHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(deviceKey)) != 1 {
			abort(c, helpers.NewUnauthorizedError("valid device key required"))
			return
		}
		c.Next()
	}
}
