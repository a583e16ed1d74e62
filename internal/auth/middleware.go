package auth

import (
	"github.com/gin-gonic/gin"

	apperrors "github.com/jaewoo-rain/webide-broker/internal/errors"
)

const (
	principalKey = "principal"
	tokenKey     = "bearer_token"
)

// RequireAuth is Gin middleware that verifies the bearer token on every
// request it guards and stores the resulting Principal (and the raw token,
// for handlers that must forward it to the Metadata Client) in the context.
func RequireAuth(verifier *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, aerr := ExtractBearerToken(c.GetHeader("Authorization"))
		if aerr != nil {
			c.AbortWithStatusJSON(aerr.StatusCode, aerr.ToResponse())
			return
		}

		principal, aerr := verifier.Verify(token)
		if aerr != nil {
			c.AbortWithStatusJSON(aerr.StatusCode, aerr.ToResponse())
			return
		}

		c.Set(principalKey, principal)
		c.Set(tokenKey, token)
		c.Next()
	}
}

// FromContext retrieves the Principal stored by RequireAuth.
func FromContext(c *gin.Context) *Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*Principal)
	return p
}

// TokenFromContext retrieves the raw bearer token stored by RequireAuth.
func TokenFromContext(c *gin.Context) string {
	v, ok := c.Get(tokenKey)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// NotFoundError is a convenience re-export so handlers that only import
// auth don't need a second import for common denial paths.
var NotFoundError = apperrors.NotFound
