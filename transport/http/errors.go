package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/cerberus/core"
)

// abortWithError maps the core error taxonomy to transport status codes.
// This is the only place protocol errors become HTTP; the services never see
// status codes. Unknown identity and bad credentials share one response so
// the login endpoint does not reveal which factor failed, or whether the
// account exists at all.
func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrMalformedRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed request"})
	case errors.Is(err, core.ErrUnknownIdentity), errors.Is(err, core.ErrInvalidCredentials):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, core.ErrUnknownInvitation):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown invitation"})
	case errors.Is(err, core.ErrConflictingSession):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "already logged in"})
	case errors.Is(err, core.ErrStaleCode):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid code"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
