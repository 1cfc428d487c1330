package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/cerberus/core"
	"github.com/layer-3/cerberus/service"
)

// CookieName is the session cookie carrying the bearer token.
const CookieName = "cerberus"

const sessionKey = "session"

// SessionMiddleware resolves the session cookie on every request and triggers
// the opportunistic expiry sweep. A missing or stale cookie is not an error;
// handlers that require a session check for themselves.
func SessionMiddleware(sessions *service.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions.MaybeReap(c.Request.Context())

		token, _ := c.Cookie(CookieName)
		sess, err := sessions.Resolve(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if sess != nil {
			c.Set(sessionKey, sess)
		}
		c.Next()
	}
}

// sessionFrom returns the resolved session for this request, or nil.
func sessionFrom(c *gin.Context) *core.Session {
	if v, ok := c.Get(sessionKey); ok {
		return v.(*core.Session)
	}
	return nil
}
