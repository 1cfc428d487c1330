package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/cerberus/core"
	"github.com/layer-3/cerberus/service"
)

// CookieMaxAge is the client-side lifetime of the session cookie. It is
// deliberately longer than the 31-day server-side sliding expiry: a cookie
// pointing at an already-reaped session resolves to "unauthenticated", never
// to an error.
const CookieMaxAge = 42 * 24 * 3600

// Handlers contains the HTTP handlers for the auth endpoints.
type Handlers struct {
	auth          *service.AuthService
	sessions      *service.SessionService
	registrations *service.RegistrationService
	cookieDomain  string
	log           *slog.Logger
}

// NewHandlers creates the handler set. cookieDomain scopes the session cookie
// to the registrable domain; empty restricts it to the exact host.
func NewHandlers(auth *service.AuthService, sessions *service.SessionService, registrations *service.RegistrationService, cookieDomain string, log *slog.Logger) *Handlers {
	return &Handlers{
		auth:          auth,
		sessions:      sessions,
		registrations: registrations,
		cookieDomain:  cookieDomain,
		log:           log,
	}
}

type preloginRequest struct {
	Pseudo string `json:"l" binding:"required"`
}

type loginRequest struct {
	Pseudo    string `json:"l" binding:"required"`
	Signature string `json:"r" binding:"required"`
	Code      string `json:"g" binding:"required"`
}

type geninfoRequest struct {
	GID string `json:"gid" binding:"required"`
}

type generateRequest struct {
	GID       string `json:"gid" binding:"required"`
	Code      string `json:"g" binding:"required"`
	PublicKey string `json:"k" binding:"required"`
}

type removeRequest struct {
	SID string `json:"sid" binding:"required"`
}

// sessionResponse is the success body of login and generate.
type sessionResponse struct {
	Name   string `json:"name"`
	Pseudo string `json:"pseudo"`
	Token  string `json:"token"`
}

// ownSessionResponse is one entry of the list endpoint.
type ownSessionResponse struct {
	SID       string `json:"sid"`
	IP        string `json:"ip"`
	UserAgent string `json:"ua"`
	LastUsed  int64  `json:"lastUsed"` // milliseconds since epoch
	Current   bool   `json:"current,omitempty"`
}

// Auth answers 204 when the cookie resolves to a live session, 401 otherwise.
// Intended as an auth_request upstream for the reverse proxy.
func (h *Handlers) Auth(c *gin.Context) {
	if sessionFrom(c) == nil {
		c.Status(http.StatusUnauthorized)
		return
	}
	c.Status(http.StatusNoContent)
}

// Info returns the caller's identity, or an empty object when no session
// resolved. Always 200.
func (h *Handlers) Info(c *gin.Context) {
	sess := sessionFrom(c)
	if sess == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, sessionResponse{Name: sess.Name, Pseudo: sess.Pseudo, Token: sess.Token})
}

// Prelogin issues a login challenge. The response carries a fresh random
// value whether or not the pseudo exists.
func (h *Handlers) Prelogin(c *gin.Context) {
	var req preloginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, core.ErrMalformedRequest)
		return
	}

	challenge, err := h.auth.IssueChallenge(c.Request.Context(), req.Pseudo)
	if err != nil {
		h.log.Error("issue challenge failed", "error", err)
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"c": challenge})
}

// Login verifies the signed challenge plus TOTP code and mints a session.
// A valid session already on the request is replaced, not stacked.
func (h *Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, core.ErrMalformedRequest)
		return
	}

	seed, err := h.auth.VerifyLogin(c.Request.Context(), req.Pseudo, req.Signature, req.Code)
	if err != nil {
		abortWithError(c, err)
		return
	}

	replacing := ""
	if sess := sessionFrom(c); sess != nil {
		replacing = sess.ID
	}
	sess, err := h.sessions.Create(c.Request.Context(), *seed, clientIP(c), c.Request.UserAgent(), replacing)
	if err != nil {
		h.log.Error("create session failed", "error", err)
		abortWithError(c, err)
		return
	}

	h.setSessionCookie(c, sess.Token)
	c.JSON(http.StatusOK, sessionResponse{Name: sess.Name, Pseudo: sess.Pseudo, Token: sess.Token})
}

// Logout revokes the calling session. Always 204: already being logged out is
// not an error for the caller, and a failed delete is only logged.
func (h *Handlers) Logout(c *gin.Context) {
	if sess := sessionFrom(c); sess != nil {
		if err := h.sessions.Logout(c.Request.Context(), sess); err != nil {
			h.log.Error("logout failed", "id", sess.ID, "error", err)
		}
	}
	h.clearSessionCookie(c)
	c.Status(http.StatusNoContent)
}

// Geninfo resolves an invitation without consuming it, returning the reserved
// pseudo and the provisioning URI for the QR code.
func (h *Handlers) Geninfo(c *gin.Context) {
	var req geninfoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, core.ErrMalformedRequest)
		return
	}

	pseudo, uri, err := h.registrations.Peek(c.Request.Context(), req.GID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pseudo": pseudo, "qrcode": uri})
}

// Generate claims an invitation and logs the new identity in.
func (h *Handlers) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, core.ErrMalformedRequest)
		return
	}

	hasSession := sessionFrom(c) != nil
	sess, err := h.registrations.Finalize(c.Request.Context(), req.GID, req.Code, req.PublicKey, hasSession, clientIP(c), c.Request.UserAgent())
	if err != nil {
		abortWithError(c, err)
		return
	}

	h.setSessionCookie(c, sess.Token)
	c.JSON(http.StatusOK, sessionResponse{Name: sess.Name, Pseudo: sess.Pseudo, Token: sess.Token})
}

// List returns the caller's sessions across all devices, flagging the current
// one.
func (h *Handlers) List(c *gin.Context) {
	sess := sessionFrom(c)
	if sess == nil {
		c.Status(http.StatusUnauthorized)
		return
	}

	own, err := h.sessions.ListOwn(c.Request.Context(), sess.Pseudo, sess.ID)
	if err != nil {
		h.log.Error("list sessions failed", "pseudo", sess.Pseudo, "error", err)
		abortWithError(c, err)
		return
	}

	out := make([]ownSessionResponse, 0, len(own))
	for _, s := range own {
		out = append(out, ownSessionResponse{
			SID:       s.ID,
			IP:        s.IP,
			UserAgent: s.UserAgent,
			LastUsed:  s.LastUsed.UnixMilli(),
			Current:   s.Current,
		})
	}
	c.JSON(http.StatusOK, out)
}

// Remove deletes one of the caller's own sessions. Foreign or unknown ids are
// a silent no-op; the response is 204 either way.
func (h *Handlers) Remove(c *gin.Context) {
	sess := sessionFrom(c)
	if sess == nil {
		c.Status(http.StatusUnauthorized)
		return
	}
	var req removeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, core.ErrMalformedRequest)
		return
	}

	if err := h.sessions.RemoveOwn(c.Request.Context(), sess.Pseudo, req.SID); err != nil {
		h.log.Error("remove session failed", "pseudo", sess.Pseudo, "error", err)
	}
	c.Status(http.StatusNoContent)
}

// Flush deletes every session of the caller except the current one.
func (h *Handlers) Flush(c *gin.Context) {
	sess := sessionFrom(c)
	if sess == nil {
		c.Status(http.StatusUnauthorized)
		return
	}

	if err := h.sessions.FlushOthers(c.Request.Context(), sess.Pseudo, sess.ID); err != nil {
		h.log.Error("flush sessions failed", "pseudo", sess.Pseudo, "error", err)
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) setSessionCookie(c *gin.Context, token string) {
	c.SetCookie(CookieName, token, CookieMaxAge, "/", h.cookieDomain, false, true)
}

func (h *Handlers) clearSessionCookie(c *gin.Context) {
	c.SetCookie(CookieName, "", -1, "/", h.cookieDomain, false, true)
}

// clientIP prefers the header set by the fronting proxy; the service itself
// usually listens on a unix socket.
func clientIP(c *gin.Context) string {
	if ip := c.GetHeader("X-Real-IP"); ip != "" {
		return ip
	}
	return c.Request.RemoteAddr
}
