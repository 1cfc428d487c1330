package http

import (
	"github.com/gin-gonic/gin"

	"github.com/layer-3/cerberus/service"
)

// SetupRouter wires the session middleware and the endpoint handlers into a
// Gin engine. Every route runs the middleware; whether a session is required,
// optional or forbidden is decided per handler.
func SetupRouter(h *Handlers, sessions *service.SessionService) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(SessionMiddleware(sessions))

	router.GET("/auth", h.Auth)

	api := router.Group("/api")
	{
		api.GET("/info", h.Info)
		api.POST("/prelogin", h.Prelogin)
		api.POST("/login", h.Login)
		api.GET("/logout", h.Logout)

		api.POST("/geninfo", h.Geninfo)
		api.POST("/generate", h.Generate)

		api.GET("/list", h.List)
		api.POST("/remove", h.Remove)
		api.GET("/flush", h.Flush)
	}

	return router
}
