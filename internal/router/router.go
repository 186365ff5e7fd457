// Package router wires the HTTP routes onto an echo instance.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/course-seat-watch/internal/handler"
	"github.com/iliyamo/course-seat-watch/internal/middleware"
)

// RegisterRoutes registers the unauthenticated routes: the health
// check and the websocket chat endpoint.
func RegisterRoutes(e *echo.Echo, chat *handler.ChatHandler) {
	e.GET("/healthz", handler.Health)
	e.GET("/ws", chat.Connect)
}

// RegisterAdmin registers the operator endpoints. Login is open;
// everything else under /v1/admin requires a valid access token.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler) {
	e.POST("/v1/admin/login", a.Login)

	g := e.Group("/v1/admin")
	g.Use(middleware.JWTAuth(a.JWTSecret))
	g.GET("/stats", a.Stats)
	g.POST("/courses/refresh", a.RefreshCourse)
}
