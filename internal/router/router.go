package router // package router defines how HTTP routes are registered for the API

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/fiifi-auth/internal/handler"
	"github.com/iliyamo/fiifi-auth/internal/middleware"
)

// RegisterRoutes registers the operational endpoints: the bare liveness
// probe, the auth health report and, when metricsHandler is non-nil, the
// Prometheus scrape endpoint.
func RegisterRoutes(e *echo.Echo, health *handler.HealthHandler, metricsHandler http.Handler) {
	e.GET("/healthz", handler.Health)
	e.GET("/v1/auth/health", health.Status)
	if metricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(metricsHandler))
	}
}

// RegisterAuth registers the authentication routes.
//
// limiter guards the routes that accept credentials or refresh tokens
// (login, oauth, refresh); pass nil to leave them unlimited.  Logout,
// logout-all and profile verify the bearer token themselves.  The session
// and admin routes additionally require an active session via
// RequireSession.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, limiter echo.MiddlewareFunc) {
	var limited []echo.MiddlewareFunc
	if limiter != nil {
		limited = append(limited, limiter)
	}

	g := e.Group("/v1/auth")
	g.POST("/login", a.Login, limited...)
	// Trusted internal callers only: the profile must already be verified.
	g.POST("/oauth", a.OAuth, limited...)
	g.POST("/refresh", a.Refresh, limited...)

	g.POST("/logout", a.Logout)
	g.POST("/logout-all", a.LogoutAll)
	g.GET("/profile", a.Profile)
	g.GET("/session", a.Session, middleware.RequireSession(a.Svc))
	g.GET("/sessions", a.Sessions, middleware.RequireSession(a.Svc))

	admin := e.Group("/v1/admin", middleware.RequireSession(a.Svc), middleware.RequireAdmin())
	admin.GET("/users/:id", a.AdminUser)
	admin.PATCH("/users/:id/status", a.AdminSetStatus)
}
