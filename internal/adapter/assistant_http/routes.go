package assistant_http

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"campus-assistant/internal/infra/metrics"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RegisterRoutes mounts the assistant API, admin, health and metrics routes.
// Admin routes additionally require administrator access.
func RegisterRoutes(e *echo.Echo, h *Handler, auth echo.MiddlewareFunc, ready Pinger) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/readyz", func(c echo.Context) error {
		if ready != nil {
			if err := ready.Ping(c.Request().Context()); err != nil {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "db down", "error": err.Error()})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	v1 := e.Group("/v1", auth)

	assistant := v1.Group("/assistant")
	assistant.POST("/messages", h.SendMessage)
	assistant.POST("/messages/retry", h.RetryMessage)
	assistant.GET("/state", h.State)
	assistant.GET("/sessions", h.ListSessions)
	assistant.POST("/sessions/new", h.NewSession)
	assistant.POST("/sessions/:id/activate", h.ActivateSession)
	assistant.DELETE("/sessions/:id", h.DeleteSession)
	assistant.POST("/signin", h.SignIn)
	assistant.POST("/signout", h.SignOut)

	admin := v1.Group("/admin", RequireAdmin())
	admin.DELETE("/throttle/:identity", h.ResetThrottle)
	admin.DELETE("/throttle", h.ClearThrottle)
}
