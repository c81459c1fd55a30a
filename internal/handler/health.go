package handler

import (
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
)

// Health is the bare liveness probe used by load balancers.
func Health(c echo.Context) error {
    return c.String(http.StatusOK, "ok")
}

// HealthHandler reports service status and uptime.
type HealthHandler struct {
    Started time.Time
    Now     func() time.Time
}

func NewHealthHandler(started time.Time) *HealthHandler {
    return &HealthHandler{Started: started, Now: time.Now}
}

// Status returns {success, message, timestamp, uptime}; uptime is in
// seconds since the process started.
func (h *HealthHandler) Status(c echo.Context) error {
    now := h.Now()
    return c.JSON(http.StatusOK, echo.Map{
        "success":   true,
        "message":   "Authentication service is healthy",
        "timestamp": now.UTC().Format(time.RFC3339Nano),
        "uptime":    now.Sub(h.Started).Seconds(),
    })
}
