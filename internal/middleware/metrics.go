package middleware

import (
    "errors"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
)

// RequestObserver receives one observation per handled request.
// *metrics.Metrics implements it.
type RequestObserver interface {
    ObserveRequest(method, route string, status int, d time.Duration)
}

// RequestMetrics records method, route template, status and latency of
// every request.  The route template (c.Path) keeps label cardinality
// bounded; unmatched requests are recorded under "unmatched".
func RequestMetrics(obs RequestObserver) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            start := time.Now()
            err := next(c)

            status := c.Response().Status
            if err != nil {
                var he *echo.HTTPError
                if errors.As(err, &he) {
                    status = he.Code
                } else {
                    status = http.StatusInternalServerError
                }
            }
            route := c.Path()
            if route == "" {
                route = "unmatched"
            }
            obs.ObserveRequest(c.Request().Method, route, status, time.Since(start))
            return err
        }
    }
}
