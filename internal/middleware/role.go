package middleware

import (
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/fiifi-auth/internal/model"
)

// RequireRole returns a middleware that lets the request through only when
// the role stored by RequireSession is one of roles.  It must run after
// RequireSession; a request without a role is answered with 401, a role
// outside the set with 403.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
    allowed := make(map[model.Role]bool, len(roles))
    for _, r := range roles {
        allowed[r] = true
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            role, ok := c.Get(RoleKey).(model.Role)
            if !ok || role == "" {
                return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "message": "Authentication required"})
            }
            if !allowed[role] {
                return c.JSON(http.StatusForbidden, echo.Map{"success": false, "message": "Insufficient permissions"})
            }
            return next(c)
        }
    }
}

// RequireAdmin admits only administrators.
func RequireAdmin() echo.MiddlewareFunc { return RequireRole(model.RoleAdmin) }
