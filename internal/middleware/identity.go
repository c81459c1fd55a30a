package middleware

// identity.go holds the context keys set by RequireSession and the helpers
// handlers and other middleware use to read them back.

import (
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/fiifi-auth/internal/auth"
    "github.com/iliyamo/fiifi-auth/internal/model"
)

// Context keys populated by RequireSession.
const (
    ClaimsKey  = "claims"
    SessionKey = "session"
    UserIDKey  = "user_id"
    RoleKey    = "role"
)

// BearerToken returns the token of an "Authorization: Bearer <token>"
// header, or "" when the header is absent or uses another scheme.
func BearerToken(c echo.Context) string {
    parts := strings.Fields(c.Request().Header.Get(echo.HeaderAuthorization))
    if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
        return ""
    }
    return parts[1]
}

// ClaimsFrom returns the access token claims stored by RequireSession.
func ClaimsFrom(c echo.Context) (auth.Claims, bool) {
    cl, ok := c.Get(ClaimsKey).(auth.Claims)
    return cl, ok
}

// SessionFrom returns the session stored by RequireSession.
func SessionFrom(c echo.Context) (model.Session, bool) {
    s, ok := c.Get(SessionKey).(model.Session)
    return s, ok
}

// currentUserID returns the authenticated user id or "anon".
func currentUserID(c echo.Context) string {
    if s, ok := c.Get(UserIDKey).(string); ok && s != "" {
        return s
    }
    return "anon"
}
