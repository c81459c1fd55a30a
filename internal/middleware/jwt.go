package middleware

import (
    "context"
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/fiifi-auth/internal/auth"
    "github.com/iliyamo/fiifi-auth/internal/model"
)

// Authenticator resolves a bearer access token to its claims and live
// session.  *auth.Service implements it.
type Authenticator interface {
    Authenticate(ctx context.Context, accessToken string) (auth.Claims, model.Session, error)
}

// RequireSession returns an Echo middleware that accepts a request only
// when its bearer access token verifies and an active, unexpired session
// is bound to it.  Claims, session, user id and role are stored in the
// context for downstream handlers (see identity.go).
func RequireSession(a Authenticator) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            raw := BearerToken(c)
            if raw == "" {
                return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "message": "Access token required"})
            }

            claims, sess, err := a.Authenticate(c.Request().Context(), raw)
            if err != nil {
                return c.JSON(auth.StatusCode(err), echo.Map{"success": false, "message": auth.Message(err)})
            }

            c.Set(ClaimsKey, claims)
            c.Set(SessionKey, sess)
            c.Set(UserIDKey, claims.UserID)
            c.Set(RoleKey, claims.Role)
            return next(c)
        }
    }
}
