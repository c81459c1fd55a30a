package handler

import (
    "context"
    "log/slog"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/fiifi-auth/internal/auth"
    "github.com/iliyamo/fiifi-auth/internal/middleware"
)

// AuthHandler binds the auth use cases to HTTP.  Every use case runs under
// a context bounded by Timeout.
type AuthHandler struct {
    Svc     *auth.Service
    Timeout time.Duration
    Log     *slog.Logger
}

func NewAuthHandler(svc *auth.Service, timeout time.Duration, log *slog.Logger) *AuthHandler {
    if timeout <= 0 {
        timeout = 5 * time.Second
    }
    if log == nil {
        log = slog.Default()
    }
    return &AuthHandler{Svc: svc, Timeout: timeout, Log: log}
}

// ----- DTOs -----

type loginReq struct {
    Email    string `json:"email"`
    Password string `json:"password"`
}

type refreshReq struct {
    RefreshToken string `json:"refreshToken"`
}

type statusReq struct {
    IsActive *bool `json:"isActive"`
}

// ----- helpers -----

func (h *AuthHandler) ctx(c echo.Context) (context.Context, context.CancelFunc) {
    return context.WithTimeout(c.Request().Context(), h.Timeout)
}

// fail writes the failure body for err.  Validation failures carry the
// offending detail under "errors".
func fail(c echo.Context, err error) error {
    body := echo.Map{"success": false, "message": auth.Message(err)}
    if detail := auth.ValidationDetail(err); detail != "" {
        body["errors"] = []string{detail}
    }
    return c.JSON(auth.StatusCode(err), body)
}

func badBody(c echo.Context) error {
    return c.JSON(http.StatusBadRequest, echo.Map{
        "success": false,
        "message": "Validation error",
        "errors":  []string{"request body must be valid JSON"},
    })
}

// ----- handlers -----

// Login: verify email and password and open a session.
func (h *AuthHandler) Login(c echo.Context) error {
    var req loginReq
    if err := c.Bind(&req); err != nil {
        return badBody(c)
    }

    ctx, cancel := h.ctx(c)
    defer cancel()

    res, err := h.Svc.Login(ctx, auth.LoginRequest{
        Email:    req.Email,
        Password: req.Password,
        Device:   auth.ClassifyDevice(c.Request().UserAgent(), c.RealIP()),
    })
    if err != nil {
        if res.RequiresEmailVerification {
            return c.JSON(auth.StatusCode(err), echo.Map{
                "success":                   false,
                "message":                   auth.Message(err),
                "requiresEmailVerification": true,
            })
        }
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{
        "success": true,
        "message": "Login successful",
        "user":    res.User,
        "tokens":  res.Tokens,
    })
}

// OAuth: open a session for a profile the OAuth handshake already verified.
// Only trusted internal callers may reach this route.
func (h *AuthHandler) OAuth(c echo.Context) error {
    var p auth.Profile
    if err := c.Bind(&p); err != nil {
        return badBody(c)
    }

    ctx, cancel := h.ctx(c)
    defer cancel()

    res, err := h.Svc.OAuthLogin(ctx, auth.OAuthLoginRequest{
        Profile: p,
        Device:  auth.ClassifyDevice(c.Request().UserAgent(), c.RealIP()),
    })
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{
        "success": true,
        "message": "OAuth login successful",
        "user":    res.User,
        "tokens":  res.Tokens,
    })
}

// Refresh: exchange a refresh token for a new access token.  The refresh
// token in the response is the one that was sent.
func (h *AuthHandler) Refresh(c echo.Context) error {
    var req refreshReq
    if err := c.Bind(&req); err != nil {
        return badBody(c)
    }

    ctx, cancel := h.ctx(c)
    defer cancel()

    pair, err := h.Svc.Refresh(ctx, req.RefreshToken)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{
        "success": true,
        "message": "Token refreshed successfully",
        "tokens":  pair,
    })
}

// Logout: end the session bound to the bearer access token.
func (h *AuthHandler) Logout(c echo.Context) error {
    ctx, cancel := h.ctx(c)
    defer cancel()

    if err := h.Svc.Logout(ctx, middleware.BearerToken(c)); err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "Logout successful"})
}

// LogoutAll: end every active session of the bearer's user.
func (h *AuthHandler) LogoutAll(c echo.Context) error {
    ctx, cancel := h.ctx(c)
    defer cancel()

    n, err := h.Svc.LogoutAll(ctx, middleware.BearerToken(c))
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{
        "success":  true,
        "message":  "All sessions logged out successfully",
        "sessions": n,
    })
}

// Profile: the sanitized user behind the bearer access token.
func (h *AuthHandler) Profile(c echo.Context) error {
    ctx, cancel := h.ctx(c)
    defer cancel()

    u, err := h.Svc.Identity(ctx, middleware.BearerToken(c))
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"success": true, "user": u})
}

// Session: the session RequireSession resolved for this request.
func (h *AuthHandler) Session(c echo.Context) error {
    sess, ok := middleware.SessionFrom(c)
    if !ok {
        return fail(c, auth.ErrSessionNotFound)
    }
    return c.JSON(http.StatusOK, echo.Map{"success": true, "session": sess.View()})
}

// Sessions: every valid session of the caller, newest first.
func (h *AuthHandler) Sessions(c echo.Context) error {
    cl, ok := middleware.ClaimsFrom(c)
    if !ok {
        return fail(c, auth.ErrSessionNotFound)
    }

    ctx, cancel := h.ctx(c)
    defer cancel()

    list, err := h.Svc.ListSessions(ctx, cl.UserID)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"success": true, "sessions": list})
}

// AdminSetStatus: activate or deactivate a user.  Deactivation ends all of
// the user's sessions.
func (h *AuthHandler) AdminSetStatus(c echo.Context) error {
    var req statusReq
    if err := c.Bind(&req); err != nil {
        return badBody(c)
    }
    if req.IsActive == nil {
        return c.JSON(http.StatusBadRequest, echo.Map{
            "success": false,
            "message": "Validation error",
            "errors":  []string{"isActive is required"},
        })
    }

    ctx, cancel := h.ctx(c)
    defer cancel()

    u, err := h.Svc.SetUserActive(ctx, c.Param("id"), *req.IsActive)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"success": true, "user": u})
}

// AdminUser: look up any user by id.  Mounted behind RequireAdmin.
func (h *AuthHandler) AdminUser(c echo.Context) error {
    ctx, cancel := h.ctx(c)
    defer cancel()

    u, err := h.Svc.UserByID(ctx, c.Param("id"))
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"success": true, "user": u})
}
