package handler_test

import (
    "context"
    "encoding/json"
    "io"
    "log/slog"
    "net/http"
    "net/http/httptest"
    "path/filepath"
    "strings"
    "testing"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "golang.org/x/crypto/bcrypt"

    "github.com/iliyamo/fiifi-auth/internal/auth"
    "github.com/iliyamo/fiifi-auth/internal/database"
    "github.com/iliyamo/fiifi-auth/internal/handler"
    "github.com/iliyamo/fiifi-auth/internal/model"
    "github.com/iliyamo/fiifi-auth/internal/repository"
    "github.com/iliyamo/fiifi-auth/internal/router"
    "github.com/iliyamo/fiifi-auth/internal/utils"
)

const password = "correct-horse"

type server struct {
    e   *echo.Echo
    svc *auth.Service
}

func newServer(t *testing.T) *server {
    t.Helper()
    db, err := database.Open(database.DriverSQLite, database.SQLiteDSN(filepath.Join(t.TempDir(), "auth.db")))
    require.NoError(t, err)
    t.Cleanup(func() { _ = db.Close() })
    require.NoError(t, database.Migrate(context.Background(), db, database.DriverSQLite))

    tokens, err := auth.NewTokenService(auth.TokenConfig{
        AccessSecret:  "access-secret",
        RefreshSecret: "refresh-secret",
        AccessExpiry:  "15m",
        RefreshExpiry: "7d",
    }, time.Now)
    require.NoError(t, err)

    log := slog.New(slog.NewTextHandler(io.Discard, nil))
    svc := auth.NewService(auth.Dependencies{
        Users:    repository.NewUserRepo(db),
        Sessions: repository.NewSessionRepo(db, time.Now),
        Tokens:   tokens,
        Hasher:   utils.NewHasher(bcrypt.MinCost),
        Logger:   log,
    })

    e := echo.New()
    router.RegisterRoutes(e, handler.NewHealthHandler(time.Now().Add(-time.Minute)), nil)
    router.RegisterAuth(e, handler.NewAuthHandler(svc, 5*time.Second, log), nil)
    return &server{e: e, svc: svc}
}

func (s *server) seed(t *testing.T, email string, role model.Role, verified bool) model.PublicUser {
    t.Helper()
    u, err := s.svc.CreateUser(context.Background(), auth.NewUser{
        Email: email, Password: password, Role: role, IsEmailVerified: verified,
    })
    require.NoError(t, err)
    return u
}

func (s *server) do(t *testing.T, method, path, bearer string, body any) (int, map[string]any) {
    t.Helper()
    var r io.Reader
    if body != nil {
        bs, err := json.Marshal(body)
        require.NoError(t, err)
        r = strings.NewReader(string(bs))
    }
    req := httptest.NewRequest(method, path, r)
    req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
    req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148 Safari/604.1")
    if bearer != "" {
        req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
    }
    rec := httptest.NewRecorder()
    s.e.ServeHTTP(rec, req)

    var out map[string]any
    require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
    return rec.Code, out
}

func (s *server) login(t *testing.T, email string) (access, refresh string) {
    t.Helper()
    code, body := s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": email, "password": password})
    require.Equal(t, http.StatusOK, code, body)
    tokens := body["tokens"].(map[string]any)
    return tokens["accessToken"].(string), tokens["refreshToken"].(string)
}

func TestLoginFlow(t *testing.T) {
    s := newServer(t)
    s.seed(t, "ada@example.com", model.RoleUser, true)

    code, body := s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "Ada@Example.com", "password": password})
    require.Equal(t, http.StatusOK, code)
    assert.Equal(t, true, body["success"])
    assert.Equal(t, "Login successful", body["message"])
    user := body["user"].(map[string]any)
    assert.Equal(t, "ada@example.com", user["email"])
    assert.NotContains(t, user, "passwordHash")
    assert.NotContains(t, user, "PasswordHash")
    tokens := body["tokens"].(map[string]any)
    assert.Equal(t, float64(900), tokens["expiresIn"])
    access := tokens["accessToken"].(string)
    refresh := tokens["refreshToken"].(string)

    code, body = s.do(t, http.MethodGet, "/v1/auth/profile", access, nil)
    require.Equal(t, http.StatusOK, code)
    assert.Equal(t, "ada@example.com", body["user"].(map[string]any)["email"])

    code, body = s.do(t, http.MethodGet, "/v1/auth/session", access, nil)
    require.Equal(t, http.StatusOK, code)
    sess := body["session"].(map[string]any)
    assert.Equal(t, "mobile", sess["deviceInfo"].(map[string]any)["deviceType"])
    assert.NotContains(t, sess, "accessToken")

    code, body = s.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refreshToken": refresh})
    require.Equal(t, http.StatusOK, code)
    assert.Equal(t, "Token refreshed successfully", body["message"])
    newTokens := body["tokens"].(map[string]any)
    assert.Equal(t, refresh, newTokens["refreshToken"])
    newAccess := newTokens["accessToken"].(string)
    assert.NotEqual(t, access, newAccess)

    // the superseded access token no longer resolves to the session
    code, body = s.do(t, http.MethodGet, "/v1/auth/session", access, nil)
    assert.Equal(t, http.StatusUnauthorized, code)
    assert.Equal(t, "Session not found or expired", body["message"])

    code, _ = s.do(t, http.MethodPost, "/v1/auth/logout", newAccess, nil)
    require.Equal(t, http.StatusOK, code)

    code, _ = s.do(t, http.MethodGet, "/v1/auth/session", newAccess, nil)
    assert.Equal(t, http.StatusUnauthorized, code)
    code, _ = s.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refreshToken": refresh})
    assert.Equal(t, http.StatusUnauthorized, code)
}

func TestLoginFailures(t *testing.T) {
    s := newServer(t)
    s.seed(t, "ada@example.com", model.RoleUser, true)
    s.seed(t, "new@example.com", model.RoleUser, false)

    code, body := s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "ada@example.com", "password": "wrong-password"})
    assert.Equal(t, http.StatusUnauthorized, code)
    wrongPassword := body["message"]

    code, body = s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "nobody@example.com", "password": "wrong-password"})
    assert.Equal(t, http.StatusUnauthorized, code)
    assert.Equal(t, wrongPassword, body["message"])
    assert.Equal(t, "Invalid email or password", body["message"])

    code, body = s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "not-an-email", "password": password})
    assert.Equal(t, http.StatusBadRequest, code)
    assert.Equal(t, "Validation error", body["message"])
    assert.Equal(t, []any{"email must be a valid email"}, body["errors"])

    code, body = s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "new@example.com", "password": password})
    assert.Equal(t, http.StatusUnauthorized, code)
    assert.Equal(t, true, body["requiresEmailVerification"])

    req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader("{"))
    req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
    rec := httptest.NewRecorder()
    s.e.ServeHTTP(rec, req)
    assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLockoutOverHTTP(t *testing.T) {
    s := newServer(t)
    s.seed(t, "ada@example.com", model.RoleUser, true)

    for i := 0; i < auth.MaxLoginAttempts; i++ {
        code, _ := s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "ada@example.com", "password": "wrong-password"})
        require.Equal(t, http.StatusUnauthorized, code)
    }
    code, body := s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "ada@example.com", "password": password})
    assert.Equal(t, http.StatusUnauthorized, code)
    assert.Equal(t, "Account is temporarily locked due to multiple failed login attempts", body["message"])
}

func TestOAuthRoute(t *testing.T) {
    s := newServer(t)
    profile := map[string]string{
        "provider":   "GitHub",
        "providerId": "gh-42",
        "email":      "octo@example.com",
        "firstName":  "Octo",
        "lastName":   "Cat",
    }

    code, body := s.do(t, http.MethodPost, "/v1/auth/oauth", "", profile)
    require.Equal(t, http.StatusOK, code, body)
    user := body["user"].(map[string]any)
    assert.Equal(t, "octo_github", user["username"])
    assert.Equal(t, true, user["isEmailVerified"])
    id := user["id"]

    code, body = s.do(t, http.MethodPost, "/v1/auth/oauth", "", profile)
    require.Equal(t, http.StatusOK, code)
    assert.Equal(t, id, body["user"].(map[string]any)["id"])

    delete(profile, "providerId")
    code, _ = s.do(t, http.MethodPost, "/v1/auth/oauth", "", profile)
    assert.Equal(t, http.StatusBadRequest, code)
}

func TestLogoutAllRoute(t *testing.T) {
    s := newServer(t)
    s.seed(t, "ada@example.com", model.RoleUser, true)

    a1, _ := s.login(t, "ada@example.com")
    a2, _ := s.login(t, "ada@example.com")

    code, body := s.do(t, http.MethodPost, "/v1/auth/logout-all", a1, nil)
    require.Equal(t, http.StatusOK, code)
    assert.Equal(t, float64(2), body["sessions"])

    code, _ = s.do(t, http.MethodGet, "/v1/auth/session", a2, nil)
    assert.Equal(t, http.StatusUnauthorized, code)

    code, body = s.do(t, http.MethodPost, "/v1/auth/logout-all", "", nil)
    assert.Equal(t, http.StatusUnauthorized, code)
    assert.Equal(t, "Invalid or expired token", body["message"])
}

func TestAdminUserRoute(t *testing.T) {
    s := newServer(t)
    target := s.seed(t, "ada@example.com", model.RoleUser, true)
    s.seed(t, "root@example.com", model.RoleAdmin, true)

    userAccess, _ := s.login(t, "ada@example.com")
    adminAccess, _ := s.login(t, "root@example.com")

    code, body := s.do(t, http.MethodGet, "/v1/admin/users/"+target.ID, userAccess, nil)
    assert.Equal(t, http.StatusForbidden, code)
    assert.Equal(t, "Insufficient permissions", body["message"])

    code, body = s.do(t, http.MethodGet, "/v1/admin/users/"+target.ID, adminAccess, nil)
    require.Equal(t, http.StatusOK, code)
    assert.Equal(t, target.ID, body["user"].(map[string]any)["id"])

    code, body = s.do(t, http.MethodGet, "/v1/admin/users/missing", adminAccess, nil)
    assert.Equal(t, http.StatusNotFound, code)
    assert.Equal(t, "User not found", body["message"])

    code, _ = s.do(t, http.MethodGet, "/v1/admin/users/"+target.ID, "", nil)
    assert.Equal(t, http.StatusUnauthorized, code)
}

func TestHealthRoutes(t *testing.T) {
    s := newServer(t)

    code, body := s.do(t, http.MethodGet, "/v1/auth/health", "", nil)
    require.Equal(t, http.StatusOK, code)
    assert.Equal(t, "Authentication service is healthy", body["message"])
    assert.GreaterOrEqual(t, body["uptime"].(float64), 60.0)

    rec := httptest.NewRecorder()
    s.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
    assert.Equal(t, http.StatusOK, rec.Code)
    assert.Equal(t, "ok", rec.Body.String())
}

func TestSessionsRoute(t *testing.T) {
    s := newServer(t)
    ada := s.seed(t, "ada@example.com", model.RoleUser, true)
    s.seed(t, "bob@example.com", model.RoleUser, true)

    a1, _ := s.login(t, "ada@example.com")
    s.login(t, "ada@example.com")
    s.login(t, "bob@example.com")

    code, body := s.do(t, http.MethodGet, "/v1/auth/sessions", a1, nil)
    require.Equal(t, http.StatusOK, code)
    list := body["sessions"].([]any)
    require.Len(t, list, 2)
    for _, item := range list {
        sess := item.(map[string]any)
        assert.Equal(t, ada.ID, sess["userId"])
        assert.NotContains(t, sess, "refreshToken")
    }
}

func TestAdminSetStatusRoute(t *testing.T) {
    s := newServer(t)
    target := s.seed(t, "ada@example.com", model.RoleUser, true)
    s.seed(t, "root@example.com", model.RoleAdmin, true)
    adminAccess, _ := s.login(t, "root@example.com")
    userAccess, userRefresh := s.login(t, "ada@example.com")

    path := "/v1/admin/users/" + target.ID + "/status"
    code, _ := s.do(t, http.MethodPatch, path, userAccess, map[string]bool{"isActive": false})
    assert.Equal(t, http.StatusForbidden, code)

    code, body := s.do(t, http.MethodPatch, path, adminAccess, map[string]any{})
    assert.Equal(t, http.StatusBadRequest, code)
    assert.Equal(t, []any{"isActive is required"}, body["errors"])

    code, body = s.do(t, http.MethodPatch, path, adminAccess, map[string]bool{"isActive": false})
    require.Equal(t, http.StatusOK, code)
    assert.Equal(t, false, body["user"].(map[string]any)["isActive"])

    code, _ = s.do(t, http.MethodGet, "/v1/auth/session", userAccess, nil)
    assert.Equal(t, http.StatusUnauthorized, code)
    code, _ = s.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refreshToken": userRefresh})
    assert.Equal(t, http.StatusUnauthorized, code)
    code, body = s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "ada@example.com", "password": password})
    assert.Equal(t, http.StatusUnauthorized, code)
    assert.Equal(t, "Account is inactive. Please contact support.", body["message"])

    code, _ = s.do(t, http.MethodPatch, path, adminAccess, map[string]bool{"isActive": true})
    require.Equal(t, http.StatusOK, code)
    s.login(t, "ada@example.com")

    code, _ = s.do(t, http.MethodPatch, "/v1/admin/users/missing/status", adminAccess, map[string]bool{"isActive": true})
    assert.Equal(t, http.StatusNotFound, code)
}
