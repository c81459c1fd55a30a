package auth

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/fiifi-auth/internal/database"
	"github.com/iliyamo/fiifi-auth/internal/model"
	"github.com/iliyamo/fiifi-auth/internal/queue"
	"github.com/iliyamo/fiifi-auth/internal/repository"
	"github.com/iliyamo/fiifi-auth/internal/utils"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.AuthEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.AuthEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) ObserveOutcome(operation, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[operation+"/"+outcome]++
}

type testEnv struct {
	clock    *fakeClock
	users    *repository.UserRepo
	sessions *repository.SessionRepo
	tokens   *TokenService
	hasher   *utils.Hasher
	events   *recordingPublisher
	metrics  *countingRecorder
	svc      *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, database.SQLiteDSN(filepath.Join(t.TempDir(), "auth.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, database.DriverSQLite))

	clock := newFakeClock()
	tokens, err := NewTokenService(TokenConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessExpiry:  "15m",
		RefreshExpiry: "7d",
	}, clock.Now)
	require.NoError(t, err)

	env := &testEnv{
		clock:    clock,
		users:    repository.NewUserRepo(db),
		sessions: repository.NewSessionRepo(db, clock.Now),
		tokens:   tokens,
		hasher:   utils.NewHasher(bcrypt.MinCost),
		events:   &recordingPublisher{},
		metrics:  &countingRecorder{},
	}
	env.svc = NewService(Dependencies{
		Users:    env.users,
		Sessions: env.sessions,
		Tokens:   tokens,
		Hasher:   env.hasher,
		Events:   env.events,
		Metrics:  env.metrics,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:      clock.Now,
	})
	return env
}

func (e *testEnv) seedUser(t *testing.T, email, password string, mutate func(*model.User)) model.User {
	t.Helper()
	hash, err := e.hasher.Hash(password)
	require.NoError(t, err)
	now := e.clock.Now()
	u := model.User{
		ID:              email + "-id",
		Email:           email,
		Username:        email,
		PasswordHash:    hash,
		Role:            model.RoleUser,
		IsActive:        true,
		IsEmailVerified: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if mutate != nil {
		mutate(&u)
	}
	require.NoError(t, e.users.Create(context.Background(), u))
	return u
}

func (e *testEnv) login(t *testing.T, email, password string) (LoginResult, error) {
	t.Helper()
	return e.svc.Login(context.Background(), LoginRequest{
		Email:    email,
		Password: password,
		Device:   ClassifyDevice("Mozilla/5.0 (X11; Linux x86_64) Firefox/120.0", "10.0.0.1"),
	})
}

func TestLoginSucceedsAndOpensSevenDaySession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "a@x.com", "correct123", nil)

	res, err := env.login(t, "A@x.com", "correct123")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com-id", res.User.ID)
	assert.NotEmpty(t, res.Tokens.AccessToken)
	assert.NotEmpty(t, res.Tokens.RefreshToken)
	assert.Equal(t, int64(900), res.Tokens.ExpiresIn)
	require.NotNil(t, res.User.LastLoginAt)

	stored, err := env.users.GetByID(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.LoginAttempts)
	assert.Nil(t, stored.LockUntil)
	require.NotNil(t, stored.LastLoginAt)
	assert.True(t, stored.LastLoginAt.Equal(env.clock.Now()))

	sess, err := env.sessions.FindByToken(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, sess.ID)
	assert.True(t, sess.ExpiresAt.Equal(env.clock.Now().Add(7*24*time.Hour)))
	assert.Equal(t, "Firefox", sess.Device.Browser)
	assert.Contains(t, env.events.types(), queue.EventLoginSucceeded)
}

func TestLoginUnknownEmailAndWrongPasswordLookTheSame(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "a@x.com", "correct123", nil)

	_, errUnknown := env.login(t, "nobody@x.com", "correct123")
	_, errWrong := env.login(t, "a@x.com", "wrong-password")

	require.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	require.ErrorIs(t, errWrong, ErrInvalidCredentials)
	assert.Equal(t, Message(errUnknown), Message(errWrong))
}

func TestLoginValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string]struct{ email, password string }{
		"missing email":  {"", "correct123"},
		"bad email":      {"not-an-email", "correct123"},
		"display name":   {"Bob <b@x.com>", "correct123"},
		"short password": {"a@x.com", "short"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.login(t, tc.email, tc.password)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestLockoutAfterFiveFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.seedUser(t, "a@x.com", "correct123", nil)

	for i := 1; i <= MaxLoginAttempts; i++ {
		_, err := env.login(t, "a@x.com", "wrong-password")
		require.ErrorIs(t, err, ErrInvalidCredentials, "attempt %d", i)
	}

	_, err := env.login(t, "a@x.com", "correct123")
	require.ErrorIs(t, err, ErrAccountLocked)

	stored, err := env.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, MaxLoginAttempts, stored.LoginAttempts)
	require.NotNil(t, stored.LockUntil)
	assert.True(t, stored.LockUntil.Equal(env.clock.Now().Add(LockDuration)))

	env.clock.Advance(LockDuration - time.Minute)
	_, err = env.login(t, "a@x.com", "correct123")
	require.ErrorIs(t, err, ErrAccountLocked)

	env.clock.Advance(2 * time.Minute)
	_, err = env.login(t, "a@x.com", "wrong-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	stored, err = env.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.LoginAttempts)
	assert.Nil(t, stored.LockUntil)

	_, err = env.login(t, "a@x.com", "correct123")
	require.NoError(t, err)
	stored, err = env.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.LoginAttempts)
}

func TestConcurrentFailedLoginsAreAllCounted(t *testing.T) {
	env := newTestEnv(t)
	u := env.seedUser(t, "a@x.com", "correct123", nil)

	const attempts = MaxLoginAttempts - 1
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.login(t, "a@x.com", "wrong-password")
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		}()
	}
	wg.Wait()

	stored, err := env.users.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, attempts, stored.LoginAttempts)
	assert.Nil(t, stored.LockUntil)
}

func TestLoginAccountStates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inactive := env.seedUser(t, "inactive@x.com", "correct123", func(u *model.User) { u.IsActive = false })
	unverified := env.seedUser(t, "unverified@x.com", "correct123", func(u *model.User) {
		u.IsEmailVerified = false
		u.LoginAttempts = 2
	})

	_, err := env.login(t, "inactive@x.com", "wrong-password")
	require.ErrorIs(t, err, ErrAccountInactive)
	stored, err := env.users.GetByID(ctx, inactive.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.LoginAttempts)

	res, err := env.login(t, "unverified@x.com", "correct123")
	require.ErrorIs(t, err, ErrEmailNotVerified)
	assert.True(t, res.RequiresEmailVerification)
	assert.Empty(t, res.Tokens.AccessToken)
	stored, err = env.users.GetByID(ctx, unverified.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.LoginAttempts)
}

func TestRefreshKeepsRefreshTokenAndRotatesAccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "a@x.com", "correct123", nil)
	res, err := env.login(t, "a@x.com", "correct123")
	require.NoError(t, err)

	env.clock.Advance(time.Minute)
	pair, err := env.svc.Refresh(ctx, res.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, res.Tokens.RefreshToken, pair.RefreshToken)
	assert.NotEqual(t, res.Tokens.AccessToken, pair.AccessToken)

	_, err = env.sessions.FindByToken(ctx, res.Tokens.AccessToken)
	require.ErrorIs(t, err, repository.ErrNotFound)
	sess, err := env.sessions.FindByToken(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, sess.ID)
	assert.True(t, sess.LastAccessedAt.Equal(env.clock.Now()))

	claims, err := env.tokens.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, claims.SessionID)
}

func TestRefreshAfterLogoutFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "a@x.com", "correct123", nil)
	res, err := env.login(t, "a@x.com", "correct123")
	require.NoError(t, err)

	require.NoError(t, env.svc.Logout(ctx, res.Tokens.AccessToken))
	_, err = env.svc.Refresh(ctx, res.Tokens.RefreshToken)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRefreshRejectsBadTokensAndInactiveUsers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.seedUser(t, "a@x.com", "correct123", nil)
	res, err := env.login(t, "a@x.com", "correct123")
	require.NoError(t, err)

	_, err = env.svc.Refresh(ctx, "")
	require.ErrorIs(t, err, ErrValidation)
	_, err = env.svc.Refresh(ctx, res.Tokens.AccessToken)
	require.ErrorIs(t, err, ErrTokenInvalid)

	require.NoError(t, env.users.SetActive(ctx, u.ID, false, env.clock.Now()))
	_, err = env.svc.Refresh(ctx, res.Tokens.RefreshToken)
	require.ErrorIs(t, err, ErrAccountInactive)
}

func TestRefreshAfterSessionExpiryFails(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "a@x.com", "correct123", nil)
	res, err := env.login(t, "a@x.com", "correct123")
	require.NoError(t, err)

	env.clock.Advance(model.SessionLifetime + time.Second)
	_, err = env.svc.Refresh(context.Background(), res.Tokens.RefreshToken)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestConcurrentRefreshLeavesOneCurrentAccessToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "a@x.com", "correct123", nil)
	res, err := env.login(t, "a@x.com", "correct123")
	require.NoError(t, err)

	const workers = 6
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		issued []string
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pair, err := env.svc.Refresh(ctx, res.Tokens.RefreshToken)
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, res.Tokens.RefreshToken, pair.RefreshToken)
			mu.Lock()
			issued = append(issued, pair.AccessToken)
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, issued, workers)

	current := 0
	for _, tok := range append(issued, res.Tokens.AccessToken) {
		if _, err := env.sessions.FindByToken(ctx, tok); err == nil {
			current++
		}
	}
	assert.Equal(t, 1, current)
}

func TestLogoutInvalidatesTokenForGood(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "a@x.com", "correct123", nil)
	res, err := env.login(t, "a@x.com", "correct123")
	require.NoError(t, err)

	require.NoError(t, env.svc.Logout(ctx, res.Tokens.AccessToken))
	_, err = env.sessions.FindByToken(ctx, res.Tokens.AccessToken)
	require.ErrorIs(t, err, repository.ErrNotFound)
	_, _, err = env.svc.Authenticate(ctx, res.Tokens.AccessToken)
	require.ErrorIs(t, err, ErrSessionNotFound)

	// a second logout with the same token still succeeds
	require.NoError(t, env.svc.Logout(ctx, res.Tokens.AccessToken))

	require.ErrorIs(t, env.svc.Logout(ctx, ""), ErrTokenInvalid)
	require.ErrorIs(t, env.svc.Logout(ctx, "garbage"), ErrTokenInvalid)
}

func TestLogoutAllDeactivatesExistingSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "a@x.com", "correct123", nil)
	env.seedUser(t, "b@x.com", "correct123", nil)

	var tokens []string
	for i := 0; i < 3; i++ {
		res, err := env.login(t, "a@x.com", "correct123")
		require.NoError(t, err)
		tokens = append(tokens, res.Tokens.AccessToken)
	}
	other, err := env.login(t, "b@x.com", "correct123")
	require.NoError(t, err)

	n, err := env.svc.LogoutAll(ctx, tokens[0])
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	for _, tok := range tokens {
		_, err := env.sessions.FindByToken(ctx, tok)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	}
	_, err = env.sessions.FindByToken(ctx, other.Tokens.AccessToken)
	assert.NoError(t, err)
}

func TestLogoutAllRacingLoginOnlyGuaranteesPriorSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "a@x.com", "correct123", nil)

	var before []string
	for i := 0; i < 3; i++ {
		res, err := env.login(t, "a@x.com", "correct123")
		require.NoError(t, err)
		before = append(before, res.Tokens.AccessToken)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := env.svc.LogoutAll(ctx, before[0])
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := env.login(t, "a@x.com", "correct123")
		assert.NoError(t, err)
	}()
	wg.Wait()

	for _, tok := range before {
		_, err := env.sessions.FindByToken(ctx, tok)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	}
}

func TestIdentityReturnsSanitizedUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.seedUser(t, "a@x.com", "correct123", nil)
	res, err := env.login(t, "a@x.com", "correct123")
	require.NoError(t, err)

	got, err := env.svc.Identity(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "a@x.com", got.Email)

	_, err = env.svc.Identity(ctx, "")
	require.ErrorIs(t, err, ErrTokenInvalid)

	ghost, err := env.tokens.IssuePair(model.User{ID: "ghost", Email: "ghost@x.com", Role: model.RoleUser}, "s-1")
	require.NoError(t, err)
	_, err = env.svc.Identity(ctx, ghost.AccessToken)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestAuthenticateTouchesSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "a@x.com", "correct123", nil)
	res, err := env.login(t, "a@x.com", "correct123")
	require.NoError(t, err)

	env.clock.Advance(5 * time.Minute)
	claims, sess, err := env.svc.Authenticate(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, claims.SessionID)
	assert.True(t, sess.LastAccessedAt.Equal(env.clock.Now()))

	stored, err := env.sessions.FindByToken(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.True(t, stored.LastAccessedAt.Equal(env.clock.Now()))
}

func TestCreateUserHashesPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pub, err := env.svc.CreateUser(ctx, NewUser{Email: "New@X.com", Password: "correct123", IsEmailVerified: true})
	require.NoError(t, err)
	assert.Equal(t, "new@x.com", pub.Email)
	assert.Equal(t, "new", pub.Username)
	assert.Equal(t, model.RoleUser, pub.Role)

	stored, err := env.users.GetByID(ctx, pub.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "correct123", stored.PasswordHash)
	assert.True(t, env.hasher.Compare(stored.PasswordHash, "correct123"))

	_, err = env.svc.CreateUser(ctx, NewUser{Email: "new@x.com", Password: "correct123", Username: "other"})
	require.ErrorIs(t, err, ErrValidation)
	_, err = env.svc.CreateUser(ctx, NewUser{Email: "x@x.com", Password: "correct123", Role: "root"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = env.login(t, "new@x.com", "correct123")
	require.NoError(t, err)
}

func TestOutcomesAreRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "a@x.com", "correct123", nil)

	_, err := env.login(t, "a@x.com", "correct123")
	require.NoError(t, err)
	_, err = env.login(t, "a@x.com", "wrong-password")
	require.Error(t, err)

	env.metrics.mu.Lock()
	defer env.metrics.mu.Unlock()
	assert.Equal(t, 1, env.metrics.counts["login/success"])
	assert.Equal(t, 1, env.metrics.counts["login/invalid_credentials"])
	assert.Contains(t, env.events.types(), queue.EventLoginFailed)
}

func TestSetUserActiveEndsSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.seedUser(t, "a@x.com", "correct123", nil)

	res, err := env.login(t, "a@x.com", "correct123")
	require.NoError(t, err)
	_, err = env.login(t, "a@x.com", "correct123")
	require.NoError(t, err)

	views, err := env.svc.ListSessions(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, views, 2)

	pub, err := env.svc.SetUserActive(ctx, u.ID, false)
	require.NoError(t, err)
	assert.False(t, pub.IsActive)

	views, err = env.svc.ListSessions(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, views)

	_, err = env.svc.Refresh(ctx, res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = env.login(t, "a@x.com", "correct123")
	assert.ErrorIs(t, err, ErrAccountInactive)

	pub, err = env.svc.SetUserActive(ctx, u.ID, true)
	require.NoError(t, err)
	assert.True(t, pub.IsActive)
	_, err = env.login(t, "a@x.com", "correct123")
	require.NoError(t, err)

	_, err = env.svc.SetUserActive(ctx, "missing", false)
	assert.ErrorIs(t, err, ErrUserNotFound)

	types := env.events.types()
	assert.Contains(t, types, queue.EventUserDisabled)
	assert.Contains(t, types, queue.EventUserActivated)
}
