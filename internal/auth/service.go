package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/fiifi-auth/internal/model"
	"github.com/iliyamo/fiifi-auth/internal/queue"
	"github.com/iliyamo/fiifi-auth/internal/repository"
)

// Service runs the auth use cases: login, OAuth login, refresh, logout,
// logout-all and identity lookup.  Each call is independent; shared state
// is only touched through the stores' atomic updates.
type Service struct {
	users    UserStore
	sessions SessionStore
	tokens   *TokenService
	hasher   PasswordHasher
	verifier *CredentialVerifier
	resolver *OAuthIdentityResolver
	events   EventPublisher
	metrics  Recorder
	log      *slog.Logger
	nowFn    func() time.Time
}

// Dependencies are the collaborators of a Service.  Events and Metrics are
// optional.
type Dependencies struct {
	Users    UserStore
	Sessions SessionStore
	Tokens   *TokenService
	Hasher   PasswordHasher
	Events   EventPublisher
	Metrics  Recorder
	Logger   *slog.Logger
	Now      func() time.Time
}

func NewService(deps Dependencies) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		users:    deps.Users,
		sessions: deps.Sessions,
		tokens:   deps.Tokens,
		hasher:   deps.Hasher,
		verifier: NewCredentialVerifier(deps.Users, deps.Hasher, now, log),
		resolver: NewOAuthIdentityResolver(deps.Users, now, log),
		events:   deps.Events,
		metrics:  deps.Metrics,
		log:      log,
		nowFn:    now,
	}
}

// LoginRequest is the input of Login.
type LoginRequest struct {
	Email    string
	Password string
	Device   model.DeviceInfo
}

// OAuthLoginRequest is the input of OAuthLogin.
type OAuthLoginRequest struct {
	Profile Profile
	Device  model.DeviceInfo
}

// LoginResult is returned by Login and OAuthLogin.  On ErrEmailNotVerified
// only RequiresEmailVerification is set.
type LoginResult struct {
	User                      model.PublicUser
	Tokens                    TokenPair
	SessionID                 string
	RequiresEmailVerification bool
}

// Login checks email and password and opens a new session.
func (s *Service) Login(ctx context.Context, req LoginRequest) (res LoginResult, err error) {
	const op = "login"
	email := repository.NormalizeEmail(req.Email)
	defer func() {
		s.finish(ctx, op, err, queue.AuthEvent{
			Type: eventFor(err, queue.EventLoginSucceeded, queue.EventLoginFailed), UserID: res.User.ID,
			SessionID: res.SessionID, Email: email, IPAddress: req.Device.IPAddress,
		})
	}()

	if err := validateEmail(req.Email); err != nil {
		return LoginResult{}, err
	}
	if err := validatePassword(req.Password); err != nil {
		return LoginResult{}, err
	}

	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return LoginResult{}, s.verifier.VerifyUnknown(req.Password).Err()
	}
	if err != nil {
		return LoginResult{}, s.internal(ctx, op, err)
	}

	outcome, err := s.verifier.Verify(ctx, &u, req.Password)
	if err != nil {
		return LoginResult{}, s.internal(ctx, op, err, "user_id", u.ID)
	}
	if outcome != OutcomeVerified {
		return LoginResult{RequiresEmailVerification: outcome == OutcomeEmailNotVerified}, outcome.Err()
	}
	return s.startSession(ctx, op, u, req.Device)
}

// OAuthLogin resolves an externally verified profile to a local user and
// opens a session for it.  Inactive accounts are rejected.
func (s *Service) OAuthLogin(ctx context.Context, req OAuthLoginRequest) (res LoginResult, err error) {
	const op = "oauth_login"
	ev := queue.AuthEvent{Provider: strings.ToLower(strings.TrimSpace(req.Profile.Provider)), IPAddress: req.Device.IPAddress}
	defer func() {
		ev.Type = eventFor(err, queue.EventLoginSucceeded, queue.EventLoginFailed)
		ev.SessionID = res.SessionID
		s.finish(ctx, op, err, ev)
	}()

	if err := validateProfile(req.Profile); err != nil {
		return LoginResult{}, err
	}
	u, resolution, err := s.resolver.Resolve(ctx, req.Profile)
	if err != nil {
		return LoginResult{}, s.internal(ctx, op, err, "provider", ev.Provider)
	}
	ev.UserID, ev.Email = u.ID, u.Email
	switch resolution {
	case ResolvedByEmail:
		s.publish(ctx, queue.AuthEvent{Type: queue.EventOAuthLinked, UserID: u.ID, Email: u.Email, Provider: ev.Provider, Outcome: "success"})
	case ResolvedCreated:
		s.publish(ctx, queue.AuthEvent{Type: queue.EventOAuthCreated, UserID: u.ID, Email: u.Email, Provider: ev.Provider, Outcome: "success"})
	}
	if !u.IsActive {
		return LoginResult{}, ErrAccountInactive
	}
	return s.startSession(ctx, op, u, req.Device)
}

func (s *Service) startSession(ctx context.Context, op string, u model.User, device model.DeviceInfo) (LoginResult, error) {
	now := s.nowFn()
	sessionID := uuid.NewString()
	pair, err := s.tokens.IssuePair(u, sessionID)
	if err != nil {
		return LoginResult{}, s.internal(ctx, op, err, "user_id", u.ID)
	}
	err = s.sessions.Create(ctx, model.Session{
		ID:             sessionID,
		UserID:         u.ID,
		AccessToken:    pair.AccessToken,
		RefreshToken:   pair.RefreshToken,
		Device:         device,
		IsActive:       true,
		ExpiresAt:      now.Add(model.SessionLifetime),
		LastAccessedAt: now,
		CreatedAt:      now,
	})
	if err != nil {
		return LoginResult{}, s.internal(ctx, op, err, "user_id", u.ID)
	}
	s.log.InfoContext(ctx, "session created",
		"operation", op,
		"outcome", "success",
		"user_id", u.ID,
		"session_id", sessionID,
		"device_type", device.DeviceType,
	)
	return LoginResult{User: u.Public(), Tokens: pair, SessionID: sessionID}, nil
}

// Refresh exchanges a refresh token for a new access token bound to the
// same session.  The refresh token is returned unchanged; the previous
// access token stops resolving to the session.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (pair TokenPair, err error) {
	const op = "refresh"
	var claims RefreshClaims
	defer func() {
		s.finish(ctx, op, err, queue.AuthEvent{Type: queue.EventTokenRefreshed, UserID: claims.UserID, SessionID: claims.SessionID})
	}()

	if strings.TrimSpace(refreshToken) == "" {
		return TokenPair{}, fmt.Errorf("%w: refreshToken is required", ErrValidation)
	}
	claims, err = s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}

	sess, err := s.sessions.FindByRefreshToken(ctx, refreshToken)
	if errors.Is(err, repository.ErrNotFound) {
		return TokenPair{}, ErrSessionNotFound
	}
	if err != nil {
		return TokenPair{}, s.internal(ctx, op, err, "session_id", claims.SessionID)
	}
	if sess.ID != claims.SessionID || sess.UserID != claims.UserID {
		return TokenPair{}, ErrSessionNotFound
	}

	u, err := s.users.GetByID(ctx, claims.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return TokenPair{}, ErrUserNotFound
	}
	if err != nil {
		return TokenPair{}, s.internal(ctx, op, err, "user_id", claims.UserID)
	}
	if !u.IsActive {
		return TokenPair{}, ErrAccountInactive
	}

	pair, err = s.tokens.ReissueAccess(refreshToken, u)
	if err != nil {
		return TokenPair{}, err
	}
	// UpdateAccessToken also stamps last_accessed_at in the same statement.
	err = s.sessions.UpdateAccessToken(ctx, sess.ID, pair.AccessToken, s.nowFn())
	if errors.Is(err, repository.ErrNotFound) {
		return TokenPair{}, ErrSessionNotFound
	}
	if err != nil {
		return TokenPair{}, s.internal(ctx, op, err, "session_id", sess.ID)
	}
	return pair, nil
}

// Logout deactivates the session bound to accessToken.  Success depends
// only on the token being present and valid, not on the session still
// being active.
func (s *Service) Logout(ctx context.Context, accessToken string) (err error) {
	const op = "logout"
	var claims Claims
	defer func() {
		s.finish(ctx, op, err, queue.AuthEvent{Type: queue.EventLogout, UserID: claims.UserID, SessionID: claims.SessionID})
	}()

	claims, err = s.verifyBearer(accessToken)
	if err != nil {
		return err
	}
	if err := s.sessions.Deactivate(ctx, accessToken); err != nil {
		return s.internal(ctx, op, err, "session_id", claims.SessionID)
	}
	return nil
}

// LogoutAll deactivates every active session of the token's user and
// returns how many were closed.  Sessions created concurrently may or may
// not be included.
func (s *Service) LogoutAll(ctx context.Context, accessToken string) (n int64, err error) {
	const op = "logout_all"
	var claims Claims
	defer func() {
		s.finish(ctx, op, err, queue.AuthEvent{Type: queue.EventLogoutAll, UserID: claims.UserID, Count: n})
	}()

	claims, err = s.verifyBearer(accessToken)
	if err != nil {
		return 0, err
	}
	n, err = s.sessions.DeactivateAll(ctx, claims.UserID)
	if err != nil {
		return 0, s.internal(ctx, op, err, "user_id", claims.UserID)
	}
	return n, nil
}

// ListSessions returns the valid sessions of userID, newest first.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]model.SessionView, error) {
	list, err := s.sessions.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, s.internal(ctx, "list_sessions", err, "user_id", userID)
	}
	out := make([]model.SessionView, 0, len(list))
	for _, sess := range list {
		out = append(out, sess.View())
	}
	return out, nil
}

// SetUserActive enables or disables the account with id.  Disabling also
// ends every active session of the user; refresh and login are already
// refused for inactive accounts.
func (s *Service) SetUserActive(ctx context.Context, id string, active bool) (u model.PublicUser, err error) {
	const op = "set_user_active"
	ev := queue.AuthEvent{Type: queue.EventUserActivated, UserID: id}
	if !active {
		ev.Type = queue.EventUserDisabled
	}
	defer func() { s.finish(ctx, op, err, ev) }()

	switch err := s.users.SetActive(ctx, id, active, s.nowFn()); {
	case errors.Is(err, repository.ErrNotFound):
		return model.PublicUser{}, ErrUserNotFound
	case err != nil:
		return model.PublicUser{}, s.internal(ctx, op, err, "user_id", id)
	}
	if !active {
		ev.Count, err = s.sessions.DeactivateAll(ctx, id)
		if err != nil {
			return model.PublicUser{}, s.internal(ctx, op, err, "user_id", id)
		}
	}
	return s.UserByID(ctx, id)
}

// Identity returns the sanitized user behind accessToken.
func (s *Service) Identity(ctx context.Context, accessToken string) (u model.PublicUser, err error) {
	const op = "get_identity"
	defer func() { s.observe(op, err) }()

	claims, err := s.verifyBearer(accessToken)
	if err != nil {
		return model.PublicUser{}, err
	}
	return s.UserByID(ctx, claims.UserID)
}

// UserByID returns the sanitized user with id.
func (s *Service) UserByID(ctx context.Context, id string) (model.PublicUser, error) {
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.PublicUser{}, ErrUserNotFound
	}
	if err != nil {
		return model.PublicUser{}, s.internal(ctx, "get_user", err, "user_id", id)
	}
	return u.Public(), nil
}

// Authenticate checks accessToken and requires an active, unexpired
// session bound to it.  The session's last_accessed_at is stamped on
// success.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Claims, model.Session, error) {
	claims, err := s.verifyBearer(accessToken)
	if err != nil {
		return Claims{}, model.Session{}, err
	}
	sess, err := s.sessions.FindByToken(ctx, accessToken)
	if errors.Is(err, repository.ErrNotFound) {
		return Claims{}, model.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Claims{}, model.Session{}, s.internal(ctx, "authenticate", err, "session_id", claims.SessionID)
	}
	if sess.ID != claims.SessionID || sess.UserID != claims.UserID {
		return Claims{}, model.Session{}, ErrSessionNotFound
	}
	now := s.nowFn()
	if err := s.sessions.TouchLastAccessed(ctx, sess.ID, now); err != nil {
		s.log.WarnContext(ctx, "touch session failed",
			"operation", "authenticate",
			"outcome", "degraded",
			"session_id", sess.ID,
			"error", err,
		)
	} else {
		sess.LastAccessedAt = now
	}
	return claims, sess, nil
}

// NewUser is the input of CreateUser.
type NewUser struct {
	Email           string
	Password        string
	Username        string
	FirstName       string
	LastName        string
	Role            model.Role
	IsEmailVerified bool
}

// CreateUser hashes the password and stores a local credential.
func (s *Service) CreateUser(ctx context.Context, in NewUser) (model.PublicUser, error) {
	const op = "create_user"
	if err := validateEmail(in.Email); err != nil {
		return model.PublicUser{}, err
	}
	if err := validatePassword(in.Password); err != nil {
		return model.PublicUser{}, err
	}
	if in.Role == "" {
		in.Role = model.RoleUser
	}
	if !in.Role.Valid() {
		return model.PublicUser{}, fmt.Errorf("%w: unknown role %q", ErrValidation, in.Role)
	}
	email := repository.NormalizeEmail(in.Email)
	if in.Username == "" {
		in.Username = strings.SplitN(email, "@", 2)[0]
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return model.PublicUser{}, s.internal(ctx, op, err)
	}
	now := s.nowFn()
	u := model.User{
		ID:              uuid.NewString(),
		Email:           email,
		Username:        in.Username,
		FirstName:       in.FirstName,
		LastName:        in.LastName,
		PasswordHash:    hash,
		Role:            in.Role,
		IsActive:        true,
		IsEmailVerified: in.IsEmailVerified,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	switch err := s.users.Create(ctx, u); {
	case errors.Is(err, repository.ErrUsernameTaken):
		return model.PublicUser{}, fmt.Errorf("%w: username already taken", ErrValidation)
	case errors.Is(err, repository.ErrConflict):
		return model.PublicUser{}, fmt.Errorf("%w: email already registered", ErrValidation)
	case err != nil:
		return model.PublicUser{}, s.internal(ctx, op, err)
	}
	return u.Public(), nil
}

func (s *Service) verifyBearer(token string) (Claims, error) {
	if strings.TrimSpace(token) == "" {
		return Claims{}, tokenError(TokenMalformed, errors.New("missing bearer token"))
	}
	return s.tokens.VerifyAccess(token)
}

// internal logs err with context and hides it behind ErrInternal.
func (s *Service) internal(ctx context.Context, op string, err error, attrs ...any) error {
	args := append([]any{"operation", op, "outcome", "error", "error", err}, attrs...)
	s.log.ErrorContext(ctx, "auth operation failed", args...)
	return ErrInternal
}

func (s *Service) observe(op string, err error) {
	if s.metrics != nil {
		s.metrics.ObserveOutcome(op, outcomeLabel(err))
	}
}

// finish records the outcome of a use case and publishes its event.
func (s *Service) finish(ctx context.Context, op string, err error, ev queue.AuthEvent) {
	s.observe(op, err)
	outcome := outcomeLabel(err)
	if err != nil && !errors.Is(err, ErrInternal) {
		s.log.InfoContext(ctx, "auth request rejected",
			"operation", op,
			"outcome", outcome,
			"user_id", ev.UserID,
			"session_id", ev.SessionID,
		)
	}
	if ev.Type == "" || (err != nil && ev.Type != queue.EventLoginFailed) {
		return
	}
	ev.Outcome = outcome
	s.publish(ctx, ev)
}

func (s *Service) publish(ctx context.Context, ev queue.AuthEvent) {
	if s.events == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.nowFn().UTC()
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.WarnContext(ctx, "publish auth event failed",
			"operation", "publish_event",
			"outcome", "error",
			"event_type", ev.Type,
			"error", err,
		)
	}
}

func eventFor(err error, ok, failed string) string {
	if err == nil {
		return ok
	}
	return failed
}
