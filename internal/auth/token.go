package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/iliyamo/fiifi-auth/internal/model"
)

// DefaultExpiry is used when an expiry string cannot be parsed.
const DefaultExpiry = 900 * time.Second

// TokenConfig carries the signing secrets and lifetimes.  Expiry strings
// use a number followed by s, m, h or d ("15m", "7d").
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessExpiry  string
	RefreshExpiry string
}

// TokenPair is returned by every operation that issues tokens.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"` // access token lifetime in seconds
}

// Claims is the payload of an access token.
type Claims struct {
	UserID    string     `json:"userId"`
	Email     string     `json:"email"`
	Role      model.Role `json:"role"`
	SessionID string     `json:"sessionId"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token: only the session and
// its owner.
type RefreshClaims struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies HS256 access and refresh tokens with
// distinct secrets.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenService validates cfg and returns a TokenService.  Missing or
// identical secrets are a startup error.  A nil clock means time.Now.
func NewTokenService(cfg TokenConfig, now func() time.Time) (*TokenService, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("jwt access and refresh secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("jwt access and refresh secrets must differ")
	}
	if now == nil {
		now = time.Now
	}
	return &TokenService{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     ParseExpiry(cfg.AccessExpiry),
		refreshTTL:    parseExpiryOr(cfg.RefreshExpiry, model.SessionLifetime),
		now:           now,
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (t *TokenService) AccessTTL() time.Duration { return t.accessTTL }

// IssuePair signs a new access token and a new refresh token for sessionID.
func (t *TokenService) IssuePair(u model.User, sessionID string) (TokenPair, error) {
	access, err := t.signAccess(u, sessionID)
	if err != nil {
		return TokenPair{}, err
	}
	now := t.now()
	refresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, RefreshClaims{
		SessionID: sessionID,
		UserID:    u.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.refreshTTL)),
		},
	}).SignedString(t.refreshSecret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(t.accessTTL / time.Second)}, nil
}

func (t *TokenService) signAccess(u model.User, sessionID string) (string, error) {
	now := t.now()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:    u.ID,
		Email:     u.Email,
		Role:      u.Role,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.accessTTL)),
		},
	}).SignedString(t.accessSecret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// VerifyAccess checks signature and expiry of an access token.  Failures
// are *TokenError.
func (t *TokenService) VerifyAccess(raw string) (Claims, error) {
	var claims Claims
	if err := t.parse(raw, &claims, t.accessSecret); err != nil {
		return Claims{}, err
	}
	if claims.UserID == "" || claims.SessionID == "" {
		return Claims{}, tokenError(TokenMalformed, errors.New("missing userId or sessionId"))
	}
	return claims, nil
}

// VerifyRefresh is VerifyAccess for refresh tokens.
func (t *TokenService) VerifyRefresh(raw string) (RefreshClaims, error) {
	var claims RefreshClaims
	if err := t.parse(raw, &claims, t.refreshSecret); err != nil {
		return RefreshClaims{}, err
	}
	if claims.UserID == "" || claims.SessionID == "" {
		return RefreshClaims{}, tokenError(TokenMalformed, errors.New("missing userId or sessionId"))
	}
	return claims, nil
}

// ReissueAccess verifies refreshToken and signs a new access token for the
// same session.  The refresh token is returned unchanged.  Session state is
// not consulted here.
func (t *TokenService) ReissueAccess(refreshToken string, u model.User) (TokenPair, error) {
	claims, err := t.VerifyRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	if claims.UserID != u.ID {
		return TokenPair{}, tokenError(TokenMalformed, errors.New("refresh token belongs to another user"))
	}
	access, err := t.signAccess(u, claims.SessionID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refreshToken, ExpiresIn: int64(t.accessTTL / time.Second)}, nil
}

// Decode reads an access token payload without verifying it.  Only for
// diagnostics; never trust the result.
func (t *TokenService) Decode(raw string) (Claims, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return Claims{}, tokenError(TokenMalformed, err)
	}
	return claims, nil
}

func (t *TokenService) parse(raw string, claims jwt.Claims, secret []byte) error {
	if strings.TrimSpace(raw) == "" {
		return tokenError(TokenMalformed, errors.New("empty token"))
	}
	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now))
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return tokenError(TokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return tokenError(TokenSignatureInvalid, err)
	case err != nil:
		return tokenError(TokenMalformed, err)
	case !tok.Valid:
		return tokenError(TokenMalformed, errors.New("token not valid"))
	}
	return nil
}

var expiryPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

// ParseExpiry converts "30s", "15m", "12h" or "7d" to a duration.  Anything
// else yields DefaultExpiry.
func ParseExpiry(s string) time.Duration {
	return parseExpiryOr(s, DefaultExpiry)
}

func parseExpiryOr(s string, fallback time.Duration) time.Duration {
	m := expiryPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return fallback
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	unit := map[string]time.Duration{"s": time.Second, "m": time.Minute, "h": time.Hour, "d": 24 * time.Hour}[m[2]]
	return time.Duration(n) * unit
}
