package auth

import (
	"context"
	"time"

	"github.com/iliyamo/fiifi-auth/internal/model"
	"github.com/iliyamo/fiifi-auth/internal/queue"
)

// LockoutStore is the part of user storage the CredentialVerifier mutates.
// Both methods are single conditional updates keyed by user id.
type LockoutStore interface {
	RecordFailedLogin(ctx context.Context, userID string, now time.Time, threshold int, lockFor time.Duration) (model.LockoutState, error)
	RecordSuccessfulLogin(ctx context.Context, userID string, now time.Time) error
}

// UserStore is the user storage the auth core needs.  Lookups return
// repository.ErrNotFound when nothing matches; Create and LinkProvider
// return repository.ErrConflict or repository.ErrUsernameTaken on unique
// key collisions.
type UserStore interface {
	LockoutStore
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id string) (model.User, error)
	GetByProvider(ctx context.Context, provider, externalID string) (model.User, error)
	Create(ctx context.Context, u model.User) error
	LinkProvider(ctx context.Context, userID, provider, externalID string, now time.Time) error
	SetActive(ctx context.Context, userID string, active bool, now time.Time) error
}

// SessionStore holds sessions keyed by access token and by refresh token.
// Find methods never return a session that is inactive or past ExpiresAt.
// UpdateAccessToken returns repository.ErrNotFound when the session is no
// longer valid.
type SessionStore interface {
	Create(ctx context.Context, s model.Session) error
	FindByToken(ctx context.Context, accessToken string) (model.Session, error)
	FindByRefreshToken(ctx context.Context, refreshToken string) (model.Session, error)
	UpdateAccessToken(ctx context.Context, sessionID, newToken string, now time.Time) error
	TouchLastAccessed(ctx context.Context, sessionID string, now time.Time) error
	Deactivate(ctx context.Context, accessToken string) error
	DeactivateAll(ctx context.Context, userID string) (int64, error)
	ListActiveByUser(ctx context.Context, userID string) ([]model.Session, error)
}

// PasswordHasher is satisfied by *utils.Hasher.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Compare(hash, plain string) bool
	CompareDummy(plain string)
}

// EventPublisher delivers auth events.  Delivery is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.AuthEvent) error
}

// Recorder counts use-case outcomes.
type Recorder interface {
	ObserveOutcome(operation, outcome string)
}
