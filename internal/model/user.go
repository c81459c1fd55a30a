package model

import "time"

// Role is the coarse account role carried inside access tokens.
type Role string

const (
    RoleAdmin    Role = "admin"
    RoleUser     Role = "user"
    RoleInvestor Role = "investor"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
    switch r {
    case RoleAdmin, RoleUser, RoleInvestor:
        return true
    }
    return false
}

// User represents an identity record as stored in the `users` table
// together with its linked OAuth providers from `user_oauth_providers`.
// Handlers must never serialize a User directly; use Public instead.
//
// Fields:
//  ID              – primary key (UUID string).
//  Email           – unique, stored lower-cased.
//  Username        – unique display handle.
//  PasswordHash    – bcrypt hash; empty for OAuth-only accounts.
//  LoginAttempts   – consecutive failed password attempts.
//  LockUntil       – end of the current lockout window (nil when never locked).
//  OAuthProviders  – provider name -> external id.
type User struct {
    ID              string
    Email           string
    Username        string
    FirstName       string
    LastName        string
    PasswordHash    string
    Role            Role
    IsActive        bool
    IsEmailVerified bool
    LoginAttempts   int
    LockUntil       *time.Time
    LastLoginAt     *time.Time
    OAuthProviders  map[string]string
    CreatedAt       time.Time
    UpdatedAt       time.Time
}

// IsLocked reports whether a lockout window is still open at now.  A lock
// whose end is in the past counts as cleared.
func (u User) IsLocked(now time.Time) bool {
    return u.LockUntil != nil && u.LockUntil.After(now)
}

// PublicUser is the sanitized identity returned to callers.  It carries no
// password hash and no lockout bookkeeping.
type PublicUser struct {
    ID              string            `json:"id"`
    Email           string            `json:"email"`
    Username        string            `json:"username"`
    FirstName       string            `json:"firstName"`
    LastName        string            `json:"lastName"`
    Role            Role              `json:"role"`
    IsActive        bool              `json:"isActive"`
    IsEmailVerified bool              `json:"isEmailVerified"`
    LastLoginAt     *time.Time        `json:"lastLoginAt,omitempty"`
    OAuthProviders  map[string]string `json:"oauthProviders,omitempty"`
    CreatedAt       time.Time         `json:"createdAt"`
    UpdatedAt       time.Time         `json:"updatedAt"`
}

// Public returns the sanitized view of u.
func (u User) Public() PublicUser {
    var providers map[string]string
    if len(u.OAuthProviders) > 0 {
        providers = make(map[string]string, len(u.OAuthProviders))
        for k, v := range u.OAuthProviders {
            providers[k] = v
        }
    }
    return PublicUser{
        ID:              u.ID,
        Email:           u.Email,
        Username:        u.Username,
        FirstName:       u.FirstName,
        LastName:        u.LastName,
        Role:            u.Role,
        IsActive:        u.IsActive,
        IsEmailVerified: u.IsEmailVerified,
        LastLoginAt:     u.LastLoginAt,
        OAuthProviders:  providers,
        CreatedAt:       u.CreatedAt,
        UpdatedAt:       u.UpdatedAt,
    }
}

// LockoutState is the credential-failure bookkeeping of a user after an
// update.
type LockoutState struct {
    LoginAttempts int
    LockUntil     *time.Time
}
