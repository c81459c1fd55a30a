package model

import "time"

// SessionLifetime is the fixed validity window of a session from creation.
const SessionLifetime = 7 * 24 * time.Hour

// DeviceInfo describes the client that opened a session.
type DeviceInfo struct {
    UserAgent  string `json:"userAgent"`
    IPAddress  string `json:"ipAddress"`
    DeviceType string `json:"deviceType"` // desktop | mobile | tablet
    Browser    string `json:"browser"`
    OS         string `json:"os"`
}

// Session mirrors a row in the `sessions` table.  Only SHA-256 digests of
// the tokens are persisted; AccessToken and RefreshToken carry the raw
// values when the caller knows them (on create, or the token a lookup was
// keyed by) and are empty otherwise.
type Session struct {
    ID             string
    UserID         string
    AccessToken    string
    RefreshToken   string
    Device         DeviceInfo
    IsActive       bool
    ExpiresAt      time.Time
    LastAccessedAt time.Time
    CreatedAt      time.Time
}

// Valid reports whether the session is active and unexpired at now.
func (s Session) Valid(now time.Time) bool {
    return s.IsActive && s.ExpiresAt.After(now)
}

// SessionView is the JSON shape of a session returned by the API.
type SessionView struct {
    ID             string     `json:"id"`
    UserID         string     `json:"userId"`
    Device         DeviceInfo `json:"deviceInfo"`
    IsActive       bool       `json:"isActive"`
    ExpiresAt      time.Time  `json:"expiresAt"`
    LastAccessedAt time.Time  `json:"lastAccessedAt"`
    CreatedAt      time.Time  `json:"createdAt"`
}

// View returns the token-free representation of s.
func (s Session) View() SessionView {
    return SessionView{
        ID:             s.ID,
        UserID:         s.UserID,
        Device:         s.Device,
        IsActive:       s.IsActive,
        ExpiresAt:      s.ExpiresAt,
        LastAccessedAt: s.LastAccessedAt,
        CreatedAt:      s.CreatedAt,
    }
}
