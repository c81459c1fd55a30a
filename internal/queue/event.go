// Package queue defines auth event payloads exchanged over the message
// broker together with the publisher and the audit consumer.
package queue

import "time"

// AuthEventsQueue is the durable queue auth events are published to.
const AuthEventsQueue = "auth.events"

// Event types.
const (
    EventLoginSucceeded = "login.succeeded"
    EventLoginFailed    = "login.failed"
    EventOAuthLinked    = "oauth.linked"
    EventOAuthCreated   = "oauth.created"
    EventTokenRefreshed = "token.refreshed"
    EventLogout         = "logout"
    EventLogoutAll      = "logout.all"
    EventUserActivated  = "user.activated"
    EventUserDisabled   = "user.deactivated"
)

// AuthEvent is published after an auth use case finishes.  It carries
// enough for an audit trail without querying the primary database and
// never contains passwords or raw tokens.
type AuthEvent struct {
    Type       string    `json:"type"`
    UserID     string    `json:"user_id,omitempty"`
    SessionID  string    `json:"session_id,omitempty"`
    Email      string    `json:"email,omitempty"`
    Provider   string    `json:"provider,omitempty"`
    IPAddress  string    `json:"ip_address,omitempty"`
    Outcome    string    `json:"outcome"`
    Count      int64     `json:"count,omitempty"`
    OccurredAt time.Time `json:"occurred_at"`
}
