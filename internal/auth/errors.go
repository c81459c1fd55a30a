package auth

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation marks malformed input rejected before any state change.
	ErrValidation = errors.New("validation error")
	// ErrInvalidCredentials hides whether the email or the password failed.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountInactive    = errors.New("account inactive")
	ErrEmailNotVerified   = errors.New("email not verified")
	// ErrTokenInvalid covers missing, malformed, expired and mis-signed tokens
	// of either kind.  *TokenError values match it with errors.Is.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrSessionNotFound means the token is well formed but no active,
	// unexpired session is bound to it.
	ErrSessionNotFound = errors.New("session not found")
	ErrUserNotFound    = errors.New("user not found")
	// ErrInternal is the only error storage or crypto failures surface as.
	ErrInternal = errors.New("internal error")
)

// TokenKind classifies a token verification failure.
type TokenKind int

const (
	TokenMalformed TokenKind = iota + 1
	TokenExpired
	TokenSignatureInvalid
)

func (k TokenKind) String() string {
	switch k {
	case TokenExpired:
		return "expired"
	case TokenSignatureInvalid:
		return "signature_invalid"
	default:
		return "malformed"
	}
}

// TokenError is returned by the TokenService verify methods.
type TokenError struct {
	Kind TokenKind
	Err  error
}

func (e *TokenError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("token %s", e.Kind)
	}
	return fmt.Sprintf("token %s: %v", e.Kind, e.Err)
}

func (e *TokenError) Unwrap() error { return e.Err }

// Is makes every TokenError match ErrTokenInvalid.
func (e *TokenError) Is(target error) bool { return target == ErrTokenInvalid }

func tokenError(kind TokenKind, err error) error {
	return &TokenError{Kind: kind, Err: err}
}

// Message returns the caller-facing text for err.  Unknown errors get the
// generic internal message so nothing about storage leaks out.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "Validation error"
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password"
	case errors.Is(err, ErrAccountLocked):
		return "Account is temporarily locked due to multiple failed login attempts"
	case errors.Is(err, ErrAccountInactive):
		return "Account is inactive. Please contact support."
	case errors.Is(err, ErrEmailNotVerified):
		return "Please verify your email address before logging in"
	case errors.Is(err, ErrTokenInvalid):
		return "Invalid or expired token"
	case errors.Is(err, ErrSessionNotFound):
		return "Session not found or expired"
	case errors.Is(err, ErrUserNotFound):
		return "User not found"
	default:
		return "Internal server error"
	}
}

// StatusCode maps err to the HTTP status returned for it.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrAccountLocked),
		errors.Is(err, ErrAccountInactive),
		errors.Is(err, ErrEmailNotVerified),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrSessionNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// outcomeLabel is the metrics/log label for the result of an operation.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, ErrAccountInactive):
		return "account_inactive"
	case errors.Is(err, ErrEmailNotVerified):
		return "email_not_verified"
	case errors.Is(err, ErrTokenInvalid):
		return "token_invalid"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	default:
		return "internal_error"
	}
}
