package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/iliyamo/fiifi-auth/internal/model"
)

// Lockout policy.
const (
	MaxLoginAttempts = 5
	LockDuration     = 2 * time.Hour
)

// Outcome is the result of checking a password against a user record.
type Outcome int

const (
	OutcomeVerified Outcome = iota
	OutcomeInvalidCredentials
	OutcomeAccountLocked
	OutcomeAccountInactive
	OutcomeEmailNotVerified
)

func (o Outcome) String() string {
	switch o {
	case OutcomeVerified:
		return "verified"
	case OutcomeInvalidCredentials:
		return "invalid_credentials"
	case OutcomeAccountLocked:
		return "account_locked"
	case OutcomeAccountInactive:
		return "account_inactive"
	case OutcomeEmailNotVerified:
		return "email_not_verified"
	}
	return "unknown"
}

// Err maps a failed outcome to its sentinel; OutcomeVerified maps to nil.
func (o Outcome) Err() error {
	switch o {
	case OutcomeVerified:
		return nil
	case OutcomeAccountLocked:
		return ErrAccountLocked
	case OutcomeAccountInactive:
		return ErrAccountInactive
	case OutcomeEmailNotVerified:
		return ErrEmailNotVerified
	default:
		return ErrInvalidCredentials
	}
}

// CredentialVerifier applies the password and lockout policy to a user
// record.  Counter changes go through LockoutStore as atomic updates, so
// concurrent attempts on one account are all counted.
type CredentialVerifier struct {
	store  LockoutStore
	hasher PasswordHasher
	now    func() time.Time
	log    *slog.Logger
}

func NewCredentialVerifier(store LockoutStore, hasher PasswordHasher, now func() time.Time, log *slog.Logger) *CredentialVerifier {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &CredentialVerifier{store: store, hasher: hasher, now: now, log: log}
}

// Verify evaluates, in order: an open lock, an inactive account, the
// password, and the email-verified flag.  A wrong password is recorded
// before returning OutcomeInvalidCredentials, and the attempt that reaches
// MaxLoginAttempts opens the lock in the same update.  Only
// OutcomeVerified resets the counter.  u is updated to reflect whatever
// was written.  A non-nil error means storage failed.
func (v *CredentialVerifier) Verify(ctx context.Context, u *model.User, password string) (Outcome, error) {
	now := v.now()
	if u.IsLocked(now) {
		return OutcomeAccountLocked, nil
	}
	if !u.IsActive {
		return OutcomeAccountInactive, nil
	}
	if !v.hasher.Compare(u.PasswordHash, password) {
		state, err := v.store.RecordFailedLogin(ctx, u.ID, now, MaxLoginAttempts, LockDuration)
		if err != nil {
			return OutcomeInvalidCredentials, err
		}
		u.LoginAttempts = state.LoginAttempts
		u.LockUntil = state.LockUntil
		if state.LockUntil != nil && state.LockUntil.After(now) {
			v.log.WarnContext(ctx, "account locked after failed login attempts",
				"operation", "verify_credentials",
				"outcome", "locked",
				"user_id", u.ID,
				"login_attempts", state.LoginAttempts,
				"locked_until", state.LockUntil,
			)
		}
		return OutcomeInvalidCredentials, nil
	}
	if !u.IsEmailVerified {
		return OutcomeEmailNotVerified, nil
	}
	if err := v.store.RecordSuccessfulLogin(ctx, u.ID, now); err != nil {
		return OutcomeVerified, err
	}
	u.LoginAttempts = 0
	u.LockUntil = nil
	u.LastLoginAt = &now
	return OutcomeVerified, nil
}

// VerifyUnknown is the path for an email with no account.  It spends one
// hash comparison so the response time matches a wrong password.
func (v *CredentialVerifier) VerifyUnknown(password string) Outcome {
	v.hasher.CompareDummy(password)
	return OutcomeInvalidCredentials
}
