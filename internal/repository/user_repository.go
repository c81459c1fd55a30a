package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/fiifi-auth/internal/model"
)

// UserRepo persists identities in the 'users' and 'user_oauth_providers'
// tables.  Every mutation of lockout state is a single conditional UPDATE
// keyed by user id, never read-modify-write in Go.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "u.id,u.email,u.username,u.password_hash,u.first_name,u.last_name,u.role," +
	"u.is_active,u.is_email_verified,u.login_attempts,u.lock_until,u.last_login_at,u.created_at,u.updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func scanUser(row rowScanner) (model.User, error) {
	var (
		u                    model.User
		hash                 sql.NullString
		role                 string
		lockUntil, lastLogin sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(&u.ID, &u.Email, &u.Username, &hash, &u.FirstName, &u.LastName, &role,
		&u.IsActive, &u.IsEmailVerified, &u.LoginAttempts, &lockUntil, &lastLogin, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, err
	}
	u.PasswordHash = hash.String
	u.Role = model.Role(role)
	u.LockUntil = timePtr(lockUntil)
	u.LastLoginAt = timePtr(lastLogin)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}

func loadProviders(ctx context.Context, q queryer, userID string) (map[string]string, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT provider, external_id FROM user_oauth_providers WHERE user_id=?", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	providers := map[string]string{}
	for rows.Next() {
		var provider, externalID string
		if err := rows.Scan(&provider, &externalID); err != nil {
			return nil, err
		}
		providers[provider] = externalID
	}
	return providers, rows.Err()
}

func (r *UserRepo) getOne(ctx context.Context, query string, args ...any) (model.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx, query, args...))
	if err != nil {
		return model.User{}, err
	}
	if u.OAuthProviders, err = loadProviders(ctx, r.DB, u.ID); err != nil {
		return model.User{}, err
	}
	return u, nil
}

// NormalizeEmail lower-cases and trims an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create inserts u and its provider links in one transaction.  Email and
// username collisions map to ErrConflict and ErrUsernameTaken.
func (r *UserRepo) Create(ctx context.Context, u model.User) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var hash sql.NullString
	if u.PasswordHash != "" {
		hash = sql.NullString{String: u.PasswordHash, Valid: true}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, username, password_hash, first_name, last_name, role,
			is_active, is_email_verified, login_attempts, lock_until, last_login_at, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		u.ID, NormalizeEmail(u.Email), u.Username, hash, u.FirstName, u.LastName, string(u.Role),
		u.IsActive, u.IsEmailVerified, u.LoginAttempts, nullMillis(u.LockUntil), nullMillis(u.LastLoginAt),
		toMillis(u.CreatedAt), toMillis(u.UpdatedAt))
	if err != nil {
		if duplicateOn(err, "username") {
			return ErrUsernameTaken
		}
		if isDuplicate(err) {
			return ErrConflict
		}
		return err
	}
	for provider, externalID := range u.OAuthProviders {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO user_oauth_providers (provider, external_id, user_id, linked_at) VALUES (?,?,?,?)",
			provider, externalID, u.ID, toMillis(u.CreatedAt)); err != nil {
			if isDuplicate(err) {
				return ErrConflict
			}
			return err
		}
	}
	return tx.Commit()
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users u WHERE u.email=? LIMIT 1", NormalizeEmail(email))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (model.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users u WHERE u.id=? LIMIT 1", id)
}

// GetByProvider fetches the user linked to an external provider id.
func (r *UserRepo) GetByProvider(ctx context.Context, provider, externalID string) (model.User, error) {
	return r.getOne(ctx,
		"SELECT "+userColumns+" FROM users u JOIN user_oauth_providers p ON p.user_id = u.id"+
			" WHERE p.provider=? AND p.external_id=? LIMIT 1",
		provider, externalID)
}

// LinkProvider records provider -> externalID for userID, replacing any
// other id the user had for that provider.  Linking an id that already
// belongs to this user is a no-op; one owned by another user is ErrConflict.
func (r *UserRepo) LinkProvider(ctx context.Context, userID, provider, externalID string, now time.Time) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var owner string
	err = tx.QueryRowContext(ctx,
		"SELECT user_id FROM user_oauth_providers WHERE provider=? AND external_id=?",
		provider, externalID).Scan(&owner)
	switch {
	case err == nil && owner == userID:
		return tx.Commit()
	case err == nil:
		return ErrConflict
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM user_oauth_providers WHERE user_id=? AND provider=?", userID, provider); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO user_oauth_providers (provider, external_id, user_id, linked_at) VALUES (?,?,?,?)",
		provider, externalID, userID, toMillis(now)); err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return err
	}
	res, err := tx.ExecContext(ctx, "UPDATE users SET updated_at=? WHERE id=?", toMillis(now), userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// RecordFailedLogin increments the failed-attempt counter and, when the
// incremented value reaches threshold, opens a lock window of lockFor.  A
// lock that already ended restarts the counter so the attempt counts as 1.
// It returns the state after the update.
func (r *UserRepo) RecordFailedLogin(ctx context.Context, userID string, now time.Time, threshold int, lockFor time.Duration) (model.LockoutState, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.LockoutState{}, err
	}
	defer func() { _ = tx.Rollback() }()

	nowMs := toMillis(now)
	if _, err := tx.ExecContext(ctx,
		"UPDATE users SET login_attempts=0, lock_until=NULL WHERE id=? AND lock_until IS NOT NULL AND lock_until<=?",
		userID, nowMs); err != nil {
		return model.LockoutState{}, err
	}
	// lock_until is assigned first: MySQL evaluates SET left to right, so it
	// must read login_attempts before the increment.
	res, err := tx.ExecContext(ctx,
		`UPDATE users SET
			lock_until = CASE WHEN login_attempts + 1 >= ? AND lock_until IS NULL THEN ? ELSE lock_until END,
			login_attempts = login_attempts + 1,
			updated_at = ?
		 WHERE id=?`,
		threshold, toMillis(now.Add(lockFor)), nowMs, userID)
	if err != nil {
		return model.LockoutState{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.LockoutState{}, ErrNotFound
	}

	var (
		state     model.LockoutState
		lockUntil sql.NullInt64
	)
	if err := tx.QueryRowContext(ctx,
		"SELECT login_attempts, lock_until FROM users WHERE id=?", userID).Scan(&state.LoginAttempts, &lockUntil); err != nil {
		return model.LockoutState{}, err
	}
	state.LockUntil = timePtr(lockUntil)
	return state, tx.Commit()
}

// RecordSuccessfulLogin resets lockout bookkeeping and stamps last_login_at.
func (r *UserRepo) RecordSuccessfulLogin(ctx context.Context, userID string, now time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET login_attempts=0, lock_until=NULL, last_login_at=?, updated_at=? WHERE id=?",
		toMillis(now), toMillis(now), userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetActive toggles users.is_active.
func (r *UserRepo) SetActive(ctx context.Context, userID string, active bool, now time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET is_active=?, updated_at=? WHERE id=?", active, toMillis(now), userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
