package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/fiifi-auth/internal/model"
	"github.com/iliyamo/fiifi-auth/internal/utils"
)

// SessionRepo persists sessions in the 'sessions' table.  Tokens are
// stored as SHA-256 digests (token_hash, refresh_token_hash).  Lookups
// filter on is_active and expires_at so an expired row is never returned
// as valid, whether or not a sweep has removed it yet.
type SessionRepo struct {
	DB  *sql.DB
	Now func() time.Time
}

// NewSessionRepo returns a SessionRepo; a nil clock means time.Now.
func NewSessionRepo(db *sql.DB, now func() time.Time) *SessionRepo {
	if now == nil {
		now = time.Now
	}
	return &SessionRepo{DB: db, Now: now}
}

const sessionColumns = "id,user_id,user_agent,ip_address,device_type,browser,os,is_active,expires_at,last_accessed_at,created_at"

func scanSession(row rowScanner) (model.Session, error) {
	var (
		s                                  model.Session
		expiresAt, lastAccessed, createdAt int64
	)
	err := row.Scan(&s.ID, &s.UserID, &s.Device.UserAgent, &s.Device.IPAddress, &s.Device.DeviceType,
		&s.Device.Browser, &s.Device.OS, &s.IsActive, &expiresAt, &lastAccessed, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Session{}, ErrNotFound
		}
		return model.Session{}, err
	}
	s.ExpiresAt = fromMillis(expiresAt)
	s.LastAccessedAt = fromMillis(lastAccessed)
	s.CreatedAt = fromMillis(createdAt)
	return s, nil
}

// Create inserts a session row.  A token digest collision is ErrConflict.
func (r *SessionRepo) Create(ctx context.Context, s model.Session) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, token_hash, refresh_token_hash, user_agent, ip_address,
			device_type, browser, os, is_active, expires_at, last_accessed_at, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.UserID, utils.HashToken(s.AccessToken), utils.HashToken(s.RefreshToken),
		s.Device.UserAgent, s.Device.IPAddress, s.Device.DeviceType, s.Device.Browser, s.Device.OS,
		s.IsActive, toMillis(s.ExpiresAt), toMillis(s.LastAccessedAt), toMillis(s.CreatedAt))
	if isDuplicate(err) {
		return ErrConflict
	}
	return err
}

// FindByToken returns the active, unexpired session currently bound to
// accessToken.
func (r *SessionRepo) FindByToken(ctx context.Context, accessToken string) (model.Session, error) {
	s, err := scanSession(r.DB.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE token_hash=? AND is_active=1 AND expires_at>? LIMIT 1",
		utils.HashToken(accessToken), toMillis(r.Now())))
	if err != nil {
		return model.Session{}, err
	}
	s.AccessToken = accessToken
	return s, nil
}

// FindByRefreshToken returns the active, unexpired session holding
// refreshToken.
func (r *SessionRepo) FindByRefreshToken(ctx context.Context, refreshToken string) (model.Session, error) {
	s, err := scanSession(r.DB.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE refresh_token_hash=? AND is_active=1 AND expires_at>? LIMIT 1",
		utils.HashToken(refreshToken), toMillis(r.Now())))
	if err != nil {
		return model.Session{}, err
	}
	s.RefreshToken = refreshToken
	return s, nil
}

// UpdateAccessToken rebinds a still-valid session to newToken and stamps
// last_accessed_at.  ErrNotFound means the session was deactivated or
// expired in the meantime; the previous access token stops matching
// FindByToken as soon as this commits.
func (r *SessionRepo) UpdateAccessToken(ctx context.Context, sessionID, newToken string, now time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE sessions SET token_hash=?, last_accessed_at=? WHERE id=? AND is_active=1 AND expires_at>?",
		utils.HashToken(newToken), toMillis(now), sessionID, toMillis(now))
	if err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastAccessed stamps last_accessed_at on an active session.
func (r *SessionRepo) TouchLastAccessed(ctx context.Context, sessionID string, now time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE sessions SET last_accessed_at=? WHERE id=? AND is_active=1", toMillis(now), sessionID)
	return err
}

// Deactivate marks the session bound to accessToken inactive.  Already
// inactive or unknown tokens are not an error.
func (r *SessionRepo) Deactivate(ctx context.Context, accessToken string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE sessions SET is_active=0 WHERE token_hash=? AND is_active=1", utils.HashToken(accessToken))
	return err
}

// DeactivateAll marks every active session of userID inactive in one
// statement and returns how many were affected.
func (r *SessionRepo) DeactivateAll(ctx context.Context, userID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE sessions SET is_active=0 WHERE user_id=? AND is_active=1", userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListActiveByUser returns the valid sessions of userID, newest first.
func (r *SessionRepo) ListActiveByUser(ctx context.Context, userID string) ([]model.Session, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE user_id=? AND is_active=1 AND expires_at>? ORDER BY created_at DESC",
		userID, toMillis(r.Now()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteExpired physically removes sessions whose expires_at is at or
// before cutoff.  Validity never depends on this having run.
func (r *SessionRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at<=?", toMillis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
