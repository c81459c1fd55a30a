package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Timestamps are stored as epoch milliseconds (BIGINT) in every dialect so
// range predicates such as `expires_at > ?` compare integers.

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                VARCHAR(36)  NOT NULL PRIMARY KEY,
		email             VARCHAR(255) NOT NULL,
		username          VARCHAR(64)  NOT NULL,
		password_hash     VARCHAR(255) NULL,
		first_name        VARCHAR(50)  NOT NULL DEFAULT '',
		last_name         VARCHAR(50)  NOT NULL DEFAULT '',
		role              VARCHAR(16)  NOT NULL DEFAULT 'user',
		is_active         BOOLEAN      NOT NULL DEFAULT 1,
		is_email_verified BOOLEAN      NOT NULL DEFAULT 0,
		login_attempts    INT          NOT NULL DEFAULT 0,
		lock_until        BIGINT       NULL,
		last_login_at     BIGINT       NULL,
		created_at        BIGINT       NOT NULL,
		updated_at        BIGINT       NOT NULL,
		UNIQUE KEY uq_users_email (email),
		UNIQUE KEY uq_users_username (username)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS user_oauth_providers (
		provider    VARCHAR(32)  NOT NULL,
		external_id VARCHAR(191) NOT NULL,
		user_id     VARCHAR(36)  NOT NULL,
		linked_at   BIGINT       NOT NULL,
		PRIMARY KEY (provider, external_id),
		UNIQUE KEY uq_oauth_user_provider (user_id, provider)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id                 VARCHAR(36)  NOT NULL PRIMARY KEY,
		user_id            VARCHAR(36)  NOT NULL,
		token_hash         CHAR(64)     NOT NULL,
		refresh_token_hash CHAR(64)     NOT NULL,
		user_agent         VARCHAR(512) NOT NULL DEFAULT '',
		ip_address         VARCHAR(64)  NOT NULL DEFAULT '',
		device_type        VARCHAR(16)  NOT NULL DEFAULT 'desktop',
		browser            VARCHAR(32)  NOT NULL DEFAULT '',
		os                 VARCHAR(32)  NOT NULL DEFAULT '',
		is_active          BOOLEAN      NOT NULL DEFAULT 1,
		expires_at         BIGINT       NOT NULL,
		last_accessed_at   BIGINT       NOT NULL,
		created_at         BIGINT       NOT NULL,
		UNIQUE KEY uq_sessions_token (token_hash),
		UNIQUE KEY uq_sessions_refresh (refresh_token_hash),
		KEY idx_sessions_user (user_id, is_active),
		KEY idx_sessions_expires (expires_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                TEXT    NOT NULL PRIMARY KEY,
		email             TEXT    NOT NULL UNIQUE,
		username          TEXT    NOT NULL UNIQUE,
		password_hash     TEXT    NULL,
		first_name        TEXT    NOT NULL DEFAULT '',
		last_name         TEXT    NOT NULL DEFAULT '',
		role              TEXT    NOT NULL DEFAULT 'user',
		is_active         INTEGER NOT NULL DEFAULT 1,
		is_email_verified INTEGER NOT NULL DEFAULT 0,
		login_attempts    INTEGER NOT NULL DEFAULT 0,
		lock_until        INTEGER NULL,
		last_login_at     INTEGER NULL,
		created_at        INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_oauth_providers (
		provider    TEXT    NOT NULL,
		external_id TEXT    NOT NULL,
		user_id     TEXT    NOT NULL,
		linked_at   INTEGER NOT NULL,
		PRIMARY KEY (provider, external_id),
		UNIQUE (user_id, provider)
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id                 TEXT    NOT NULL PRIMARY KEY,
		user_id            TEXT    NOT NULL,
		token_hash         TEXT    NOT NULL UNIQUE,
		refresh_token_hash TEXT    NOT NULL UNIQUE,
		user_agent         TEXT    NOT NULL DEFAULT '',
		ip_address         TEXT    NOT NULL DEFAULT '',
		device_type        TEXT    NOT NULL DEFAULT 'desktop',
		browser            TEXT    NOT NULL DEFAULT '',
		os                 TEXT    NOT NULL DEFAULT '',
		is_active          INTEGER NOT NULL DEFAULT 1,
		expires_at         INTEGER NOT NULL,
		last_accessed_at   INTEGER NOT NULL,
		created_at         INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions (user_id, is_active)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions (expires_at)`,
}

// Migrate creates the auth tables for the given driver if they are missing.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	var stmts []string
	switch driver {
	case DriverMySQL:
		stmts = mysqlSchema
	case DriverSQLite:
		stmts = sqliteSchema
	default:
		return fmt.Errorf("unsupported database driver %q", driver)
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
