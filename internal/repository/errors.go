// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers to distinguish
// between different failure scenarios without inspecting driver errors.
package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrNotFound is returned when no row matches the lookup, or when a
// conditional update matched nothing (for example the session is no longer
// active).
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert collides with a unique key, such
// as an email that is already registered or a provider id already linked
// to another account.
var ErrConflict = errors.New("conflict")

// ErrUsernameTaken is a more specific conflict on users.username.
var ErrUsernameTaken = errors.New("username already taken")

// isDuplicate reports whether err is a unique-key violation in either
// supported dialect.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr *msqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "1062") || strings.Contains(msg, "unique constraint failed")
}

// duplicateOn reports whether a duplicate-key error names column or key.
func duplicateOn(err error, column string) bool {
	return isDuplicate(err) && strings.Contains(strings.ToLower(err.Error()), column)
}
