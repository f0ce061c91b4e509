// Package repository holds the SQL data access layer.  The sentinel errors
// below let the lifecycle engine and handlers tell store failures apart
// without inspecting driver-specific error values.
package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a row looked up by id does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert or update violates a unique
// constraint, e.g. a second request for the same donation.
var ErrDuplicate = errors.New("duplicate key")

// ErrStaleWrite is returned when a versioned update matched no row because
// another writer changed the row after it was read.
var ErrStaleWrite = errors.New("stale write")

// ErrEmailExists is returned by UserRepo.Create for a taken email address.
var ErrEmailExists = errors.New("email already exists")

// isDuplicateKey reports whether err is a unique-constraint violation from
// MySQL (error 1062) or SQLite.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(err.Error(), "1062")
}
