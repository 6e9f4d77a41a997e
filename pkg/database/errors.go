package database

import "strings"

// IsUniqueViolation checks if the error is a SQLite unique-constraint
// violation. Works with both mattn/go-sqlite3 and modernc.org/sqlite drivers.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
