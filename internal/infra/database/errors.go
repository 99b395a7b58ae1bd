package database

import (
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const pqUniqueViolation pq.ErrorCode = "23505"

// isUniqueViolation reports whether err is a unique constraint violation on the named constraint.
// An empty constraint matches any unique violation.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqUniqueViolation && (constraint == "" || pqErr.Constraint == constraint)
}

// validID reports whether id can be compared against a UUID column without a cast error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
