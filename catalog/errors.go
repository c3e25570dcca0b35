package catalog

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// DatabaseError wraps a database-level failure from gorm that doesn't map
// to a more specific catalog error.
type DatabaseError struct {
	Inner error
}

func (e *DatabaseError) Error() string { return "catalog database error: " + e.Inner.Error() }
func (e *DatabaseError) Unwrap() error { return e.Inner }

// NotFoundError signals a catalog lookup with no matching rows.
type NotFoundError struct {
	Search string
}

func (e *NotFoundError) Error() string { return "catalog: no entry for " + e.Search }

func wrapErrorWithDetails(err error, operation, details string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &NotFoundError{Search: fmt.Sprintf("%s (%s)", operation, details)}
	}
	return &DatabaseError{Inner: fmt.Errorf("%s: %w", operation, err)}
}
