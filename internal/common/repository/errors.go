package repository

import "github.com/codeforprod/eventforge/internal/errs"

// Common repository errors, aliased from the shared taxonomy so callers can
// classify with errors.Is against either package.
var (
	// ErrNotFound indicates the requested entity was not found
	ErrNotFound = errs.ErrNotFound

	// ErrDuplicateKey indicates a unique constraint violation
	ErrDuplicateKey = errs.ErrDuplicateKey

	// ErrOptimisticLock indicates a concurrent modification conflict
	ErrOptimisticLock = errs.ErrOptimisticLock
)
