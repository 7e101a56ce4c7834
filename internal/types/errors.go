package types

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the store and control operations.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidState     = errors.New("invalid state transition")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrConflict         = errors.New("conflict")
	ErrCancelled        = errors.New("cancelled")
	ErrFinalisationOnly = errors.New("record already finalised")
)

// Category is the friendly error classification surfaced to callers and
// log entries (see SPEC_FULL.md §B.3 and the error category table).
type Category string

const (
	CategoryDatabaseInit      Category = "database_init_error"
	CategoryModuleImport      Category = "module_import_error"
	CategoryConnectionRefused Category = "connection_refused"
	CategoryTimeout           Category = "timeout"
	CategoryPermissionDenied  Category = "permission_denied"
	CategoryExecutionError    Category = "execution_error"
	CategoryUnexpectedError   Category = "unexpected_error"
	CategoryStalled           Category = "stalled"
	CategoryInvalidArgument   Category = "invalid_argument"
	CategoryInvalidState      Category = "invalid_state"
	CategoryConflict          Category = "conflict"
)

// CategorizedError is an adapter- or engine-originated failure tagged with
// one of the friendly Category strings, carrying the raw underlying error
// for logs and the formatted detail string for display.
type CategorizedError struct {
	Category Category
	Detail   string
	Err      error
}

func (e *CategorizedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Detail)
}

func (e *CategorizedError) Unwrap() error { return e.Err }

// InvalidArgumentError carries the offending entries for a validation
// failure (e.g. unrecognised area codes), per spec.md §6.4.
type InvalidArgumentError struct {
	Field    string
	Offenders []string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument: %s: %v", e.Field, e.Offenders)
}

func (e *InvalidArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}
