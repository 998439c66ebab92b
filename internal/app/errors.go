package app

import "errors"

// ErrNotFound and related errors describe validation and runtime failures.
var (
	ErrNotFound          = errors.New("not found")
	ErrNotQueryable      = errors.New("transaction cannot anchor a query")
	ErrApprovalDenied    = errors.New("approval denied")
	ErrConcurrentUpdate  = errors.New("workbasket changed concurrently")
	ErrEmptyChangeSet    = errors.New("change set is empty")
	ErrSinkNotConfigured = errors.New("envelope sink is not configured")
	ErrInvalidQuery      = errors.New("invalid query")
)

// errAlreadyApplied lets a transition step report that the stored workbasket is already in its target state.
var errAlreadyApplied = errors.New("transition already applied")
