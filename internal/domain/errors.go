package domain

import "errors"

// Error taxonomy surfaced at the command boundary. Everything except
// ErrExternalDependency is recovered there and returned to the caller as a
// specific, non-fatal reason; no state mutation happens on these paths.
// ErrExternalDependency from a notification is logged and swallowed, because
// the owning state transition has already committed.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrStateConflict      = errors.New("state conflict")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrSuspended          = errors.New("account suspended")
	ErrExternalDependency = errors.New("external dependency failed")
)
