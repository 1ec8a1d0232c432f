// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

var (
	// ErrValidation indicates a caller bug (missing or malformed field). Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrPermission indicates the caller lacks access to the receiver or student scope. Never retried.
	ErrPermission = errors.New("permission denied")

	// ErrTransient indicates the store or network is temporarily unavailable.
	// The only kind eligible for automatic retry.
	ErrTransient = errors.New("transient failure")

	// ErrSubscription indicates the change feed disconnected. The owning surface
	// re-opens on next focus; there is no automatic reconnect.
	ErrSubscription = errors.New("subscription failed")

	// ErrNotFound indicates the requested message does not exist.
	ErrNotFound = errors.New("not found")
)

// IsTransient reports whether err is eligible for automatic retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
