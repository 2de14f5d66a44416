// Package apperr holds the error taxonomy shared by every service and the
// action boundary. Services wrap a sentinel with detail:
//
//	return fmt.Errorf("%w: username is required", apperr.ErrValidation)
//
// and the boundary maps the sentinel to a stable code with Code.
package apperr

import "errors"

var (
	ErrValidation          = errors.New("validation_error")
	ErrNotFound            = errors.New("not_found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidOrExpiredKey = errors.New("invalid_or_expired_key")
	ErrInvalidTransition   = errors.New("invalid_transition")
	ErrConflict            = errors.New("conflict")
	ErrStoreUnavailable    = errors.New("store_unavailable")
)

var known = []error{
	ErrValidation,
	ErrNotFound,
	ErrUnauthorized,
	ErrForbidden,
	ErrInvalidOrExpiredKey,
	ErrInvalidTransition,
	ErrConflict,
	ErrStoreUnavailable,
}

// Code returns the stable code of the first sentinel err wraps, or
// "server_error" when err carries none.
func Code(err error) string {
	for _, sentinel := range known {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "server_error"
}

// Known reports whether err wraps one of the taxonomy sentinels. Only known
// errors have their message shown to callers.
func Known(err error) bool {
	return Code(err) != "server_error"
}
