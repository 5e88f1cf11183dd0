// Package apperr defines the error taxonomy shared across gpahub packages.
package apperr

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrValidationRejected = errors.New("validation rejected")
	ErrExternalAPI        = errors.New("external api error")
	ErrTimeout            = errors.New("timeout")
)
