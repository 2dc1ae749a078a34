// Package apperr holds errors shared by the service and transport layers.
package apperr

import "errors"

var (
	// ErrInvalidInput marks request data that failed validation.
	ErrInvalidInput = errors.New("invalid input")
)
