package domain

import "errors"

// Sentinel errors for the application.
var (
	ErrValidation        = errors.New("invalid input")
	ErrNotFound          = errors.New("resource not found")
	ErrUnauthorized      = errors.New("unauthorized access")
	ErrTransientDelivery = errors.New("subscriber unreachable")
	ErrSessionClosed     = errors.New("session closed")
	ErrConflict          = errors.New("resource already exists")
	ErrInternal          = errors.New("internal server error")
)
