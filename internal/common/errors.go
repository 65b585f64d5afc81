// Package common defines shared constants and sentinel errors used across
// the verification server. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal      = errors.New("internal error")
	ErrorUnauthorized  = errors.New("unauthorized")
	ErrVersionConflict = errors.New("version conflict")

	// Auth errors (invalid or malformed portal token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Document locker authorization flow.
	ErrCsrfValidationFailed     = errors.New("csrf validation failed")
	ErrMissingParameters        = errors.New("missing code or state parameter")
	ErrCredentialsNotConfigured = errors.New("credentials not retrievable")
	ErrProviderUnavailable      = errors.New("document locker unavailable")
	ErrNoUsableToken            = errors.New("document locker authentication required")

	// Certificate lifecycle.
	ErrRetrievalFailed    = errors.New("certificate retrieval failed")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrIntegrityMismatch  = errors.New("certificate metadata hash mismatch")
	ErrorIncorrectPayload = errors.New("incorrect payload")

	// Policy configuration.
	ErrInvalidPolicy = errors.New("invalid policy")
)
