package messaging

import "errors"

// Error taxonomy for the messaging core. Handlers map these onto HTTP
// status codes; everything else surfaces as a 500/503.
var (
	// ErrUnauthorized means no verified caller identity was presented.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden means the caller is authenticated but is not a
	// participant, or the conversation's status disallows the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrRoleMismatch means the participant pair is not one company and
	// one CFO. Nothing is created when this is returned.
	ErrRoleMismatch = errors.New("role mismatch: conversation requires one company and one cfo")

	// ErrInvalidMessage means the body is empty with no attachment, or
	// exceeds the configured maximum length.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrNotFound means the conversation, message, or user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict surfaces only when an upsert cannot resolve, i.e. a
	// constraint violation other than the expected uniqueness race.
	ErrConflict = errors.New("conflict")

	// ErrUnavailable wraps backing store or notifier timeouts. Callers may
	// retry: append and mark-read are safe under at-least-once delivery.
	ErrUnavailable = errors.New("unavailable")
)
