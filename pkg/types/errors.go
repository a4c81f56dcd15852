package types

import "errors"

// Error taxonomy shared across components. AccessDenied and NotFound are
// fatal for the load that hit them; Conflict is recoverable (re-read and
// re-derive); VideoUnavailable is never fatal to a session; StoreUnavailable
// covers transient connectivity to the record store.
var (
	ErrAccessDenied     = errors.New("viewer is not a participant of this session")
	ErrSessionNotFound  = errors.New("session not found")
	ErrConflict         = errors.New("record changed since last read")
	ErrVideoUnavailable = errors.New("video service unavailable")
	ErrStoreUnavailable = errors.New("record store temporarily unavailable")
)

// Booking validation errors, checked in admission order.
var (
	ErrNoStartTime        = errors.New("session start time must be selected")
	ErrStartTimeInPast    = errors.New("session start time must be in the future")
	ErrInvalidDuration    = errors.New("duration must be one of the allowed values")
	ErrEmptyGoal          = errors.New("session goal cannot be empty")
	ErrGoalTooLong        = errors.New("session goal exceeds maximum length")
	ErrInvalidUserID      = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidDisplayName = errors.New("display name must be 1-100 characters")
)

// Chat message errors.
var (
	ErrEmptyMessage    = errors.New("message body cannot be empty")
	ErrMessageTooLarge = errors.New("message body exceeds 2KB limit")
)
