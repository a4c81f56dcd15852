package types

import (
	"regexp"
	"time"
)

// Compiled once at package initialization; validation runs on every
// booking and every chat message.
var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidUserID checks that a user ID meets format requirements.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsAllowedDuration reports whether minutes is a bookable session length.
func IsAllowedDuration(minutes int) bool {
	for _, d := range AllowedDurations {
		if d == minutes {
			return true
		}
	}
	return false
}

// IsValidStatus reports whether status is one of the four session states.
func IsValidStatus(status string) bool {
	switch status {
	case StatusScheduled, StatusActive, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Validate checks the structural invariants of a session record. It does
// not apply booking admission rules (future start time etc.); those
// belong to the booking flow, which also knows "now".
func (s *Session) Validate() error {
	if !IsValidUserID(s.OwnerID) {
		return ErrInvalidUserID
	}
	if s.StartTime.IsZero() {
		return ErrNoStartTime
	}
	if !IsAllowedDuration(s.DurationMinutes) {
		return ErrInvalidDuration
	}
	if s.Goal == "" {
		return ErrEmptyGoal
	}
	if len(s.Goal) > MaxGoalLength {
		return ErrGoalTooLong
	}
	return nil
}

// Validate checks a chat message before relay and persistence.
func (m *Message) Validate() error {
	if !IsValidUserID(m.FromUser) {
		return ErrInvalidUserID
	}
	if m.Body == "" {
		return ErrEmptyMessage
	}
	if len(m.Body) > 2048 {
		return ErrMessageTooLarge
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	return nil
}
