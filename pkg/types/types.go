package types

import (
	"time"
)

// Session status values. A session is created as scheduled, may become
// active while a participant is in the room, and ends in exactly one of
// the two terminal statuses.
const (
	StatusScheduled = "scheduled"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// CompletedBy values record what triggered the terminal write.
const (
	CompletedByOwner   = "owner"
	CompletedByPartner = "partner"
	CompletedByTimer   = "timer"
)

// Participant roles as seen by the live-session layer.
const (
	RoleOwner   = "owner"
	RolePartner = "partner"
)

// AllowedDurations is the fixed set of bookable session lengths in minutes.
var AllowedDurations = []int{25, 50, 75, 90}

// MaxGoalLength bounds the free-text goal field.
const MaxGoalLength = 200

// Session is the central record: one scheduled focus period between one
// or two users. Schedule and intent fields are immutable after creation;
// partner fields are set at most once; status only moves forward.
type Session struct {
	ID              string   `json:"id" db:"id"`
	OwnerID         string   `json:"owner_id" db:"owner_id"`
	OwnerName       string   `json:"owner_name" db:"owner_name"`
	OwnerPhotoURL   string   `json:"owner_photo_url,omitempty" db:"owner_photo_url"`
	PartnerID       *string  `json:"partner_id,omitempty" db:"partner_id"`
	PartnerName     string   `json:"partner_name,omitempty" db:"partner_name"`
	PartnerPhotoURL string   `json:"partner_photo_url,omitempty" db:"partner_photo_url"`
	Participants    []string `json:"participants,omitempty" db:"participants"`

	StartTime       time.Time `json:"start_time" db:"start_time"`
	DurationMinutes int       `json:"duration_minutes" db:"duration_minutes"`

	Goal       string `json:"goal" db:"goal"`
	Subject    string `json:"subject,omitempty" db:"subject"`
	ExamTrack  string `json:"exam_track,omitempty" db:"exam_track"`
	StudyLevel string `json:"study_level,omitempty" db:"study_level"`
	StudyMode  string `json:"study_mode,omitempty" db:"study_mode"`
	Region     string `json:"region,omitempty" db:"region"`

	Status    string     `json:"status" db:"status"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	ActualDurationMinutes int    `json:"actual_duration_minutes,omitempty" db:"actual_duration_minutes"`
	CompletedBy           string `json:"completed_by,omitempty" db:"completed_by"`
}

// EndTime is the scheduled end, derived from start and duration.
func (s *Session) EndTime() time.Time {
	return s.StartTime.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// IsTerminal reports whether the session reached a terminal status.
// Terminal sessions never accept a partner and never re-open.
func (s *Session) IsTerminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusCancelled
}

// HasPartner reports whether a partner has been paired.
func (s *Session) HasPartner() bool {
	return s.PartnerID != nil && *s.PartnerID != ""
}

// InvolvesUser reports whether userID is the owner, the partner, or listed
// in the participants set.
func (s *Session) InvolvesUser(userID string) bool {
	if userID == "" {
		return false
	}
	if s.OwnerID == userID {
		return true
	}
	if s.PartnerID != nil && *s.PartnerID == userID {
		return true
	}
	for _, p := range s.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// RoleOf returns the role of userID within the session, or "" if the user
// is not associated with it.
func (s *Session) RoleOf(userID string) string {
	switch {
	case userID == "":
		return ""
	case s.OwnerID == userID:
		return RoleOwner
	case s.InvolvesUser(userID):
		return RolePartner
	default:
		return ""
	}
}

// Message is one in-session chat message, relayed between the two
// participants and retained for history replay.
type Message struct {
	ID        string    `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	FromUser  string    `json:"from_user" db:"from_user"`
	Body      string    `json:"body" db:"body"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// TimerSnapshot is the persisted countdown state for one session. On
// resume, remaining time is recomputed from LastTick against the wall
// clock so a reload never extends a timer.
type TimerSnapshot struct {
	SessionID        string    `json:"session_id" db:"session_id"`
	TotalSeconds     int       `json:"total_seconds" db:"total_seconds"`
	RemainingSeconds int       `json:"remaining_seconds" db:"remaining_seconds"`
	IsRunning        bool      `json:"is_running" db:"is_running"`
	LastTick         time.Time `json:"last_tick" db:"last_tick"`
}

// UserStats is the derived dashboard aggregate. It is always reproducible
// from the user's completed sessions and is never a source of truth.
type UserStats struct {
	UserID        string    `json:"user_id"`
	TotalSessions int       `json:"total_sessions"`
	TotalMinutes  int       `json:"total_minutes"`
	CurrentStreak int       `json:"current_streak"`
	Level         string    `json:"level"`
	ComputedAt    time.Time `json:"computed_at"`
}
