// Package session implements the admission and booking flow: validate
// the requested slot, create the record, then make a single best-effort
// matching attempt. Matching never runs again for a booking; a partner
// arriving later is observed passively through the record subscription.
package session

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"focusmate/internal/matching"
	"focusmate/internal/schedule"
	"focusmate/pkg/interfaces"
	"focusmate/pkg/types"
)

// Request carries the user-selected booking fields.
type Request struct {
	OwnerID       string    `json:"owner_id"`
	OwnerName     string    `json:"owner_name"`
	OwnerPhotoURL string    `json:"owner_photo_url"`
	StartTime     time.Time `json:"start_time"`

	DurationMinutes int    `json:"duration_minutes"`
	Goal            string `json:"goal"`
	Subject         string `json:"subject"`
	ExamTrack       string `json:"exam_track"`
	StudyLevel      string `json:"study_level"`
	StudyMode       string `json:"study_mode"`
	Region          string `json:"region"`
}

// Result is the booking outcome exposed to the user.
type Result struct {
	Session *types.Session `json:"session"`
	Partner *types.Session `json:"partner,omitempty"`
	Matched bool           `json:"matched"`
}

// Service validates bookings and creates session records.
type Service struct {
	store   interfaces.SessionStore
	matcher *matching.Engine

	// now is injected for deterministic admission tests.
	now func() time.Time
}

// NewService creates a booking service.
func NewService(store interfaces.SessionStore, matcher *matching.Engine) *Service {
	return &Service{
		store:   store,
		matcher: matcher,
		now:     time.Now,
	}
}

// Book validates the request in admission order, persists the session
// and attempts matching once. A matching failure is logged, never
// surfaced: the user has a valid solo session either way.
func (s *Service) Book(ctx context.Context, req Request) (*Result, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	session := &types.Session{
		ID:              uuid.New().String(),
		OwnerID:         req.OwnerID,
		OwnerName:       req.OwnerName,
		OwnerPhotoURL:   req.OwnerPhotoURL,
		Participants:    []string{req.OwnerID},
		StartTime:       req.StartTime.UTC(),
		DurationMinutes: req.DurationMinutes,
		Goal:            req.Goal,
		Subject:         req.Subject,
		ExamTrack:       req.ExamTrack,
		StudyLevel:      req.StudyLevel,
		StudyMode:       req.StudyMode,
		Region:          req.Region,
		Status:          types.StatusScheduled,
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	log.Printf("session: booked id=%s owner=%s start=%s duration=%dm",
		session.ID, session.OwnerID, session.StartTime.Format(time.RFC3339), session.DurationMinutes)

	result := &Result{Session: session}

	partner, err := s.matcher.Match(ctx, session)
	if err != nil {
		log.Printf("session: matching failed for %s (continuing unmatched): %v", session.ID, err)
		return result, nil
	}
	if partner != nil {
		// Re-read our own record so the caller sees the partner fields
		// the pairing transaction just committed.
		if fresh, err := s.store.GetSession(ctx, session.ID); err == nil {
			result.Session = fresh
		}
		result.Partner = partner
		result.Matched = true
	}

	return result, nil
}

// Cancel cancels a scheduled session before it runs. Only the owner may
// cancel. Cancelling an already-terminal session is a no-op.
func (s *Service) Cancel(ctx context.Context, sessionID, userID string) error {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.OwnerID != userID {
		return types.ErrAccessDenied
	}

	applied, err := s.store.CancelSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if applied {
		log.Printf("session: cancelled id=%s by owner=%s", sessionID, userID)
	}
	return nil
}

// Get returns the session if viewerID participates in it.
func (s *Service) Get(ctx context.Context, sessionID, viewerID string) (*types.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.InvolvesUser(viewerID) {
		return nil, types.ErrAccessDenied
	}
	return session, nil
}

// Upcoming lists the user's scheduled and active sessions.
func (s *Service) Upcoming(ctx context.Context, userID string) ([]*types.Session, error) {
	return s.store.ListUserSessions(ctx, userID, []string{types.StatusScheduled, types.StatusActive})
}

// JoinEligibility reports the admission decision for one session now.
func (s *Service) JoinEligibility(ctx context.Context, sessionID, userID string) (*schedule.JoinEligibility, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.InvolvesUser(userID) {
		return nil, types.ErrAccessDenied
	}
	if session.IsTerminal() {
		return &schedule.JoinEligibility{Phase: schedule.JoinEnded, TimeUntil: "session " + session.Status}, nil
	}

	eligibility := schedule.ComputeJoinEligibility(session.StartTime, session.DurationMinutes, s.now())
	return &eligibility, nil
}

// validate applies the admission checks in order: slot selected, slot in
// the future, duration allowed, goal present and bounded.
func (s *Service) validate(req Request) error {
	if !types.IsValidUserID(req.OwnerID) {
		return types.ErrInvalidUserID
	}
	if req.OwnerName == "" || len(req.OwnerName) > 100 {
		return types.ErrInvalidDisplayName
	}
	if req.StartTime.IsZero() {
		return types.ErrNoStartTime
	}
	if !req.StartTime.After(s.now()) {
		return types.ErrStartTimeInPast
	}
	if !types.IsAllowedDuration(req.DurationMinutes) {
		return types.ErrInvalidDuration
	}
	if req.Goal == "" {
		return types.ErrEmptyGoal
	}
	if len(req.Goal) > types.MaxGoalLength {
		return types.ErrGoalTooLong
	}
	return nil
}
