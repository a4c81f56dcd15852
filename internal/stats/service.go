// Package stats aggregates a user's completed sessions into the
// dashboard numbers. Aggregates are derived, cached briefly, and always
// reproducible from the session records.
package stats

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"focusmate/internal/schedule"
	"focusmate/pkg/interfaces"
	"focusmate/pkg/types"
)

const (
	cacheTTL   = 5 * time.Minute
	cacheSweep = 10 * time.Minute
)

// Level thresholds by completed-session count.
var levels = []struct {
	minSessions int
	name        string
}{
	{100, "scholar"},
	{50, "achiever"},
	{20, "committed"},
	{5, "regular"},
	{0, "beginner"},
}

// Service computes and caches per-user statistics.
type Service struct {
	store interfaces.SessionStore
	cache *gocache.Cache
	loc   *time.Location
	now   func() time.Time
}

// NewService creates a stats service. loc is the calendar timezone for
// streak day-grouping; nil falls back to the server's local zone.
func NewService(store interfaces.SessionStore, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		store: store,
		cache: gocache.New(cacheTTL, cacheSweep),
		loc:   loc,
		now:   time.Now,
	}
}

// UserStats returns the user's aggregate, from cache when fresh.
func (s *Service) UserStats(ctx context.Context, userID string) (*types.UserStats, error) {
	if !types.IsValidUserID(userID) {
		return nil, types.ErrInvalidUserID
	}

	if cached, ok := s.cache.Get(userID); ok {
		stats := *(cached.(*types.UserStats))
		return &stats, nil
	}

	sessions, err := s.store.ListUserSessions(ctx, userID, []string{types.StatusCompleted})
	if err != nil {
		return nil, fmt.Errorf("loading completed sessions for %s: %w", userID, err)
	}

	stats := s.aggregate(userID, sessions)
	s.cache.Set(userID, stats, gocache.DefaultExpiration)
	out := *stats
	return &out, nil
}

// Invalidate drops the cached aggregate, called after a session
// involving the user completes.
func (s *Service) Invalidate(userID string) {
	s.cache.Delete(userID)
}

func (s *Service) aggregate(userID string, sessions []*types.Session) *types.UserStats {
	stats := &types.UserStats{
		UserID:     userID,
		ComputedAt: s.now().UTC(),
	}

	completedAt := make([]time.Time, 0, len(sessions))
	for _, sess := range sessions {
		stats.TotalSessions++
		stats.TotalMinutes += sess.ActualDurationMinutes
		if sess.EndedAt != nil {
			completedAt = append(completedAt, *sess.EndedAt)
		}
	}

	stats.CurrentStreak = schedule.ComputeStreak(completedAt, s.now(), s.loc)
	stats.Level = levelFor(stats.TotalSessions)
	return stats
}

func levelFor(totalSessions int) string {
	for _, l := range levels {
		if totalSessions >= l.minSessions {
			return l.name
		}
	}
	return "beginner"
}
