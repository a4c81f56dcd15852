package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusmate/internal/store/storetest"
	"focusmate/pkg/types"
)

var testNow = time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC)

func seedCompleted(f *storetest.FakeStore, id string, endedAt time.Time, minutes int) {
	ended := endedAt
	f.Seed(&types.Session{
		ID:                    id,
		OwnerID:               "arun",
		Participants:          []string{"arun"},
		StartTime:             endedAt.Add(-time.Duration(minutes) * time.Minute),
		DurationMinutes:       minutes,
		Goal:                  "revision",
		Status:                types.StatusCompleted,
		CreatedAt:             endedAt.Add(-time.Hour),
		EndedAt:               &ended,
		ActualDurationMinutes: minutes,
	})
}

func newTestService(f *storetest.FakeStore) *Service {
	s := NewService(f, time.UTC)
	s.now = func() time.Time { return testNow }
	return s
}

func TestUserStatsAggregatesCompletedSessions(t *testing.T) {
	f := storetest.NewFakeStore()
	// Three consecutive days ending today: streak of 3.
	seedCompleted(f, "s1", testNow.Add(-48*time.Hour), 50)
	seedCompleted(f, "s2", testNow.Add(-24*time.Hour), 25)
	seedCompleted(f, "s3", testNow.Add(-time.Hour), 90)

	svc := newTestService(f)
	stats, err := svc.UserStats(context.Background(), "arun")
	require.NoError(t, err)

	assert.Equal(t, "arun", stats.UserID)
	assert.Equal(t, 3, stats.TotalSessions)
	assert.Equal(t, 165, stats.TotalMinutes)
	assert.Equal(t, 3, stats.CurrentStreak)
	assert.Equal(t, "beginner", stats.Level)
}

func TestUserStatsEmptyHistory(t *testing.T) {
	f := storetest.NewFakeStore()
	svc := newTestService(f)

	stats, err := svc.UserStats(context.Background(), "arun")
	require.NoError(t, err)

	assert.Equal(t, 0, stats.TotalSessions)
	assert.Equal(t, 0, stats.CurrentStreak)
	assert.Equal(t, "beginner", stats.Level)
}

func TestUserStatsRejectsInvalidUserID(t *testing.T) {
	svc := newTestService(storetest.NewFakeStore())
	_, err := svc.UserStats(context.Background(), "not a valid id!")
	assert.ErrorIs(t, err, types.ErrInvalidUserID)
}

func TestStreakBrokenByGap(t *testing.T) {
	f := storetest.NewFakeStore()
	// Yesterday counts as the anchor; the day before that is missing.
	seedCompleted(f, "s1", testNow.Add(-24*time.Hour), 50)
	seedCompleted(f, "s2", testNow.Add(-96*time.Hour), 50)

	svc := newTestService(f)
	stats, err := svc.UserStats(context.Background(), "arun")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.CurrentStreak)
}

func TestUserStatsCachedUntilInvalidated(t *testing.T) {
	f := storetest.NewFakeStore()
	seedCompleted(f, "s1", testNow.Add(-time.Hour), 50)

	svc := newTestService(f)
	first, err := svc.UserStats(context.Background(), "arun")
	require.NoError(t, err)
	require.Equal(t, 1, first.TotalSessions)

	// New completion lands; the cached aggregate still shows one until
	// invalidation.
	seedCompleted(f, "s2", testNow.Add(-30*time.Minute), 25)

	cached, err := svc.UserStats(context.Background(), "arun")
	require.NoError(t, err)
	assert.Equal(t, 1, cached.TotalSessions)

	svc.Invalidate("arun")
	fresh, err := svc.UserStats(context.Background(), "arun")
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.TotalSessions)
	assert.Equal(t, 75, fresh.TotalMinutes)
}

func TestLevelThresholds(t *testing.T) {
	cases := []struct {
		sessions int
		want     string
	}{
		{0, "beginner"},
		{4, "beginner"},
		{5, "regular"},
		{20, "committed"},
		{50, "achiever"},
		{100, "scholar"},
		{250, "scholar"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, levelFor(tc.sessions), "sessions=%d", tc.sessions)
	}
}
