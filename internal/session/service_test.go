package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusmate/internal/matching"
	"focusmate/internal/schedule"
	"focusmate/internal/store/storetest"
	"focusmate/pkg/types"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestService(fake *storetest.FakeStore) *Service {
	svc := NewService(fake, matching.NewEngine(fake, matching.DefaultPolicy()))
	svc.now = func() time.Time { return now }
	return svc
}

func validRequest() Request {
	return Request{
		OwnerID:         "user_a",
		OwnerName:       "Asha",
		StartTime:       now.Add(time.Hour),
		DurationMinutes: 50,
		Goal:            "Read chapter 3",
		Subject:         "mathematics",
	}
}

func TestBookCreatesScheduledSession(t *testing.T) {
	fake := storetest.NewFakeStore()
	svc := newTestService(fake)

	result, err := svc.Book(context.Background(), validRequest())
	require.NoError(t, err)
	require.NotNil(t, result.Session)
	assert.False(t, result.Matched)
	assert.Nil(t, result.Partner)

	stored := fake.Get(result.Session.ID)
	require.NotNil(t, stored)
	assert.Equal(t, types.StatusScheduled, stored.Status)
	assert.Equal(t, "user_a", stored.OwnerID)
	assert.False(t, stored.HasPartner())
}

func TestBookValidationOrder(t *testing.T) {
	fake := storetest.NewFakeStore()
	svc := newTestService(fake)

	tests := []struct {
		name    string
		mutate  func(*Request)
		wantErr error
	}{
		{"bad owner", func(r *Request) { r.OwnerID = "" }, types.ErrInvalidUserID},
		{"missing display name", func(r *Request) { r.OwnerName = "" }, types.ErrInvalidDisplayName},
		{"no slot selected", func(r *Request) { r.StartTime = time.Time{} }, types.ErrNoStartTime},
		{"slot in the past", func(r *Request) { r.StartTime = now.Add(-time.Minute) }, types.ErrStartTimeInPast},
		{"slot exactly now", func(r *Request) { r.StartTime = now }, types.ErrStartTimeInPast},
		{"bad duration", func(r *Request) { r.DurationMinutes = 45 }, types.ErrInvalidDuration},
		{"empty goal", func(r *Request) { r.Goal = "" }, types.ErrEmptyGoal},
		{"goal too long", func(r *Request) { r.Goal = strings.Repeat("g", types.MaxGoalLength+1) }, types.ErrGoalTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := svc.Book(context.Background(), req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBookMatchesWaitingSession(t *testing.T) {
	fake := storetest.NewFakeStore()
	svc := newTestService(fake)

	waiting := &types.Session{
		ID:              "waiting",
		OwnerID:         "user_b",
		OwnerName:       "Bhavna",
		StartTime:       now.Add(time.Hour),
		DurationMinutes: 50,
		Goal:            "revision",
		Subject:         "mathematics",
		Status:          types.StatusScheduled,
		CreatedAt:       now.Add(-time.Minute),
	}
	fake.Seed(waiting)

	result, err := svc.Book(context.Background(), validRequest())
	require.NoError(t, err)
	assert.True(t, result.Matched)
	require.NotNil(t, result.Partner)
	assert.Equal(t, "waiting", result.Partner.ID)

	// Both sides point at each other.
	mine := fake.Get(result.Session.ID)
	theirs := fake.Get("waiting")
	require.True(t, mine.HasPartner())
	require.True(t, theirs.HasPartner())
	assert.Equal(t, "user_b", *mine.PartnerID)
	assert.Equal(t, "user_a", *theirs.PartnerID)
}

func TestBookSurvivesMatchingFailure(t *testing.T) {
	fake := storetest.NewFakeStore()
	svc := newTestService(fake)
	fake.FailQuery = storetest.ErrInjected

	result, err := svc.Book(context.Background(), validRequest())
	require.NoError(t, err, "matching failure must not fail the booking")
	assert.False(t, result.Matched)
	assert.NotNil(t, fake.Get(result.Session.ID))
}

func TestBookDoesNotRetryMatching(t *testing.T) {
	fake := storetest.NewFakeStore()
	svc := newTestService(fake)

	fake.Seed(&types.Session{
		ID: "waiting", OwnerID: "user_b", OwnerName: "B",
		StartTime: now.Add(time.Hour), DurationMinutes: 50,
		Goal: "g", Status: types.StatusScheduled, CreatedAt: now,
	})
	fake.FailPair = storetest.ErrInjected

	_, err := svc.Book(context.Background(), validRequest())
	require.NoError(t, err)
	// One matching call, bounded attempts within it, no booking-level loop.
	assert.LessOrEqual(t, fake.PairCalls, matching.DefaultPolicy().MaxAttempts)
}

func TestCancel(t *testing.T) {
	fake := storetest.NewFakeStore()
	svc := newTestService(fake)

	result, err := svc.Book(context.Background(), validRequest())
	require.NoError(t, err)
	id := result.Session.ID

	t.Run("non-owner cannot cancel", func(t *testing.T) {
		assert.ErrorIs(t, svc.Cancel(context.Background(), id, "user_z"), types.ErrAccessDenied)
	})

	t.Run("owner cancels", func(t *testing.T) {
		require.NoError(t, svc.Cancel(context.Background(), id, "user_a"))
		assert.Equal(t, types.StatusCancelled, fake.Get(id).Status)
	})

	t.Run("second cancel is a no-op", func(t *testing.T) {
		assert.NoError(t, svc.Cancel(context.Background(), id, "user_a"))
	})

	t.Run("missing session", func(t *testing.T) {
		assert.ErrorIs(t, svc.Cancel(context.Background(), "missing", "user_a"), types.ErrSessionNotFound)
	})
}

func TestJoinEligibility(t *testing.T) {
	fake := storetest.NewFakeStore()
	svc := newTestService(fake)

	fake.Seed(&types.Session{
		ID: "s1", OwnerID: "user_a", OwnerName: "A",
		StartTime: now.Add(5 * time.Minute), DurationMinutes: 50,
		Goal: "g", Status: types.StatusScheduled,
	})

	t.Run("participant inside window", func(t *testing.T) {
		got, err := svc.JoinEligibility(context.Background(), "s1", "user_a")
		require.NoError(t, err)
		assert.Equal(t, schedule.JoinReady, got.Phase)
		assert.True(t, got.CanJoin)
	})

	t.Run("stranger denied", func(t *testing.T) {
		_, err := svc.JoinEligibility(context.Background(), "s1", "user_z")
		assert.ErrorIs(t, err, types.ErrAccessDenied)
	})

	t.Run("terminal session reports ended", func(t *testing.T) {
		_, err := fake.CancelSession(context.Background(), "s1")
		require.NoError(t, err)
		got, err := svc.JoinEligibility(context.Background(), "s1", "user_a")
		require.NoError(t, err)
		assert.Equal(t, schedule.JoinEnded, got.Phase)
		assert.False(t, got.CanJoin)
	})
}

func TestUpcoming(t *testing.T) {
	fake := storetest.NewFakeStore()
	svc := newTestService(fake)

	fake.Seed(&types.Session{
		ID: "sched", OwnerID: "user_a", OwnerName: "A",
		StartTime: now.Add(time.Hour), DurationMinutes: 50,
		Goal: "g", Status: types.StatusScheduled,
	})
	fake.Seed(&types.Session{
		ID: "done", OwnerID: "user_a", OwnerName: "A",
		StartTime: now.Add(-time.Hour), DurationMinutes: 50,
		Goal: "g", Status: types.StatusCompleted,
	})

	got, err := svc.Upcoming(context.Background(), "user_a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sched", got[0].ID)
}
