// Package integration exercises the full booking-to-completion flow
// across the real services, with only the store and video layers faked.
package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusmate/internal/controller"
	"focusmate/internal/matching"
	"focusmate/internal/session"
	"focusmate/internal/stats"
	"focusmate/internal/store/storetest"
	"focusmate/internal/video"
	"focusmate/pkg/types"
)

func bookingServices(store *storetest.FakeStore) *session.Service {
	return session.NewService(store, matching.NewEngine(store, matching.DefaultPolicy()))
}

func request(owner, subject string, start time.Time, minutes int) session.Request {
	return session.Request{
		OwnerID:         owner,
		OwnerName:       owner,
		StartTime:       start,
		DurationMinutes: minutes,
		Goal:            "focused revision block",
		Subject:         subject,
		ExamTrack:       "JEE",
		StudyLevel:      "advanced",
	}
}

func TestBookingPairsCompatibleSessions(t *testing.T) {
	store := storetest.NewFakeStore()
	svc := bookingServices(store)
	ctx := context.Background()
	start := time.Now().UTC().Add(time.Hour).Truncate(time.Minute)

	first, err := svc.Book(ctx, request("priya", "mathematics", start, 50))
	require.NoError(t, err)
	assert.False(t, first.Matched)

	// An incompatible duration sits in a different pool entirely.
	other, err := svc.Book(ctx, request("vikram", "mathematics", start, 25))
	require.NoError(t, err)
	assert.False(t, other.Matched)

	second, err := svc.Book(ctx, request("arun", "mathematics", start.Add(10*time.Minute), 50))
	require.NoError(t, err)
	require.True(t, second.Matched)
	require.NotNil(t, second.Partner)
	assert.Equal(t, "priya", second.Partner.OwnerID)

	// Pairing is symmetric: both records carry the other side.
	priyaRecord := store.Get(first.Session.ID)
	require.NotNil(t, priyaRecord.PartnerID)
	assert.Equal(t, "arun", *priyaRecord.PartnerID)
	arunRecord := store.Get(second.Session.ID)
	require.NotNil(t, arunRecord.PartnerID)
	assert.Equal(t, "priya", *arunRecord.PartnerID)

	// Claimed sessions leave the waiting pool, and the 25-minute pool
	// is invisible to a 50-minute booking, so meera waits alone.
	third, err := svc.Book(ctx, request("meera", "mathematics", start, 50))
	require.NoError(t, err)
	assert.False(t, third.Matched)
	assert.Nil(t, third.Partner)

	// A matching-duration booking claims her immediately.
	fourth, err := svc.Book(ctx, request("rohan", "mathematics", start, 50))
	require.NoError(t, err)
	require.True(t, fourth.Matched)
	assert.Equal(t, "meera", fourth.Partner.OwnerID)
}

// endedCollector records session-ended callbacks from a controller.
type endedCollector struct {
	mu    sync.Mutex
	ended []*types.Session
}

func (e *endedCollector) events() controller.Events {
	return controller.Events{
		OnEnded: func(sess *types.Session) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.ended = append(e.ended, sess)
		},
	}
}

func (e *endedCollector) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.ended)
}

func seedLive(store *storetest.FakeStore, id string, minutesIn int) *types.Session {
	partner := "priya"
	s := &types.Session{
		ID:              id,
		OwnerID:         "arun",
		OwnerName:       "Arun",
		PartnerID:       &partner,
		PartnerName:     "Priya",
		Participants:    []string{"arun", "priya"},
		StartTime:       time.Now().UTC().Add(-time.Duration(minutesIn) * time.Minute),
		DurationMinutes: 50,
		Goal:            "mock paper three",
		Status:          types.StatusScheduled,
	}
	store.Seed(s)
	return s
}

func TestLiveSessionEndPropagatesToPartner(t *testing.T) {
	store := storetest.NewFakeStore()
	attacher := video.NewFakeAttacher()
	ctx := context.Background()
	seedLive(store, "sess-live", 20)

	var ownerEnded, partnerEnded endedCollector
	owner := controller.New(store, attacher, "sess-live", "arun", "Arun", ownerEnded.events())
	partner := controller.New(store, attacher, "sess-live", "priya", "Priya", partnerEnded.events())
	defer owner.Close()
	defer partner.Close()

	require.NoError(t, owner.Start(ctx))
	require.NoError(t, partner.Start(ctx))
	assert.Equal(t, types.StatusActive, store.Get("sess-live").Status)

	require.NoError(t, owner.EndSession(ctx))

	got := store.Get("sess-live")
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Equal(t, types.CompletedByOwner, got.CompletedBy)
	assert.Equal(t, 20, got.ActualDurationMinutes)

	// The partner's controller observes the terminal write through the
	// record subscription, without writing anything itself.
	require.Eventually(t, func() bool { return partnerEnded.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, ownerEnded.count())
	assert.Equal(t, 1, store.CompleteCalls)
}

func TestCompletedSessionFeedsStats(t *testing.T) {
	store := storetest.NewFakeStore()
	attacher := video.NewFakeAttacher()
	ctx := context.Background()
	seedLive(store, "sess-live", 50)

	var ended endedCollector
	owner := controller.New(store, attacher, "sess-live", "arun", "Arun", ended.events())
	defer owner.Close()

	// Fifty minutes into a fifty-minute session: starting the controller
	// restores a fully elapsed countdown and completes immediately.
	require.NoError(t, owner.Start(ctx))
	require.Eventually(t, func() bool {
		return store.Get("sess-live").Status == types.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	got := store.Get("sess-live")
	assert.Equal(t, types.CompletedByTimer, got.CompletedBy)
	assert.Equal(t, 50, got.ActualDurationMinutes)

	statsSvc := stats.NewService(store, time.UTC)
	userStats, err := statsSvc.UserStats(ctx, "arun")
	require.NoError(t, err)
	assert.Equal(t, 1, userStats.TotalSessions)
	assert.Equal(t, 50, userStats.TotalMinutes)
	assert.Equal(t, 1, userStats.CurrentStreak)
}

func TestCancelledSessionRefusesAdmission(t *testing.T) {
	store := storetest.NewFakeStore()
	ctx := context.Background()
	svc := bookingServices(store)
	start := time.Now().UTC().Add(time.Hour)

	result, err := svc.Book(ctx, request("arun", "physics", start, 25))
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, result.Session.ID, "arun"))

	elig, err := svc.JoinEligibility(ctx, result.Session.ID, "arun")
	require.NoError(t, err)
	assert.False(t, elig.CanJoin)

	var ended endedCollector
	ctrl := controller.New(store, nil, result.Session.ID, "arun", "Arun", ended.events())
	defer ctrl.Close()

	// A terminal record yields an ended controller, never a restart.
	require.NoError(t, ctrl.Start(ctx))
	assert.Equal(t, controller.StateEnded, ctrl.State())
	assert.Equal(t, types.StatusCancelled, store.Get(result.Session.ID).Status)
}
