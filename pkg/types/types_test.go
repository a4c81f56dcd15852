package types

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSession() *Session {
	return &Session{
		ID:              "s1",
		OwnerID:         "user_a",
		OwnerName:       "Asha",
		StartTime:       time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		DurationMinutes: 50,
		Goal:            "Read chapter 3",
		Status:          StatusScheduled,
		CreatedAt:       time.Date(2026, 2, 28, 20, 0, 0, 0, time.UTC),
	}
}

func TestSessionValidate(t *testing.T) {
	t.Run("valid session passes", func(t *testing.T) {
		require.NoError(t, validSession().Validate())
	})

	t.Run("invalid owner", func(t *testing.T) {
		s := validSession()
		s.OwnerID = "bad user!"
		assert.ErrorIs(t, s.Validate(), ErrInvalidUserID)
	})

	t.Run("zero start time", func(t *testing.T) {
		s := validSession()
		s.StartTime = time.Time{}
		assert.ErrorIs(t, s.Validate(), ErrNoStartTime)
	})

	t.Run("duration not in allowed set", func(t *testing.T) {
		s := validSession()
		s.DurationMinutes = 45
		assert.ErrorIs(t, s.Validate(), ErrInvalidDuration)
	})

	t.Run("empty goal", func(t *testing.T) {
		s := validSession()
		s.Goal = ""
		assert.ErrorIs(t, s.Validate(), ErrEmptyGoal)
	})

	t.Run("goal too long", func(t *testing.T) {
		s := validSession()
		s.Goal = strings.Repeat("x", MaxGoalLength+1)
		assert.ErrorIs(t, s.Validate(), ErrGoalTooLong)
	})
}

func TestEndTime(t *testing.T) {
	s := validSession()
	assert.Equal(t, s.StartTime.Add(50*time.Minute), s.EndTime())
}

func TestIsTerminal(t *testing.T) {
	s := validSession()
	assert.False(t, s.IsTerminal())

	s.Status = StatusActive
	assert.False(t, s.IsTerminal())

	s.Status = StatusCompleted
	assert.True(t, s.IsTerminal())

	s.Status = StatusCancelled
	assert.True(t, s.IsTerminal())
}

func TestInvolvesUserAndRoleOf(t *testing.T) {
	s := validSession()
	partner := "user_b"
	s.PartnerID = &partner
	s.Participants = []string{"user_a", "user_b", "user_c"}

	assert.True(t, s.InvolvesUser("user_a"))
	assert.True(t, s.InvolvesUser("user_b"))
	assert.True(t, s.InvolvesUser("user_c"))
	assert.False(t, s.InvolvesUser("user_d"))
	assert.False(t, s.InvolvesUser(""))

	assert.Equal(t, RoleOwner, s.RoleOf("user_a"))
	assert.Equal(t, RolePartner, s.RoleOf("user_b"))
	assert.Equal(t, RolePartner, s.RoleOf("user_c"))
	assert.Equal(t, "", s.RoleOf("user_d"))
}

func TestHasPartner(t *testing.T) {
	s := validSession()
	assert.False(t, s.HasPartner())

	empty := ""
	s.PartnerID = &empty
	assert.False(t, s.HasPartner())

	partner := "user_b"
	s.PartnerID = &partner
	assert.True(t, s.HasPartner())
}

func TestMessageValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		m := &Message{FromUser: "user_a", Body: "hello"}
		require.NoError(t, m.Validate())
		assert.False(t, m.Timestamp.IsZero())
	})

	t.Run("empty body", func(t *testing.T) {
		m := &Message{FromUser: "user_a"}
		assert.ErrorIs(t, m.Validate(), ErrEmptyMessage)
	})

	t.Run("oversized body", func(t *testing.T) {
		m := &Message{FromUser: "user_a", Body: strings.Repeat("a", 2049)}
		assert.ErrorIs(t, m.Validate(), ErrMessageTooLarge)
	})
}

func TestIsAllowedDuration(t *testing.T) {
	for _, d := range AllowedDurations {
		assert.True(t, IsAllowedDuration(d))
	}
	assert.False(t, IsAllowedDuration(0))
	assert.False(t, IsAllowedDuration(45))
	assert.False(t, IsAllowedDuration(-50))
}
