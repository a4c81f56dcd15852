package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestComputeTimerPhase(t *testing.T) {
	total := 50 * 60

	tests := []struct {
		name      string
		remaining int
		running   bool
		phase     TimerPhase
		urgency   Urgency
	}{
		{"fresh timer is early", total, true, PhaseEarly, UrgencyNone},
		{"just over half remaining is early", total/2 + 1, true, PhaseEarly, UrgencyNone},
		{"half remaining is middle", total / 2, true, PhaseMiddle, UrgencyLow},
		{"quarter remaining is late", total / 4, true, PhaseLate, UrgencyMedium},
		{"five minutes left is warning", 300, true, PhaseWarning, UrgencyHigh},
		{"one minute left is ending", 60, true, PhaseEnding, UrgencyCritical},
		{"zero is ended", 0, true, PhaseEnded, UrgencyCritical},
		{"paused mid-session", total / 2, false, PhasePaused, UrgencyNone},
		{"ended wins over paused", 0, false, PhaseEnded, UrgencyCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			phase, urgency := ComputeTimerPhase(tt.remaining, total, tt.running)
			assert.Equal(t, tt.phase, phase)
			assert.Equal(t, tt.urgency, urgency)
		})
	}
}

func TestShortSessionStillGetsAbsoluteCues(t *testing.T) {
	// A 25-minute timer hits the 5-minute warning even though 300s is
	// well under 25% of the total.
	phase, _ := ComputeTimerPhase(290, 25*60, true)
	assert.Equal(t, PhaseWarning, phase)
}

func TestTimerPhaseUrgencyMonotonic(t *testing.T) {
	// Urgency never decreases as remaining time runs down.
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.SampledFrom([]int{25 * 60, 50 * 60, 75 * 60, 90 * 60}).Draw(t, "total")
		a := rapid.IntRange(0, total).Draw(t, "a")
		b := rapid.IntRange(0, total).Draw(t, "b")
		if a < b {
			a, b = b, a
		}

		_, higher := ComputeTimerPhase(b, total, true)
		_, lower := ComputeTimerPhase(a, total, true)
		assert.GreaterOrEqual(t, int(higher), int(lower))
	})
}
