// Package schedule holds the pure time computations shared by booking,
// admission and the live-session layer: join windows, countdown phases
// and calendar streaks. Everything here is deterministic given its
// arguments; no function reads the clock.
package schedule

import (
	"fmt"
	"time"
)

// JoinPhase classifies where "now" falls relative to a session's window.
type JoinPhase string

const (
	JoinTooEarly JoinPhase = "too_early"
	JoinReady    JoinPhase = "ready"
	JoinLive     JoinPhase = "live"
	JoinLateJoin JoinPhase = "late_join"
	JoinEnded    JoinPhase = "ended"
)

// Admission window policy. A participant may enter from JoinWindow before
// the scheduled start until LateJoinLimit after it; past the limit the
// session is closed to admission even if its scheduled end has not passed.
const (
	JoinWindow    = 10 * time.Minute
	LateJoinLimit = 15 * time.Minute

	// liveGrace separates an on-time entry from a late join.
	liveGrace = 5 * time.Minute
)

// JoinEligibility is the admission decision for one viewer at one instant.
type JoinEligibility struct {
	Phase     JoinPhase `json:"phase"`
	CanJoin   bool      `json:"can_join"`
	TimeUntil string    `json:"time_until"`
}

// ComputeJoinEligibility decides whether a session is joinable at now.
func ComputeJoinEligibility(startTime time.Time, durationMinutes int, now time.Time) JoinEligibility {
	end := startTime.Add(time.Duration(durationMinutes) * time.Minute)
	lateLimit := startTime.Add(LateJoinLimit)
	if lateLimit.After(end) {
		lateLimit = end
	}

	switch {
	case !now.Before(end):
		return JoinEligibility{Phase: JoinEnded, TimeUntil: "session ended"}

	case now.After(lateLimit):
		return JoinEligibility{Phase: JoinEnded, TimeUntil: "too late to join"}

	case now.Before(startTime.Add(-JoinWindow)):
		return JoinEligibility{
			Phase:     JoinTooEarly,
			TimeUntil: "starts in " + formatDuration(startTime.Sub(now)),
		}

	case now.Before(startTime):
		return JoinEligibility{
			Phase:     JoinReady,
			CanJoin:   true,
			TimeUntil: "starts in " + formatDuration(startTime.Sub(now)),
		}

	case now.Before(startTime.Add(liveGrace)):
		return JoinEligibility{
			Phase:     JoinLive,
			CanJoin:   true,
			TimeUntil: "started " + formatDuration(now.Sub(startTime)) + " ago",
		}

	default:
		return JoinEligibility{
			Phase:     JoinLateJoin,
			CanJoin:   true,
			TimeUntil: "started " + formatDuration(now.Sub(startTime)) + " ago",
		}
	}
}

// RemainingSeconds is the countdown seed for a viewer entering at now:
// the full duration for an on-time entry, the remainder for a late one.
// Joining late never extends a session. Returns 0 when nothing remains.
func RemainingSeconds(startTime time.Time, durationMinutes int, now time.Time) int {
	total := durationMinutes * 60
	if !now.After(startTime) {
		return total
	}
	elapsed := int(now.Sub(startTime) / time.Second)
	if elapsed >= total {
		return 0
	}
	return total - elapsed
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	d = d.Round(time.Minute)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	case m > 0:
		return fmt.Sprintf("%dm", m)
	default:
		return "under a minute"
	}
}
