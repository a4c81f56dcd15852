package schedule

// TimerPhase classifies a running countdown for UI urgency cues.
type TimerPhase string

const (
	PhasePaused  TimerPhase = "paused"
	PhaseEnded   TimerPhase = "ended"
	PhaseEnding  TimerPhase = "ending"
	PhaseWarning TimerPhase = "warning"
	PhaseLate    TimerPhase = "late"
	PhaseMiddle  TimerPhase = "middle"
	PhaseEarly   TimerPhase = "early"
)

// Urgency orders phases for display decisions (sound, color, pulse).
type Urgency int

const (
	UrgencyNone Urgency = iota
	UrgencyLow
	UrgencyMedium
	UrgencyHigh
	UrgencyCritical
)

// Fixed phase thresholds. Absolute bounds take precedence over the
// fractional ones so short sessions still get ending/warning cues.
const (
	endingThresholdSeconds  = 60
	warningThresholdSeconds = 300
)

// ComputeTimerPhase classifies the countdown position. A finished timer
// is ended even while paused; otherwise paused wins over time-based
// phases.
func ComputeTimerPhase(remainingSeconds, totalSeconds int, isRunning bool) (TimerPhase, Urgency) {
	switch {
	case remainingSeconds <= 0:
		return PhaseEnded, UrgencyCritical
	case !isRunning:
		return PhasePaused, UrgencyNone
	case remainingSeconds <= endingThresholdSeconds:
		return PhaseEnding, UrgencyCritical
	case remainingSeconds <= warningThresholdSeconds:
		return PhaseWarning, UrgencyHigh
	case totalSeconds > 0 && remainingSeconds*4 <= totalSeconds:
		return PhaseLate, UrgencyMedium
	case totalSeconds > 0 && remainingSeconds*2 <= totalSeconds:
		return PhaseMiddle, UrgencyLow
	default:
		return PhaseEarly, UrgencyNone
	}
}
