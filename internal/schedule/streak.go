package schedule

import "time"

// ComputeStreak counts consecutive calendar days, ending today or
// yesterday, on which the viewer completed at least one session. Days are
// bucketed in loc (the viewer's local day boundaries). A gap of more than
// one day breaks the streak; a most recent active day older than
// yesterday means the streak is already broken, so the result is 0.
//
// Deterministic given completedAt, now and loc.
func ComputeStreak(completedAt []time.Time, now time.Time, loc *time.Location) int {
	if len(completedAt) == 0 {
		return 0
	}
	if loc == nil {
		loc = time.Local
	}

	days := make(map[time.Time]bool, len(completedAt))
	for _, t := range completedAt {
		days[dayOf(t, loc)] = true
	}

	today := dayOf(now, loc)
	yesterday := today.AddDate(0, 0, -1)

	var anchor time.Time
	switch {
	case days[today]:
		anchor = today
	case days[yesterday]:
		anchor = yesterday
	default:
		return 0
	}

	streak := 0
	for day := anchor; days[day]; day = day.AddDate(0, 0, -1) {
		streak++
	}
	return streak
}

func dayOf(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
