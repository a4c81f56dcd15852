// Package matching pairs a newly booked session with a compatible
// waiting session: exact match first, scored fallback second, and the
// store's conditional transaction as the only arbiter of who won.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"focusmate/pkg/interfaces"
	"focusmate/pkg/types"
)

// Policy holds the compatibility weights and search window. The numbers
// are tuning policy, not invariants; only exact-first-then-scored is a
// contract. Keep them in one place.
type Policy struct {
	// Window brackets the seeker's start time when searching.
	Window time.Duration

	SubjectWeight    int
	ExamTrackWeight  int
	StudyLevelWeight int
	TimeProximityMax int
	StudyModeWeight  int
	RegionWeight     int

	// MaxAttempts bounds how many candidates a single matching call will
	// try to commit before giving up. Matching is best-effort; an
	// unmatched session is a valid outcome, not an error.
	MaxAttempts int
}

// DefaultPolicy returns the production weights.
func DefaultPolicy() Policy {
	return Policy{
		Window:           15 * time.Minute,
		SubjectWeight:    50,
		ExamTrackWeight:  30,
		StudyLevelWeight: 20,
		TimeProximityMax: 20,
		StudyModeWeight:  15,
		RegionWeight:     10,
		MaxAttempts:      3,
	}
}

// Engine implements partner matching on top of the session store.
type Engine struct {
	store  interfaces.SessionStore
	policy Policy
}

// NewEngine creates a matching engine.
func NewEngine(store interfaces.SessionStore, policy Policy) *Engine {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Engine{store: store, policy: policy}
}

// Match finds and atomically claims a partner for seeker. Returns the
// paired candidate record, or nil when no compatible session could be
// claimed, which leaves the seeker scheduled and solo, a valid state.
func (e *Engine) Match(ctx context.Context, seeker *types.Session) (*types.Session, error) {
	if seeker.HasPartner() {
		return nil, fmt.Errorf("%w: session already has a partner", types.ErrConflict)
	}

	candidates, err := e.store.QueryWaiting(ctx, interfaces.WaitingQuery{
		DurationMinutes: seeker.DurationMinutes,
		WindowStart:     seeker.StartTime.Add(-e.policy.Window),
		WindowEnd:       seeker.StartTime.Add(e.policy.Window),
		ExcludeOwner:    seeker.OwnerID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query waiting sessions: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ranked := e.rank(seeker, candidates)

	attempts := e.policy.MaxAttempts
	if attempts > len(ranked) {
		attempts = len(ranked)
	}

	for _, candidate := range ranked[:attempts] {
		err := e.store.PairSessions(ctx, seeker, candidate)
		if err == nil {
			log.Printf("matching: paired session %s with %s (owners %s/%s)",
				seeker.ID, candidate.ID, seeker.OwnerID, candidate.OwnerID)
			return candidate, nil
		}
		if errors.Is(err, types.ErrConflict) {
			// Claimed by a concurrent matcher between read and commit;
			// fall through to the next candidate.
			continue
		}
		return nil, err
	}

	return nil, nil
}

// rank orders candidates: exact matches first (by creation time), then
// scored compatibility descending with creation time as tie-break.
func (e *Engine) rank(seeker *types.Session, candidates []*types.Session) []*types.Session {
	type scored struct {
		session *types.Session
		exact   bool
		score   int
	}

	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, scored{
			session: c,
			exact:   e.isExactMatch(seeker, c),
			score:   e.Score(seeker, c),
		})
	}

	// Candidates arrive ordered by createdAt ascending, so a stable sort
	// keeps the earliest-created first within every tier.
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].exact != ranked[j].exact {
			return ranked[i].exact
		}
		return ranked[i].score > ranked[j].score
	})

	out := make([]*types.Session, len(ranked))
	for i, r := range ranked {
		out[i] = r.session
	}
	return out
}

// isExactMatch requires the same subject and the same start instant.
func (e *Engine) isExactMatch(seeker, candidate *types.Session) bool {
	return seeker.Subject != "" &&
		seeker.Subject == candidate.Subject &&
		seeker.StartTime.Equal(candidate.StartTime)
}

// Score computes the weighted compatibility of a candidate. Time
// proximity decays linearly from TimeProximityMax at an identical start
// to 0 at the window edge.
func (e *Engine) Score(seeker, candidate *types.Session) int {
	score := 0
	if seeker.Subject != "" && seeker.Subject == candidate.Subject {
		score += e.policy.SubjectWeight
	}
	if seeker.ExamTrack != "" && seeker.ExamTrack == candidate.ExamTrack {
		score += e.policy.ExamTrackWeight
	}
	if seeker.StudyLevel != "" && seeker.StudyLevel == candidate.StudyLevel {
		score += e.policy.StudyLevelWeight
	}
	if seeker.StudyMode != "" && seeker.StudyMode == candidate.StudyMode {
		score += e.policy.StudyModeWeight
	}
	if seeker.Region != "" && seeker.Region == candidate.Region {
		score += e.policy.RegionWeight
	}

	if e.policy.Window > 0 {
		distance := seeker.StartTime.Sub(candidate.StartTime)
		if distance < 0 {
			distance = -distance
		}
		if distance <= e.policy.Window {
			proximity := float64(e.policy.TimeProximityMax) * (1 - float64(distance)/float64(e.policy.Window))
			score += int(proximity + 0.5)
		}
	}

	return score
}
