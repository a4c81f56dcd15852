// Package storetest provides an in-memory SessionStore with the same
// conditional-write semantics as the SQLite store, for tests that need a
// store without a database. Failure injection knobs let tests exercise
// the degraded paths.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"focusmate/pkg/interfaces"
	"focusmate/pkg/types"
)

// FakeStore implements interfaces.SessionStore in memory.
type FakeStore struct {
	mu       sync.Mutex
	sessions map[string]*types.Session
	timers   map[string]*types.TimerSnapshot
	messages map[string][]*types.Message

	subscribers map[string]map[int]func(*types.Session)
	nextSubID   int

	// Clock is the store's server clock; tests may pin it.
	Clock func() time.Time

	// Failure injection. Each error, when set, is returned by the
	// corresponding operation. FailPairTimes limits FailPair to the
	// first N attempts, simulating a candidate claimed concurrently.
	FailCreate        error
	FailGet           error
	FailPair          error
	FailPairTimes     int
	FailComplete      error
	FailCompleteTimes int
	FailQuery         error
	FailSaveMessage   error

	// BeforeMarkActive, when set, runs ahead of the MarkActive status
	// check. Tests use it to flip the record terminal mid-flight.
	BeforeMarkActive func()

	// PairCalls and CompleteCalls count attempts, successful or not.
	PairCalls     int
	CompleteCalls int
}

var _ interfaces.SessionStore = (*FakeStore)(nil)

// NewFakeStore creates an empty fake store.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		sessions:    make(map[string]*types.Session),
		timers:      make(map[string]*types.TimerSnapshot),
		messages:    make(map[string][]*types.Message),
		subscribers: make(map[string]map[int]func(*types.Session)),
		Clock:       time.Now,
	}
}

// Seed inserts a session directly, bypassing validation.
func (f *FakeStore) Seed(session *types.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *session
	f.sessions[session.ID] = &copied
}

// Get returns the current record without the error injection, for
// assertions.
func (f *FakeStore) Get(sessionID string) *types.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		copied := *s
		return &copied
	}
	return nil
}

func (f *FakeStore) CreateSession(ctx context.Context, session *types.Session) error {
	if f.FailCreate != nil {
		return f.FailCreate
	}
	if err := session.Validate(); err != nil {
		return err
	}

	f.mu.Lock()
	session.CreatedAt = f.Clock().UTC()
	copied := *session
	f.sessions[session.ID] = &copied
	f.mu.Unlock()

	f.notify(session.ID)
	return nil
}

func (f *FakeStore) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	if f.FailGet != nil {
		return nil, f.FailGet
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, types.ErrSessionNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *FakeStore) MarkActive(ctx context.Context, sessionID string) error {
	if f.BeforeMarkActive != nil {
		f.BeforeMarkActive()
	}

	f.mu.Lock()
	s, ok := f.sessions[sessionID]
	if !ok {
		f.mu.Unlock()
		return types.ErrSessionNotFound
	}
	if s.IsTerminal() {
		f.mu.Unlock()
		return fmt.Errorf("%w: session is %s", types.ErrConflict, s.Status)
	}
	changed := s.Status == types.StatusScheduled
	s.Status = types.StatusActive
	f.mu.Unlock()

	if changed {
		f.notify(sessionID)
	}
	return nil
}

func (f *FakeStore) PairSessions(ctx context.Context, seeker, candidate *types.Session) error {
	f.mu.Lock()
	f.PairCalls++
	if f.FailPair != nil && (f.FailPairTimes == 0 || f.PairCalls <= f.FailPairTimes) {
		err := f.FailPair
		f.mu.Unlock()
		return err
	}

	a, okA := f.sessions[seeker.ID]
	b, okB := f.sessions[candidate.ID]
	if !okA || !okB {
		f.mu.Unlock()
		return types.ErrSessionNotFound
	}
	if seeker.ID == candidate.ID || a.OwnerID == b.OwnerID {
		f.mu.Unlock()
		return fmt.Errorf("%w: cannot pair a session with itself or its owner", types.ErrConflict)
	}
	if a.HasPartner() || b.HasPartner() || a.Status != types.StatusScheduled || b.Status != types.StatusScheduled {
		f.mu.Unlock()
		return fmt.Errorf("%w: session was paired or closed concurrently", types.ErrConflict)
	}

	aPartner, bPartner := b.OwnerID, a.OwnerID
	a.PartnerID = &aPartner
	a.PartnerName = b.OwnerName
	a.PartnerPhotoURL = b.OwnerPhotoURL
	a.Participants = []string{a.OwnerID, b.OwnerID}
	b.PartnerID = &bPartner
	b.PartnerName = a.OwnerName
	b.PartnerPhotoURL = a.OwnerPhotoURL
	b.Participants = []string{b.OwnerID, a.OwnerID}
	f.mu.Unlock()

	f.notify(seeker.ID)
	f.notify(candidate.ID)
	return nil
}

func (f *FakeStore) CompleteSession(ctx context.Context, sessionID string, actualMinutes int, completedBy string) (bool, error) {
	f.mu.Lock()
	f.CompleteCalls++
	calls := f.CompleteCalls
	f.mu.Unlock()
	if f.FailComplete != nil && (f.FailCompleteTimes == 0 || calls <= f.FailCompleteTimes) {
		return false, f.FailComplete
	}
	return f.terminal(sessionID, types.StatusCompleted, actualMinutes, completedBy)
}

func (f *FakeStore) CancelSession(ctx context.Context, sessionID string) (bool, error) {
	return f.terminal(sessionID, types.StatusCancelled, 0, "")
}

func (f *FakeStore) terminal(sessionID, status string, actualMinutes int, completedBy string) (bool, error) {
	f.mu.Lock()
	s, ok := f.sessions[sessionID]
	if !ok {
		f.mu.Unlock()
		return false, types.ErrSessionNotFound
	}
	if s.IsTerminal() {
		f.mu.Unlock()
		return false, nil
	}
	endedAt := f.Clock().UTC()
	s.Status = status
	s.EndedAt = &endedAt
	s.ActualDurationMinutes = actualMinutes
	s.CompletedBy = completedBy
	f.mu.Unlock()

	f.notify(sessionID)
	return true, nil
}

func (f *FakeStore) QueryWaiting(ctx context.Context, q interfaces.WaitingQuery) ([]*types.Session, error) {
	if f.FailQuery != nil {
		return nil, f.FailQuery
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var result []*types.Session
	for _, s := range f.sessions {
		if s.Status != types.StatusScheduled || s.HasPartner() {
			continue
		}
		if s.DurationMinutes != q.DurationMinutes || s.OwnerID == q.ExcludeOwner {
			continue
		}
		if s.StartTime.Before(q.WindowStart) || s.StartTime.After(q.WindowEnd) {
			continue
		}
		copied := *s
		result = append(result, &copied)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (f *FakeStore) ListUserSessions(ctx context.Context, userID string, statuses []string) ([]*types.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	wanted := func(status string) bool {
		if len(statuses) == 0 {
			return true
		}
		for _, st := range statuses {
			if st == status {
				return true
			}
		}
		return false
	}

	var result []*types.Session
	for _, s := range f.sessions {
		if !wanted(s.Status) {
			continue
		}
		if s.OwnerID == userID || (s.PartnerID != nil && *s.PartnerID == userID) {
			copied := *s
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.After(result[j].StartTime)
	})
	return result, nil
}

func (f *FakeStore) Subscribe(sessionID string, onChange func(*types.Session)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextSubID
	f.nextSubID++
	if f.subscribers[sessionID] == nil {
		f.subscribers[sessionID] = make(map[int]func(*types.Session))
	}
	f.subscribers[sessionID][id] = onChange

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subscribers[sessionID], id)
	}
}

// notify delivers synchronously, which gives tests deterministic
// ordering without sleeps.
func (f *FakeStore) notify(sessionID string) {
	f.mu.Lock()
	s, ok := f.sessions[sessionID]
	if !ok {
		f.mu.Unlock()
		return
	}
	snapshot := *s
	subs := make([]func(*types.Session), 0, len(f.subscribers[sessionID]))
	for _, fn := range f.subscribers[sessionID] {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		copied := snapshot
		fn(&copied)
	}
}

func (f *FakeStore) SaveTimerState(ctx context.Context, snap *types.TimerSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *snap
	f.timers[snap.SessionID] = &copied
	return nil
}

func (f *FakeStore) LoadTimerState(ctx context.Context, sessionID string) (*types.TimerSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.timers[sessionID]
	if !ok {
		return nil, types.ErrSessionNotFound
	}
	copied := *snap
	return &copied, nil
}

func (f *FakeStore) SaveMessage(ctx context.Context, msg *types.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if f.FailSaveMessage != nil {
		return f.FailSaveMessage
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msg.Timestamp = f.Clock().UTC()
	copied := *msg
	f.messages[msg.SessionID] = append(f.messages[msg.SessionID], &copied)
	return nil
}

func (f *FakeStore) ListSessionMessages(ctx context.Context, sessionID string, limit int) ([]*types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*types.Message, 0, len(msgs))
	for _, m := range msgs {
		copied := *m
		out = append(out, &copied)
	}
	return out, nil
}

// ErrInjected is a convenience error for failure-injection tests.
var ErrInjected = errors.New("injected failure")
