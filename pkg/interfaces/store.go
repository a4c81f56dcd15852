package interfaces

import (
	"context"
	"time"

	"focusmate/pkg/types"
)

// WaitingQuery filters the pool of unpaired scheduled sessions during
// partner matching. The window brackets the seeker's start time.
type WaitingQuery struct {
	DurationMinutes int
	WindowStart     time.Time
	WindowEnd       time.Time
	ExcludeOwner    string
	Limit           int
}

// SessionStore is the record-store capability the core consumes. The
// store is the single arbiter for cross-participant races: pairing uses a
// conditional transactional update, terminal writes are idempotent, and
// no client-side read is ever trusted as still valid at write time.
type SessionStore interface {
	// CreateSession persists a new session record. The record's CreatedAt
	// is assigned by the store clock, never the caller's.
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSession retrieves one session, or types.ErrSessionNotFound.
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// MarkActive moves a scheduled session to active. A no-op if the
	// session is already active; types.ErrConflict if it is terminal.
	MarkActive(ctx context.Context, sessionID string) error

	// PairSessions sets the partner fields of both records in a single
	// all-or-nothing transaction, preconditioned on partner_id being
	// unset on both rows. Returns types.ErrConflict if either record was
	// paired or closed by a concurrent matching attempt.
	PairSessions(ctx context.Context, seeker, candidate *types.Session) error

	// CompleteSession writes the terminal completed status, stamping
	// ended_at from the store's own clock so client skew never leaks into
	// completion ordering. Idempotent: returns (false, nil) without
	// mutation when the record is already terminal, (true, nil) when this
	// call performed the terminal write.
	CompleteSession(ctx context.Context, sessionID string, actualMinutes int, completedBy string) (bool, error)

	// CancelSession writes the terminal cancelled status, with the same
	// idempotence contract as CompleteSession.
	CancelSession(ctx context.Context, sessionID string) (bool, error)

	// QueryWaiting lists scheduled, unpaired sessions matching the
	// criteria, ordered by created_at ascending.
	QueryWaiting(ctx context.Context, q WaitingQuery) ([]*types.Session, error)

	// ListUserSessions lists a user's sessions (owner or partner side)
	// with any of the given statuses, newest start first.
	ListUserSessions(ctx context.Context, userID string, statuses []string) ([]*types.Session, error)

	// Subscribe registers a callback invoked with a fresh copy of the
	// record after every committed mutation to sessionID, in commit
	// order. The returned function cancels the subscription. A dispatch
	// already in flight may still land just after cancellation, so
	// consumers torn down mid-operation must treat late callbacks as
	// no-ops.
	Subscribe(sessionID string, onChange func(*types.Session)) (unsubscribe func())

	// SaveTimerState and LoadTimerState persist countdown state keyed by
	// session id so a reconnecting client never regains elapsed time.
	SaveTimerState(ctx context.Context, snap *types.TimerSnapshot) error
	LoadTimerState(ctx context.Context, sessionID string) (*types.TimerSnapshot, error)

	// SaveMessage and ListSessionMessages back the in-session chat relay.
	SaveMessage(ctx context.Context, msg *types.Message) error
	ListSessionMessages(ctx context.Context, sessionID string, limit int) ([]*types.Message, error)
}
