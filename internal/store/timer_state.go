package store

import (
	"context"
	"database/sql"
	"fmt"

	"focusmate/pkg/types"
)

// SaveTimerState upserts the countdown snapshot for a session.
func (s *Store) SaveTimerState(ctx context.Context, snap *types.TimerSnapshot) error {
	return s.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO timer_state (session_id, total_seconds, remaining_seconds, is_running, last_tick)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				total_seconds = excluded.total_seconds,
				remaining_seconds = excluded.remaining_seconds,
				is_running = excluded.is_running,
				last_tick = excluded.last_tick`,
			snap.SessionID, snap.TotalSeconds, snap.RemainingSeconds,
			boolToInt(snap.IsRunning), snap.LastTick.UTC())
		if err != nil {
			return fmt.Errorf("failed to save timer state: %w", err)
		}
		return nil
	})
}

// LoadTimerState returns the persisted snapshot, or ErrSessionNotFound if
// none was ever saved for this session.
func (s *Store) LoadTimerState(ctx context.Context, sessionID string) (*types.TimerSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, total_seconds, remaining_seconds, is_running, last_tick
		FROM timer_state WHERE session_id = ?`, sessionID)

	var snap types.TimerSnapshot
	var running int
	err := row.Scan(&snap.SessionID, &snap.TotalSeconds, &snap.RemainingSeconds, &running, &snap.LastTick)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load timer state: %w", err)
	}
	snap.IsRunning = running != 0
	return &snap, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
