package store

import (
	"context"
	"database/sql"
	"fmt"

	"focusmate/pkg/types"
)

// SaveMessage persists one chat message. Timestamp is stamped from the
// store clock for consistent history ordering across participants.
func (s *Store) SaveMessage(ctx context.Context, msg *types.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	msg.Timestamp = s.now().UTC()
	return s.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO messages (id, session_id, from_user, body, timestamp)
			VALUES (?, ?, ?, ?, ?)`,
			msg.ID, msg.SessionID, msg.FromUser, msg.Body, msg.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// ListSessionMessages returns the most recent messages for a session in
// chronological order, for history replay on join.
func (s *Store) ListSessionMessages(ctx context.Context, sessionID string, limit int) ([]*types.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, from_user, body, timestamp
		FROM (
			SELECT id, session_id, from_user, body, timestamp
			FROM messages WHERE session_id = ?
			ORDER BY timestamp DESC LIMIT ?
		) ORDER BY timestamp ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.Message
	for rows.Next() {
		var m types.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.FromUser, &m.Body, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}
