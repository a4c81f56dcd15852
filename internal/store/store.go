// Package store implements the SessionStore capability on SQLite. All
// writes flow through a single writer goroutine; reads run concurrently
// against the WAL. Cross-participant races (pairing, completion) are
// resolved here with conditional row updates, never with client locks.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"focusmate/pkg/database"
	"focusmate/pkg/interfaces"
	"focusmate/pkg/types"
)

const sessionColumns = `id, owner_id, owner_name, owner_photo_url,
	partner_id, partner_name, partner_photo_url, participants,
	start_time, duration_minutes, goal, subject, exam_track, study_level,
	study_mode, region, status, created_at, ended_at,
	actual_duration_minutes, completed_by`

// Store implements interfaces.SessionStore.
type Store struct {
	db           *sql.DB
	config       *database.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex

	feed *changeFeed

	// now is the store's server clock; replaced in tests.
	now func() time.Time

	// retryDelay spaces the single write retry.
	retryDelay time.Duration
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

var _ interfaces.SessionStore = (*Store)(nil)

// NewStore opens the database, applies migrations and starts the writer
// goroutine.
func NewStore(config *database.Config) (*Store, error) {
	if config == nil {
		config = database.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := database.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	if err := database.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	if err := database.NewSchemaValidator(db).ValidateTablesExist(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	s := &Store{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		feed:         newChangeFeed(),
		now:          time.Now,
		retryDelay:   500 * time.Millisecond,
	}

	s.wg.Add(1)
	go s.writeLoop()
	s.feed.start(s.loadForFeed)

	return s, nil
}

// writeLoop processes all write operations in a single goroutine. A
// failed write is retried exactly once before the error is returned.
func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeChannel:
			err := op.operation(s.db)
			if err != nil && !isSemanticError(err) {
				log.Printf("store: write failed, retrying once: %v", err)
				time.Sleep(s.retryDelay)
				err = op.operation(s.db)
				if err != nil {
					log.Printf("store: write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-s.shutdown:
			return
		}
	}
}

// isSemanticError reports precondition failures that a retry can never
// fix; only genuinely transient write errors get the second attempt.
func isSemanticError(err error) bool {
	return errors.Is(err, types.ErrConflict) || errors.Is(err, types.ErrSessionNotFound)
}

func (s *Store) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("%w: store is closed", types.ErrStoreUnavailable)
	}
	s.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case s.writeChannel <- writeOperation{operation: operation, result: result}:
		select {
		case err := <-result:
			return err
		case <-ctx.Done():
			// The write may still land; the caller treats this as a
			// transient failure and re-reads.
			return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, ctx.Err())
		}
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, ctx.Err())
	case <-time.After(30 * time.Second):
		return fmt.Errorf("%w: write queue timeout", types.ErrStoreUnavailable)
	case <-s.shutdown:
		return fmt.Errorf("%w: store is shutting down", types.ErrStoreUnavailable)
	}
}

// HealthCheck verifies the database is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close drains the writer and stops the change feed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()
	s.feed.stop()
	return s.db.Close()
}

// CreateSession persists a new session record. CreatedAt is stamped from
// the store clock regardless of what the caller set.
func (s *Store) CreateSession(ctx context.Context, session *types.Session) error {
	if err := session.Validate(); err != nil {
		return err
	}

	createdAt := s.now().UTC()
	session.CreatedAt = createdAt

	err := s.executeWrite(ctx, func(db *sql.DB) error {
		participantsJSON, err := json.Marshal(session.Participants)
		if err != nil {
			return fmt.Errorf("failed to marshal participants: %w", err)
		}

		_, err = db.ExecContext(ctx, `
			INSERT INTO sessions (
				id, owner_id, owner_name, owner_photo_url,
				partner_id, partner_name, partner_photo_url, participants,
				start_time, duration_minutes, goal, subject, exam_track,
				study_level, study_mode, region, status, created_at,
				actual_duration_minutes, completed_by
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, '')`,
			session.ID, session.OwnerID, session.OwnerName, session.OwnerPhotoURL,
			session.PartnerID, session.PartnerName, session.PartnerPhotoURL, string(participantsJSON),
			session.StartTime.UTC(), session.DurationMinutes, session.Goal, session.Subject,
			session.ExamTrack, session.StudyLevel, session.StudyMode, session.Region,
			session.Status, createdAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.feed.notify(session.ID)
	return nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)

	session, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return session, nil
}

// MarkActive moves a scheduled session to active. Already-active sessions
// are left untouched; terminal sessions refuse with Conflict.
func (s *Store) MarkActive(ctx context.Context, sessionID string) error {
	var changed bool
	err := s.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE sessions SET status = ? WHERE id = ? AND status = ?`,
			types.StatusActive, sessionID, types.StatusScheduled)
		if err != nil {
			return fmt.Errorf("failed to activate session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		changed = n == 1
		return nil
	})
	if err != nil {
		return err
	}

	if !changed {
		current, err := s.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if current.IsTerminal() {
			return fmt.Errorf("%w: session is %s", types.ErrConflict, current.Status)
		}
		// Already active: the other participant got there first.
		return nil
	}

	s.feed.notify(sessionID)
	return nil
}

// PairSessions pairs the seeker with the candidate in one transaction.
// Both rows must still be scheduled with partner_id unset; otherwise the
// whole pairing rolls back with Conflict. partner_id is therefore
// write-once: no committed pairing can ever be overwritten by another.
func (s *Store) PairSessions(ctx context.Context, seeker, candidate *types.Session) error {
	if seeker.ID == candidate.ID || seeker.OwnerID == candidate.OwnerID {
		return fmt.Errorf("%w: cannot pair a session with itself or its owner", types.ErrConflict)
	}

	err := s.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin pairing transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := pairOne(ctx, tx, seeker.ID, candidate.OwnerID, candidate.OwnerName, candidate.OwnerPhotoURL); err != nil {
			return err
		}
		if err := pairOne(ctx, tx, candidate.ID, seeker.OwnerID, seeker.OwnerName, seeker.OwnerPhotoURL); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit pairing: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.feed.notify(seeker.ID)
	s.feed.notify(candidate.ID)
	return nil
}

// pairOne applies the write-once partner update to a single row.
func pairOne(ctx context.Context, tx *sql.Tx, sessionID, partnerID, partnerName, partnerPhoto string) error {
	participantsJSON := func(ownerID string) (string, error) {
		b, err := json.Marshal([]string{ownerID, partnerID})
		return string(b), err
	}

	var ownerID string
	err := tx.QueryRowContext(ctx,
		`SELECT owner_id FROM sessions WHERE id = ?`, sessionID).Scan(&ownerID)
	if err != nil {
		if err == sql.ErrNoRows {
			return types.ErrSessionNotFound
		}
		return fmt.Errorf("failed to read session for pairing: %w", err)
	}

	participants, err := participantsJSON(ownerID)
	if err != nil {
		return fmt.Errorf("failed to marshal participants: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET partner_id = ?, partner_name = ?, partner_photo_url = ?, participants = ?
		WHERE id = ? AND partner_id IS NULL AND status = ?`,
		partnerID, partnerName, partnerPhoto, participants,
		sessionID, types.StatusScheduled)
	if err != nil {
		return fmt.Errorf("failed to set partner: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%w: session %s was paired or closed concurrently", types.ErrConflict, sessionID)
	}
	return nil
}

// CompleteSession performs the idempotent terminal write.
func (s *Store) CompleteSession(ctx context.Context, sessionID string, actualMinutes int, completedBy string) (bool, error) {
	return s.terminalWrite(ctx, sessionID, types.StatusCompleted, actualMinutes, completedBy)
}

// CancelSession cancels a session with the same idempotence contract.
func (s *Store) CancelSession(ctx context.Context, sessionID string) (bool, error) {
	return s.terminalWrite(ctx, sessionID, types.StatusCancelled, 0, "")
}

// terminalWrite moves a session to a terminal status exactly once. The
// precondition is the status itself: a row that is already terminal is
// not touched and the call reports (false, nil), never an error.
func (s *Store) terminalWrite(ctx context.Context, sessionID, status string, actualMinutes int, completedBy string) (bool, error) {
	var applied bool
	endedAt := s.now().UTC()

	err := s.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE sessions
			SET status = ?, ended_at = ?, actual_duration_minutes = ?, completed_by = ?
			WHERE id = ? AND status NOT IN (?, ?)`,
			status, endedAt, actualMinutes, completedBy,
			sessionID, types.StatusCompleted, types.StatusCancelled)
		if err != nil {
			return fmt.Errorf("failed to write terminal status: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		applied = n == 1
		return nil
	})
	if err != nil {
		return false, err
	}

	if !applied {
		// Distinguish "already terminal" (a no-op, not an error) from a
		// record that never existed.
		if _, err := s.GetSession(ctx, sessionID); err != nil {
			return false, err
		}
		return false, nil
	}

	s.feed.notify(sessionID)
	return true, nil
}

// QueryWaiting lists scheduled, unpaired sessions within the window.
func (s *Store) QueryWaiting(ctx context.Context, q interfaces.WaitingQuery) ([]*types.Session, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE status = ? AND partner_id IS NULL
		  AND duration_minutes = ?
		  AND owner_id != ?
		  AND start_time >= ? AND start_time <= ?
		ORDER BY created_at ASC
		LIMIT ?`,
		types.StatusScheduled, q.DurationMinutes, q.ExcludeOwner,
		q.WindowStart.UTC(), q.WindowEnd.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query waiting sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectSessions(rows)
}

// ListUserSessions lists sessions where the user is owner or partner.
func (s *Store) ListUserSessions(ctx context.Context, userID string, statuses []string) ([]*types.Session, error) {
	if len(statuses) == 0 {
		statuses = []string{types.StatusScheduled, types.StatusActive, types.StatusCompleted, types.StatusCancelled}
	}

	placeholders := ""
	args := []interface{}{userID, userID}
	for i, st := range statuses {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, st)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE (owner_id = ? OR partner_id = ?) AND status IN (`+placeholders+`)
		ORDER BY start_time DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list user sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectSessions(rows)
}

// Subscribe registers a change callback for one session.
func (s *Store) Subscribe(sessionID string, onChange func(*types.Session)) func() {
	return s.feed.subscribe(sessionID, onChange)
}

// loadForFeed fetches the fresh record for feed dispatch.
func (s *Store) loadForFeed(sessionID string) (*types.Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.GetSession(ctx, sessionID)
}

func scanSession(scanner interface{ Scan(...any) error }) (*types.Session, error) {
	var session types.Session
	var partnerID sql.NullString
	var participantsJSON string
	var endedAt sql.NullTime

	err := scanner.Scan(
		&session.ID, &session.OwnerID, &session.OwnerName, &session.OwnerPhotoURL,
		&partnerID, &session.PartnerName, &session.PartnerPhotoURL, &participantsJSON,
		&session.StartTime, &session.DurationMinutes, &session.Goal, &session.Subject,
		&session.ExamTrack, &session.StudyLevel, &session.StudyMode, &session.Region,
		&session.Status, &session.CreatedAt, &endedAt,
		&session.ActualDurationMinutes, &session.CompletedBy,
	)
	if err != nil {
		return nil, err
	}

	if partnerID.Valid && partnerID.String != "" {
		session.PartnerID = &partnerID.String
	}
	if endedAt.Valid {
		t := endedAt.Time
		session.EndedAt = &t
	}
	if err := json.Unmarshal([]byte(participantsJSON), &session.Participants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal participants: %w", err)
	}

	return &session, nil
}

func collectSessions(rows *sql.Rows) ([]*types.Session, error) {
	var sessions []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}
