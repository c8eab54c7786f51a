package store

import (
	"context"
	"database/sql"
	"fmt"

	"lookout-server/internal/model"
)

// StartSession inserts a new session unless the user already has an active
// one. Returns true when a row was created; false is the idempotent no-op
// for duplicate start signals.
func (s *Store) StartSession(ctx context.Context, id, userID string, at int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO streaming_sessions (id, user_id, started_at)
		 SELECT ?, ?, ?
		 WHERE NOT EXISTS (SELECT 1 FROM streaming_sessions WHERE user_id = ? AND stopped_at IS NULL)`,
		id, userID, at, userID,
	)
	if err != nil {
		return false, fmt.Errorf("start session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("start session: %w", err)
	}
	return n > 0, nil
}

// StopSession ends the active session for a user. The WHERE stopped_at IS
// NULL guard means only the first of two racing stops writes its reason;
// the loser observes zero rows and returns false.
func (s *Store) StopSession(ctx context.Context, userID string, reason model.StopReason, at int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE streaming_sessions SET stopped_at = ?, stop_reason = ?
		 WHERE user_id = ? AND stopped_at IS NULL`,
		at, reason, userID,
	)
	if err != nil {
		return false, fmt.Errorf("stop session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("stop session: %w", err)
	}
	return n > 0, nil
}

// ActiveSession returns the user's active session, or nil.
func (s *Store) ActiveSession(ctx context.Context, userID string) (*model.StreamingSession, error) {
	var sess model.StreamingSession
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, started_at, stopped_at, stop_reason FROM streaming_sessions
		 WHERE user_id = ? AND stopped_at IS NULL`,
		userID,
	).Scan(&sess.ID, &sess.UserID, &sess.StartedAt, &sess.StoppedAt, &sess.StopReason)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read active session: %w", err)
	}
	return &sess, nil
}

// ListSessions returns a user's session rows, newest first.
func (s *Store) ListSessions(ctx context.Context, userID string, limit int) ([]model.StreamingSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, started_at, stopped_at, stop_reason FROM streaming_sessions
		 WHERE user_id = ? ORDER BY started_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var result []model.StreamingSession
	for rows.Next() {
		var sess model.StreamingSession
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.StartedAt, &sess.StoppedAt, &sess.StopReason); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		result = append(result, sess)
	}
	return result, rows.Err()
}
