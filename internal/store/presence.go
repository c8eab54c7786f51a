package store

import (
	"context"
	"database/sql"
	"fmt"

	"lookout-server/internal/model"
)

// UpsertStatus writes the current status for a user, creating the row on
// first sight. Returns the previous status (Offline when no row existed).
func (s *Store) UpsertStatus(ctx context.Context, userID string, status model.PresenceStatus, at int64) (model.PresenceStatus, error) {
	prev := model.StatusOffline
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM presence WHERE user_id = ?`, userID,
	).Scan(&prev)
	if err != nil && err != sql.ErrNoRows {
		return prev, fmt.Errorf("read presence: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO presence (user_id, status, last_changed_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET status = excluded.status, last_changed_at = excluded.last_changed_at`,
		userID, status, at,
	)
	if err != nil {
		return prev, fmt.Errorf("upsert presence: %w", err)
	}
	return prev, nil
}

// GetPresence returns the presence row for a user. Users never seen before
// default to Offline.
func (s *Store) GetPresence(ctx context.Context, userID string) (model.PresenceRecord, error) {
	rec := model.PresenceRecord{UserID: userID, Status: model.StatusOffline}
	err := s.db.QueryRowContext(ctx,
		`SELECT status, last_changed_at FROM presence WHERE user_id = ?`, userID,
	).Scan(&rec.Status, &rec.LastChangedAt)
	if err == sql.ErrNoRows {
		return rec, nil
	}
	if err != nil {
		return rec, fmt.Errorf("read presence: %w", err)
	}
	return rec, nil
}

// ListOnline returns every presence row currently marked Online.
func (s *Store) ListOnline(ctx context.Context) ([]model.PresenceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, status, last_changed_at FROM presence WHERE status = ? ORDER BY user_id`,
		model.StatusOnline,
	)
	if err != nil {
		return nil, fmt.Errorf("list online: %w", err)
	}
	defer rows.Close()

	var result []model.PresenceRecord
	for rows.Next() {
		var rec model.PresenceRecord
		if err := rows.Scan(&rec.UserID, &rec.Status, &rec.LastChangedAt); err != nil {
			return nil, fmt.Errorf("scan presence: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// OpenHistory opens a new online interval unless one is already open for
// the user. Returns true when a new entry was created. The guarded insert
// keeps the at-most-one-open invariant under concurrent callers.
func (s *Store) OpenHistory(ctx context.Context, userID string, at int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO presence_history (user_id, started_at)
		 SELECT ?, ?
		 WHERE NOT EXISTS (SELECT 1 FROM presence_history WHERE user_id = ? AND ended_at IS NULL)`,
		userID, at, userID,
	)
	if err != nil {
		return false, fmt.Errorf("open history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("open history: %w", err)
	}
	return n > 0, nil
}

// CloseHistory ends the open interval for a user if one exists. Returns
// true when an entry was closed; false means nothing was open, which is a
// benign race, not an error.
func (s *Store) CloseHistory(ctx context.Context, userID string, at int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE presence_history SET ended_at = ? WHERE user_id = ? AND ended_at IS NULL`,
		at, userID,
	)
	if err != nil {
		return false, fmt.Errorf("close history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("close history: %w", err)
	}
	return n > 0, nil
}

// OpenHistoryEntry returns the open interval for a user, or nil.
func (s *Store) OpenHistoryEntry(ctx context.Context, userID string) (*model.PresenceHistoryEntry, error) {
	var entry model.PresenceHistoryEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, started_at, ended_at FROM presence_history
		 WHERE user_id = ? AND ended_at IS NULL`,
		userID,
	).Scan(&entry.ID, &entry.UserID, &entry.StartedAt, &entry.EndedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read open history: %w", err)
	}
	return &entry, nil
}

// ListHistory returns the most recent intervals for a user, newest first.
func (s *Store) ListHistory(ctx context.Context, userID string, limit int) ([]model.PresenceHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, started_at, ended_at FROM presence_history
		 WHERE user_id = ? ORDER BY started_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var result []model.PresenceHistoryEntry
	for rows.Next() {
		var entry model.PresenceHistoryEntry
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.StartedAt, &entry.EndedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
