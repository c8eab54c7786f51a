package store

import (
	"context"
	"database/sql"
	"fmt"

	"lookout-server/internal/model"
)

// InsertCommand persists a freshly issued command as unacknowledged.
func (s *Store) InsertCommand(ctx context.Context, cmd model.PendingCommand) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_commands (id, target_user_id, command_type, reason, issued_at, acknowledged)
		 VALUES (?, ?, ?, ?, ?, 0)`,
		cmd.ID, cmd.TargetUserID, cmd.Type, cmd.Reason, cmd.IssuedAt,
	)
	if err != nil {
		return fmt.Errorf("insert command: %w", err)
	}
	return nil
}

// MarkPublished records the broadcast attempt time for a command.
func (s *Store) MarkPublished(ctx context.Context, commandID string, at int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pending_commands SET published_at = ? WHERE id = ?`,
		at, commandID,
	)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

// Acknowledge marks the given commands acknowledged and returns how many
// rows actually flipped. Unknown or already-acknowledged ids count zero;
// acknowledged is monotonic so the guard never un-acks.
func (s *Store) Acknowledge(ctx context.Context, commandIDs []string) (int, error) {
	total := 0
	for _, id := range commandIDs {
		res, err := s.db.ExecContext(ctx,
			`UPDATE pending_commands SET acknowledged = 1 WHERE id = ? AND acknowledged = 0`,
			id,
		)
		if err != nil {
			return total, fmt.Errorf("acknowledge command: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("acknowledge command: %w", err)
		}
		total += int(n)
	}
	return total, nil
}

// AcknowledgeStale bulk-acks unacknowledged commands issued before the
// cutoff. Used to retire commands whose clients are never coming back.
func (s *Store) AcknowledgeStale(ctx context.Context, issuedBefore int64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_commands SET acknowledged = 1 WHERE acknowledged = 0 AND issued_at < ?`,
		issuedBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("acknowledge stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("acknowledge stale: %w", err)
	}
	return int(n), nil
}

// GetCommand returns a command by id.
func (s *Store) GetCommand(ctx context.Context, commandID string) (model.PendingCommand, bool, error) {
	var cmd model.PendingCommand
	err := s.db.QueryRowContext(ctx,
		`SELECT id, target_user_id, command_type, reason, issued_at, acknowledged, published_at
		 FROM pending_commands WHERE id = ?`,
		commandID,
	).Scan(&cmd.ID, &cmd.TargetUserID, &cmd.Type, &cmd.Reason, &cmd.IssuedAt, &cmd.Acknowledged, &cmd.PublishedAt)
	if err == sql.ErrNoRows {
		return model.PendingCommand{}, false, nil
	}
	if err != nil {
		return model.PendingCommand{}, false, fmt.Errorf("read command: %w", err)
	}
	return cmd, true, nil
}

// ListPending returns a user's unacknowledged commands, oldest first, for
// redelivery on reconnect.
func (s *Store) ListPending(ctx context.Context, userID string) ([]model.PendingCommand, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, target_user_id, command_type, reason, issued_at, acknowledged, published_at
		 FROM pending_commands WHERE target_user_id = ? AND acknowledged = 0 ORDER BY issued_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var result []model.PendingCommand
	for rows.Next() {
		var cmd model.PendingCommand
		if err := rows.Scan(&cmd.ID, &cmd.TargetUserID, &cmd.Type, &cmd.Reason, &cmd.IssuedAt, &cmd.Acknowledged, &cmd.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		result = append(result, cmd)
	}
	return result, rows.Err()
}
