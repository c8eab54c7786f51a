package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lookout-server/internal/model"
)

// CommandGroup returns the per-user transport group a client listens on
// for its own commands.
func CommandGroup(userID string) string {
	return "commands:" + userID
}

// Commands is the dispatch and acknowledgment pipeline. A command is
// persisted as pending, broadcast best-effort, and applied to the session
// machine immediately: the operator's intent holds even when the client
// never hears the broadcast. Acknowledgment feeds UI and audit only.
type Commands struct {
	store    CommandStore
	sessions *Sessions
	gateway  Gateway
	logger   *zap.Logger
	now      func() int64
	newID    func() string
}

func NewCommands(store CommandStore, sessions *Sessions, gateway Gateway, logger *zap.Logger) *Commands {
	return &Commands{
		store:    store,
		sessions: sessions,
		gateway:  gateway,
		logger:   logger,
		now:      func() int64 { return time.Now().UnixMilli() },
		newID:    uuid.NewString,
	}
}

type commandPayload struct {
	Type      string            `json:"type"`
	CommandID string            `json:"commandId"`
	Command   model.CommandType `json:"command"`
	Reason    string            `json:"reason,omitempty"`
	IssuedAt  int64             `json:"issuedAt"`
}

// Issue persists and dispatches a start/stop command for a user. The
// caller has already resolved and authorized the target.
func (p *Commands) Issue(ctx context.Context, targetUserID string, cmdType model.CommandType, reason string) (model.PendingCommand, error) {
	if targetUserID == "" {
		return model.PendingCommand{}, ErrMissingUserID
	}
	if cmdType != model.CommandStart && cmdType != model.CommandStop {
		return model.PendingCommand{}, fmt.Errorf("unknown command type %q", cmdType)
	}

	cmd := model.PendingCommand{
		ID:           p.newID(),
		TargetUserID: targetUserID,
		Type:         cmdType,
		Reason:       reason,
		IssuedAt:     p.now(),
	}
	if err := p.store.InsertCommand(ctx, cmd); err != nil {
		return model.PendingCommand{}, err
	}

	p.deliver(ctx, cmd, func(payload []byte) error {
		return p.gateway.Broadcast(CommandGroup(targetUserID), payload)
	})

	// Server-side transition applies regardless of acknowledgment.
	var err error
	switch cmdType {
	case model.CommandStop:
		_, err = p.sessions.Stop(ctx, targetUserID, model.StopReasonCommand)
	case model.CommandStart:
		_, err = p.sessions.Start(ctx, targetUserID)
	}
	if err != nil {
		return model.PendingCommand{}, err
	}

	p.logger.Info("command issued",
		zap.String("commandId", cmd.ID),
		zap.String("userId", targetUserID),
		zap.String("command", string(cmdType)))
	return cmd, nil
}

// Acknowledge marks commands acknowledged and returns the count that
// actually flipped. Unknown ids are ignored; clients retry acks after a
// reconnect and the duplicates must not error.
func (p *Commands) Acknowledge(ctx context.Context, commandIDs []string) (int, error) {
	n, err := p.store.Acknowledge(ctx, commandIDs)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Info("commands acknowledged", zap.Int("count", n))
	}
	return n, nil
}

// Redeliver re-sends a user's unacknowledged commands to their live
// connections. Called on reconnect to close the at-least-once loop.
func (p *Commands) Redeliver(ctx context.Context, userID string) (int, error) {
	pending, err := p.store.ListPending(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, cmd := range pending {
		p.deliver(ctx, cmd, func(payload []byte) error {
			return p.gateway.SendToUser(userID, payload)
		})
	}
	return len(pending), nil
}

// ExpireStale bulk-acknowledges commands older than the given age, so
// clients that are never coming back do not accumulate pending rows.
func (p *Commands) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	return p.store.AcknowledgeStale(ctx, p.now()-olderThan.Milliseconds())
}

func (p *Commands) deliver(ctx context.Context, cmd model.PendingCommand, send func([]byte) error) {
	payload, err := json.Marshal(commandPayload{
		Type:      "command",
		CommandID: cmd.ID,
		Command:   cmd.Type,
		Reason:    cmd.Reason,
		IssuedAt:  cmd.IssuedAt,
	})
	if err != nil {
		return
	}
	fields := []zap.Field{zap.String("commandId", cmd.ID), zap.String("userId", cmd.TargetUserID)}
	tryBestEffort(p.logger, "command broadcast", func() error {
		if err := send(payload); err != nil {
			return err
		}
		return p.store.MarkPublished(ctx, cmd.ID, p.now())
	}, fields...)
}
