package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lookout-server/internal/model"
)

// Sessions is the streaming-session state machine: NoSession -> Active ->
// Stopped per row, at most one active row per user. All transitions ride
// on the store's conditional writes so racing callers converge.
type Sessions struct {
	store  SessionStore
	events EventPublisher
	logger *zap.Logger
	now    func() int64
	newID  func() string
}

func NewSessions(store SessionStore, events EventPublisher, logger *zap.Logger) *Sessions {
	return &Sessions{
		store:  store,
		events: events,
		logger: logger,
		now:    func() int64 { return time.Now().UnixMilli() },
		newID:  uuid.NewString,
	}
}

// Start opens a session for the user. A start while one is already active
// is a no-op success: duplicate start signals are expected under retry.
func (m *Sessions) Start(ctx context.Context, userID string) (bool, error) {
	now := m.now()
	id := m.newID()
	created, err := m.store.StartSession(ctx, id, userID, now)
	if err != nil {
		return false, err
	}
	if !created {
		return false, nil
	}

	m.logger.Info("session started", zap.String("userId", userID), zap.String("sessionId", id))
	m.publish(ctx, SessionEvent{UserID: userID, SessionID: id, Action: "started", At: now})
	return true, nil
}

// Stop ends the user's active session with the given reason. No active
// session is a no-op success: disconnect-triggered stops race naturally
// with command-triggered ones and the first writer wins.
func (m *Sessions) Stop(ctx context.Context, userID string, reason model.StopReason) (bool, error) {
	now := m.now()
	stopped, err := m.store.StopSession(ctx, userID, reason, now)
	if err != nil {
		return false, err
	}
	if !stopped {
		return false, nil
	}

	m.logger.Info("session stopped", zap.String("userId", userID), zap.String("reason", string(reason)))
	m.publish(ctx, SessionEvent{UserID: userID, Action: "stopped", Reason: reason, At: now})
	return true, nil
}

// Active returns the user's active session, or nil.
func (m *Sessions) Active(ctx context.Context, userID string) (*model.StreamingSession, error) {
	return m.store.ActiveSession(ctx, userID)
}

func (m *Sessions) publish(ctx context.Context, ev SessionEvent) {
	if m.events == nil {
		return
	}
	tryBestEffort(m.logger, "session event", func() error {
		return m.events.PublishSessionChange(ctx, ev)
	}, zap.String("userId", ev.UserID))
}
