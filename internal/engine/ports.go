package engine

import (
	"context"

	"lookout-server/internal/model"
)

// Gateway is the realtime transport consumed by the engine. Delivery is
// best-effort, at-most-once per attempt; the live-connection registry is
// eventually consistent.
type Gateway interface {
	Broadcast(group string, payload []byte) error
	SendToUser(userID string, payload []byte) error
	ListLiveConnections() ([]string, error)
}

// PresenceStore is the durable presence state the tracker mutates.
type PresenceStore interface {
	UpsertStatus(ctx context.Context, userID string, status model.PresenceStatus, at int64) (model.PresenceStatus, error)
	GetPresence(ctx context.Context, userID string) (model.PresenceRecord, error)
	ListOnline(ctx context.Context) ([]model.PresenceRecord, error)
	OpenHistory(ctx context.Context, userID string, at int64) (bool, error)
	CloseHistory(ctx context.Context, userID string, at int64) (bool, error)
}

// SessionStore persists streaming sessions behind conditional writes.
type SessionStore interface {
	StartSession(ctx context.Context, id, userID string, at int64) (bool, error)
	StopSession(ctx context.Context, userID string, reason model.StopReason, at int64) (bool, error)
	ActiveSession(ctx context.Context, userID string) (*model.StreamingSession, error)
}

// CommandStore persists issued commands and their acknowledgment state.
type CommandStore interface {
	InsertCommand(ctx context.Context, cmd model.PendingCommand) error
	MarkPublished(ctx context.Context, commandID string, at int64) error
	Acknowledge(ctx context.Context, commandIDs []string) (int, error)
	AcknowledgeStale(ctx context.Context, issuedBefore int64) (int, error)
	ListPending(ctx context.Context, userID string) ([]model.PendingCommand, error)
}

// PresenceCache is an optional write-through cache for presence lookups by
// other services. Failures are swallowed; the store stays authoritative.
type PresenceCache interface {
	SetStatus(ctx context.Context, userID string, status model.PresenceStatus, at int64) error
}

// PresenceEvent describes a status flip for downstream consumers.
type PresenceEvent struct {
	UserID    string               `json:"userId"`
	OldStatus model.PresenceStatus `json:"oldStatus"`
	NewStatus model.PresenceStatus `json:"newStatus"`
	At        int64                `json:"at"`
}

// SessionEvent describes a session start or stop.
type SessionEvent struct {
	UserID    string           `json:"userId"`
	SessionID string           `json:"sessionId"`
	Action    string           `json:"action"` // "started" or "stopped"
	Reason    model.StopReason `json:"reason,omitempty"`
	At        int64            `json:"at"`
}

// EventPublisher streams engine events to an external bus. Optional; all
// call sites tolerate a nil publisher and swallow publish failures.
type EventPublisher interface {
	PublishPresenceChange(ctx context.Context, ev PresenceEvent) error
	PublishSessionChange(ctx context.Context, ev SessionEvent) error
}
