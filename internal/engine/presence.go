package engine

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"lookout-server/internal/model"
)

// PresenceGroup is the transport group carrying presence deltas to
// dashboard consumers.
const PresenceGroup = "presence"

// Tracker owns online/offline transitions, history bookkeeping, and the
// broadcast of presence deltas. The store write is the source of truth;
// broadcast, cache, and event publishing are best-effort side effects.
type Tracker struct {
	store   PresenceStore
	gateway Gateway
	cache   PresenceCache
	events  EventPublisher
	logger  *zap.Logger
	now     func() int64
}

func NewTracker(store PresenceStore, gateway Gateway, cache PresenceCache, events EventPublisher, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:   store,
		gateway: gateway,
		cache:   cache,
		events:  events,
		logger:  logger,
		now:     func() int64 { return time.Now().UnixMilli() },
	}
}

type presenceDelta struct {
	Type          string               `json:"type"`
	UserID        string               `json:"userId"`
	Status        model.PresenceStatus `json:"status"`
	LastChangedAt int64                `json:"lastChangedAt"`
}

// SetOnline flips a user Online. Idempotent: a second call while already
// online keeps the open history entry and simply re-broadcasts.
func (t *Tracker) SetOnline(ctx context.Context, userID string) error {
	now := t.now()
	prev, err := t.store.UpsertStatus(ctx, userID, model.StatusOnline, now)
	if err != nil {
		return err
	}
	if _, err := t.store.OpenHistory(ctx, userID, now); err != nil {
		return err
	}

	t.finish(ctx, userID, prev, model.StatusOnline, now)
	return nil
}

// SetOffline flips a user Offline and closes any open history entry. An
// already-offline user still gets a broadcast so consumers that missed the
// first delta converge.
func (t *Tracker) SetOffline(ctx context.Context, userID string) error {
	now := t.now()
	prev, err := t.store.UpsertStatus(ctx, userID, model.StatusOffline, now)
	if err != nil {
		return err
	}
	if _, err := t.store.CloseHistory(ctx, userID, now); err != nil {
		return err
	}

	t.finish(ctx, userID, prev, model.StatusOffline, now)
	return nil
}

// StatusOf returns the user's current presence, Offline when never seen.
func (t *Tracker) StatusOf(ctx context.Context, userID string) (model.PresenceRecord, error) {
	return t.store.GetPresence(ctx, userID)
}

func (t *Tracker) finish(ctx context.Context, userID string, prev, status model.PresenceStatus, at int64) {
	fields := []zap.Field{zap.String("userId", userID), zap.String("status", string(status))}

	payload, err := json.Marshal(presenceDelta{Type: "presence", UserID: userID, Status: status, LastChangedAt: at})
	if err == nil {
		tryBestEffort(t.logger, "presence broadcast", func() error {
			return t.gateway.Broadcast(PresenceGroup, payload)
		}, fields...)
	}

	if t.cache != nil {
		tryBestEffort(t.logger, "presence cache", func() error {
			return t.cache.SetStatus(ctx, userID, status, at)
		}, fields...)
	}

	if t.events != nil && prev != status {
		ev := PresenceEvent{UserID: userID, OldStatus: prev, NewStatus: status, At: at}
		tryBestEffort(t.logger, "presence event", func() error {
			return t.events.PublishPresenceChange(ctx, ev)
		}, fields...)
	}
}
