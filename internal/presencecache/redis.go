package presencecache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"lookout-server/internal/model"
)

const (
	keyPrefix = "lookout:presence:"
	// Entries expire on their own so a wedged server never leaves a user
	// cached online forever.
	ttl = 3 * time.Minute
)

type cachedPresence struct {
	UserID        string               `json:"userId"`
	Status        model.PresenceStatus `json:"status"`
	LastChangedAt int64                `json:"lastChangedAt"`
}

// Cache is a write-through presence mirror in Redis for cheap reads by
// other services. The relational store stays authoritative; every write
// here is best-effort.
type Cache struct {
	client *redis.Client
}

func New(addr string) *Cache {
	return &Cache{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (c *Cache) SetStatus(ctx context.Context, userID string, status model.PresenceStatus, at int64) error {
	data, err := json.Marshal(cachedPresence{UserID: userID, Status: status, LastChangedAt: at})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+userID, data, ttl).Err()
}

// GetStatus reads a cached presence entry. Missing keys report Offline,
// matching the store's default for unknown users.
func (c *Cache) GetStatus(ctx context.Context, userID string) (model.PresenceRecord, error) {
	data, err := c.client.Get(ctx, keyPrefix+userID).Result()
	if err == redis.Nil {
		return model.PresenceRecord{UserID: userID, Status: model.StatusOffline}, nil
	}
	if err != nil {
		return model.PresenceRecord{}, err
	}
	var cached cachedPresence
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		return model.PresenceRecord{}, err
	}
	return model.PresenceRecord{UserID: cached.UserID, Status: cached.Status, LastChangedAt: cached.LastChangedAt}, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}
