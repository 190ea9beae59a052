package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	eventKeyPrefix = "searchsync:events:"
	docKeyPrefix   = "searchsync:docs:"
)

// versionRecord is the stored per-document state.
type versionRecord struct {
	Version   int64     `json:"version"`
	AppliedAt time.Time `json:"applied_at"`
}

// RedisStore implements Store on Redis with a TTL per record, shared by
// all engine instances. The TTL bounds the dedup window: an event
// redelivered after the window is re-checked against the index version
// instead.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed guard store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
	}
}

// Seen implements Store.
func (s *RedisStore) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, eventKeyPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("redis check event: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed implements Store.
func (s *RedisStore) MarkProcessed(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal event record: %w", err)
	}

	if err := s.client.Set(ctx, eventKeyPrefix+rec.EventID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis mark event: %w", err)
	}
	return nil
}

// LatestVersion implements Store.
func (s *RedisStore) LatestVersion(ctx context.Context, docID string) (int64, error) {
	data, err := s.client.Get(ctx, docKeyPrefix+docID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("redis get doc version: %w", err)
	}

	var rec versionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, fmt.Errorf("unmarshal doc version: %w", err)
	}

	return rec.Version, nil
}

// SetVersion implements Store.
func (s *RedisStore) SetVersion(ctx context.Context, docID string, version int64) error {
	data, err := json.Marshal(versionRecord{Version: version, AppliedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal doc version: %w", err)
	}

	if err := s.client.Set(ctx, docKeyPrefix+docID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set doc version: %w", err)
	}

	return nil
}
