package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/masterdata/model"
)

// RedisStore is a Redis-backed Store. Keys have the form
// "masterdata:view:{id}" and expire ttl after their last save.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store. A non-positive ttl keeps
// records until they are deleted.
func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(id string) string {
	return "masterdata:view:" + id
}

// Save stores rec as JSON.
func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal view session: %w", err)
	}
	ttl := s.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, redisKey(rec.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", rec.ID, err)
	}
	return nil
}

// Load retrieves a record by ID, scoped to tenant.
func (s *RedisStore) Load(ctx context.Context, tenantID, id string) (Record, error) {
	raw, err := s.client.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, notFound(id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("redis get %q: %w", id, err)
	}

	var rec Record
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal view session %q: %w", id, err)
	}
	if rec.TenantID != tenantID {
		return Record{}, notFound(id)
	}
	return rec, nil
}

// Delete removes a record after checking its tenant.
func (s *RedisStore) Delete(ctx context.Context, tenantID, id string) error {
	if _, err := s.Load(ctx, tenantID, id); err != nil {
		if model.HasCode(err, model.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.client.Del(ctx, redisKey(id)).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", id, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
