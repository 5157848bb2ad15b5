package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"driftline/server/internal/state"
)

// playersKey is the hash holding one JSON record per display name.
const playersKey = "driftline:players"

// RedisBackend stores records as JSON blobs in a single Redis hash.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend opens a Redis client for the given URL. key, when set,
// overrides the password carried by the URL.
func NewRedisBackend(rawURL, key string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if key != "" {
		opts.Password = key
	}
	return &RedisBackend{client: redis.NewClient(opts)}, nil
}

func (r *RedisBackend) Name() string { return "redis" }

func (r *RedisBackend) Load(ctx context.Context, name string) (Record, string, bool, error) {
	data, err := r.client.HGet(ctx, playersKey, name).Result()
	if err == nil {
		rec, decodeErr := decodeRecord([]byte(data))
		if decodeErr != nil {
			return Record{}, "", false, decodeErr
		}
		return rec, name, true, nil
	}
	if err != redis.Nil {
		return Record{}, "", false, fmt.Errorf("redis hget: %w", err)
	}

	// Exact casing missed; scan the hash for a case-insensitive match.
	all, err := r.client.HGetAll(ctx, playersKey).Result()
	if err != nil {
		return Record{}, "", false, fmt.Errorf("redis hgetall: %w", err)
	}
	for stored, raw := range all {
		if !state.NamesEqualFold(stored, name) {
			continue
		}
		rec, decodeErr := decodeRecord([]byte(raw))
		if decodeErr != nil {
			return Record{}, "", false, decodeErr
		}
		return rec, stored, true, nil
	}
	return Record{}, "", false, nil
}

func (r *RedisBackend) Save(ctx context.Context, name string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := r.client.HSet(ctx, playersKey, name, data).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}

func decodeRecord(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
