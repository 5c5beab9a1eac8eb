// Package redis provides a Redis-based cursor store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const prefixCursor = "statusaggregator:cursor:"

// Config contains Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// CursorStore implements store.CursorStore using Redis.
type CursorStore struct {
	client *redis.Client
}

// NewCursorStore creates a Redis-backed cursor store and verifies the connection.
func NewCursorStore(ctx context.Context, cfg Config) (*CursorStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &CursorStore{client: client}, nil
}

func cursorKey(name string) string {
	return prefixCursor + name
}

// GetCursor returns a stored cursor or the zero time.
func (s *CursorStore) GetCursor(ctx context.Context, name string) (time.Time, error) {
	raw, err := s.client.Get(ctx, cursorKey(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("get cursor: %w", err)
	}

	value, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cursor %q: %w", name, err)
	}
	return value.UTC(), nil
}

// SetCursor stores a cursor without expiration.
func (s *CursorStore) SetCursor(ctx context.Context, name string, value time.Time) error {
	if err := s.client.Set(ctx, cursorKey(name), value.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

// DeleteCursors removes every cursor key.
func (s *CursorStore) DeleteCursors(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, prefixCursor+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cursors: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete cursors: %w", err)
	}
	return nil
}

// Ping verifies the connection.
func (s *CursorStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *CursorStore) Close() error {
	return s.client.Close()
}
