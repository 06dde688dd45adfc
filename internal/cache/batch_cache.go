// Package cache keeps the latest refund batch snapshot in Redis so status
// polling does not hit the database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fundflow/internal/domain"
	"fundflow/internal/port"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix       = "fundflow:refund_batch:"
	maxWatchRetries = 3
)

// Connect accepts a redis:// URL or a bare host:port.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

type RedisBatchCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ port.BatchCache = (*RedisBatchCache)(nil)

func NewRedisBatchCache(client *redis.Client, ttl time.Duration) *RedisBatchCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisBatchCache{client: client, ttl: ttl}
}

func batchKey(id uuid.UUID) string {
	return keyPrefix + id.String()
}

func (c *RedisBatchCache) Get(ctx context.Context, id uuid.UUID) (*domain.RefundBatch, error) {
	raw, err := c.client.Get(ctx, batchKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

// Put stores b unless the cache already holds a newer snapshot. Outcomes of
// one batch settle concurrently, so writes can arrive out of order; a write
// that loses the WATCH race is re-evaluated against the winner.
func (c *RedisBatchCache) Put(ctx context.Context, b *domain.RefundBatch) error {
	payload, err := encode(b)
	if err != nil {
		return err
	}
	key := batchKey(b.ID)

	put := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			current, decodeErr := decode(raw)
			if decodeErr == nil && !newer(b, current) {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, payload, c.ttl)
			return nil
		})
		return err
	}
	for range maxWatchRetries {
		err = c.client.Watch(ctx, put, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("put batch snapshot %s: %w", b.ID, err)
}

// Delete drops the snapshot so the next read goes to the database.
func (c *RedisBatchCache) Delete(ctx context.Context, id uuid.UUID) error {
	return c.client.Del(ctx, batchKey(id)).Err()
}

func newer(candidate, current *domain.RefundBatch) bool {
	return current == nil || !candidate.UpdatedAt.Before(current.UpdatedAt)
}

func encode(b *domain.RefundBatch) ([]byte, error) {
	payload, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode batch snapshot: %w", err)
	}
	return payload, nil
}

func decode(raw []byte) (*domain.RefundBatch, error) {
	var b domain.RefundBatch
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode batch snapshot: %w", err)
	}
	return &b, nil
}
