package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedis(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

const pendingEnforcementKey = "entitlements:pending"

// AddPendingEnforcement records a tenant whose entitlement cascade failed after
// its downgrade was committed.
func (s *RedisStore) AddPendingEnforcement(ctx context.Context, tenantID string) error {
	if err := s.client.SAdd(ctx, pendingEnforcementKey, tenantID).Err(); err != nil {
		return fmt.Errorf("adding pending enforcement: %w", err)
	}
	return nil
}

// PendingEnforcements returns every tenant awaiting a retried cascade.
func (s *RedisStore) PendingEnforcements(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, pendingEnforcementKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing pending enforcements: %w", err)
	}
	return members, nil
}

// RemovePendingEnforcement clears a tenant once its cascade succeeded.
func (s *RedisStore) RemovePendingEnforcement(ctx context.Context, tenantID string) error {
	if err := s.client.SRem(ctx, pendingEnforcementKey, tenantID).Err(); err != nil {
		return fmt.Errorf("removing pending enforcement: %w", err)
	}
	return nil
}
