package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a sliding-window limiter shared by every process talking to
// the gateway. A sorted set holds one member per call scored by its timestamp;
// a Lua script trims, counts and admits atomically.
type RateLimiter struct {
	redisClient *redis.Client
	logger      *slog.Logger
	script      *redis.Script
	pollEvery   time.Duration
}

var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('EXPIRE', key, window / 1000 + 1)
    return 1
else
    return 0
end
`)

func NewRateLimiter(redisClient *redis.Client, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		logger:      logger,
		script:      slidingWindowScript,
		pollEvery:   50 * time.Millisecond,
	}
}

func rlKey(name string) string {
	return fmt.Sprintf("rl:%s", name)
}

// Allow reports whether one more call fits in the current one-second window.
func (rl *RateLimiter) Allow(ctx context.Context, name string, limit int) bool {
	if limit <= 0 {
		return true
	}

	key := rlKey(name)
	now := time.Now().UnixMilli()
	window := int64(1000)
	member := fmt.Sprintf("%d:%d", now, time.Now().UnixNano()%100000)

	result, err := rl.script.Run(ctx, rl.redisClient, []string{key},
		now, window, limit, member,
	).Int64()
	if err != nil {
		rl.logger.Error("rate limiter script failed", "error", err, "limiter", name)
		return true // fail open
	}

	return result == 1
}

// Wait blocks until a call is admitted or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, name string, limit int) error {
	for {
		if rl.Allow(ctx, name, limit) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rl.pollEvery):
		}
	}
}

// RateLimitedClient throttles every gateway call to perSecond across processes.
type RateLimitedClient struct {
	next      Client
	limiter   *RateLimiter
	perSecond int
}

const gatewayLimiterName = "gateway"

// NewRateLimitedClient wraps next. perSecond <= 0 disables throttling.
func NewRateLimitedClient(next Client, limiter *RateLimiter, perSecond int) *RateLimitedClient {
	return &RateLimitedClient{next: next, limiter: limiter, perSecond: perSecond}
}

func (c *RateLimitedClient) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx, gatewayLimiterName, c.perSecond); err != nil {
		return newError(KindTransport, "waiting for gateway rate limit", err)
	}
	return nil
}

func (c *RateLimitedClient) DefaultCard(ctx context.Context, customerRef string) (*Card, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.next.DefaultCard(ctx, customerRef)
}

func (c *RateLimitedClient) TokenizeCard(ctx context.Context, customerRef, cardID, cardholderName string) (*Token, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.next.TokenizeCard(ctx, customerRef, cardID, cardholderName)
}

func (c *RateLimitedClient) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.next.Charge(ctx, req)
}
