package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyPrefix = "charge:idem:"

	// DefaultPendingTTL bounds how long a crashed in-flight charge blocks its key.
	DefaultPendingTTL = 15 * time.Minute
	// DefaultCompletedTTL keeps completed charges replayable for longer than one cycle.
	DefaultCompletedTTL = 35 * 24 * time.Hour
)

// IsDeferred reports whether err means another process holds the charge for
// this cycle and the caller should leave the subscription untouched until the
// next sweep.
func IsDeferred(err error) bool {
	return errors.Is(err, ErrChargeInFlight)
}

type chargeState string

const (
	statePending   chargeState = "pending"
	stateCompleted chargeState = "completed"
)

type chargeRecord struct {
	State  chargeState   `json:"state"`
	Result *ChargeResult `json:"result,omitempty"`
	At     time.Time     `json:"at"`
}

// IdempotentClient guards Charge with a Redis record keyed by the request's
// idempotency key, so one billing cycle can never be charged successfully twice
// even when several processes sweep at once.
type IdempotentClient struct {
	next         Client
	redisClient  *redis.Client
	logger       *slog.Logger
	pendingTTL   time.Duration
	completedTTL time.Duration
}

// NewIdempotentClient wraps next with a Redis-backed idempotency guard.
func NewIdempotentClient(next Client, redisClient *redis.Client, logger *slog.Logger) *IdempotentClient {
	return &IdempotentClient{
		next:         next,
		redisClient:  redisClient,
		logger:       logger,
		pendingTTL:   DefaultPendingTTL,
		completedTTL: DefaultCompletedTTL,
	}
}

func idemKey(key string) string {
	return idempotencyKeyPrefix + key
}

func (c *IdempotentClient) DefaultCard(ctx context.Context, customerRef string) (*Card, error) {
	return c.next.DefaultCard(ctx, customerRef)
}

func (c *IdempotentClient) TokenizeCard(ctx context.Context, customerRef, cardID, cardholderName string) (*Token, error) {
	return c.next.TokenizeCard(ctx, customerRef, cardID, cardholderName)
}

// Charge replays a completed charge for the same key, refuses while another
// charge for the key is in flight, and otherwise claims the key and charges.
// When Redis cannot be reached the charge goes straight to the processor, which
// deduplicates on the same key.
func (c *IdempotentClient) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.IdempotencyKey == "" {
		return c.next.Charge(ctx, req)
	}
	key := idemKey(req.IdempotencyKey)

	existing, err := c.load(ctx, key)
	if err != nil {
		return c.unguarded(ctx, req, err)
	}
	if existing != nil {
		return c.replay(req, existing)
	}

	pending, err := json.Marshal(chargeRecord{State: statePending, At: time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("encoding charge record: %w", err)
	}
	claimed, err := c.redisClient.SetNX(ctx, key, pending, c.pendingTTL).Result()
	if err != nil {
		return c.unguarded(ctx, req, fmt.Errorf("claiming key: %w", err))
	}
	if !claimed {
		// Lost the race between load and claim.
		existing, err := c.load(ctx, key)
		if err != nil || existing == nil {
			return nil, ErrChargeInFlight
		}
		return c.replay(req, existing)
	}

	result, err := c.next.Charge(ctx, req)
	if err != nil {
		if delErr := c.redisClient.Del(ctx, key).Err(); delErr != nil {
			c.logger.Error("failed to release idempotency key",
				"error", delErr,
				"idempotency_key", req.IdempotencyKey,
			)
		}
		return nil, err
	}

	completed, err := json.Marshal(chargeRecord{State: stateCompleted, Result: result, At: time.Now().UTC()})
	if err == nil {
		err = c.redisClient.Set(ctx, key, completed, c.completedTTL).Err()
	}
	if err != nil {
		// The charge went through; the processor-side key still deduplicates.
		c.logger.Error("failed to record completed charge",
			"error", err,
			"idempotency_key", req.IdempotencyKey,
			"order_id", result.OrderID,
		)
	}
	return result, nil
}

// unguarded charges without a Redis record. Nothing is stored afterwards.
func (c *IdempotentClient) unguarded(ctx context.Context, req ChargeRequest, cause error) (*ChargeResult, error) {
	c.logger.Warn("idempotency store unavailable, relying on processor key",
		"error", cause,
		"idempotency_key", req.IdempotencyKey,
	)
	return c.next.Charge(ctx, req)
}

func (c *IdempotentClient) load(ctx context.Context, key string) (*chargeRecord, error) {
	data, err := c.redisClient.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec chargeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt record: %w", err)
	}
	return &rec, nil
}

func (c *IdempotentClient) replay(req ChargeRequest, rec *chargeRecord) (*ChargeResult, error) {
	if rec.State != stateCompleted || rec.Result == nil {
		return nil, ErrChargeInFlight
	}
	c.logger.Info("replaying completed charge",
		"idempotency_key", req.IdempotencyKey,
		"order_id", rec.Result.OrderID,
	)
	result := *rec.Result
	result.Replayed = true
	return &result, nil
}
