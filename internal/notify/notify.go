// Package notify hands renewal reminders to whatever delivers them.
// Rendering and sending the reminder is owned by the mailer that drains the queue.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReminderQueueKey is the Redis list the mailer consumes.
const ReminderQueueKey = "dunning:reminders"

// ReminderJob describes an upcoming renewal charge.
type ReminderJob struct {
	SubscriptionID string    `json:"subscription_id"`
	TenantID       string    `json:"tenant_id"`
	PlanTier       string    `json:"plan_tier"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	RenewsAt       time.Time `json:"renews_at"`
	QueuedAt       time.Time `json:"queued_at"`
}

type Notifier interface {
	QueueRenewalReminder(ctx context.Context, job ReminderJob) error
}

// RedisQueueNotifier pushes reminders onto a Redis list.
type RedisQueueNotifier struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisQueueNotifier(client *redis.Client, logger *slog.Logger) *RedisQueueNotifier {
	return &RedisQueueNotifier{client: client, logger: logger}
}

func (n *RedisQueueNotifier) QueueRenewalReminder(ctx context.Context, job ReminderJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling reminder: %w", err)
	}
	if err := n.client.LPush(ctx, ReminderQueueKey, data).Err(); err != nil {
		return fmt.Errorf("enqueueing reminder: %w", err)
	}
	n.logger.Debug("renewal reminder queued",
		"subscription_id", job.SubscriptionID,
		"tenant_id", job.TenantID,
	)
	return nil
}

// QueueDepth returns the number of reminders not yet consumed.
func (n *RedisQueueNotifier) QueueDepth(ctx context.Context) (int64, error) {
	return n.client.LLen(ctx, ReminderQueueKey).Result()
}

// LogNotifier only logs reminders. Used when no mailer is attached.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) QueueRenewalReminder(_ context.Context, job ReminderJob) error {
	n.logger.Info("renewal reminder",
		"subscription_id", job.SubscriptionID,
		"tenant_id", job.TenantID,
		"plan_tier", job.PlanTier,
		"amount", job.Amount,
		"renews_at", job.RenewsAt,
	)
	return nil
}
