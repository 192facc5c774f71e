package api

import (
	"context"
	"net/http"
	"time"

	"github.com/restobill/renewals/internal/store"
)

type StatsReader interface {
	GetBillingStats(ctx context.Context, now time.Time) (*store.BillingStats, error)
}

type PendingReader interface {
	PendingEnforcements(ctx context.Context) ([]string, error)
}

type ReminderQueue interface {
	QueueDepth(ctx context.Context) (int64, error)
}

type ClientCounter interface {
	ClientCount() int
}

type DashboardHandler struct {
	stats     StatsReader
	pending   PendingReader
	reminders ReminderQueue
	hub       ClientCounter
	now       func() time.Time
}

func NewDashboardHandler(s StatsReader, p PendingReader, q ReminderQueue, hub ClientCounter) *DashboardHandler {
	return &DashboardHandler{stats: s, pending: p, reminders: q, hub: hub, now: time.Now}
}

// Stats returns aggregated billing figures for the operator dashboard.
func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.GetBillingStats(r.Context(), h.now())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get billing stats")
		return
	}

	var pendingCount int
	if h.pending != nil {
		if tenants, err := h.pending.PendingEnforcements(r.Context()); err == nil {
			pendingCount = len(tenants)
		}
	}

	var queueDepth int64
	if h.reminders != nil {
		if depth, err := h.reminders.QueueDepth(r.Context()); err == nil {
			queueDepth = depth
		}
	}

	var clients int
	if h.hub != nil {
		clients = h.hub.ClientCount()
	}

	type statsResponse struct {
		store.BillingStats
		PendingEnforcements int   `json:"pending_enforcements"`
		ReminderQueueDepth  int64 `json:"reminder_queue_depth"`
		WebSocketClients    int   `json:"websocket_clients"`
	}

	respondJSON(w, http.StatusOK, statsResponse{
		BillingStats:        *stats,
		PendingEnforcements: pendingCount,
		ReminderQueueDepth:  queueDepth,
		WebSocketClients:    clients,
	})
}
