package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/restobill/renewals/internal/domain"
)

type SubscriptionReader interface {
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	ListTransactions(ctx context.Context, subscriptionID string, limit int) ([]domain.Transaction, error)
}

type Onboarder interface {
	CreateFreeSubscription(ctx context.Context, tenantID, currency string) (*domain.Subscription, error)
}

type PlanChanger interface {
	ScheduleDowngrade(ctx context.Context, subscriptionID string, target domain.PlanTier) (*domain.Subscription, error)
	CancelScheduledDowngrade(ctx context.Context, subscriptionID string) (*domain.Subscription, error)
}

type SubscriptionHandler struct {
	store    SubscriptionReader
	onboard  Onboarder
	plans    PlanChanger
	currency string
}

func NewSubscriptionHandler(s SubscriptionReader, o Onboarder, p PlanChanger, currency string) *SubscriptionHandler {
	return &SubscriptionHandler{store: s, onboard: o, plans: p, currency: currency}
}

type createSubscriptionRequest struct {
	TenantID string `json:"tenant_id"`
	Currency string `json:"currency"`
}

// Create onboards a tenant on the free tier.
func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TenantID == "" {
		respondError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	if req.Currency == "" {
		req.Currency = h.currency
	}

	sub, err := h.onboard.CreateFreeSubscription(r.Context(), req.TenantID, req.Currency)
	if err != nil {
		respondDomainError(w, err, "failed to create subscription")
		return
	}

	respondJSON(w, http.StatusCreated, sub)
}

func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.store.GetSubscription(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get subscription")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	respondJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	sub, err := h.store.GetSubscription(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get subscription")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	txs, err := h.store.ListTransactions(r.Context(), id, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}

	respondJSON(w, http.StatusOK, txs)
}

type scheduleDowngradeRequest struct {
	TargetTier string `json:"target_tier"`
}

func (h *SubscriptionHandler) ScheduleDowngrade(w http.ResponseWriter, r *http.Request) {
	var req scheduleDowngradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.plans.ScheduleDowngrade(r.Context(), chi.URLParam(r, "id"), domain.PlanTier(req.TargetTier))
	if err != nil {
		respondDomainError(w, err, "failed to schedule downgrade")
		return
	}

	respondJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) CancelScheduledDowngrade(w http.ResponseWriter, r *http.Request) {
	sub, err := h.plans.CancelScheduledDowngrade(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err, "failed to cancel scheduled downgrade")
		return
	}

	respondJSON(w, http.StatusOK, sub)
}
