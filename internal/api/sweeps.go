package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/restobill/renewals/internal/engine"
)

type SweepTrigger interface {
	Fire(ctx context.Context) (*engine.SweepReport, bool, error)
	Busy() bool
	LastReport() *engine.SweepReport
}

type SweepHandler struct {
	trigger SweepTrigger
	timeout time.Duration
	logger  *slog.Logger
}

func NewSweepHandler(t SweepTrigger, timeout time.Duration, logger *slog.Logger) *SweepHandler {
	return &SweepHandler{trigger: t, timeout: timeout, logger: logger}
}

type sweepErrorResponse struct {
	Error  string              `json:"error"`
	Report *engine.SweepReport `json:"report"`
}

// Run triggers a sweep and waits for it. A client disconnect does not abort the sweep.
func (h *SweepHandler) Run(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	h.logger.Info("manual sweep requested", "remote_addr", r.RemoteAddr)

	report, ran, err := h.trigger.Fire(ctx)
	if !ran {
		respondError(w, http.StatusConflict, "a sweep is already running")
		return
	}

	if err != nil {
		h.logger.Error("manual sweep failed", "error", err)
		respondJSON(w, http.StatusInternalServerError, sweepErrorResponse{Error: err.Error(), Report: report})
		return
	}
	respondJSON(w, http.StatusOK, report)
}

type sweepStatus struct {
	Running    bool                `json:"running"`
	LastReport *engine.SweepReport `json:"last_report,omitempty"`
	NextRun    *time.Time          `json:"next_run,omitempty"`
}

// Status reports whether a sweep is running and how the last one went.
func (h *SweepHandler) Status(next func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := sweepStatus{Running: h.trigger.Busy(), LastReport: h.trigger.LastReport()}
		if next != nil {
			if t := next(); !t.IsZero() {
				status.NextRun = &t
			}
		}
		respondJSON(w, http.StatusOK, status)
	}
}
