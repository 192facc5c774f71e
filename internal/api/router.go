package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Deps wires the operator API. Reminders, Hub, Metrics and NextRun may be nil.
type Deps struct {
	Subscriptions SubscriptionReader
	Onboarding    Onboarder
	Plans         PlanChanger
	Sweeps        SweepTrigger
	Stats         StatsReader
	Pending       PendingReader
	Reminders     ReminderQueue
	Health        map[string]Pinger
	Hub           interface {
		ClientCounter
		HandleWebSocket(w http.ResponseWriter, r *http.Request)
	}
	Metrics      http.Handler
	NextRun      func() time.Time
	SweepTimeout time.Duration
	Currency     string
	Version      string
	Logger       *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(corsMiddleware)

	subHandler := NewSubscriptionHandler(d.Subscriptions, d.Onboarding, d.Plans, d.Currency)
	sweepHandler := NewSweepHandler(d.Sweeps, d.SweepTimeout, d.Logger)

	if d.Hub != nil {
		r.Get("/ws", d.Hub.HandleWebSocket)
	}
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler(d.Version, d.Health))

		r.Route("/sweeps", func(r chi.Router) {
			r.Post("/", sweepHandler.Run)
			r.Get("/status", sweepHandler.Status(d.NextRun))
		})

		r.Post("/subscriptions", subHandler.Create)
		r.Route("/subscriptions/{id}", func(r chi.Router) {
			r.Get("/", subHandler.Get)
			r.Get("/transactions", subHandler.Transactions)
			r.Post("/scheduled-downgrade", subHandler.ScheduleDowngrade)
			r.Delete("/scheduled-downgrade", subHandler.CancelScheduledDowngrade)
		})

		if d.Stats != nil {
			var hub ClientCounter
			if d.Hub != nil {
				hub = d.Hub
			}
			dashHandler := NewDashboardHandler(d.Stats, d.Pending, d.Reminders, hub)
			r.Get("/dashboard/stats", dashHandler.Stats)
		}
	})

	return r
}

// corsMiddleware adds CORS headers for dashboard development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
