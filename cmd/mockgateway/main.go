// Command mockgateway is a local stand-in for the REST card processor.
//
// Customer references select the behaviour:
//
//	cus_nocard...  no saved card (404)
//	cus_decline... charge declined (402)
//	cus_slow...    charge answers after 3s
//	anything else  charge captured
package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type mockGateway struct {
	logger   *slog.Logger
	requests atomic.Int64
	charges  atomic.Int64

	mu     sync.Mutex
	orders map[string]chargeResponse // by Idempotency-Key
}

type chargeResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount string `json:"amount"`
}

type chargeRequest struct {
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
	Customer struct {
		ID string `json:"id"`
	} `json:"customer"`
	Source struct {
		ID string `json:"id"`
	} `json:"source"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	port := "9090"
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}

	g := &mockGateway{logger: logger, orders: make(map[string]chargeResponse)}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(g.count)
	r.Get("/v2/card/{ref}", g.listCards)
	r.Post("/v2/tokens", g.tokenize)
	r.Post("/v2/charges", g.charge)
	r.Get("/stats", g.stats)

	logger.Info("mock gateway starting", "port", port)
	if err := http.ListenAndServe(":"+port, r); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func (g *mockGateway) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.requests.Add(1)
		next.ServeHTTP(w, r)
	})
}

func (g *mockGateway) listCards(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	if strings.HasPrefix(ref, "cus_nocard") {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "customer has no saved cards"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": []map[string]any{
			{"id": "card_" + ref, "name": "Test Holder", "is_default": true},
		},
	})
}

func (g *mockGateway) tokenize(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"id": "tok_" + uuid.NewString()})
}

func (g *mockGateway) charge(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
		return
	}
	customer := req.Customer.ID

	key := r.Header.Get("Idempotency-Key")
	if key != "" {
		g.mu.Lock()
		prev, ok := g.orders[key]
		g.mu.Unlock()
		if ok {
			g.logger.Info("replaying charge", "idempotency_key", key, "order_id", prev.ID)
			writeJSON(w, http.StatusOK, prev)
			return
		}
	}

	switch {
	case strings.HasPrefix(customer, "cus_decline"):
		g.logger.Info("declining charge", "customer", customer, "amount", req.Amount)
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"message": "card declined by issuer"})
		return
	case strings.HasPrefix(customer, "cus_slow"):
		time.Sleep(3 * time.Second)
	}

	resp := chargeResponse{ID: "ord_" + uuid.NewString(), Status: "CAPTURED", Amount: req.Amount.String()}
	if key != "" {
		g.mu.Lock()
		g.orders[key] = resp
		g.mu.Unlock()
	}
	g.charges.Add(1)
	g.logger.Info("charge captured", "customer", customer, "amount", req.Amount, "currency", req.Currency, "order_id", resp.ID)
	writeJSON(w, http.StatusOK, resp)
}

func (g *mockGateway) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{
		"total_requests":   g.requests.Load(),
		"captured_charges": g.charges.Load(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
