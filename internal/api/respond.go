package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/restobill/renewals/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// respondDomainError maps engine errors onto status codes. Unknown errors get
// fallback so internals are not leaked.
func respondDomainError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, "subscription not found")
	case errors.Is(err, domain.ErrAlreadyExists):
		respondError(w, http.StatusConflict, "tenant already has a subscription")
	case errors.Is(err, domain.ErrVersionConflict):
		respondError(w, http.StatusConflict, "subscription was modified concurrently, retry")
	default:
		respondError(w, http.StatusInternalServerError, fallback)
	}
}
