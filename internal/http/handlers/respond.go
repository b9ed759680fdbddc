package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/signalix/gateway/internal/gateway"
)

// errorResponse is the JSON body of every failed request
type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// pagination describes one page of a listing
type pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func newPagination(page, limit, total int) pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return pagination{Page: page, Limit: limit, Total: total, TotalPages: pages}
}

// respondJSON writes v as a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, errorResponse{Success: false, Message: message})
}

// respondWithFailure maps err onto a status code and includes its text
func respondWithFailure(w http.ResponseWriter, err error, message string) {
	respondJSON(w, statusForError(err), errorResponse{
		Success: false,
		Message: message,
		Error:   err.Error(),
	})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, gateway.ErrInvalidTenantID), errors.Is(err, gateway.ErrNotAuthenticated):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// pageParams reads page and limit query parameters, clamping limit to max
func pageParams(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}
