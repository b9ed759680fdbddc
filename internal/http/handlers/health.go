package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/signalix/gateway/internal/gateway"
)

// Pinger is satisfied by *sql.DB
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler reports liveness and database reachability
type HealthHandler struct {
	db      Pinger
	manager *gateway.Manager
	started time.Time
}

// NewHealthHandler creates a new health handler. db may be nil.
func NewHealthHandler(db Pinger, manager *gateway.Manager) *HealthHandler {
	return &HealthHandler{db: db, manager: manager, started: time.Now()}
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Sessions int    `json:"sessions"`
	Uptime   string `json:"uptime"`
}

// ServeHTTP handles GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Database: "ok",
		Sessions: h.manager.Registry().Len(),
		Uptime:   gateway.FormatUptime(time.Since(h.started)),
	}
	status := http.StatusOK

	if h.db == nil {
		resp.Database = "disabled"
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			resp.Status = "degraded"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	respondJSON(w, status, resp)
}
