package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/signalix/gateway/internal/gateway"
	"github.com/signalix/gateway/internal/middleware"
	"github.com/signalix/gateway/internal/model"
	"github.com/signalix/gateway/internal/protocol"
	"github.com/signalix/gateway/internal/repo"
)

// SessionHandler handles session management endpoints
type SessionHandler struct {
	manager        *gateway.Manager
	sessions       repo.SessionRepo
	qrWaitAttempts int
	qrWaitInterval time.Duration
	log            zerolog.Logger
}

// NewSessionHandler creates a new session handler. sessions may be nil,
// which disables the history endpoint.
func NewSessionHandler(
	manager *gateway.Manager,
	sessions repo.SessionRepo,
	qrWaitAttempts int,
	qrWaitInterval time.Duration,
	logger zerolog.Logger,
) *SessionHandler {
	return &SessionHandler{
		manager:        manager,
		sessions:       sessions,
		qrWaitAttempts: qrWaitAttempts,
		qrWaitInterval: qrWaitInterval,
		log:            logger.With().Str("component", "sessions_handler").Logger(),
	}
}

// sessionResponse is one live session in API responses
type sessionResponse struct {
	ID            string             `json:"id"`
	Status        string             `json:"status"`
	State         string             `json:"state"`
	Authenticated bool               `json:"authenticated"`
	HasQR         bool               `json:"hasQr"`
	User          *protocol.Identity `json:"user,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
	Uptime        string             `json:"uptime"`
}

func toSessionResponse(info gateway.SessionInfo) sessionResponse {
	return sessionResponse{
		ID:            info.TenantID,
		Status:        string(info.Status),
		State:         info.State.String(),
		Authenticated: info.Authenticated,
		HasQR:         info.HasChallenge,
		User:          info.User,
		CreatedAt:     info.CreatedAt,
		Uptime:        gateway.FormatUptime(info.Uptime),
	}
}

// qrResponse is returned by the QR and add endpoints
type qrResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	QR        string `json:"qr,omitempty"`
}

// sessionRecordResponse is one persisted session record
type sessionRecordResponse struct {
	SessionID    string    `json:"sessionId"`
	Status       string    `json:"status"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HandleList handles GET /sessions
func (h *SessionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	infos := h.manager.Sessions()
	out := make([]sessionResponse, 0, len(infos))
	for _, info := range infos {
		if !middleware.CanAccessTenant(r.Context(), info.TenantID) {
			continue
		}
		out = append(out, toSessionResponse(info))
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "data": out})
}

// HandleFind handles GET /sessions/{id}
func (h *SessionHandler) HandleFind(w http.ResponseWriter, r *http.Request) {
	info, err := h.manager.Session(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Session not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Session found",
		"data":    toSessionResponse(info),
	})
}

// HandleStatus handles GET /sessions/{id}/status
func (h *SessionHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status := h.manager.Status(id)
	resp := map[string]any{"status": status}
	if qr, ok := h.manager.Challenge(id); ok && status != gateway.StatusAuthenticated {
		resp["qr"] = qr
	}
	respondJSON(w, http.StatusOK, resp)
}

// HandleQR handles GET /sessions/{id}/qr
func (h *SessionHandler) HandleQR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	handle, ok := h.manager.Handle(id)
	if !ok {
		respondWithError(w, http.StatusNotFound, "Session not found")
		return
	}

	resp := qrResponse{SessionID: id, Status: string(gateway.Project(handle))}
	switch qr, hasQR := h.manager.Challenge(id); {
	case handle.Authenticated():
		resp.Success = true
		resp.Message = "Session already authenticated"
	case hasQR:
		resp.Success = true
		resp.Message = "Scan QR code with WhatsApp"
		resp.QR = qr
	default:
		resp.Message = "QR code not available yet"
	}
	respondJSON(w, http.StatusOK, resp)
}

// HandleAdd handles POST /sessions/add. The body carries sessionId and
// any connection options, which are passed through to the protocol.
func (h *SessionHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, _ := body["sessionId"].(string)
	id = strings.TrimSpace(id)
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "Session ID is required")
		return
	}
	if err := gateway.ValidateTenantID(id); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid session ID format")
		return
	}
	if !middleware.CanAccessTenant(r.Context(), id) {
		respondWithError(w, http.StatusForbidden, "access to this session is not allowed")
		return
	}
	delete(body, "sessionId")

	logger := h.log.With().Str("session_id", id).Logger()

	if existing, ok := h.manager.Handle(id); ok {
		if existing.Authenticated() {
			respondJSON(w, http.StatusOK, qrResponse{
				Success:   true,
				Message:   "Session already authenticated",
				SessionID: id,
				Status:    string(gateway.StatusAuthenticated),
			})
			return
		}
		if qr, ok := h.manager.Challenge(id); ok {
			respondJSON(w, http.StatusOK, qrResponse{
				Success:   true,
				Message:   "Session exists, scan QR code to authenticate",
				SessionID: id,
				Status:    string(gateway.Project(existing)),
				QR:        qr,
			})
			return
		}
		logger.Info().Msg("session exists but no QR available, recreating")
	}

	if _, err := h.manager.EnsureConnection(r.Context(), id, protocol.Options(body)); err != nil {
		logger.Error().Err(err).Msg("failed to add session")
		respondWithFailure(w, err, "Failed to add session")
		return
	}

	result, err := h.manager.AwaitChallenge(r.Context(), id, h.qrWaitAttempts, h.qrWaitInterval)
	if err != nil {
		respondWithFailure(w, err, "Failed to add session")
		return
	}

	resp := qrResponse{SessionID: id, Status: string(h.manager.Status(id))}
	switch result.Outcome {
	case gateway.ChallengeAuthenticated:
		resp.Success = true
		resp.Message = "Session authenticated successfully"
	case gateway.ChallengeIssued:
		resp.Success = true
		resp.Message = "QR code generated successfully"
		resp.QR = result.QR
	default:
		logger.Warn().Str("status", resp.Status).Msg("QR generation timeout")
		resp.Message = "QR code generation timeout. Check your internet connection and try again."
	}
	respondJSON(w, http.StatusOK, resp)
}

// HandleDelete handles DELETE /sessions/{id}
func (h *SessionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.manager.DeleteSession(r.Context(), id); err != nil {
		h.log.Error().Err(err).Str("session_id", id).Msg("failed to delete session")
		respondWithFailure(w, err, "Failed to delete session")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Session deleted"})
}

// HandleHistory handles GET /sessions-history. Tenant-scoped principals
// are refused because the listing spans every tenant.
func (h *SessionHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if p, ok := middleware.GetPrincipal(r.Context()); !ok || len(p.Tenants) > 0 {
		respondWithError(w, http.StatusForbidden, "session history requires an unscoped credential")
		return
	}
	if h.sessions == nil {
		respondWithError(w, http.StatusNotImplemented, "session history is not available")
		return
	}

	page, limit := pageParams(r, 20, 100)
	records, err := h.sessions.List(r.Context(), page, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to fetch sessions history")
		respondWithFailure(w, err, "Failed to fetch sessions history")
		return
	}
	total, err := h.sessions.Count(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to count sessions")
		respondWithFailure(w, err, "Failed to fetch sessions history")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"data":       toRecordResponses(records),
		"pagination": newPagination(page, limit, total),
	})
}

func toRecordResponses(records []model.Session) []sessionRecordResponse {
	out := make([]sessionRecordResponse, 0, len(records))
	for _, s := range records {
		out = append(out, sessionRecordResponse{
			SessionID:    s.SessionID,
			Status:       string(s.Status),
			MessageCount: s.MessageCount,
			CreatedAt:    s.CreatedAt,
			UpdatedAt:    s.UpdatedAt,
		})
	}
	return out
}
