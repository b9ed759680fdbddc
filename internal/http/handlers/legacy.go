package handlers

import (
	"net/http"

	"github.com/signalix/gateway/internal/middleware"
)

// legacySession is one entry of the GET /status listing
type legacySession struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	IsAuthenticated bool   `json:"isAuthenticated"`
}

// legacyQRResponse is the body of GET /qr
type legacyQRResponse struct {
	Success   bool   `json:"success"`
	QR        string `json:"qr,omitempty"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// HandleLegacyStatus handles GET /status
func (h *SessionHandler) HandleLegacyStatus(w http.ResponseWriter, r *http.Request) {
	infos := h.manager.Sessions()
	out := make([]legacySession, 0, len(infos))
	for _, info := range infos {
		if !middleware.CanAccessTenant(r.Context(), info.TenantID) {
			continue
		}
		out = append(out, legacySession{
			ID:              info.TenantID,
			Status:          string(info.Status),
			IsAuthenticated: info.Authenticated,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"sessions":      out,
		"totalSessions": len(out),
	})
}

// HandleLegacyQR handles GET /qr?sessionId=
func (h *SessionHandler) HandleLegacyQR(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sessionId")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "sessionId query parameter is required")
		return
	}
	if !middleware.CanAccessTenant(r.Context(), id) {
		respondWithError(w, http.StatusForbidden, "access to this session is not allowed")
		return
	}

	resp := legacyQRResponse{SessionID: id}
	if qr, ok := h.manager.Challenge(id); ok {
		resp.Success = true
		resp.QR = qr
		resp.Message = "Scan QR code with WhatsApp"
	} else if handle, ok := h.manager.Handle(id); ok && handle.Authenticated() {
		resp.Success = true
		resp.Message = "connected"
	} else {
		resp.Message = "QR not available yet"
	}
	respondJSON(w, http.StatusOK, resp)
}
