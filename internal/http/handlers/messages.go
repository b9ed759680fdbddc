package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/signalix/gateway/internal/clock"
	"github.com/signalix/gateway/internal/gateway"
	"github.com/signalix/gateway/internal/model"
	"github.com/signalix/gateway/internal/phone"
	"github.com/signalix/gateway/internal/protocol"
	"github.com/signalix/gateway/internal/repo"
)

// defaultBulkDelay separates consecutive sends of a bulk request
const defaultBulkDelay = time.Second

var errMissingFields = errors.New("JID and message are required")

// MessageHandler handles message and chat history endpoints
type MessageHandler struct {
	manager *gateway.Manager
	chats   repo.ChatRepo
	clock   clock.Clock
	log     zerolog.Logger
}

// NewMessageHandler creates a new message handler. chats may be nil,
// which disables the chat history endpoints.
func NewMessageHandler(manager *gateway.Manager, chats repo.ChatRepo, clk clock.Clock, logger zerolog.Logger) *MessageHandler {
	if clk == nil {
		clk = clock.Real()
	}
	return &MessageHandler{
		manager: manager,
		chats:   chats,
		clock:   clk,
		log:     logger.With().Str("component", "messages_handler").Logger(),
	}
}

// sendMessageRequest is the request body for POST /{id}/messages/send and
// one element of a bulk request. Message is either a content object or a
// plain string, which is sent as text.
type sendMessageRequest struct {
	JID     string           `json:"jid"`
	Type    string           `json:"type"`
	Message json.RawMessage  `json:"message"`
	Options protocol.Options `json:"options"`
	// Delay in milliseconds before this item of a bulk request.
	Delay *int `json:"delay,omitempty"`
}

func (req sendMessageRequest) target(m *gateway.Manager) string {
	jid := strings.TrimSpace(req.JID)
	if req.Type == "number" {
		return m.FormatJID(jid)
	}
	return jid
}

func (req sendMessageRequest) content() (protocol.Content, error) {
	raw := strings.TrimSpace(string(req.Message))
	if strings.TrimSpace(req.JID) == "" || raw == "" || raw == "null" {
		return nil, errMissingFields
	}
	var text string
	if err := json.Unmarshal(req.Message, &text); err == nil {
		if text == "" {
			return nil, errMissingFields
		}
		return protocol.Content{"text": text}, nil
	}
	var content protocol.Content
	if err := json.Unmarshal(req.Message, &content); err != nil {
		return nil, errors.New("message must be a string or an object")
	}
	if len(content) == 0 {
		return nil, errMissingFields
	}
	return content, nil
}

type bulkResult struct {
	Index  int                 `json:"index"`
	Result protocol.SendResult `json:"result"`
}

type bulkError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// chatResponse is one chat history entry in API responses
type chatResponse struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"sessionId"`
	PhoneNumber string         `json:"phoneNumber"`
	Message     string         `json:"message"`
	MessageType string         `json:"messageType"`
	Direction   string         `json:"direction"`
	Metadata    map[string]any `json:"metadata"`
	Timestamp   time.Time      `json:"timestamp"`
}

func (h *MessageHandler) requireAuthenticated(w http.ResponseWriter, id string) bool {
	if handle, ok := h.manager.Handle(id); !ok || !handle.Authenticated() {
		respondWithError(w, http.StatusBadRequest, gateway.ErrNotAuthenticated.Error())
		return false
	}
	return true
}

// HandleSend handles POST /{id}/messages/send
func (h *MessageHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.requireAuthenticated(w, id) {
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	content, err := req.content()
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.manager.SendMessage(r.Context(), id, req.target(h.manager), content, req.Options)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", id).Msg("failed to send message")
		respondWithFailure(w, err, "Failed to send message")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "data": result})
}

// HandleSendBulk handles POST /{id}/messages/send/bulk. Items are sent in
// order with their delay in between; a failed item does not stop the rest.
func (h *MessageHandler) HandleSendBulk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.requireAuthenticated(w, id) {
		return
	}

	var items []sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		respondWithError(w, http.StatusBadRequest, "Request body must be an array of messages")
		return
	}

	results := make([]bulkResult, 0, len(items))
	errs := make([]bulkError, 0)
	for i, item := range items {
		if i > 0 {
			if err := h.sleep(r.Context(), item.delay()); err != nil {
				respondWithFailure(w, err, "Bulk send interrupted")
				return
			}
		}

		content, err := item.content()
		if err == nil {
			var result protocol.SendResult
			result, err = h.manager.SendMessage(r.Context(), id, item.target(h.manager), content, item.Options)
			if err == nil {
				results = append(results, bulkResult{Index: i, Result: result})
				continue
			}
		}
		errs = append(errs, bulkError{Index: i, Error: err.Error()})
	}

	h.log.Info().Str("session_id", id).Int("sent", len(results)).Int("failed", len(errs)).Msg("bulk send finished")
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "results": results, "errors": errs})
}

func (req sendMessageRequest) delay() time.Duration {
	if req.Delay == nil {
		return defaultBulkDelay
	}
	return time.Duration(*req.Delay) * time.Millisecond
}

func (h *MessageHandler) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-h.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleChats handles GET /{id}/chats and GET /{id}/chats/{jid}
func (h *MessageHandler) HandleChats(w http.ResponseWriter, r *http.Request) {
	if h.chats == nil {
		respondWithError(w, http.StatusNotImplemented, "chat history is not available")
		return
	}

	id := chi.URLParam(r, "id")
	page, limit := pageParams(r, 25, 200)
	q := repo.ChatQuery{SessionID: id, Page: page, Limit: limit}
	if jid := chi.URLParam(r, "jid"); jid != "" {
		q.PhoneNumber = phone.Number(jid)
	}

	msgs, total, err := h.chats.List(r.Context(), q)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", id).Msg("failed to fetch chat history")
		respondWithFailure(w, err, "Failed to fetch chat history")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"data":       toChatResponses(msgs),
		"pagination": newPagination(page, limit, total),
	})
}

func toChatResponses(msgs []model.ChatMessage) []chatResponse {
	out := make([]chatResponse, 0, len(msgs))
	for _, m := range msgs {
		metadata := m.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		out = append(out, chatResponse{
			ID:          m.ID.String(),
			SessionID:   m.SessionID,
			PhoneNumber: m.PhoneNumber,
			Message:     m.Message,
			MessageType: string(m.MessageType),
			Direction:   string(m.Direction),
			Metadata:    metadata,
			Timestamp:   m.Timestamp,
		})
	}
	return out
}
