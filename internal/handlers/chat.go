package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"parallax-connect/internal/models"
	"parallax-connect/internal/services"
)

type ChatHandler struct {
	chat   *services.ChatService
	logger *zap.Logger
}

func NewChatHandler(chat *services.ChatService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, logger: logger}
}

// Send runs a complete turn and returns the final response in one shot.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if fields := req.Validate(); fields != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	resp, err := h.chat.SendMessage(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if resp == nil {
		// Nothing to send; return the unchanged state.
		writeJSON(w, http.StatusOK, h.chat.State())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Stream runs a turn over SSE. Each event goes out as a single
// "data: {...}\n\n" frame; the stream ends after a done or error event.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if fields := req.Validate(); fields != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Streaming unsupported", r))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	emit := func(ev models.StreamEvent) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := h.chat.StreamMessage(r.Context(), req, emit); err != nil {
		h.logger.Warn("stream ended with error", zap.Error(err))
	}
}

// NewChat archives the active conversation and resets to a blank one.
func (h *ChatHandler) NewChat(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.StartNewChat(r.Context()); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.chat.State())
}

// SetPrivate toggles private mode.
func (h *ChatHandler) SetPrivate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	h.chat.SetPrivateMode(req.Enabled)
	writeJSON(w, http.StatusOK, h.chat.State())
}

// Editing begins or cancels editing of a previously sent user message.
// A null message_id cancels.
func (h *ChatHandler) Editing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageID *uuid.UUID `json:"message_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if req.MessageID == nil {
		h.chat.CancelEdit()
		writeJSON(w, http.StatusOK, h.chat.State())
		return
	}

	if !h.chat.BeginEdit(*req.MessageID) {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Message not found in current conversation", r))
		return
	}
	writeJSON(w, http.StatusOK, h.chat.State())
}

// History returns the current conversation state snapshot.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.chat.State())
}
