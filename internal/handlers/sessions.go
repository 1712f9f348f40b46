package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"parallax-connect/internal/models"
	"parallax-connect/internal/services"
)

type sessionStore interface {
	List(ctx context.Context) ([]*models.ChatSession, error)
	Search(ctx context.Context, query string) ([]*models.ChatSession, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.ChatSession, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Rename(ctx context.Context, id uuid.UUID, title string) error
	ToggleImportant(ctx context.Context, id uuid.UUID) error
	DeleteAllExcept(ctx context.Context, keep *uuid.UUID) error
}

type SessionsHandler struct {
	sessions sessionStore
	chat     *services.ChatService
}

func NewSessionsHandler(sessions sessionStore, chat *services.ChatService) *SessionsHandler {
	return &SessionsHandler{sessions: sessions, chat: chat}
}

// List returns archived sessions, important ones first. A non-empty
// "q" query filters by title.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))

	var (
		sessions []*models.ChatSession
		err      error
	)
	if query != "" {
		sessions, err = h.sessions.Search(r.Context(), query)
	} else {
		sessions, err = h.sessions.List(r.Context())
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to list sessions", r))
		return
	}

	if sessions == nil {
		sessions = []*models.ChatSession{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	session, err := h.sessions.GetByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// Load replaces the active conversation with an archived session.
func (h *SessionsHandler) Load(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	if err := h.chat.LoadArchivedSession(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.chat.State())
}

func (h *SessionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	if err := h.sessions.Delete(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session deleted"})
}

func (h *SessionsHandler) Rename(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"title": "title must not be empty"}, r))
		return
	}

	if err := h.sessions.Rename(r.Context(), id, title); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session renamed"})
}

func (h *SessionsHandler) ToggleImportant(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	if err := h.sessions.ToggleImportant(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session updated"})
}

// DeleteAllExcept clears the archive, optionally keeping one session.
func (h *SessionsHandler) DeleteAllExcept(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KeepID *uuid.UUID `json:"keep_id"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.sessions.DeleteAllExcept(r.Context(), req.KeepID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Sessions deleted"})
}

func sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return uuid.Nil, false
	}
	return id, true
}
