package handler

import (
	"context"
	"net/http"

	"github.com/Rrens/insights-gateway/internal/api/middleware"
	"github.com/Rrens/insights-gateway/internal/api/response"
	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/Rrens/insights-gateway/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// HistoryReader reads stored conversation history
type HistoryReader interface {
	GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.RawMessage, error)
}

// SessionHandler serves conversation history
type SessionHandler struct {
	history HistoryReader
	limit   int
}

func NewSessionHandler(history HistoryReader, limit int) *SessionHandler {
	if limit <= 0 {
		limit = 100
	}
	return &SessionHandler{history: history, limit: limit}
}

// Messages returns the caller's validated messages of a session. Records that
// fail validation are counted, not returned.
func (h *SessionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		response.BadRequest(w, "missing session ID")
		return
	}

	raw, err := h.history.GetMessages(r.Context(), sessionID, h.limit)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to load session history")
		response.InternalError(w, "failed to load session history")
		return
	}

	own := raw[:0:0]
	for _, m := range raw {
		if m.UserID == "" || m.UserID == user.UserID {
			own = append(own, m)
		}
	}

	messages, defects := service.ValidateHistory(own)
	if messages == nil {
		messages = []domain.Message{}
	}

	response.OK(w, map[string]any{
		"session_id": sessionID,
		"messages":   messages,
		"skipped":    len(defects),
	})
}
