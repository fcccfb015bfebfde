package handler

import (
	"context"
	"net/http"

	"github.com/Rrens/insights-gateway/internal/api/middleware"
	"github.com/Rrens/insights-gateway/internal/api/response"
	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/google/uuid"
)

// QuestionHandler answers one conversational turn
type QuestionHandler interface {
	HandleQuestion(ctx context.Context, req domain.AgentRequest) domain.AgentResponse
}

// AskRequest is the body of POST /insights/ask
type AskRequest struct {
	Question     string         `json:"question" validate:"required"`
	SessionID    string         `json:"session_id" validate:"omitempty,max=128"`
	ContextTurns int            `json:"context_turns" validate:"omitempty,min=1,max=20"`
	Metadata     map[string]any `json:"metadata"`
}

// InsightsHandler handles question endpoints
type InsightsHandler struct {
	conversations QuestionHandler
	contextTurns  int
}

// NewInsightsHandler creates a new insights handler. defaultTurns applies
// when a request does not ask for a context window.
func NewInsightsHandler(conversations QuestionHandler, defaultTurns int) *InsightsHandler {
	return &InsightsHandler{conversations: conversations, contextTurns: defaultTurns}
}

// Ask runs one turn for the authenticated caller. A missing session id
// starts a new session.
func (h *InsightsHandler) Ask(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var body AskRequest
	if err := decode(r, &body); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	sessionID := body.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	turns := body.ContextTurns
	if turns == 0 {
		turns = h.contextTurns
	}

	req, err := domain.NewAgentRequest(body.Question, sessionID, user.UserID,
		user.AllowedDatasets, user.AllowedTables, turns, body.Metadata)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	response.Agent(w, h.conversations.HandleQuestion(r.Context(), req))
}
