package domain

import (
	"errors"
	"maps"
	"slices"
	"strings"
	"time"
)

const (
	DefaultContextTurns = 5
	MinContextTurns     = 1
	MaxContextTurns     = 20
)

// AgentRequest is one user turn. Build it with NewAgentRequest; after that
// only the copy-returning With* helpers change it.
type AgentRequest struct {
	Question        string              `json:"question"`
	SessionID       string              `json:"session_id"`
	UserID          string              `json:"user_id"`
	AllowedDatasets []string            `json:"allowed_datasets"`
	AllowedTables   map[string][]string `json:"allowed_tables,omitempty"`
	ContextTurns    int                 `json:"context_turns"`
	Metadata        map[string]any      `json:"metadata,omitempty"`
}

// NewAgentRequest validates the question, clones every collection and clamps
// ContextTurns into [MinContextTurns, MaxContextTurns]. Zero turns means default.
func NewAgentRequest(question, sessionID, userID string, datasets []string, tables map[string][]string, contextTurns int, metadata map[string]any) (AgentRequest, error) {
	if strings.TrimSpace(question) == "" {
		return AgentRequest{}, errors.New("question must not be empty")
	}
	if strings.TrimSpace(sessionID) == "" {
		return AgentRequest{}, errors.New("session_id must not be empty")
	}

	return AgentRequest{
		Question:        question,
		SessionID:       sessionID,
		UserID:          userID,
		AllowedDatasets: slices.Clone(datasets),
		AllowedTables:   cloneTables(tables),
		ContextTurns:    ClampContextTurns(contextTurns),
		Metadata:        maps.Clone(metadata),
	}, nil
}

// ClampContextTurns applies the default and bounds to a requested turn count
func ClampContextTurns(turns int) int {
	switch {
	case turns == 0:
		return DefaultContextTurns
	case turns < MinContextTurns:
		return MinContextTurns
	case turns > MaxContextTurns:
		return MaxContextTurns
	}
	return turns
}

// WithQuestion returns a copy of the request carrying a different question
func (r AgentRequest) WithQuestion(question string) AgentRequest {
	c := r.clone()
	c.Question = question
	return c
}

// WithMetadata returns a copy of the request with key set in its metadata
func (r AgentRequest) WithMetadata(key string, value any) AgentRequest {
	c := r.clone()
	if c.Metadata == nil {
		c.Metadata = make(map[string]any, 1)
	}
	c.Metadata[key] = value
	return c
}

func (r AgentRequest) clone() AgentRequest {
	r.AllowedDatasets = slices.Clone(r.AllowedDatasets)
	r.AllowedTables = cloneTables(r.AllowedTables)
	r.Metadata = maps.Clone(r.Metadata)
	return r
}

func cloneTables(tables map[string][]string) map[string][]string {
	if tables == nil {
		return nil
	}
	out := make(map[string][]string, len(tables))
	for ds, list := range tables {
		out[ds] = slices.Clone(list)
	}
	return out
}

// AgentResponse is the only externally visible result of a turn.
// It is built once, by NewSuccessResponse or NewErrorResponse.
type AgentResponse struct {
	Success          bool              `json:"success"`
	Answer           string            `json:"answer,omitempty"`
	SQLQuery         string            `json:"sql_query,omitempty"`
	SQLExplanation   string            `json:"sql_explanation,omitempty"`
	Results          *QueryResult      `json:"results,omitempty"`
	ChartSuggestions []ChartSuggestion `json:"chart_suggestions,omitempty"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
	Error            string            `json:"error,omitempty"`
	ErrorType        ErrorType         `json:"error_type,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
}

// SuccessFields collects everything a successful response carries
type SuccessFields struct {
	Answer           string
	SQLQuery         string
	SQLExplanation   string
	Results          *QueryResult
	ChartSuggestions []ChartSuggestion
	Metadata         map[string]any
}

// NewSuccessResponse builds a successful response
func NewSuccessResponse(f SuccessFields) AgentResponse {
	return AgentResponse{
		Success:          true,
		Answer:           f.Answer,
		SQLQuery:         f.SQLQuery,
		SQLExplanation:   f.SQLExplanation,
		Results:          f.Results,
		ChartSuggestions: slices.Clone(f.ChartSuggestions),
		Metadata:         maps.Clone(f.Metadata),
		Timestamp:        time.Now().UTC(),
	}
}

// NewErrorResponse builds a failed response from an error. Errors that are not
// an *AgentError are reported as execution failures.
func NewErrorResponse(err error, metadata map[string]any) AgentResponse {
	var agentErr *AgentError
	if !errors.As(err, &agentErr) {
		agentErr = NewAgentError(ErrorTypeExecution, "the request could not be completed", err, SuggestRephrase)
	}
	return AgentResponse{
		Success:   false,
		Error:     agentErr.Error(),
		ErrorType: agentErr.Type,
		Metadata:  maps.Clone(metadata),
		Timestamp: time.Now().UTC(),
	}
}
