package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/rs/zerolog/log"
)

// Agent answers one question
type Agent interface {
	ProcessQuestion(ctx context.Context, req domain.AgentRequest) domain.AgentResponse
}

// ConversationConfig is the policy applied around the agent
type ConversationConfig struct {
	QuotaEnabled      bool
	QuotaPeriod       domain.QuotaPeriod
	MaxQuestionLength int
	UsageTimeout      time.Duration
}

// ConversationManager applies sanitization, quota and usage accounting
// around an Agent.
type ConversationManager struct {
	agent Agent
	kb    domain.KnowledgeBase
	cfg   ConversationConfig
}

// NewConversationManager creates a new conversation manager
func NewConversationManager(agent Agent, kb domain.KnowledgeBase, cfg ConversationConfig) *ConversationManager {
	if cfg.QuotaPeriod == "" {
		cfg.QuotaPeriod = domain.QuotaDaily
	}
	if cfg.UsageTimeout <= 0 {
		cfg.UsageTimeout = 5 * time.Second
	}
	return &ConversationManager{agent: agent, kb: kb, cfg: cfg}
}

// HandleQuestion processes one user turn
func (m *ConversationManager) HandleQuestion(ctx context.Context, req domain.AgentRequest) domain.AgentResponse {
	clean := SanitizeQuestion(req.Question, m.cfg.MaxQuestionLength)
	if clean.Text == "" {
		return domain.NewErrorResponse(
			domain.NewAgentError(domain.ErrorTypeValidation, "the question is empty", nil, SuggestAskQuestion),
			nil,
		)
	}
	req = req.WithQuestion(clean.Text)
	if clean.InjectionSuspected {
		log.Warn().
			Str("session_id", req.SessionID).
			Str("user_id", req.UserID).
			Msg("instruction-override phrasing found in question, treating it as literal text")
		req = req.WithMetadata(MetaInjectionSuspected, true)
	}
	if clean.Truncated {
		req = req.WithMetadata("question_truncated", true)
	}

	if resp, blocked := m.checkQuota(ctx, req); blocked {
		return resp
	}

	resp := m.agent.ProcessQuestion(ctx, req)
	if resp.Success {
		m.recordUsage(ctx, req, resp)
	}
	return resp
}

// SuggestAskQuestion is the guidance attached to an empty question
const SuggestAskQuestion = "Ask a question about your data, for example \"How many orders were placed last week?\"."

func (m *ConversationManager) checkQuota(ctx context.Context, req domain.AgentRequest) (domain.AgentResponse, bool) {
	if !m.cfg.QuotaEnabled || req.UserID == "" {
		return domain.AgentResponse{}, false
	}

	status, err := m.kb.CheckQuota(ctx, req.UserID, m.cfg.QuotaPeriod)
	if err != nil {
		log.Warn().Err(err).Str("user_id", req.UserID).Msg("quota check failed, allowing request")
		return domain.AgentResponse{}, false
	}
	if !status.OverQuota {
		return domain.AgentResponse{}, false
	}

	log.Info().
		Str("user_id", req.UserID).
		Int64("limit", status.Limit).
		Int64("used", status.Used).
		Str("period", string(status.Period)).
		Msg("token quota exceeded")

	err = domain.NewAgentError(
		domain.ErrorTypeRateLimit,
		fmt.Sprintf("token quota exceeded: %d of %d tokens used in the current %s period", status.Used, status.Limit, status.Period),
		nil,
		domain.SuggestQuotaExceeded,
	)
	return domain.NewErrorResponse(err, map[string]any{
		"quota_limit":     status.Limit,
		"tokens_used":     status.Used,
		"quota_period":    string(status.Period),
		"quota_remaining": status.Remaining,
	}), true
}

func (m *ConversationManager) recordUsage(ctx context.Context, req domain.AgentRequest, resp domain.AgentResponse) {
	tokens, _ := resp.Metadata[MetaTokensUsed].(int)
	if tokens <= 0 || req.UserID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.UsageTimeout)
	defer cancel()

	err := m.kb.RecordUsage(ctx, req.UserID, tokens, map[string]any{
		"session_id": req.SessionID,
		"provider":   resp.Metadata[MetaProvider],
		"model":      resp.Metadata[MetaModel],
	})
	if err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("failed to record token usage")
	}
}
