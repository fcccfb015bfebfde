package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/Rrens/insights-gateway/internal/llm"
	"github.com/rs/zerolog/log"
)

// SummarySentinel prefixes every persisted conversation summary
const SummarySentinel = "[CONVERSATION SUMMARY]"

const (
	metaSummarizedUntil    = "summarized_until"
	metaSummarizedMessages = "summarized_messages"

	defectMissingContent = "missing content field"
	defectNonString      = "non-string content"
	defectEmptyContent   = "empty content"
	defectUnknownRole    = "unknown role"
)

// ContextConfig bounds the history handed to prompts
type ContextConfig struct {
	MaxContextTurns        int
	SummarizationThreshold int // estimated tokens
	SummaryLineChars       int
	HistoryFetchLimit      int
	MaxSummaries           int
}

// HistoryDefect is a stored message left out of the context
type HistoryDefect struct {
	MessageID string
	Reason    string
}

// ContextManager assembles the per-turn view of a session: it validates,
// deduplicates, summarizes and truncates persisted history.
type ContextManager struct {
	kb  domain.KnowledgeBase
	cfg ContextConfig
	now func() time.Time
}

// NewContextManager creates a new context manager
func NewContextManager(kb domain.KnowledgeBase, cfg ContextConfig) *ContextManager {
	if cfg.MaxContextTurns <= 0 {
		cfg.MaxContextTurns = domain.DefaultContextTurns
	}
	if cfg.SummaryLineChars <= 0 {
		cfg.SummaryLineChars = 200
	}
	if cfg.HistoryFetchLimit <= 0 {
		cfg.HistoryFetchLimit = 100
	}
	if cfg.MaxSummaries <= 0 {
		cfg.MaxSummaries = 3
	}
	return &ContextManager{kb: kb, cfg: cfg, now: time.Now}
}

// BuildContext loads the session history for req. Knowledge-base failures
// degrade to an empty history; only a cancelled ctx is returned as an error.
func (m *ContextManager) BuildContext(ctx context.Context, req domain.AgentRequest) (*domain.ConversationContext, error) {
	cc := &domain.ConversationContext{
		SessionID:       req.SessionID,
		UserID:          req.UserID,
		AllowedDatasets: req.AllowedDatasets,
		AllowedTables:   req.AllowedTables,
		Metadata:        req.Metadata,
	}

	raw, err := m.kb.GetMessages(ctx, req.SessionID, m.cfg.HistoryFetchLimit)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn().Err(err).Str("session_id", req.SessionID).Msg("failed to load history, continuing without it")
		return cc, nil
	}

	messages, defects := ValidateHistory(raw)
	for _, d := range defects {
		log.Warn().
			Str("session_id", req.SessionID).
			Str("message_id", d.MessageID).
			Msgf("skipping history message: %s", d.Reason)
	}

	messages = LimitSummaries(Deduplicate(Supersede(messages)), m.cfg.MaxSummaries)

	if m.needsSummary(messages) {
		summary, err := m.Summarize(ctx, req.SessionID, req.UserID, messages)
		if err != nil {
			log.Error().Err(err).Str("session_id", req.SessionID).Msg("failed to persist conversation summary")
		}
		if summary != nil {
			messages = Supersede(append(messages, *summary))
		}
	}

	cc.Messages = Truncate(messages, req.ContextTurns, m.cfg.MaxSummaries)
	return cc, nil
}

// needsSummary requires both the token threshold and raw messages beyond
// the recent window; summaries alone never trigger another summary.
func (m *ContextManager) needsSummary(messages []domain.Message) bool {
	if m.cfg.SummarizationThreshold <= 0 {
		return false
	}
	tokens, raw := 0, 0
	for _, msg := range messages {
		tokens += llm.EstimateTokens(msg.Content)
		if !IsSummary(msg) {
			raw++
		}
	}
	return raw > m.cfg.MaxContextTurns*2 && tokens > m.cfg.SummarizationThreshold
}

// Summarize condenses everything before the recent window into one system
// message carrying the sentinel prefix and persists it. Messages that are
// already summaries are never re-summarized; when nothing else is old, it
// returns nil and persists nothing. A persistence failure still returns the
// summary alongside the error.
func (m *ContextManager) Summarize(ctx context.Context, sessionID, userID string, messages []domain.Message) (*domain.Message, error) {
	recent := m.cfg.MaxContextTurns * 2
	if len(messages) <= recent {
		return nil, nil
	}

	var old []domain.Message
	for _, msg := range messages[:len(messages)-recent] {
		if !IsSummary(msg) {
			old = append(old, msg)
		}
	}
	if len(old) == 0 {
		log.Debug().Str("session_id", sessionID).Msg("nothing new to summarize")
		return nil, nil
	}

	until := time.Time{}
	for _, msg := range old {
		if msg.CreatedAt.After(until) {
			until = msg.CreatedAt
		}
	}
	if until.IsZero() {
		until = m.now()
	}

	summary := &domain.Message{
		Role:    domain.RoleSystem,
		Content: condense(old, m.cfg.SummaryLineChars),
		Metadata: map[string]any{
			metaSummarizedUntil:    until.UTC().Format(time.RFC3339Nano),
			metaSummarizedMessages: len(old),
		},
		CreatedAt: m.now().UTC(),
	}

	log.Info().
		Str("session_id", sessionID).
		Int("messages", len(old)).
		Msg("summarizing conversation history")

	err := m.kb.AppendMessage(ctx, domain.NewMessage{
		SessionID: sessionID,
		UserID:    userID,
		Role:      summary.Role,
		Content:   summary.Content,
		Metadata:  summary.Metadata,
	})
	if err != nil {
		return summary, fmt.Errorf("failed to append summary: %w", err)
	}
	return summary, nil
}

func condense(messages []domain.Message, lineChars int) string {
	var sb strings.Builder
	sb.WriteString(SummarySentinel)
	sb.WriteString(" Earlier in this conversation:")
	for _, msg := range messages {
		text := strings.Join(strings.Fields(strings.ReplaceAll(msg.Content, SummarySentinel, "")), " ")
		fmt.Fprintf(&sb, "\n%s: %s", msg.Role, TruncateWords(text, lineChars))
	}
	return sb.String()
}

// TruncateWords shortens s to at most limit runes, cutting at the last word
// boundary and appending "...". A single word longer than limit is cut hard.
func TruncateWords(s string, limit int) string {
	r := []rune(s)
	if limit <= 0 || len(r) <= limit {
		return s
	}

	cut := limit
	for cut > 0 && !unicode.IsSpace(r[cut]) {
		cut--
	}
	if cut == 0 {
		cut = limit
	}
	return strings.TrimRightFunc(string(r[:cut]), unicode.IsSpace) + "..."
}

// IsSummary reports whether msg is a persisted conversation summary
func IsSummary(msg domain.Message) bool {
	return strings.HasPrefix(msg.Content, SummarySentinel)
}

// ValidateHistory converts stored messages into conversation messages,
// leaving out and reporting every record that cannot be used.
func ValidateHistory(raw []domain.RawMessage) ([]domain.Message, []HistoryDefect) {
	var (
		messages []domain.Message
		defects  []HistoryDefect
	)

	for _, r := range raw {
		reason := ""
		content, isString := r.Content.(string)
		switch {
		case r.Content == nil:
			reason = defectMissingContent
		case !isString:
			reason = defectNonString
		case strings.TrimSpace(content) == "":
			reason = defectEmptyContent
		case !domain.MessageRole(r.Role).Valid():
			reason = defectUnknownRole
		}
		if reason != "" {
			defects = append(defects, HistoryDefect{MessageID: r.ID, Reason: reason})
			continue
		}

		messages = append(messages, domain.Message{
			ID:        r.ID,
			Role:      domain.MessageRole(r.Role),
			Content:   content,
			Metadata:  r.Metadata,
			CreatedAt: r.CreatedAt,
		})
	}
	return messages, defects
}

// Supersede drops raw messages already covered by the newest summary and
// moves summaries in front of the remaining messages.
func Supersede(messages []domain.Message) []domain.Message {
	var (
		summaries []domain.Message
		rest      []domain.Message
		until     time.Time
	)

	for _, msg := range messages {
		if !IsSummary(msg) {
			rest = append(rest, msg)
			continue
		}
		summaries = append(summaries, msg)
		if s, ok := msg.Metadata[metaSummarizedUntil].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil && t.After(until) {
				until = t
			}
		}
	}

	out := make([]domain.Message, 0, len(messages))
	out = append(out, summaries...)
	for _, msg := range rest {
		if !until.IsZero() && !msg.CreatedAt.IsZero() && !msg.CreatedAt.After(until) {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// Deduplicate removes (user, assistant) pairs that repeat an earlier pair
// byte for byte. Applying it twice gives the same result as applying it once.
func Deduplicate(messages []domain.Message) []domain.Message {
	seen := make(map[string]bool)
	out := make([]domain.Message, 0, len(messages))

	for i := 0; i < len(messages); {
		msg := messages[i]
		if msg.Role == domain.RoleUser && i+1 < len(messages) && messages[i+1].Role == domain.RoleAssistant {
			key := msg.Content + "\x00" + messages[i+1].Content
			if !seen[key] {
				seen[key] = true
				out = append(out, msg, messages[i+1])
			}
			i += 2
			continue
		}
		out = append(out, msg)
		i++
	}
	return out
}

// Truncate keeps the newest maxSummaries summaries and the last turns*2
// other messages
func Truncate(messages []domain.Message, turns, maxSummaries int) []domain.Message {
	turns = domain.ClampContextTurns(turns)

	summaries, rest := splitSummaries(messages)
	if keep := turns * 2; len(rest) > keep {
		rest = rest[len(rest)-keep:]
	}
	return append(newest(summaries, maxSummaries), rest...)
}

// LimitSummaries drops all but the newest n summaries, keeping them in front
func LimitSummaries(messages []domain.Message, n int) []domain.Message {
	summaries, rest := splitSummaries(messages)
	return append(newest(summaries, n), rest...)
}

func splitSummaries(messages []domain.Message) (summaries, rest []domain.Message) {
	for _, msg := range messages {
		if IsSummary(msg) {
			summaries = append(summaries, msg)
		} else {
			rest = append(rest, msg)
		}
	}
	return summaries, rest
}

func newest(summaries []domain.Message, n int) []domain.Message {
	if n > 0 && len(summaries) > n {
		return summaries[len(summaries)-n:]
	}
	return summaries
}
