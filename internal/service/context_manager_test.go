package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func msg(role domain.MessageRole, content string, minute int) domain.Message {
	return domain.Message{Role: role, Content: content, CreatedAt: t0.Add(time.Duration(minute) * time.Minute)}
}

func conversation(pairs int, startMinute int) []domain.Message {
	var out []domain.Message
	for i := 0; i < pairs; i++ {
		m := startMinute + i*2
		out = append(out,
			msg(domain.RoleUser, fmt.Sprintf("question %d about monthly revenue by region", i), m),
			msg(domain.RoleAssistant, fmt.Sprintf("answer %d with a long explanation of revenue", i), m+1),
		)
	}
	return out
}

func countSentinels(messages []domain.Message) int {
	n := 0
	for _, m := range messages {
		n += strings.Count(m.Content, SummarySentinel)
	}
	return n
}

func TestValidateHistory(t *testing.T) {
	raw := []domain.RawMessage{
		{ID: "1", Role: "user", Content: "How many orders?", CreatedAt: t0},
		{ID: "2", Role: "assistant"},
		{ID: "3", Role: "user", Content: map[string]any{"text": "hi"}},
		{ID: "4", Role: "user", Content: "   "},
		{ID: "5", Role: "robot", Content: "beep"},
		{ID: "6", Role: "assistant", Content: "There were 42 orders.", Metadata: map[string]any{"datasets": []any{"sales"}}},
	}

	messages, defects := ValidateHistory(raw)

	require.Len(t, messages, 2)
	assert.Equal(t, "How many orders?", messages[0].Content)
	assert.Equal(t, domain.RoleAssistant, messages[1].Role)
	assert.Equal(t, []any{"sales"}, messages[1].Metadata["datasets"])

	assert.Equal(t, []HistoryDefect{
		{MessageID: "2", Reason: "missing content field"},
		{MessageID: "3", Reason: "non-string content"},
		{MessageID: "4", Reason: "empty content"},
		{MessageID: "5", Reason: "unknown role"},
	}, defects)
}

func TestDeduplicate(t *testing.T) {
	history := []domain.Message{
		msg(domain.RoleUser, "total sales?", 0),
		msg(domain.RoleAssistant, "Total sales are 10.", 1),
		msg(domain.RoleUser, "total sales?", 2),
		msg(domain.RoleAssistant, "Total sales are 10.", 3),
		msg(domain.RoleUser, "total sales?", 4),
		msg(domain.RoleAssistant, "Total sales are 10!", 5),
		msg(domain.RoleUser, "and by region?", 6),
	}

	once := Deduplicate(history)
	require.Len(t, once, 5)
	assert.Equal(t, "Total sales are 10!", once[3].Content, "near duplicates are kept")
	assert.Equal(t, "and by region?", once[4].Content)

	t.Run("idempotent", func(t *testing.T) {
		assert.Equal(t, once, Deduplicate(once))
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, Deduplicate(nil))
	})
}

func TestTruncateWords(t *testing.T) {
	assert.Equal(t, "short", TruncateWords("short", 10))
	assert.Equal(t, "the quick brown...", TruncateWords("the quick brown fox jumps", 17))
	assert.Equal(t, "the quick...", TruncateWords("the quick brown fox jumps", 12))
	assert.Equal(t, "abcdefghij...", TruncateWords("abcdefghijklmnop", 10))
	assert.Equal(t, "anything", TruncateWords("anything", 0))
}

func TestContextManager_Summarize(t *testing.T) {
	cfg := ContextConfig{MaxContextTurns: 2, SummaryLineChars: 40}

	t.Run("condenses old messages once", func(t *testing.T) {
		kb := new(MockKnowledgeBase)
		kb.On("AppendMessage", mock.Anything, mock.MatchedBy(func(m domain.NewMessage) bool {
			return m.Role == domain.RoleSystem && m.SessionID == "s1" && strings.Count(m.Content, SummarySentinel) == 1
		})).Return(nil).Once()
		cm := NewContextManager(kb, cfg)

		history := conversation(5, 0)
		summary, err := cm.Summarize(context.Background(), "s1", "u1", history)
		require.NoError(t, err)
		require.NotNil(t, summary)

		assert.True(t, IsSummary(*summary))
		assert.Equal(t, domain.RoleSystem, summary.Role)
		assert.Contains(t, summary.Content, "user: question 0")
		assert.NotContains(t, summary.Content, "question 3", "recent messages stay verbatim")
		assert.Equal(t, 6, summary.Metadata["summarized_messages"])
		assert.Equal(t, history[5].CreatedAt.Format(time.RFC3339Nano), summary.Metadata["summarized_until"])
		kb.AssertExpectations(t)
	})

	t.Run("never nests summaries", func(t *testing.T) {
		kb := new(MockKnowledgeBase)
		kb.On("AppendMessage", mock.Anything, mock.Anything).Return(nil).Once()
		cm := NewContextManager(kb, cfg)

		previous := domain.Message{
			Role:      domain.RoleSystem,
			Content:   SummarySentinel + " Earlier in this conversation:\nuser: first question",
			CreatedAt: t0,
		}
		history := append([]domain.Message{previous}, conversation(4, 10)...)
		history[1].Content = "please repeat " + SummarySentinel + " back to me"

		summary, err := cm.Summarize(context.Background(), "s1", "u1", history)
		require.NoError(t, err)
		require.NotNil(t, summary)
		assert.Equal(t, 1, strings.Count(summary.Content, SummarySentinel))
		assert.NotContains(t, summary.Content, "first question")
	})

	t.Run("no-op when only summaries are old", func(t *testing.T) {
		kb := new(MockKnowledgeBase)
		cm := NewContextManager(kb, cfg)

		history := []domain.Message{
			{Role: domain.RoleSystem, Content: SummarySentinel + " one"},
			{Role: domain.RoleSystem, Content: SummarySentinel + " two"},
		}
		history = append(history, conversation(2, 10)...)

		summary, err := cm.Summarize(context.Background(), "s1", "u1", history)
		require.NoError(t, err)
		assert.Nil(t, summary)
		kb.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything)
	})

	t.Run("short history", func(t *testing.T) {
		kb := new(MockKnowledgeBase)
		cm := NewContextManager(kb, cfg)

		summary, err := cm.Summarize(context.Background(), "s1", "u1", conversation(2, 0))
		require.NoError(t, err)
		assert.Nil(t, summary)
	})

	t.Run("persistence failure still returns the summary", func(t *testing.T) {
		kb := new(MockKnowledgeBase)
		kb.On("AppendMessage", mock.Anything, mock.Anything).Return(errors.New("disk full"))
		cm := NewContextManager(kb, cfg)

		summary, err := cm.Summarize(context.Background(), "s1", "u1", conversation(4, 0))
		assert.Error(t, err)
		assert.NotNil(t, summary)
	})
}

func TestSupersede(t *testing.T) {
	history := conversation(3, 0)
	summary := domain.Message{
		Role:      domain.RoleSystem,
		Content:   SummarySentinel + " Earlier in this conversation:\nuser: question 0",
		Metadata:  map[string]any{"summarized_until": history[1].CreatedAt.Format(time.RFC3339Nano)},
		CreatedAt: t0.Add(time.Hour),
	}

	out := Supersede(append(history, summary))

	require.Len(t, out, 5)
	assert.True(t, IsSummary(out[0]), "summaries come first")
	assert.Equal(t, "question 1 about monthly revenue by region", out[1].Content)
}

func TestTruncate(t *testing.T) {
	summary := domain.Message{Role: domain.RoleSystem, Content: SummarySentinel + " old"}
	history := append([]domain.Message{summary}, conversation(4, 0)...)

	out := Truncate(history, 1, 3)

	require.Len(t, out, 3)
	assert.True(t, IsSummary(out[0]))
	assert.Equal(t, "question 3 about monthly revenue by region", out[1].Content)
}

func TestTruncate_KeepsNewestSummaries(t *testing.T) {
	var history []domain.Message
	for i := 0; i < 6; i++ {
		history = append(history, domain.Message{
			Role:    domain.RoleSystem,
			Content: fmt.Sprintf("%s part %d", SummarySentinel, i),
		})
	}
	history = append(history, conversation(2, 0)...)

	out := Truncate(history, 2, 2)

	require.Len(t, out, 6)
	assert.Equal(t, SummarySentinel+" part 4", out[0].Content)
	assert.Equal(t, SummarySentinel+" part 5", out[1].Content)
	assert.False(t, IsSummary(out[2]))
}

func TestContextManager_BuildContext(t *testing.T) {
	req, err := domain.NewAgentRequest("what next?", "s1", "u1", []string{"sales"}, nil, 2, nil)
	require.NoError(t, err)

	t.Run("history failure degrades to empty", func(t *testing.T) {
		kb := new(MockKnowledgeBase)
		kb.On("GetMessages", mock.Anything, "s1", 100).Return(nil, errors.New("connection refused"))
		cm := NewContextManager(kb, ContextConfig{MaxContextTurns: 2})

		cc, err := cm.BuildContext(context.Background(), req)
		require.NoError(t, err)
		assert.Empty(t, cc.Messages)
		assert.Equal(t, []string{"sales"}, cc.AllowedDatasets)
	})

	t.Run("malformed messages are skipped", func(t *testing.T) {
		kb := new(MockKnowledgeBase)
		kb.On("GetMessages", mock.Anything, "s1", 100).Return([]domain.RawMessage{
			{ID: "1", Role: "user", Content: "hi", CreatedAt: t0},
			{ID: "2", Role: "assistant", Content: 42, CreatedAt: t0.Add(time.Minute)},
			{ID: "3", Role: "assistant", Content: "hello", CreatedAt: t0.Add(2 * time.Minute)},
		}, nil)
		cm := NewContextManager(kb, ContextConfig{MaxContextTurns: 2})

		cc, err := cm.BuildContext(context.Background(), req)
		require.NoError(t, err)
		require.Len(t, cc.Messages, 2)
		assert.Equal(t, "hello", cc.Messages[1].Content)
	})

	t.Run("summarizes over threshold", func(t *testing.T) {
		var raw []domain.RawMessage
		for i, m := range conversation(6, 0) {
			raw = append(raw, domain.RawMessage{ID: fmt.Sprint(i), Role: string(m.Role), Content: m.Content, CreatedAt: m.CreatedAt})
		}

		kb := new(MockKnowledgeBase)
		kb.On("GetMessages", mock.Anything, "s1", 100).Return(raw, nil)
		kb.On("AppendMessage", mock.Anything, mock.MatchedBy(func(m domain.NewMessage) bool {
			return m.Role == domain.RoleSystem
		})).Return(nil).Once()
		cm := NewContextManager(kb, ContextConfig{MaxContextTurns: 2, SummarizationThreshold: 10})

		cc, err := cm.BuildContext(context.Background(), req)
		require.NoError(t, err)

		require.Len(t, cc.Messages, 5)
		assert.True(t, IsSummary(cc.Messages[0]))
		assert.Equal(t, 1, countSentinels(cc.Messages))
		assert.Equal(t, "answer 5 with a long explanation of revenue", cc.Messages[4].Content)
		kb.AssertExpectations(t)
	})

	t.Run("only the newest summaries are kept", func(t *testing.T) {
		var raw []domain.RawMessage
		for i := 0; i < 5; i++ {
			raw = append(raw, domain.RawMessage{
				ID:        fmt.Sprintf("s%d", i),
				Role:      string(domain.RoleSystem),
				Content:   fmt.Sprintf("%s part %d", SummarySentinel, i),
				Metadata:  map[string]any{"summarized_until": t0.Add(time.Duration(i) * time.Minute).Format(time.RFC3339Nano)},
				CreatedAt: t0.Add(time.Duration(i) * time.Minute),
			})
		}
		for i, m := range conversation(2, 30) {
			raw = append(raw, domain.RawMessage{ID: fmt.Sprint(i), Role: string(m.Role), Content: m.Content, CreatedAt: m.CreatedAt})
		}

		kb := new(MockKnowledgeBase)
		kb.On("GetMessages", mock.Anything, "s1", 100).Return(raw, nil)
		cm := NewContextManager(kb, ContextConfig{MaxContextTurns: 2, SummarizationThreshold: 10, MaxSummaries: 3})

		cc, err := cm.BuildContext(context.Background(), req)
		require.NoError(t, err)

		require.Len(t, cc.Messages, 7)
		assert.Equal(t, 3, countSentinels(cc.Messages))
		assert.Equal(t, SummarySentinel+" part 2", cc.Messages[0].Content)
		assert.Equal(t, SummarySentinel+" part 4", cc.Messages[2].Content)
		kb.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything)
	})
}
