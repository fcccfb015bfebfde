package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// KnowledgeBase implements domain.KnowledgeBase on PostgreSQL
type KnowledgeBase struct {
	pool   *pgxpool.Pool
	limits domain.QuotaLimits
	now    func() time.Time
}

// NewKnowledgeBase creates a new knowledge base
func NewKnowledgeBase(pool *pgxpool.Pool, limits domain.QuotaLimits) *KnowledgeBase {
	return &KnowledgeBase{pool: pool, limits: limits, now: time.Now}
}

// GetMessages retrieves the latest messages of a session, oldest first
func (kb *KnowledgeBase) GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.RawMessage, error) {
	query := `
		SELECT id, session_id, user_id, role, content, metadata, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := kb.pool.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.RawMessage
	for rows.Next() {
		var m domain.RawMessage
		var id uuid.UUID
		var content *string

		if err := rows.Scan(&id, &m.SessionID, &m.UserID, &m.Role, &content, &m.Metadata, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.ID = id.String()
		if content != nil {
			m.Content = *content
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	// Reverse to return chronological order (oldest first)
	slices.Reverse(messages)
	return messages, nil
}

// AppendMessage stores one message of a session
func (kb *KnowledgeBase) AppendMessage(ctx context.Context, msg domain.NewMessage) error {
	metadata, err := marshalMetadata(msg.Metadata)
	if err != nil {
		return err
	}

	_, err = kb.pool.Exec(ctx, `
		INSERT INTO chat_messages (id, session_id, user_id, role, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.New(), msg.SessionID, msg.UserID, string(msg.Role), msg.Content, metadata, kb.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// CheckQuota sums the user's token usage in the current period window
func (kb *KnowledgeBase) CheckQuota(ctx context.Context, userID string, period domain.QuotaPeriod) (*domain.QuotaStatus, error) {
	var used int64
	err := kb.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(tokens), 0)
		FROM token_usage
		WHERE user_id = $1 AND created_at >= $2
	`, userID, period.Start(kb.now())).Scan(&used)
	if err != nil {
		return nil, fmt.Errorf("failed to sum token usage: %w", err)
	}
	return domain.NewQuotaStatus(period, kb.limits.For(period), used), nil
}

// RecordUsage stores the tokens consumed by one turn
func (kb *KnowledgeBase) RecordUsage(ctx context.Context, userID string, tokens int, metadata map[string]any) error {
	if tokens < 0 {
		return fmt.Errorf("negative token count %d", tokens)
	}
	data, err := marshalMetadata(metadata)
	if err != nil {
		return err
	}

	_, err = kb.pool.Exec(ctx, `
		INSERT INTO token_usage (user_id, tokens, metadata, created_at)
		VALUES ($1, $2, $3, $4)
	`, userID, tokens, data, kb.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record token usage: %w", err)
	}
	return nil
}

// Ping verifies the store is reachable
func (kb *KnowledgeBase) Ping(ctx context.Context) error {
	return kb.pool.Ping(ctx)
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return data, nil
}
