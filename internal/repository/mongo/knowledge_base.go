package mongo

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Rrens/insights-gateway/internal/config"
	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	messagesCollection = "chat_messages"
	usageCollection    = "token_usage"
)

// KnowledgeBase implements domain.KnowledgeBase on MongoDB. Documents are
// read loosely, so records written by other tools surface as-is for the
// history validator to judge.
type KnowledgeBase struct {
	client   *mongo.Client
	messages *mongo.Collection
	usage    *mongo.Collection
	limits   domain.QuotaLimits
	now      func() time.Time
}

// Connect opens the client and ensures the indexes exist
func Connect(ctx context.Context, cfg config.MongoConfig, limits domain.QuotaLimits) (*KnowledgeBase, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	kb := &KnowledgeBase{
		client:   client,
		messages: db.Collection(messagesCollection),
		usage:    db.Collection(usageCollection),
		limits:   limits,
		now:      time.Now,
	}

	if err := kb.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return kb, nil
}

func (kb *KnowledgeBase) ensureIndexes(ctx context.Context) error {
	_, err := kb.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create message index: %w", err)
	}
	_, err = kb.usage.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create usage index: %w", err)
	}
	return nil
}

// GetMessages retrieves the latest messages of a session, oldest first
func (kb *KnowledgeBase) GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.RawMessage, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := kb.messages.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}

	messages := make([]domain.RawMessage, 0, len(docs))
	for _, doc := range docs {
		messages = append(messages, toRawMessage(doc))
	}
	slices.Reverse(messages)
	return messages, nil
}

// AppendMessage stores one message of a session
func (kb *KnowledgeBase) AppendMessage(ctx context.Context, msg domain.NewMessage) error {
	doc := bson.M{
		"_id":        uuid.NewString(),
		"session_id": msg.SessionID,
		"user_id":    msg.UserID,
		"role":       string(msg.Role),
		"content":    msg.Content,
		"metadata":   msg.Metadata,
		"created_at": kb.now().UTC(),
	}
	if _, err := kb.messages.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// CheckQuota sums the user's token usage in the current period window
func (kb *KnowledgeBase) CheckQuota(ctx context.Context, userID string, period domain.QuotaPeriod) (*domain.QuotaStatus, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"user_id":    userID,
			"created_at": bson.M{"$gte": period.Start(kb.now())},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"total": bson.M{"$sum": "$tokens"},
		}}},
	}

	cursor, err := kb.usage.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to sum token usage: %w", err)
	}

	var out []struct {
		Total int64 `bson:"total"`
	}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode token usage: %w", err)
	}

	var used int64
	if len(out) > 0 {
		used = out[0].Total
	}
	return domain.NewQuotaStatus(period, kb.limits.For(period), used), nil
}

// RecordUsage stores the tokens consumed by one turn
func (kb *KnowledgeBase) RecordUsage(ctx context.Context, userID string, tokens int, metadata map[string]any) error {
	if tokens < 0 {
		return fmt.Errorf("negative token count %d", tokens)
	}
	_, err := kb.usage.InsertOne(ctx, bson.M{
		"user_id":    userID,
		"tokens":     tokens,
		"metadata":   metadata,
		"created_at": kb.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to record token usage: %w", err)
	}
	return nil
}

// Ping verifies the store is reachable
func (kb *KnowledgeBase) Ping(ctx context.Context) error {
	return kb.client.Ping(ctx, nil)
}

// Close disconnects the client
func (kb *KnowledgeBase) Close(ctx context.Context) error {
	return kb.client.Disconnect(ctx)
}

// toRawMessage keeps content untyped: a missing field stays nil and a
// non-string value is passed through.
func toRawMessage(doc bson.M) domain.RawMessage {
	m := domain.RawMessage{
		ID:        fmt.Sprint(doc["_id"]),
		SessionID: stringField(doc, "session_id"),
		UserID:    stringField(doc, "user_id"),
		Role:      stringField(doc, "role"),
		Content:   plain(doc["content"]),
	}

	if md, ok := plain(doc["metadata"]).(map[string]any); ok {
		m.Metadata = md
	}

	switch ts := doc["created_at"].(type) {
	case time.Time:
		m.CreatedAt = ts
	case interface{ Time() time.Time }:
		m.CreatedAt = ts.Time()
	}
	return m
}

func stringField(doc bson.M, key string) string {
	s, _ := doc[key].(string)
	return s
}

// plain converts decoded bson containers into plain Go maps and slices
func plain(v any) any {
	switch val := v.(type) {
	case bson.M:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = plain(item)
		}
		return out
	case bson.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = plain(item)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = plain(e.Value)
		}
		return out
	case interface{ Time() time.Time }:
		return val.Time()
	}
	return v
}
