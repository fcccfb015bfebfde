package domain

import (
	"time"
)

// MessageRole represents the sender of a message
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Valid reports whether r is one of the known roles
func (r MessageRole) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ToolCall is a structured function invocation emitted by a model
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Message is one role-tagged entry of a conversation
type Message struct {
	ID         string         `json:"id,omitempty"`
	Role       MessageRole    `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at,omitempty"`
}

// RawMessage is a message as stored by the knowledge base.
// Content is nil when the stored record has no content field.
type RawMessage struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id,omitempty"`
	Role      string         `json:"role"`
	Content   any            `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewMessage is the payload appended to a session's history
type NewMessage struct {
	SessionID string
	UserID    string
	Role      MessageRole
	Content   string
	Metadata  map[string]any
}

// ConversationContext is the per-request view of a session, rebuilt every turn
type ConversationContext struct {
	SessionID       string
	UserID          string
	Messages        []Message
	AllowedDatasets []string
	AllowedTables   map[string][]string
	Metadata        map[string]any
}
