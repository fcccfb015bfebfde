package service

import (
	"context"

	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/Rrens/insights-gateway/internal/llm"
	"github.com/Rrens/insights-gateway/internal/warehouse"
	"github.com/stretchr/testify/mock"
)

// MockKnowledgeBase mocks domain.KnowledgeBase
type MockKnowledgeBase struct {
	mock.Mock
}

func (m *MockKnowledgeBase) GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.RawMessage, error) {
	args := m.Called(ctx, sessionID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RawMessage), args.Error(1)
}

func (m *MockKnowledgeBase) AppendMessage(ctx context.Context, msg domain.NewMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockKnowledgeBase) CheckQuota(ctx context.Context, userID string, period domain.QuotaPeriod) (*domain.QuotaStatus, error) {
	args := m.Called(ctx, userID, period)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.QuotaStatus), args.Error(1)
}

func (m *MockKnowledgeBase) RecordUsage(ctx context.Context, userID string, tokens int, metadata map[string]any) error {
	args := m.Called(ctx, userID, tokens, metadata)
	return args.Error(0)
}

// MockLLMProvider mocks llm.Provider
type MockLLMProvider struct {
	mock.Mock
}

func (m *MockLLMProvider) Name() string {
	return "mock-provider"
}

func (m *MockLLMProvider) Generate(ctx context.Context, messages []domain.Message, tools []llm.ToolDefinition) (*llm.Completion, error) {
	args := m.Called(ctx, messages, tools)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.Completion), args.Error(1)
}

func (m *MockLLMProvider) CountTokens(ctx context.Context, text string) (int, error) {
	return llm.EstimateTokens(text), nil
}

func (m *MockLLMProvider) SupportsFunctions() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockLLMProvider) SupportsVision() bool {
	return false
}

func (m *MockLLMProvider) ModelInfo() llm.ModelInfo {
	return llm.ModelInfo{Provider: "mock-provider", Model: "mock-model"}
}

func (m *MockLLMProvider) IsConfigured() bool {
	return true
}

// MockEngine mocks warehouse.Engine
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Name() string {
	return "mock"
}

func (m *MockEngine) Dialect() string {
	return "BigQuery Standard SQL"
}

func (m *MockEngine) ListDatasets(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockEngine) ListTables(ctx context.Context, dataset string) ([]string, error) {
	args := m.Called(ctx, dataset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockEngine) DescribeTable(ctx context.Context, dataset, table string) (*domain.TableSchema, error) {
	args := m.Called(ctx, dataset, table)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TableSchema), args.Error(1)
}

func (m *MockEngine) Execute(ctx context.Context, sql string, opts warehouse.QueryOptions) (*domain.QueryResult, error) {
	args := m.Called(ctx, sql, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.QueryResult), args.Error(1)
}

func (m *MockEngine) HealthCheck(ctx context.Context) error {
	return nil
}

func (m *MockEngine) Close() error {
	return nil
}

// MockAgent mocks Agent
type MockAgent struct {
	mock.Mock
}

func (m *MockAgent) ProcessQuestion(ctx context.Context, req domain.AgentRequest) domain.AgentResponse {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.AgentResponse)
}

// singleEngine serves one engine under any name
type singleEngine struct {
	engine warehouse.Engine
}

func (s singleEngine) Get(ctx context.Context, name string) (warehouse.Engine, error) {
	return s.engine, nil
}
