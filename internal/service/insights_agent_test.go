package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/Rrens/insights-gateway/internal/llm"
	"github.com/Rrens/insights-gateway/internal/warehouse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type agentFixture struct {
	kb       *MockKnowledgeBase
	provider *MockLLMProvider
	engine   *MockEngine
	agent    *InsightsAgent
}

func newAgentFixture(t *testing.T, tools bool, history []domain.RawMessage) *agentFixture {
	t.Helper()

	kb := new(MockKnowledgeBase)
	if history == nil {
		history = []domain.RawMessage{}
	}
	kb.On("GetMessages", mock.Anything, "s1", mock.Anything).Return(history, nil).Maybe()
	kb.On("AppendMessage", mock.Anything, mock.Anything).Return(nil).Maybe()

	provider := new(MockLLMProvider)
	provider.On("SupportsFunctions").Return(tools).Maybe()
	router := llm.NewRouter("mock-provider")
	router.RegisterProvider(provider)

	engine := new(MockEngine)

	agent := NewInsightsAgent(AgentDeps{
		Providers:     router,
		Engines:       singleEngine{engine: engine},
		KnowledgeBase: kb,
		Contexts:      NewContextManager(kb, ContextConfig{MaxContextTurns: 5}),
	}, AgentConfig{
		Engine:      "mock",
		MaxRows:     100,
		EnableTools: true,
	})

	return &agentFixture{kb: kb, provider: provider, engine: engine, agent: agent}
}

func (f *agentFixture) reply(content string) *mock.Call {
	return f.provider.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(&llm.Completion{
			Content: content,
			Usage:   llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
			Model:   "mock-model",
		}, nil).Once()
}

func (f *agentFixture) expectSalesSchema() {
	f.engine.On("ListTables", mock.Anything, "sales").Return([]string{"orders"}, nil)
	f.engine.On("DescribeTable", mock.Anything, "sales", "orders").Return(&domain.TableSchema{
		Dataset: "sales",
		Name:    "orders",
		Fields: []domain.FieldSchema{
			{Name: "region", Type: "STRING"},
			{Name: "amount", Type: "FLOAT64"},
			{Name: "created_at", Type: "TIMESTAMP"},
		},
	}, nil)
}

func agentRequest(t *testing.T, question string, datasets []string, tables map[string][]string) domain.AgentRequest {
	t.Helper()
	req, err := domain.NewAgentRequest(question, "s1", "u1", datasets, tables, 0, nil)
	require.NoError(t, err)
	return req
}

const revenueSQL = "SELECT region, SUM(amount) AS revenue FROM sales.orders GROUP BY region"

func revenueResult() *domain.QueryResult {
	return &domain.QueryResult{
		Columns: []string{"region", "revenue"},
		Schema:  []domain.FieldSchema{{Name: "region", Type: "STRING"}, {Name: "revenue", Type: "FLOAT64"}},
		Rows: [][]any{
			{"North", 300.0},
			{"South", 120.5},
		},
		RowCount: 2,
	}
}

func TestInsightsAgent_ShowTablesShortCircuit(t *testing.T) {
	f := newAgentFixture(t, false, nil)
	f.engine.On("ListTables", mock.Anything, "analytics").Return([]string{"Table1", "Table2"}, nil).Once()

	resp := f.agent.ProcessQuestion(context.Background(),
		agentRequest(t, "show tables in Analytics", []string{"Analytics"}, nil))

	require.True(t, resp.Success, resp.Error)
	assert.Contains(t, resp.Answer, "Table1")
	assert.Contains(t, resp.Answer, "Table2")
	assert.Equal(t, 2, resp.Results.RowCount)
	assert.Equal(t, []string{"RECEIVED", "CONTEXT_LOADED", "METADATA_SHORT_CIRCUIT", "DONE"}, resp.Metadata[MetaStateTrace])
	assert.NotContains(t, resp.Metadata, MetaProvider)
	f.engine.AssertExpectations(t)
	f.provider.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestInsightsAgent_TablesShortCircuitRespectsAllowedTables(t *testing.T) {
	f := newAgentFixture(t, false, nil)
	f.engine.On("ListTables", mock.Anything, "sales").Return([]string{"orders", "payroll"}, nil)

	resp := f.agent.ProcessQuestion(context.Background(),
		agentRequest(t, "which tables can I access?", []string{"sales"}, map[string][]string{"sales": {"orders"}}))

	require.True(t, resp.Success)
	assert.Contains(t, resp.Answer, "orders")
	assert.NotContains(t, resp.Answer, "payroll")
}

func TestInsightsAgent_DatasetsShortCircuit(t *testing.T) {
	f := newAgentFixture(t, false, nil)

	resp := f.agent.ProcessQuestion(context.Background(),
		agentRequest(t, "What datasets do I have access to?", []string{"sales", "marketing"}, nil))

	require.True(t, resp.Success)
	assert.Equal(t, "You have access to 2 datasets: marketing, sales.", resp.Answer)
	f.provider.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)

	t.Run("no access", func(t *testing.T) {
		resp := f.agent.ProcessQuestion(context.Background(),
			agentRequest(t, "What datasets do I have access to?", nil, nil))
		require.True(t, resp.Success)
		assert.Contains(t, resp.Answer, "do not have access")
	})
}

func TestInsightsAgent_Disambiguation(t *testing.T) {
	f := newAgentFixture(t, false, nil)

	resp := f.agent.ProcessQuestion(context.Background(),
		agentRequest(t, "how many orders were placed last week?", []string{"A", "B", "C"}, nil))

	assert.False(t, resp.Success)
	assert.Equal(t, domain.ErrorTypeValidation, resp.ErrorType)
	assert.Contains(t, resp.Error, "A, B, C")
	assert.Empty(t, resp.Answer)
	f.provider.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestInsightsAgent_NoDatasets(t *testing.T) {
	f := newAgentFixture(t, false, nil)

	resp := f.agent.ProcessQuestion(context.Background(),
		agentRequest(t, "total revenue by region", nil, nil))

	assert.Equal(t, domain.ErrorTypeAuthorization, resp.ErrorType)
	assert.Contains(t, resp.Error, domain.SuggestContactAdmin)
}

func TestInsightsAgent_Success(t *testing.T) {
	f := newAgentFixture(t, false, nil)
	f.expectSalesSchema()
	f.reply(`{"sql": "` + revenueSQL + `", "explanation": "Sums order amounts per region.", "tables_used": ["sales.orders"], "estimated_complexity": "low"}`)
	f.reply("North leads with 300 in revenue, ahead of South with 120.5.")
	f.reply(`[{"chart_type": "BAR", "title": "Revenue by region", "x_column": "region", "y_columns": ["revenue"]}]`)
	f.engine.On("Execute", mock.Anything, revenueSQL, mock.Anything).Return(revenueResult(), nil).Once()

	resp := f.agent.ProcessQuestion(context.Background(),
		agentRequest(t, "What is the revenue per region?", []string{"sales"}, nil))

	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "North leads with 300 in revenue, ahead of South with 120.5.", resp.Answer)
	assert.Equal(t, revenueSQL, resp.SQLQuery)
	assert.Equal(t, "Sums order amounts per region.", resp.SQLExplanation)
	require.Len(t, resp.ChartSuggestions, 1)
	assert.Equal(t, domain.ChartBar, resp.ChartSuggestions[0].ChartType)

	assert.Equal(t, 45, resp.Metadata[MetaTokensUsed])
	assert.Equal(t, 3, resp.Metadata[MetaLLMCalls])
	assert.Equal(t, "mock-provider", resp.Metadata[MetaProvider])
	assert.Equal(t, "mock-model", resp.Metadata[MetaModel])
	assert.Equal(t, "json", resp.Metadata[MetaParseStrategy])
	assert.Equal(t, []string{"sales"}, resp.Metadata[MetaDatasets])
	assert.Equal(t, []string{
		"RECEIVED", "CONTEXT_LOADED", "SQL_GENERATING", "SQL_VALIDATED",
		"EXECUTING", "SUMMARIZING", "CHART_SUGGESTING", "DONE",
	}, resp.Metadata[MetaStateTrace])

	f.kb.AssertCalled(t, "AppendMessage", mock.Anything, mock.MatchedBy(func(m domain.NewMessage) bool {
		return m.Role == domain.RoleUser && m.Content == "What is the revenue per region?"
	}))
	f.kb.AssertCalled(t, "AppendMessage", mock.Anything, mock.MatchedBy(func(m domain.NewMessage) bool {
		return m.Role == domain.RoleAssistant && m.Metadata["sql"] == revenueSQL
	}))
	f.kb.AssertNumberOfCalls(t, "AppendMessage", 2)
}

func TestInsightsAgent_ZeroRows(t *testing.T) {
	f := newAgentFixture(t, false, nil)
	f.expectSalesSchema()
	f.reply("```sql\nSELECT region FROM sales.orders WHERE amount > 1000000\n```")
	f.engine.On("Execute", mock.Anything, "SELECT region FROM sales.orders WHERE amount > 1000000", mock.Anything).
		Return(&domain.QueryResult{Columns: []string{"region"}, Rows: [][]any{}}, nil)

	resp := f.agent.ProcessQuestion(context.Background(),
		agentRequest(t, "Which regions sold more than a million?", []string{"sales"}, nil))

	require.True(t, resp.Success, resp.Error)
	assert.Empty(t, resp.Error)
	assert.Contains(t, resp.Answer, "ran successfully")
	assert.Contains(t, resp.Answer, "0 rows")
	assert.Contains(t, resp.Answer, "filters")
	assert.Equal(t, "sql_block", resp.Metadata[MetaParseStrategy])
	require.NotEmpty(t, resp.ChartSuggestions)
	assert.Equal(t, domain.ChartTable, resp.ChartSuggestions[len(resp.ChartSuggestions)-1].ChartType)
	f.provider.AssertNumberOfCalls(t, "Generate", 1)
}

func TestInsightsAgent_UnparseableOutput(t *testing.T) {
	f := newAgentFixture(t, false, nil)
	f.expectSalesSchema()
	f.reply("I am not sure what you mean by that.")
	f.reply("Which time range should I use?")

	resp := f.agent.ProcessQuestion(context.Background(),
		agentRequest(t, "how did we do?", []string{"sales"}, nil))

	require.True(t, resp.Success, resp.Error)
	assert.Empty(t, resp.SQLQuery)
	assert.Equal(t, llm.NeedMoreDetail, resp.SQLExplanation)
	assert.Equal(t, "Which time range should I use?", resp.Answer)
	assert.Equal(t, "fallback", resp.Metadata[MetaParseStrategy])
	f.engine.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestInsightsAgent_UnauthorizedSQL(t *testing.T) {
	f := newAgentFixture(t, false, nil)
	f.expectSalesSchema()
	f.reply(`{"sql": "SELECT * FROM unauthorized_dataset.some_table"}`)

	resp := f.agent.ProcessQuestion(context.Background(),
		agentRequest(t, "show me salaries from sales", []string{"sales"}, nil))

	assert.False(t, resp.Success)
	assert.Equal(t, domain.ErrorTypeAuthorization, resp.ErrorType)
	assert.Contains(t, resp.Error, "unauthorized_dataset")
	assert.Contains(t, resp.Error, domain.SuggestContactAdmin)
	f.engine.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
	f.kb.AssertCalled(t, "AppendMessage", mock.Anything, mock.MatchedBy(func(m domain.NewMessage) bool {
		return m.Role == domain.RoleAssistant && m.Metadata["error_type"] == "authorization"
	}))
}

func TestInsightsAgent_QuestionRefOutsideAllowedTables(t *testing.T) {
	f := newAgentFixture(t, false, nil)

	resp := f.agent.ProcessQuestion(context.Background(),
		agentRequest(t, "sum amounts in Sales.Payroll", []string{"sales"}, map[string][]string{"sales": {"orders"}}))

	assert.Equal(t, domain.ErrorTypeAuthorization, resp.ErrorType)
	assert.Contains(t, resp.Error, "Sales.Payroll")
	f.provider.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestInsightsAgent_EngineErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantType   domain.ErrorType
		wantSuffix string
	}{
		{"access denied", warehouse.Wrap("mock", "execute", warehouse.ErrAccessDenied, errors.New("403")), domain.ErrorTypeAuthorization, domain.SuggestContactAdmin},
		{"not found", warehouse.Wrap("mock", "execute", warehouse.ErrNotFound, errors.New("no such table")), domain.ErrorTypeExecution, domain.SuggestCheckExists},
		{"generic", errors.New("connection reset"), domain.ErrorTypeExecution, domain.SuggestRephrase},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAgentFixture(t, false, nil)
			f.expectSalesSchema()
			f.reply(`{"sql": "` + revenueSQL + `"}`)
			f.engine.On("Execute", mock.Anything, revenueSQL, mock.Anything).Return(nil, tc.err)

			resp := f.agent.ProcessQuestion(context.Background(),
				agentRequest(t, "revenue per region", []string{"sales"}, nil))

			assert.False(t, resp.Success)
			assert.Equal(t, tc.wantType, resp.ErrorType)
			assert.True(t, strings.HasSuffix(resp.Error, tc.wantSuffix), resp.Error)
			assert.Equal(t, "ERROR", lastState(resp))
		})
	}
}

func TestInsightsAgent_LLMFailure(t *testing.T) {
	f := newAgentFixture(t, false, nil)
	f.expectSalesSchema()
	f.provider.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("503 service unavailable"))

	resp := f.agent.ProcessQuestion(context.Background(),
		agentRequest(t, "revenue per region", []string{"sales"}, nil))

	assert.Equal(t, domain.ErrorTypeLLM, resp.ErrorType)
	assert.Contains(t, resp.Error, "503 service unavailable")
	assert.Contains(t, resp.Error, domain.SuggestRetryLater)
}

func TestInsightsAgent_FallbacksAfterExecution(t *testing.T) {
	f := newAgentFixture(t, false, nil)
	f.expectSalesSchema()
	f.reply(`{"sql": "` + revenueSQL + `"}`)
	f.provider.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("rate limited")).Twice()
	f.engine.On("Execute", mock.Anything, revenueSQL, mock.Anything).Return(revenueResult(), nil)

	resp := f.agent.ProcessQuestion(context.Background(),
		agentRequest(t, "revenue per region", []string{"sales"}, nil))

	require.True(t, resp.Success, resp.Error)
	assert.Contains(t, resp.Answer, "2 rows")
	assert.Contains(t, resp.Answer, "revenue ranges from 120.50 to 300")

	types := make([]domain.ChartType, len(resp.ChartSuggestions))
	for i, c := range resp.ChartSuggestions {
		types[i] = c.ChartType
	}
	assert.Equal(t, []domain.ChartType{domain.ChartBar, domain.ChartTable}, types)
	assert.Len(t, resp.Metadata[MetaWarnings], 2)
}

func TestInsightsAgent_ToolLoop(t *testing.T) {
	const countSQL = "SELECT COUNT(*) AS n FROM sales.orders"

	f := newAgentFixture(t, true, nil)
	f.provider.On("Generate", mock.Anything, mock.Anything, AgentTools).Return(&llm.Completion{
		ToolCalls: []domain.ToolCall{{ID: "call-1", Name: ToolExecuteSQL, Arguments: map[string]any{"sql": countSQL}}},
		Usage:     llm.Usage{TotalTokens: 20},
	}, nil).Once()
	f.provider.On("Generate", mock.Anything, mock.Anything, AgentTools).Return(&llm.Completion{
		Content: "There are 42 orders.",
		Usage:   llm.Usage{TotalTokens: 10},
	}, nil).Once()
	f.reply("no charts today")
	f.engine.On("Execute", mock.Anything, countSQL, mock.Anything).Return(&domain.QueryResult{
		Columns:  []string{"n"},
		Rows:     [][]any{{int64(42)}},
		RowCount: 1,
	}, nil).Once()

	resp := f.agent.ProcessQuestion(context.Background(),
		agentRequest(t, "how many orders are there?", []string{"sales"}, nil))

	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "There are 42 orders.", resp.Answer)
	assert.Equal(t, countSQL, resp.SQLQuery)
	assert.Equal(t, 45, resp.Metadata[MetaTokensUsed])

	second := generateCalls(f.provider)[1].Arguments.Get(1).([]domain.Message)
	toolMsg := second[len(second)-1]
	assert.Equal(t, domain.RoleTool, toolMsg.Role)
	assert.Equal(t, "call-1", toolMsg.ToolCallID)
	assert.Equal(t, ToolExecuteSQL, toolMsg.Name)
	assert.Contains(t, toolMsg.Content, `"row_count":1`)

	require.NotEmpty(t, resp.ChartSuggestions)
	assert.Equal(t, domain.ChartMetric, resp.ChartSuggestions[0].ChartType)
}

func TestInsightsAgent_ToolLoopRejectsUnauthorizedSQL(t *testing.T) {
	f := newAgentFixture(t, true, nil)
	f.provider.On("Generate", mock.Anything, mock.Anything, AgentTools).Return(&llm.Completion{
		ToolCalls: []domain.ToolCall{{ID: "call-1", Name: ToolExecuteSQL, Arguments: map[string]any{"sql": "SELECT * FROM hr.salaries"}}},
	}, nil).Once()
	f.provider.On("Generate", mock.Anything, mock.Anything, AgentTools).Return(&llm.Completion{
		Content: "I cannot access salary data.",
	}, nil).Once()

	resp := f.agent.ProcessQuestion(context.Background(),
		agentRequest(t, "average salary?", []string{"sales"}, nil))

	assert.False(t, resp.Success)
	assert.Equal(t, domain.ErrorTypeAuthorization, resp.ErrorType)
	assert.Contains(t, resp.Error, "hr")
	assert.Empty(t, resp.Answer)
	assert.Empty(t, resp.SQLQuery)
	assert.Equal(t, "ERROR", lastState(resp))

	second := generateCalls(f.provider)[1].Arguments.Get(1).([]domain.Message)
	assert.Contains(t, second[len(second)-1].Content, "not permitted")
	f.engine.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
	f.kb.AssertCalled(t, "AppendMessage", mock.Anything, mock.MatchedBy(func(m domain.NewMessage) bool {
		return m.Role == domain.RoleAssistant && m.Metadata["error_type"] == "authorization"
	}))
}

func TestInsightsAgent_ToolLoopRecoversAfterRejection(t *testing.T) {
	const countSQL = "SELECT COUNT(*) AS n FROM sales.orders"

	f := newAgentFixture(t, true, nil)
	f.provider.On("Generate", mock.Anything, mock.Anything, AgentTools).Return(&llm.Completion{
		ToolCalls: []domain.ToolCall{{ID: "call-1", Name: ToolExecuteSQL, Arguments: map[string]any{"sql": "SELECT COUNT(*) FROM hr.salaries"}}},
	}, nil).Once()
	f.provider.On("Generate", mock.Anything, mock.Anything, AgentTools).Return(&llm.Completion{
		ToolCalls: []domain.ToolCall{{ID: "call-2", Name: ToolExecuteSQL, Arguments: map[string]any{"sql": countSQL}}},
	}, nil).Once()
	f.provider.On("Generate", mock.Anything, mock.Anything, AgentTools).Return(&llm.Completion{
		Content: "There are 42 orders.",
	}, nil).Once()
	f.reply("no charts today")
	f.engine.On("Execute", mock.Anything, countSQL, mock.Anything).Return(&domain.QueryResult{
		Columns:  []string{"n"},
		Rows:     [][]any{{int64(42)}},
		RowCount: 1,
	}, nil).Once()

	resp := f.agent.ProcessQuestion(context.Background(),
		agentRequest(t, "how many orders are there?", []string{"sales"}, nil))

	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "There are 42 orders.", resp.Answer)
	assert.Equal(t, countSQL, resp.SQLQuery)
}

func TestInsightsAgent_ToolLoopZeroRows(t *testing.T) {
	const regionSQL = "SELECT region FROM sales.orders WHERE amount > 1000000"

	f := newAgentFixture(t, true, nil)
	f.provider.On("Generate", mock.Anything, mock.Anything, AgentTools).Return(&llm.Completion{
		ToolCalls: []domain.ToolCall{{ID: "call-1", Name: ToolExecuteSQL, Arguments: map[string]any{"sql": regionSQL}}},
	}, nil).Once()
	f.provider.On("Generate", mock.Anything, mock.Anything, AgentTools).Return(&llm.Completion{
		Content: "No regions qualify.",
	}, nil).Once()
	f.engine.On("Execute", mock.Anything, regionSQL, mock.Anything).
		Return(&domain.QueryResult{Columns: []string{"region"}, Rows: [][]any{}}, nil).Once()

	resp := f.agent.ProcessQuestion(context.Background(),
		agentRequest(t, "Which regions sold more than a million?", []string{"sales"}, nil))

	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, ZeroRowsAnswer, resp.Answer)
	assert.Equal(t, regionSQL, resp.SQLQuery)
	assert.Equal(t, []string{
		"RECEIVED", "CONTEXT_LOADED", "SQL_GENERATING", "SQL_VALIDATED",
		"EXECUTING", "SUMMARIZING", "CHART_SUGGESTING", "DONE",
	}, resp.Metadata[MetaStateTrace])
	f.provider.AssertNumberOfCalls(t, "Generate", 2)
}

func TestInsightsAgent_ToolLoopDisambiguation(t *testing.T) {
	f := newAgentFixture(t, true, nil)

	resp := f.agent.ProcessQuestion(context.Background(),
		agentRequest(t, "how many orders were placed last week?", []string{"A", "B", "C"}, nil))

	assert.False(t, resp.Success)
	assert.Equal(t, domain.ErrorTypeValidation, resp.ErrorType)
	assert.Contains(t, resp.Error, "A, B, C")
	assert.Empty(t, resp.Answer)
	f.provider.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestInsightsAgent_ToolLoopFocusesResolvedDataset(t *testing.T) {
	f := newAgentFixture(t, true, nil)
	f.provider.On("Generate", mock.Anything, mock.Anything, AgentTools).Return(&llm.Completion{
		Content: "About 120 orders last week.",
	}, nil).Once()

	resp := f.agent.ProcessQuestion(context.Background(),
		agentRequest(t, "how many orders were placed in B last week?", []string{"A", "B", "C"}, nil))

	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, []string{"B"}, resp.Metadata[MetaDatasets])

	first := generateCalls(f.provider)[0].Arguments.Get(1).([]domain.Message)
	assert.Contains(t, first[0].Content, "The question is about: B.")
}

func TestInsightsAgent_ToolProtocolViolation(t *testing.T) {
	f := newAgentFixture(t, true, nil)
	f.provider.On("Generate", mock.Anything, mock.Anything, AgentTools).Return(&llm.Completion{
		Content: "Revenue was about 10k last month.",
	}, nil).Once()

	resp := f.agent.ProcessQuestion(context.Background(),
		agentRequest(t, "revenue last month?", []string{"sales"}, nil))

	require.True(t, resp.Success)
	assert.Equal(t, "Revenue was about 10k last month.", resp.Answer)
	assert.Equal(t, []string{protocolViolationWarning}, resp.Metadata[MetaWarnings])
}

func TestInsightsAgent_ToolLoopLimit(t *testing.T) {
	f := newAgentFixture(t, true, nil)
	f.engine.On("ListDatasets", mock.Anything).Return([]string{"sales"}, nil).Maybe()
	f.provider.On("Generate", mock.Anything, mock.Anything, AgentTools).Return(&llm.Completion{
		ToolCalls: []domain.ToolCall{{ID: "c", Name: ToolListDatasets}},
	}, nil)

	resp := f.agent.ProcessQuestion(context.Background(),
		agentRequest(t, "revenue last month?", []string{"sales"}, nil))

	assert.Equal(t, domain.ErrorTypeLLM, resp.ErrorType)
	f.provider.AssertNumberOfCalls(t, "Generate", 6)
}

func generateCalls(p *MockLLMProvider) []mock.Call {
	var out []mock.Call
	for _, c := range p.Calls {
		if c.Method == "Generate" {
			out = append(out, c)
		}
	}
	return out
}

func lastState(resp domain.AgentResponse) string {
	trace := resp.Metadata[MetaStateTrace].([]string)
	return trace[len(trace)-1]
}
