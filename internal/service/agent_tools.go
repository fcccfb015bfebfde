package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/Rrens/insights-gateway/internal/llm"
	"github.com/Rrens/insights-gateway/internal/security"
	"github.com/rs/zerolog/log"
)

// Tool names offered to function-calling models
const (
	ToolListDatasets   = "list_datasets"
	ToolListTables     = "list_tables"
	ToolGetTableSchema = "get_table_schema"
	ToolExecuteSQL     = "execute_sql"
)

// AgentTools is the fixed tool set of the function-calling loop
var AgentTools = []llm.ToolDefinition{
	{
		Name:        ToolListDatasets,
		Description: "List the datasets the user is allowed to query.",
	},
	{
		Name:        ToolListTables,
		Description: "List the tables of a dataset the user is allowed to query.",
		Parameters: []llm.ToolParameter{
			{Name: "dataset", Type: "string", Description: "Dataset name", Required: true},
		},
	},
	{
		Name:        ToolGetTableSchema,
		Description: "Get the columns, types and descriptions of a table.",
		Parameters: []llm.ToolParameter{
			{Name: "dataset", Type: "string", Description: "Dataset name", Required: true},
			{Name: "table", Type: "string", Description: "Table name exactly as listed", Required: true},
		},
	},
	{
		Name:        ToolExecuteSQL,
		Description: "Run one read-only SELECT statement with dataset-qualified tables and return the result.",
		Parameters: []llm.ToolParameter{
			{Name: "sql", Type: "string", Description: "The SELECT statement", Required: true},
		},
	},
}

const protocolViolationWarning = "The model answered without calling any tool."

// runTools drives the function-calling loop until the model answers in prose.
// Dataset resolution runs first, as on the single-shot path, so an ambiguous
// question stops before the model is asked.
func (a *InsightsAgent) runTools(ctx context.Context, t *turn) error {
	refs, err := a.checkQuestionRefs(t)
	if err != nil {
		return err
	}

	datasets, err := a.resolveDatasets(t, refs)
	if err != nil {
		return err
	}
	t.datasets = datasets

	t.enter(StateSQLGenerating)
	messages := a.toolMessages(t)

	for round := 0; round < a.cfg.MaxToolIterations; round++ {
		c, err := t.generate(ctx, messages, AgentTools)
		if err != nil {
			return llmError("the language model request failed", err)
		}

		if len(c.ToolCalls) == 0 {
			if round == 0 {
				log.Warn().
					Str("request_id", t.id).
					Str("provider", t.provider.Name()).
					Msg("protocol violation: model answered in prose without calling a tool")
				t.warn(protocolViolationWarning)
			}
			return a.finishTools(ctx, t, c.Content)
		}

		messages = append(messages, domain.Message{
			Role:      domain.RoleAssistant,
			Content:   c.Content,
			ToolCalls: c.ToolCalls,
		})
		for _, call := range c.ToolCalls {
			messages = append(messages, domain.Message{
				Role:       domain.RoleTool,
				Name:       call.Name,
				ToolCallID: call.ID,
				Content:    a.callTool(ctx, t, call),
			})
		}
	}

	if t.results == nil && t.rejected != nil {
		return t.rejected
	}
	return llmError(
		fmt.Sprintf("the model did not produce an answer within %d tool rounds", a.cfg.MaxToolIterations),
		nil,
	)
}

func (a *InsightsAgent) toolMessages(t *turn) []domain.Message {
	messages := []domain.Message{{
		Role:    domain.RoleSystem,
		Content: t.prompts.ToolSystemPrompt(t.req.AllowedDatasets, t.req.AllowedTables, t.datasets),
	}}
	for _, m := range t.history {
		switch m.Role {
		case domain.RoleUser, domain.RoleAssistant, domain.RoleSystem:
			messages = append(messages, domain.Message{Role: m.Role, Content: m.Content})
		}
	}
	return append(messages, domain.Message{Role: domain.RoleUser, Content: llm.QuestionBlock(t.req.Question)})
}

// finishTools settles the turn once the model stops calling tools. A turn
// whose only queries were rejected fails with that rejection, and an empty
// result is always explained with the zero-rows answer.
func (a *InsightsAgent) finishTools(ctx context.Context, t *turn, content string) error {
	if t.results == nil && t.rejected != nil {
		return t.rejected
	}
	t.answer = strings.TrimSpace(content)

	if t.results != nil {
		if t.answer == "" || t.results.RowCount == 0 {
			t.enter(StateSummarizing)
			t.answer = a.summarize(ctx, t)
		}
		t.enter(StateChartSuggesting)
		t.charts = a.suggestCharts(ctx, t)
	}

	if t.answer == "" {
		return llmError("the model returned an empty answer", nil)
	}
	return nil
}

// callTool runs one tool call and renders its result, or its error, as the
// content of the tool message.
func (a *InsightsAgent) callTool(ctx context.Context, t *turn, call domain.ToolCall) string {
	log.Debug().Str("request_id", t.id).Str("tool", call.Name).Msg("tool call")

	var (
		out any
		err error
	)
	switch call.Name {
	case ToolListDatasets:
		out, err = a.visibleDatasets(ctx, t)
	case ToolListTables:
		out, err = a.toolListTables(ctx, t, stringArg(call, "dataset"))
	case ToolGetTableSchema:
		out, err = a.toolTableSchema(ctx, t, stringArg(call, "dataset"), stringArg(call, "table"))
	case ToolExecuteSQL:
		out, err = a.toolExecute(ctx, t, stringArg(call, "sql"))
	default:
		err = fmt.Errorf("unknown tool %q", call.Name)
	}

	if err != nil {
		log.Debug().Err(err).Str("request_id", t.id).Str("tool", call.Name).Msg("tool call failed")
		return toolJSON(map[string]any{"error": err.Error()})
	}
	return toolJSON(out)
}

func (a *InsightsAgent) toolListTables(ctx context.Context, t *turn, dataset string) ([]string, error) {
	if dataset == "" {
		return nil, fmt.Errorf("dataset is required")
	}
	if !t.grant.DatasetAllowed(dataset) {
		return nil, fmt.Errorf("access to dataset %q is not permitted", dataset)
	}

	tables, err := a.listTables(ctx, t, dataset)
	if err != nil {
		return nil, engineError(err)
	}

	allowed := make([]string, 0, len(tables))
	for _, tbl := range tables {
		if t.grant.TableAllowed(dataset, tbl) {
			allowed = append(allowed, tbl)
		}
	}
	return allowed, nil
}

func (a *InsightsAgent) toolTableSchema(ctx context.Context, t *turn, dataset, table string) (*domain.TableSchema, error) {
	if dataset == "" || table == "" {
		return nil, fmt.Errorf("dataset and table are required")
	}
	if !t.grant.TableAllowed(dataset, table) {
		return nil, fmt.Errorf("access to table %q is not permitted", dataset+"."+table)
	}

	schema, err := a.describeTable(ctx, t, dataset, table)
	if err != nil {
		return nil, engineError(err)
	}
	return schema, nil
}

// toolExecute applies the same policy and read-only checks as the
// single-shot path. The last successful result becomes the turn's result.
func (a *InsightsAgent) toolExecute(ctx context.Context, t *turn, sql string) (map[string]any, error) {
	if sql == "" {
		return nil, fmt.Errorf("sql is required")
	}
	if err := a.checkSQL(t, sql); err != nil {
		t.warn("A query proposed by the model was rejected: " + err.Error())
		t.rejected = err
		return nil, err
	}
	t.enter(StateSQLValidated)

	t.enter(StateExecuting)
	res, err := a.execute(ctx, t, sql)
	if err != nil {
		return nil, err
	}

	t.sql = sql
	t.results = res
	t.digest = a.summarizer.Summarize(res)
	for _, ref := range tableRefs(sql) {
		t.datasets = appendUnique(t.datasets, ref.Dataset)
	}

	return map[string]any{
		"row_count": res.RowCount,
		"truncated": res.Truncated,
		"columns":   res.Columns,
		"summary":   t.digest.Text(),
	}, nil
}

func tableRefs(sql string) []security.TableRef {
	refs, err := security.ExtractTableRefs(sql)
	if err != nil {
		return nil
	}
	return refs
}

func stringArg(call domain.ToolCall, key string) string {
	s, _ := call.Arguments[key].(string)
	return strings.TrimSpace(s)
}

func toolJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(data)
}
