package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/Rrens/insights-gateway/internal/llm"
	"github.com/Rrens/insights-gateway/internal/security"
	"github.com/Rrens/insights-gateway/internal/summary"
	"github.com/Rrens/insights-gateway/internal/warehouse"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// AgentState is a step of the per-question state machine
type AgentState string

const (
	StateReceived             AgentState = "RECEIVED"
	StateContextLoaded        AgentState = "CONTEXT_LOADED"
	StateMetadataShortCircuit AgentState = "METADATA_SHORT_CIRCUIT"
	StateSQLGenerating        AgentState = "SQL_GENERATING"
	StateSQLValidated         AgentState = "SQL_VALIDATED"
	StateExecuting            AgentState = "EXECUTING"
	StateSummarizing          AgentState = "SUMMARIZING"
	StateChartSuggesting      AgentState = "CHART_SUGGESTING"
	StateDone                 AgentState = "DONE"
	StateError                AgentState = "ERROR"
)

// Response metadata keys
const (
	MetaRequestID        = "request_id"
	MetaProvider         = "provider"
	MetaModel            = "model"
	MetaTokensUsed       = "tokens_used"
	MetaPromptTokens     = "prompt_tokens"
	MetaCompletionTokens = "completion_tokens"
	MetaLLMCalls         = "llm_calls"
	MetaDurationMs       = "duration_ms"
	MetaStateTrace       = "state_trace"
	MetaDatasets         = "datasets"
	MetaParseStrategy    = "parse_strategy"
	MetaWarnings         = "warnings"
	MetaBytesProcessed   = "bytes_processed"
)

// MetaLLMProvider is the request metadata key selecting a provider for one turn
const MetaLLMProvider = "llm_provider"

// ProviderSource resolves LLM providers by name; "" means the default
type ProviderSource interface {
	GetProvider(name string) (llm.Provider, error)
}

// EngineSource hands out healthy warehouse engines
type EngineSource interface {
	Get(ctx context.Context, name string) (warehouse.Engine, error)
}

// SchemaCache stores warehouse metadata between turns
type SchemaCache interface {
	GetTable(ctx context.Context, engine, dataset, table string) (*domain.TableSchema, error)
	SetTable(ctx context.Context, engine string, schema *domain.TableSchema) error
	GetTables(ctx context.Context, engine, dataset string) ([]string, error)
	SetTables(ctx context.Context, engine, dataset string, tables []string) error
}

// AgentConfig tunes the orchestrator
type AgentConfig struct {
	Provider          string
	Engine            string
	ProjectID         string
	MaxRows           int
	QueryTimeout      time.Duration
	EnableTools       bool
	MaxToolIterations int
	MaxSchemaTables   int
	PreviewRows       int
	PersistTimeout    time.Duration
}

// AgentDeps are the collaborators of the orchestrator. Cache may be nil.
type AgentDeps struct {
	Providers     ProviderSource
	Engines       EngineSource
	KnowledgeBase domain.KnowledgeBase
	Contexts      *ContextManager
	Cache         SchemaCache
}

// InsightsAgent turns a question into an answer: it loads context, resolves
// datasets, generates and checks SQL, executes it and explains the result.
type InsightsAgent struct {
	providers  ProviderSource
	engines    EngineSource
	kb         domain.KnowledgeBase
	contexts   *ContextManager
	cache      SchemaCache
	summarizer *summary.Summarizer
	validator  *security.SQLValidator
	cfg        AgentConfig
}

// NewInsightsAgent creates a new insights agent
func NewInsightsAgent(deps AgentDeps, cfg AgentConfig) *InsightsAgent {
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = 6
	}
	if cfg.MaxSchemaTables <= 0 {
		cfg.MaxSchemaTables = 20
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	return &InsightsAgent{
		providers:  deps.Providers,
		engines:    deps.Engines,
		kb:         deps.KnowledgeBase,
		contexts:   deps.Contexts,
		cache:      deps.Cache,
		summarizer: summary.New(cfg.PreviewRows),
		validator:  security.NewSQLValidator(),
		cfg:        cfg,
	}
}

// turn accumulates the intermediate values of one question. The response is
// built from it once, after the state machine finishes.
type turn struct {
	id       string
	req      domain.AgentRequest
	started  time.Time
	trace    []AgentState
	grant    security.Grant
	history  []domain.Message
	engine   warehouse.Engine
	prompts  llm.PromptBuilder
	provider llm.Provider
	model    string
	usage    llm.Usage
	llmCalls int
	strategy llm.ParseStrategy
	datasets []string
	warnings []string

	answer      string
	sql         string
	explanation string
	results     *domain.QueryResult
	digest      *summary.Digest
	charts      []domain.ChartSuggestion

	// rejected is the last policy or read-only failure of a tool call
	rejected error
}

func newTurn(req domain.AgentRequest) *turn {
	return &turn{
		id:      uuid.NewString(),
		req:     req,
		started: time.Now(),
		trace:   []AgentState{StateReceived},
		grant:   security.NewGrant(req.AllowedDatasets, req.AllowedTables),
	}
}

func (t *turn) enter(s AgentState) {
	if t.trace[len(t.trace)-1] != s {
		t.trace = append(t.trace, s)
	}
}

func (t *turn) warn(msg string) {
	t.warnings = append(t.warnings, msg)
}

func (t *turn) addUsage(c *llm.Completion) {
	t.llmCalls++
	t.usage.PromptTokens += c.Usage.PromptTokens
	t.usage.CompletionTokens += c.Usage.CompletionTokens
	total := c.Usage.TotalTokens
	if total == 0 {
		total = c.Usage.PromptTokens + c.Usage.CompletionTokens
	}
	t.usage.TotalTokens += total
	if c.Model != "" {
		t.model = c.Model
	}
}

// generate calls the turn's provider and accounts for its usage
func (t *turn) generate(ctx context.Context, messages []domain.Message, tools []llm.ToolDefinition) (*llm.Completion, error) {
	c, err := t.provider.Generate(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	t.addUsage(c)
	return c, nil
}

func (t *turn) traceStrings() []string {
	out := make([]string, len(t.trace))
	for i, s := range t.trace {
		out[i] = string(s)
	}
	return out
}

func (t *turn) metadata() map[string]any {
	md := map[string]any{
		MetaRequestID:        t.id,
		MetaTokensUsed:       t.usage.TotalTokens,
		MetaPromptTokens:     t.usage.PromptTokens,
		MetaCompletionTokens: t.usage.CompletionTokens,
		MetaLLMCalls:         t.llmCalls,
		MetaDurationMs:       time.Since(t.started).Milliseconds(),
		MetaStateTrace:       t.traceStrings(),
	}
	if t.provider != nil {
		md[MetaProvider] = t.provider.Name()
		model := t.model
		if model == "" {
			model = t.provider.ModelInfo().Model
		}
		md[MetaModel] = model
	}
	if len(t.datasets) > 0 {
		md[MetaDatasets] = t.datasets
	}
	if t.strategy != "" {
		md[MetaParseStrategy] = string(t.strategy)
	}
	if len(t.warnings) > 0 {
		md[MetaWarnings] = t.warnings
	}
	if t.results != nil && t.results.BytesProcessed > 0 {
		md[MetaBytesProcessed] = t.results.BytesProcessed
	}
	if v, ok := t.req.Metadata[MetaInjectionSuspected]; ok {
		md[MetaInjectionSuspected] = v
	}
	return md
}

// ProcessQuestion runs the state machine for one question. It never returns
// an error: every failure is reported in the response, and every outcome is
// persisted to the session history once.
func (a *InsightsAgent) ProcessQuestion(ctx context.Context, req domain.AgentRequest) domain.AgentResponse {
	t := newTurn(req)

	var resp domain.AgentResponse
	if err := a.process(ctx, t); err != nil {
		t.enter(StateError)
		resp = domain.NewErrorResponse(err, t.metadata())
		log.Warn().
			Err(err).
			Str("request_id", t.id).
			Str("session_id", req.SessionID).
			Strs("state_trace", t.traceStrings()).
			Msg("question failed")
	} else {
		t.enter(StateDone)
		resp = domain.NewSuccessResponse(domain.SuccessFields{
			Answer:           t.answer,
			SQLQuery:         t.sql,
			SQLExplanation:   t.explanation,
			Results:          t.results,
			ChartSuggestions: t.charts,
			Metadata:         t.metadata(),
		})
		log.Info().
			Str("request_id", t.id).
			Str("session_id", req.SessionID).
			Strs("state_trace", t.traceStrings()).
			Int("tokens", t.usage.TotalTokens).
			Dur("duration", time.Since(t.started)).
			Msg("question answered")
	}

	a.persist(ctx, t, resp)
	return resp
}

func (a *InsightsAgent) process(ctx context.Context, t *turn) error {
	cc, err := a.contexts.BuildContext(ctx, t.req)
	if err != nil {
		return domain.NewAgentError(domain.ErrorTypeExecution, "conversation history could not be loaded", err, domain.SuggestRetryLater)
	}
	t.history = cc.Messages
	t.enter(StateContextLoaded)

	engine, err := a.engines.Get(ctx, a.cfg.Engine)
	if err != nil {
		return domain.NewAgentError(domain.ErrorTypeExecution, "the data warehouse is unavailable", err, domain.SuggestRetryLater)
	}
	t.engine = engine
	t.prompts = llm.NewPromptBuilder(a.cfg.ProjectID, engine.Dialect())

	if kind := DetectMetadataRequest(t.req.Question); kind != MetadataNone {
		t.enter(StateMetadataShortCircuit)
		return a.answerMetadata(ctx, t, kind)
	}

	if t.grant.Empty() {
		return domain.NewAgentError(domain.ErrorTypeAuthorization, "you do not have access to any dataset", nil, domain.SuggestContactAdmin)
	}

	provider, err := a.provider(t.req)
	if err != nil {
		return domain.NewAgentError(domain.ErrorTypeLLM, "no language model is available", err, domain.SuggestRetryLater)
	}
	t.provider = provider

	if a.cfg.EnableTools && provider.SupportsFunctions() {
		return a.runTools(ctx, t)
	}
	return a.runSQL(ctx, t)
}

func (a *InsightsAgent) provider(req domain.AgentRequest) (llm.Provider, error) {
	name := a.cfg.Provider
	if override, ok := req.Metadata[MetaLLMProvider].(string); ok && override != "" {
		name = override
	}
	return a.providers.GetProvider(name)
}

// runSQL is the single-shot path: generate, validate, execute, explain
func (a *InsightsAgent) runSQL(ctx context.Context, t *turn) error {
	refs, err := a.checkQuestionRefs(t)
	if err != nil {
		return err
	}

	datasets, err := a.resolveDatasets(t, refs)
	if err != nil {
		return err
	}
	t.datasets = datasets

	schemas := a.loadSchemas(ctx, t, datasets, refs)

	t.enter(StateSQLGenerating)
	outcome, err := a.generateSQL(ctx, t, schemas, knownTables(schemas, refs))
	if err != nil {
		return err
	}
	t.strategy = outcome.Strategy
	t.warnings = append(t.warnings, outcome.Result.Warnings...)
	t.explanation = outcome.Result.Explanation

	if outcome.Result.SQL == "" {
		t.answer = outcome.Result.Explanation
		if !outcome.OK {
			t.answer = a.clarify(ctx, t)
		}
		return nil
	}

	if err := a.checkSQL(t, outcome.Result.SQL); err != nil {
		return err
	}
	t.sql = outcome.Result.SQL
	t.enter(StateSQLValidated)

	t.enter(StateExecuting)
	res, err := a.execute(ctx, t, t.sql)
	if err != nil {
		return err
	}
	t.results = res

	t.enter(StateSummarizing)
	t.answer = a.summarize(ctx, t)

	t.enter(StateChartSuggesting)
	t.charts = a.suggestCharts(ctx, t)
	return nil
}

func (a *InsightsAgent) generateSQL(ctx context.Context, t *turn, schemas []domain.TableSchema, known []string) (llm.SQLParseOutcome, error) {
	messages := []domain.Message{
		{Role: domain.RoleSystem, Content: t.prompts.SQLSystemPrompt(t.req.AllowedDatasets, t.req.AllowedTables)},
		{Role: domain.RoleUser, Content: t.prompts.UserQuestionPrompt(llm.QuestionPrompt{
			Question:     t.req.Question,
			Schemas:      schemas,
			KnownTables:  known,
			History:      t.history,
			HistoryLimit: t.req.ContextTurns * 2,
		})},
	}

	c, err := t.generate(ctx, messages, nil)
	if err != nil {
		return llm.SQLParseOutcome{}, llmError("SQL generation failed", err)
	}

	outcome := llm.ParseSQLResponse(c.Content)
	if !outcome.OK {
		log.Warn().Str("request_id", t.id).Msg("model output could not be parsed as SQL")
	}
	return outcome, nil
}

// clarify asks the model for a follow-up question, falling back to the
// generic request for more detail.
func (a *InsightsAgent) clarify(ctx context.Context, t *turn) string {
	prompt := t.prompts.ClarificationPrompt(t.req.Question, t.req.AllowedDatasets, t.history, t.req.ContextTurns*2)
	c, err := t.generate(ctx, []domain.Message{{Role: domain.RoleUser, Content: prompt}}, nil)
	if err != nil {
		log.Warn().Err(err).Str("request_id", t.id).Msg("clarification request failed")
		return llm.NeedMoreDetail
	}
	if q := strings.TrimSpace(c.Content); q != "" {
		return q
	}
	return llm.NeedMoreDetail
}

// checkSQL applies the data-access policy, then the read-only gate
func (a *InsightsAgent) checkSQL(t *turn, sql string) error {
	policy := security.ValidatePolicy(sql, t.req.AllowedDatasets, t.req.AllowedTables)
	if !policy.Valid {
		return domain.NewAgentError(domain.ErrorTypeAuthorization, "the query is not permitted", errors.New(policy.Error), domain.SuggestContactAdmin)
	}
	if err := a.validator.Validate(sql); err != nil {
		return domain.NewAgentError(domain.ErrorTypeValidation, "the query is not a read-only SELECT", err, domain.SuggestRephrase)
	}

	if len(t.datasets) == 0 {
		for _, ref := range policy.Tables {
			t.datasets = appendUnique(t.datasets, ref.Dataset)
		}
	}
	return nil
}

func (a *InsightsAgent) execute(ctx context.Context, t *turn, sql string) (*domain.QueryResult, error) {
	res, err := t.engine.Execute(ctx, sql, warehouse.QueryOptions{
		MaxRows: a.cfg.MaxRows,
		Timeout: a.cfg.QueryTimeout,
	})
	if err != nil {
		return nil, engineError(err)
	}
	if res.Truncated {
		t.warn(fmt.Sprintf("The result was truncated to %d rows.", res.RowCount))
	}
	return res, nil
}

// engineError maps a warehouse failure to the error taxonomy
func engineError(err error) error {
	switch {
	case warehouse.IsAccessDenied(err):
		return domain.NewAgentError(domain.ErrorTypeAuthorization, "the warehouse denied access to this data", err, domain.SuggestContactAdmin)
	case warehouse.IsNotFound(err):
		return domain.NewAgentError(domain.ErrorTypeExecution, "the query references a table or column that does not exist", err, domain.SuggestCheckExists)
	case errors.Is(err, warehouse.ErrRejected):
		return domain.NewAgentError(domain.ErrorTypeValidation, "the query was rejected because it is not read-only", err, domain.SuggestRephrase)
	case errors.Is(err, context.DeadlineExceeded):
		return domain.NewAgentError(domain.ErrorTypeExecution, "the query timed out", err, "Try adding filters or a narrower time range.")
	}
	return domain.NewAgentError(domain.ErrorTypeExecution, "the query failed", err, domain.SuggestRephrase)
}

func llmError(msg string, err error) error {
	return domain.NewAgentError(domain.ErrorTypeLLM, msg, err, domain.SuggestRetryLater)
}

// persist writes the exchange to history once, detached from cancellation
func (a *InsightsAgent) persist(ctx context.Context, t *turn, resp domain.AgentResponse) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.PersistTimeout)
	defer cancel()

	err := a.kb.AppendMessage(ctx, domain.NewMessage{
		SessionID: t.req.SessionID,
		UserID:    t.req.UserID,
		Role:      domain.RoleUser,
		Content:   t.req.Question,
		Metadata:  map[string]any{MetaRequestID: t.id},
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", t.req.SessionID).Msg("failed to save user message")
		return
	}

	content := resp.Answer
	metadata := map[string]any{
		MetaRequestID: t.id,
		"success":     resp.Success,
	}
	if !resp.Success {
		content = resp.Error
		metadata["error_type"] = string(resp.ErrorType)
	}
	if t.sql != "" {
		metadata["sql"] = t.sql
	}
	if len(t.datasets) > 0 {
		metadata[MetaDatasets] = t.datasets
	}
	if v, ok := resp.Metadata[MetaTokensUsed]; ok {
		metadata[MetaTokensUsed] = v
	}

	err = a.kb.AppendMessage(ctx, domain.NewMessage{
		SessionID: t.req.SessionID,
		UserID:    t.req.UserID,
		Role:      domain.RoleAssistant,
		Content:   content,
		Metadata:  metadata,
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", t.req.SessionID).Msg("failed to save assistant message")
	}
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return list
		}
	}
	return append(list, s)
}
