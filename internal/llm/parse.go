package llm

import (
	"encoding/json"
	"strings"

	"github.com/Rrens/insights-gateway/internal/domain"
)

// ParseStrategy names the parser attempt that produced an outcome
type ParseStrategy string

const (
	StrategyJSON       ParseStrategy = "json"
	StrategyFencedJSON ParseStrategy = "fenced_json"
	StrategySQLBlock   ParseStrategy = "sql_block"
	StrategyRawSQL     ParseStrategy = "raw_sql"
	StrategyFallback   ParseStrategy = "fallback"
)

// NeedMoreDetail is the explanation returned when no SQL could be recovered
const NeedMoreDetail = "I could not turn this question into a query. Please add more detail, such as the dataset, table, columns or time range you are interested in."

const extractedSQLWarning = "The model did not return structured output; the SQL was extracted from its text and has no explanation."

// SQLParseOutcome is the tagged result of parsing a SQL generation response
type SQLParseOutcome struct {
	Result   domain.SQLGenerationResult
	Strategy ParseStrategy
	OK       bool
}

type sqlAttempt struct {
	strategy ParseStrategy
	parse    func(string) (domain.SQLGenerationResult, bool)
}

var sqlAttempts = []sqlAttempt{
	{StrategyJSON, parseSQLJSON},
	{StrategyFencedJSON, parseSQLFencedJSON},
	{StrategySQLBlock, parseSQLCodeBlock},
	{StrategyRawSQL, parseRawSQL},
}

// ParseSQLResponse runs the parser attempts in order and returns the first
// success. It never fails: unparseable output yields an empty SQL result
// whose explanation asks for more detail.
func ParseSQLResponse(content string) SQLParseOutcome {
	for _, a := range sqlAttempts {
		if res, ok := a.parse(content); ok {
			return SQLParseOutcome{Result: res, Strategy: a.strategy, OK: true}
		}
	}
	return SQLParseOutcome{
		Result: domain.SQLGenerationResult{
			Explanation:         NeedMoreDetail,
			EstimatedComplexity: domain.ComplexityLow,
		},
		Strategy: StrategyFallback,
	}
}

type sqlPayload struct {
	SQL                 string   `json:"sql"`
	Query               string   `json:"query"`
	Explanation         string   `json:"explanation"`
	TablesUsed          []string `json:"tables_used"`
	EstimatedComplexity string   `json:"estimated_complexity"`
	Warnings            []string `json:"warnings"`
}

func (p sqlPayload) result() domain.SQLGenerationResult {
	sql := p.SQL
	if sql == "" {
		sql = p.Query
	}
	return domain.SQLGenerationResult{
		SQL:                 trimSQL(sql),
		Explanation:         strings.TrimSpace(p.Explanation),
		TablesUsed:          p.TablesUsed,
		EstimatedComplexity: normalizeComplexity(p.EstimatedComplexity),
		Warnings:            p.Warnings,
	}
}

func parseSQLJSON(content string) (domain.SQLGenerationResult, bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "{") {
		return domain.SQLGenerationResult{}, false
	}
	var p sqlPayload
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		return domain.SQLGenerationResult{}, false
	}
	return p.result(), true
}

func parseSQLFencedJSON(content string) (domain.SQLGenerationResult, bool) {
	for _, block := range fencedBlocks(content) {
		if res, ok := parseSQLJSON(block.body); ok {
			return res, true
		}
	}
	return domain.SQLGenerationResult{}, false
}

func parseSQLCodeBlock(content string) (domain.SQLGenerationResult, bool) {
	for _, block := range fencedBlocks(content) {
		if block.lang == "sql" || looksLikeQuery(block.body) {
			sql := trimSQL(block.body)
			if sql == "" {
				continue
			}
			return extractedResult(sql), true
		}
	}
	return domain.SQLGenerationResult{}, false
}

func parseRawSQL(content string) (domain.SQLGenerationResult, bool) {
	if !looksLikeQuery(content) {
		return domain.SQLGenerationResult{}, false
	}
	return extractedResult(trimSQL(content)), true
}

func extractedResult(sql string) domain.SQLGenerationResult {
	return domain.SQLGenerationResult{
		SQL:                 sql,
		EstimatedComplexity: domain.ComplexityMedium,
		Warnings:            []string{extractedSQLWarning},
	}
}

func normalizeComplexity(s string) domain.SQLComplexity {
	switch c := domain.SQLComplexity(strings.ToLower(strings.TrimSpace(s))); c {
	case domain.ComplexityLow, domain.ComplexityMedium, domain.ComplexityHigh:
		return c
	}
	return domain.ComplexityMedium
}

func looksLikeQuery(s string) bool {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return false
	}
	first := strings.ToUpper(strings.TrimLeft(fields[0], "("))
	return first == "SELECT" || first == "WITH"
}

// ExtractSQL pulls a SQL statement out of free-form model output
func ExtractSQL(content string) string {
	for _, block := range fencedBlocks(content) {
		if block.lang == "sql" {
			return trimSQL(block.body)
		}
	}
	if blocks := fencedBlocks(content); len(blocks) > 0 {
		return trimSQL(blocks[0].body)
	}
	return trimSQL(content)
}

type fencedBlock struct {
	lang string
	body string
}

// fencedBlocks returns the markdown code blocks of content in order
func fencedBlocks(content string) []fencedBlock {
	var blocks []fencedBlock
	rest := content
	for {
		start := strings.Index(rest, "```")
		if start == -1 {
			return blocks
		}
		rest = rest[start+3:]

		lang := ""
		if nl := strings.IndexByte(rest, '\n'); nl != -1 {
			lang = strings.ToLower(strings.TrimSpace(rest[:nl]))
			if strings.ContainsAny(lang, " \t") {
				lang = ""
			} else {
				rest = rest[nl+1:]
			}
		}

		end := strings.Index(rest, "```")
		if end == -1 {
			return blocks
		}
		blocks = append(blocks, fencedBlock{lang: lang, body: strings.TrimSpace(rest[:end])})
		rest = rest[end+3:]
	}
}

func trimSQL(sql string) string {
	sql = strings.TrimSpace(sql)
	sql = strings.TrimSuffix(sql, ";")
	return strings.TrimSpace(sql)
}

// ChartParseOutcome is the tagged result of parsing a chart suggestion response
type ChartParseOutcome struct {
	Charts   []domain.ChartSuggestion
	Strategy ParseStrategy
	OK       bool
	Dropped  int
}

type chartPayload struct {
	ChartType   string         `json:"chart_type"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	XColumn     string         `json:"x_column"`
	YColumns    any            `json:"y_columns"`
	Description string         `json:"description"`
	Config      map[string]any `json:"config"`
}

// ParseChartResponse accepts a JSON array, an object with a "charts" array,
// or either form inside a fenced block. Suggestions with an unsupported
// chart type are dropped; no valid suggestion is a failed outcome.
func ParseChartResponse(content string) ChartParseOutcome {
	if out, ok := parseCharts(content, StrategyJSON); ok {
		return out
	}
	for _, block := range fencedBlocks(content) {
		if out, ok := parseCharts(block.body, StrategyFencedJSON); ok {
			return out
		}
	}
	return ChartParseOutcome{Strategy: StrategyFallback}
}

func parseCharts(content string, strategy ParseStrategy) (ChartParseOutcome, bool) {
	content = strings.TrimSpace(content)
	var payloads []chartPayload
	switch {
	case strings.HasPrefix(content, "["):
		if err := json.Unmarshal([]byte(content), &payloads); err != nil {
			return ChartParseOutcome{}, false
		}
	case strings.HasPrefix(content, "{"):
		var wrapper struct {
			Charts []chartPayload `json:"charts"`
		}
		if err := json.Unmarshal([]byte(content), &wrapper); err != nil {
			return ChartParseOutcome{}, false
		}
		payloads = wrapper.Charts
	default:
		return ChartParseOutcome{}, false
	}

	out := ChartParseOutcome{Strategy: strategy}
	for _, p := range payloads {
		kind := p.ChartType
		if kind == "" {
			kind = p.Type
		}
		ct, err := domain.ParseChartType(kind)
		if err != nil {
			out.Dropped++
			continue
		}
		out.Charts = append(out.Charts, domain.ChartSuggestion{
			ChartType:   ct,
			Title:       strings.TrimSpace(p.Title),
			XColumn:     p.XColumn,
			YColumns:    stringList(p.YColumns),
			Description: p.Description,
			Config:      p.Config,
		})
	}
	out.OK = len(out.Charts) > 0
	return out, out.OK
}

func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
