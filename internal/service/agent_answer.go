package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/Rrens/insights-gateway/internal/llm"
	"github.com/Rrens/insights-gateway/internal/summary"
	"github.com/rs/zerolog/log"
)

// ZeroRowsAnswer is the answer to a query that ran and matched nothing
const ZeroRowsAnswer = "The query ran successfully but returned 0 rows. " +
	"This usually means no records match the conditions: the filters or time range may be narrower than the data, " +
	"a filter value may be spelled differently in the data, or the table may not contain data for that period yet. " +
	"Try widening the filters or checking the values you used."

const (
	summaryFallbackWarning = "The natural-language summary is unavailable; the answer is built from result statistics."
	chartFallbackWarning   = "Chart suggestions were generated by rules because the model's suggestions could not be used."
	maxRuleYColumns        = 3
)

// summarize explains the turn's result. Zero rows never reach the model;
// a model failure degrades to a statistics-based answer.
func (a *InsightsAgent) summarize(ctx context.Context, t *turn) string {
	if t.results.RowCount == 0 {
		return ZeroRowsAnswer
	}
	if t.digest == nil {
		t.digest = a.summarizer.Summarize(t.results)
	}

	prompt := t.prompts.SummaryPrompt(llm.SummaryInput{
		Question:    t.req.Question,
		SQL:         t.sql,
		RowCount:    t.results.RowCount,
		ColumnCount: len(t.results.Columns),
		Truncated:   t.results.Truncated,
		Digest:      t.digest.Text(),
	})

	c, err := t.generate(ctx, []domain.Message{{Role: domain.RoleUser, Content: prompt}}, nil)
	if err != nil || strings.TrimSpace(c.Content) == "" {
		log.Warn().Err(err).Str("request_id", t.id).Msg("summary generation failed, using digest")
		t.warn(summaryFallbackWarning)
		return DigestAnswer(t.digest)
	}
	return strings.TrimSpace(c.Content)
}

// DigestAnswer describes a result from its statistics alone
func DigestAnswer(d *summary.Digest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The query returned %d rows", d.RowCount)
	if d.Truncated {
		sb.WriteString(" (truncated to the row limit)")
	}
	fmt.Fprintf(&sb, " across %d columns.", d.ColumnCount)

	for _, c := range d.Columns {
		switch {
		case c.Numeric != nil:
			fmt.Fprintf(&sb, " %s ranges from %s to %s (total %s).", c.Name,
				summary.FormatValue(c.Numeric.Min), summary.FormatValue(c.Numeric.Max), summary.FormatValue(c.Numeric.Sum))
		case c.Earliest != nil && c.Latest != nil:
			fmt.Fprintf(&sb, " %s spans %s to %s.", c.Name,
				summary.FormatValue(*c.Earliest), summary.FormatValue(*c.Latest))
		case len(c.Top) > 0:
			fmt.Fprintf(&sb, " The most frequent %s is %s.", c.Name, c.Top[0].Value)
		}
	}
	return sb.String()
}

// suggestCharts asks the model for charts and falls back to rules when the
// call fails or nothing usable comes back.
func (a *InsightsAgent) suggestCharts(ctx context.Context, t *turn) []domain.ChartSuggestion {
	if t.digest == nil {
		t.digest = a.summarizer.Summarize(t.results)
	}
	if t.results.RowCount == 0 || t.provider == nil {
		return RuleBasedCharts(t.digest)
	}

	prompt := t.prompts.ChartPrompt(t.req.Question, resultFields(t.results, t.digest), t.results.RowCount, t.digest.PreviewText())
	c, err := t.generate(ctx, []domain.Message{{Role: domain.RoleUser, Content: prompt}}, nil)
	if err != nil {
		log.Warn().Err(err).Str("request_id", t.id).Msg("chart suggestion failed, using rules")
		t.warn(chartFallbackWarning)
		return RuleBasedCharts(t.digest)
	}

	outcome := llm.ParseChartResponse(c.Content)
	charts := usableCharts(outcome.Charts, t.results.Columns)
	if !outcome.OK || len(charts) == 0 {
		log.Warn().Str("request_id", t.id).Int("dropped", outcome.Dropped).Msg("chart suggestions unusable, using rules")
		t.warn(chartFallbackWarning)
		return RuleBasedCharts(t.digest)
	}
	return charts
}

// usableCharts drops suggestions that name columns the result does not have
func usableCharts(charts []domain.ChartSuggestion, columns []string) []domain.ChartSuggestion {
	var out []domain.ChartSuggestion
	for _, c := range charts {
		if c.XColumn != "" && !slices.Contains(columns, c.XColumn) {
			continue
		}
		ok := true
		for _, y := range c.YColumns {
			if !slices.Contains(columns, y) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, c)
		}
	}
	return out
}

func resultFields(res *domain.QueryResult, d *summary.Digest) []domain.FieldSchema {
	if len(res.Schema) > 0 {
		return res.Schema
	}
	fields := make([]domain.FieldSchema, len(res.Columns))
	for i, name := range res.Columns {
		fields[i] = domain.FieldSchema{Name: name}
		if p, ok := d.Profile(name); ok {
			fields[i].Type = string(p.Kind)
		}
	}
	return fields
}

// RuleBasedCharts derives suggestions from column kinds: numeric over
// datetime is a line chart, numeric by category a bar chart, a lone numeric
// column a metric card. A table is always included.
func RuleBasedCharts(d *summary.Digest) []domain.ChartSuggestion {
	numeric := d.ColumnsOfKind(summary.KindNumeric)
	datetimes := d.ColumnsOfKind(summary.KindDatetime)
	categories := d.ColumnsOfKind(summary.KindCategorical)
	ys := numeric[:min(len(numeric), maxRuleYColumns)]

	var charts []domain.ChartSuggestion
	if len(numeric) > 0 && len(datetimes) > 0 {
		charts = append(charts, domain.ChartSuggestion{
			ChartType:   domain.ChartLine,
			Title:       fmt.Sprintf("%s over %s", strings.Join(ys, ", "), datetimes[0]),
			XColumn:     datetimes[0],
			YColumns:    slices.Clone(ys),
			Description: "Trend of the numeric values over time.",
		})
	}
	if len(numeric) > 0 && len(categories) > 0 {
		charts = append(charts, domain.ChartSuggestion{
			ChartType:   domain.ChartBar,
			Title:       fmt.Sprintf("%s by %s", strings.Join(ys, ", "), categories[0]),
			XColumn:     categories[0],
			YColumns:    slices.Clone(ys),
			Description: "Comparison of the numeric values across categories.",
		})
	}
	if len(numeric) == 1 && d.ColumnCount == 1 {
		charts = append(charts, domain.ChartSuggestion{
			ChartType:   domain.ChartMetric,
			Title:       numeric[0],
			YColumns:    []string{numeric[0]},
			Description: "Single value.",
		})
	}

	return append(charts, domain.ChartSuggestion{
		ChartType:   domain.ChartTable,
		Title:       "Query results",
		Description: "All returned rows.",
	})
}
