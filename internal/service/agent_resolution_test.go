package service

import (
	"testing"
	"time"

	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/Rrens/insights-gateway/internal/summary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectMetadataRequest(t *testing.T) {
	tests := []struct {
		question string
		want     MetadataKind
	}{
		{"What datasets do I have access to?", MetadataDatasets},
		{"list all the datasets", MetadataDatasets},
		{"show tables in Analytics", MetadataTables},
		{"which tables can I access?", MetadataTables},
		{"What is the revenue per region?", MetadataNone},
		{"how many orders were placed last week?", MetadataNone},
		{"Which datasets had the highest growth?", MetadataNone},
		{"what tables contain the most orders", MetadataNone},
		{"show me the tables with more than a million rows", MetadataNone},
		{"what tables are in total_sales?", MetadataTables},
	}

	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectMetadataRequest(tt.question))
		})
	}
}

func TestMentionedDatasets(t *testing.T) {
	assert.Equal(t, []string{"analytics"}, MentionedDatasets("show tables in Analytics", []string{"analytics", "sales"}))
	assert.Equal(t, []string{"A"}, MentionedDatasets("orders in A last week", []string{"A", "B"}))
	assert.Empty(t, MentionedDatasets("a quick look at orders", []string{"A"}))
	assert.Empty(t, MentionedDatasets("wholesale numbers", []string{"sales"}))
	assert.Empty(t, MentionedDatasets("everything", []string{"*"}))
}

func TestQuestionTableRefs(t *testing.T) {
	refs := QuestionTableRefs("compare sales.orders with `proj.mkt.Campaigns`, e.g. by week; SALES.ORDERS again")

	assert.Equal(t, []QuestionRef{
		{Dataset: "sales", Table: "orders"},
		{Dataset: "mkt", Table: "Campaigns", Quoted: true},
	}, refs)

	assert.Empty(t, QuestionTableRefs("revenue grew 3.5 percent"))
}

func TestHistoryDatasets(t *testing.T) {
	history := []domain.Message{
		{Role: domain.RoleUser, Content: "revenue in sales?"},
		{Role: domain.RoleAssistant, Content: "10", Metadata: map[string]any{MetaDatasets: []any{"sales", ""}}},
		{Role: domain.RoleUser, Content: "and last month?"},
	}
	assert.Equal(t, []string{"sales"}, historyDatasets(history))

	history = append(history, domain.Message{Role: domain.RoleAssistant, Content: "hello"})
	assert.Nil(t, historyDatasets(history), "only the latest assistant turn counts")

	assert.Nil(t, historyDatasets(nil))
}

func TestRuleBasedCharts(t *testing.T) {
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	res := &domain.QueryResult{
		Columns: []string{"region", "day", "revenue"},
		Rows: [][]any{
			{"North", day, 10.0},
			{"South", day.AddDate(0, 0, 1), 20.0},
		},
		RowCount: 2,
	}

	charts := RuleBasedCharts(summary.New(5).Summarize(res))
	require.Len(t, charts, 3)
	assert.Equal(t, domain.ChartLine, charts[0].ChartType)
	assert.Equal(t, "day", charts[0].XColumn)
	assert.Equal(t, []string{"revenue"}, charts[0].YColumns)
	assert.Equal(t, domain.ChartBar, charts[1].ChartType)
	assert.Equal(t, "region", charts[1].XColumn)
	assert.Equal(t, domain.ChartTable, charts[2].ChartType)

	t.Run("single value", func(t *testing.T) {
		res := &domain.QueryResult{Columns: []string{"total"}, Rows: [][]any{{42}}, RowCount: 1}
		charts := RuleBasedCharts(summary.New(5).Summarize(res))
		require.Len(t, charts, 2)
		assert.Equal(t, domain.ChartMetric, charts[0].ChartType)
		assert.Equal(t, domain.ChartTable, charts[1].ChartType)
	})

	t.Run("empty result", func(t *testing.T) {
		charts := RuleBasedCharts(summary.New(5).Summarize(&domain.QueryResult{}))
		require.Len(t, charts, 1)
		assert.Equal(t, domain.ChartTable, charts[0].ChartType)
	})
}
