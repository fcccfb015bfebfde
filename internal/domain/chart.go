package domain

import (
	"fmt"
	"strings"
)

// ChartType is a supported visualization kind
type ChartType string

const (
	ChartBar       ChartType = "bar"
	ChartLine      ChartType = "line"
	ChartScatter   ChartType = "scatter"
	ChartTable     ChartType = "table"
	ChartMetric    ChartType = "metric"
	ChartHistogram ChartType = "histogram"
	ChartPie       ChartType = "pie"
)

var chartTypes = map[ChartType]struct{}{
	ChartBar: {}, ChartLine: {}, ChartScatter: {}, ChartTable: {},
	ChartMetric: {}, ChartHistogram: {}, ChartPie: {},
}

// ParseChartType normalizes s to lowercase and checks it against the supported set
func ParseChartType(s string) (ChartType, error) {
	t := ChartType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := chartTypes[t]; !ok {
		return "", fmt.Errorf("unsupported chart type %q", s)
	}
	return t, nil
}

// ChartSuggestion is a visualization proposal for a result set
type ChartSuggestion struct {
	ChartType   ChartType      `json:"chart_type"`
	Title       string         `json:"title"`
	XColumn     string         `json:"x_column,omitempty"`
	YColumns    []string       `json:"y_columns,omitempty"`
	Description string         `json:"description,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
}
