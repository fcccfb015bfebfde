package domain

import (
	"time"
)

// QueryResult contains query execution data
type QueryResult struct {
	Columns        []string      `json:"columns"`
	Schema         []FieldSchema `json:"schema,omitempty"`
	Rows           [][]any       `json:"rows"`
	RowCount       int           `json:"row_count"`
	Truncated      bool          `json:"truncated"`
	BytesProcessed int64         `json:"bytes_processed,omitempty"`
}

// ColumnType returns the engine type of the named column, or "" when unknown
func (r *QueryResult) ColumnType(name string) string {
	for _, f := range r.Schema {
		if f.Name == name {
			return f.Type
		}
	}
	return ""
}

// FieldSchema describes a column, possibly with nested fields (RECORD/STRUCT)
type FieldSchema struct {
	Name        string        `json:"name"`
	Type        string        `json:"type"`
	Mode        string        `json:"mode,omitempty"`
	Description string        `json:"description,omitempty"`
	Fields      []FieldSchema `json:"fields,omitempty"`
}

// TableSchema contains table metadata used for prompting
type TableSchema struct {
	Dataset     string        `json:"dataset"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Fields      []FieldSchema `json:"fields"`
	RowCount    *int64        `json:"row_count,omitempty"`
	CachedAt    time.Time     `json:"cached_at,omitempty"`
}

// QualifiedName returns dataset.table
func (t TableSchema) QualifiedName() string {
	if t.Dataset == "" {
		return t.Name
	}
	return t.Dataset + "." + t.Name
}

// SQLComplexity is the model's estimate of how involved a generated query is
type SQLComplexity string

const (
	ComplexityLow    SQLComplexity = "low"
	ComplexityMedium SQLComplexity = "medium"
	ComplexityHigh   SQLComplexity = "high"
)

// SQLGenerationResult is the parsed output of a SQL generation call.
// An empty SQL means no query was produced.
type SQLGenerationResult struct {
	SQL                 string        `json:"sql"`
	Explanation         string        `json:"explanation"`
	TablesUsed          []string      `json:"tables_used,omitempty"`
	EstimatedComplexity SQLComplexity `json:"estimated_complexity"`
	Warnings            []string      `json:"warnings,omitempty"`
}
