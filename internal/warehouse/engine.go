package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/insights-gateway/internal/domain"
)

var (
	// ErrAccessDenied is wrapped by engine errors the warehouse raised for missing privileges
	ErrAccessDenied = errors.New("access denied")
	// ErrNotFound is wrapped by engine errors for unknown datasets, tables or columns
	ErrNotFound = errors.New("not found")
)

// QueryOptions contains query execution options
type QueryOptions struct {
	MaxRows int
	Timeout time.Duration
}

// Engine is a read-only client of one analytical warehouse
type Engine interface {
	// Name returns the engine identifier (bigquery, postgres, mysql, sqlite)
	Name() string

	// Dialect returns SQL dialect hints for LLM prompting
	Dialect() string

	// ListDatasets returns dataset names visible to the service credentials
	ListDatasets(ctx context.Context) ([]string, error)

	// ListTables returns the table names of a dataset
	ListTables(ctx context.Context, dataset string) ([]string, error)

	// DescribeTable returns the schema of dataset.table
	DescribeTable(ctx context.Context, dataset, table string) (*domain.TableSchema, error)

	// Execute runs a read-only query
	Execute(ctx context.Context, sql string, opts QueryOptions) (*domain.QueryResult, error)

	// HealthCheck verifies the engine is reachable
	HealthCheck(ctx context.Context) error

	// Close releases the underlying client
	Close() error
}

// QueryError is an engine failure, optionally classified as ErrAccessDenied or ErrNotFound
type QueryError struct {
	Engine string
	Op     string
	Kind   error
	Err    error
}

func (e *QueryError) Error() string {
	if e.Kind != nil {
		return fmt.Sprintf("%s %s: %v: %v", e.Engine, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Engine, e.Op, e.Err)
}

// Unwrap exposes both the classification and the driver error to errors.Is/As
func (e *QueryError) Unwrap() []error {
	if e.Kind == nil {
		return []error{e.Err}
	}
	return []error{e.Kind, e.Err}
}

// Wrap builds a QueryError. kind may be nil for unclassified failures.
func Wrap(engine, op string, kind, err error) error {
	if err == nil {
		return nil
	}
	return &QueryError{Engine: engine, Op: op, Kind: kind, Err: err}
}

// IsAccessDenied reports whether err was classified as a privilege failure
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsNotFound reports whether err was classified as a missing object
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// WithTimeout derives the execution context of a query
func WithTimeout(ctx context.Context, opts QueryOptions) (context.Context, context.CancelFunc) {
	if opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, opts.Timeout)
}

// Collector accumulates rows up to MaxRows and flags truncation when one more
// row is offered.
type Collector struct {
	MaxRows int
	Rows    [][]any
	more    bool
}

// Add stores a row and reports whether the caller should keep reading
func (c *Collector) Add(row []any) bool {
	if c.MaxRows > 0 && len(c.Rows) >= c.MaxRows {
		c.more = true
		return false
	}
	c.Rows = append(c.Rows, row)
	return true
}

// Result builds the QueryResult of the collected rows
func (c *Collector) Result(columns []string, schema []domain.FieldSchema) *domain.QueryResult {
	rows := c.Rows
	if rows == nil {
		rows = [][]any{}
	}
	return &domain.QueryResult{
		Columns:   columns,
		Schema:    schema,
		Rows:      rows,
		RowCount:  len(rows),
		Truncated: c.more,
	}
}
