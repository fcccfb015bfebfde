package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/Rrens/insights-gateway/internal/warehouse"
	_ "modernc.org/sqlite"
)

// MainDataset is the only dataset a SQLite file exposes
const MainDataset = "main"

// Engine implements warehouse.Engine for a SQLite file
type Engine struct {
	db *sql.DB
}

// Open opens the SQLite file at path read-only
func Open(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return nil, fmt.Errorf("database file path is required")
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return New(db), nil
}

// New wraps an open database handle
func New(db *sql.DB) *Engine {
	return &Engine{db: db}
}

// Name returns the engine identifier
func (e *Engine) Name() string {
	return "sqlite"
}

// Dialect returns SQL dialect hints for LLM prompting
func (e *Engine) Dialect() string {
	return `SQLite SQL dialect:
- Tables live in the "main" dataset; main.table_name is a valid reference
- Use double quotes for identifiers: "column_name"
- String concatenation: || operator
- Date functions: date(), datetime(), strftime('%Y-%m', col)
- Current time: datetime('now')
- Boolean values are 0 and 1
- No RIGHT JOIN or FULL OUTER JOIN support`
}

// ListDatasets returns the single main dataset
func (e *Engine) ListDatasets(ctx context.Context) ([]string, error) {
	return []string{MainDataset}, nil
}

// ListTables returns user tables of the main dataset
func (e *Engine) ListTables(ctx context.Context, dataset string) ([]string, error) {
	if err := checkDataset(dataset); err != nil {
		return nil, err
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT name
		FROM sqlite_master
		WHERE type IN ('table', 'view')
		  AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, classify("list tables", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// DescribeTable returns the columns and row count of a table
func (e *Engine) DescribeTable(ctx context.Context, dataset, table string) (*domain.TableSchema, error) {
	if err := checkDataset(dataset); err != nil {
		return nil, err
	}

	rows, err := e.db.QueryContext(ctx, "SELECT name, type, \"notnull\", pk FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, classify("describe table", err)
	}
	defer rows.Close()

	var fields []domain.FieldSchema
	for rows.Next() {
		var name, dataType string
		var notNull, pk int
		if err := rows.Scan(&name, &dataType, &notNull, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		mode := "NULLABLE"
		if notNull == 1 || pk > 0 {
			mode = "REQUIRED"
		}
		fields = append(fields, domain.FieldSchema{Name: name, Type: strings.ToUpper(dataType), Mode: mode})
	}
	if err := rows.Err(); err != nil {
		return nil, classify("describe table", err)
	}
	if len(fields) == 0 {
		return nil, warehouse.Wrap(e.Name(), "describe table", warehouse.ErrNotFound, fmt.Errorf("table %s", table))
	}

	schema := &domain.TableSchema{Dataset: MainDataset, Name: table, Fields: fields}

	var rowCount int64
	quoted := `"` + strings.ReplaceAll(table, `"`, `""`) + `"`
	if err := e.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoted).Scan(&rowCount); err == nil {
		schema.RowCount = &rowCount
	}
	return schema, nil
}

// Execute runs a read-only query
func (e *Engine) Execute(ctx context.Context, sqlStr string, opts warehouse.QueryOptions) (*domain.QueryResult, error) {
	if err := warehouse.CheckReadOnly(sqlStr, warehouse.SQLiteBlockedPatterns); err != nil {
		return nil, err
	}
	if opts.MaxRows > 0 {
		sqlStr = warehouse.EnforceLimit(sqlStr, opts.MaxRows+1)
	}

	ctx, cancel := warehouse.WithTimeout(ctx, opts)
	defer cancel()

	rows, err := e.db.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, classify("query", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	schema := make([]domain.FieldSchema, len(columns))
	if types, err := rows.ColumnTypes(); err == nil {
		for i, ct := range types {
			schema[i] = domain.FieldSchema{Name: ct.Name(), Type: strings.ToUpper(ct.DatabaseTypeName())}
		}
	}

	collector := &warehouse.Collector{MaxRows: opts.MaxRows}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		if !collector.Add(values) {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, classify("query", err)
	}

	return collector.Result(columns, schema), nil
}

// HealthCheck verifies the database is reachable
func (e *Engine) HealthCheck(ctx context.Context) error {
	if e.db == nil {
		return fmt.Errorf("not connected")
	}
	return e.db.PingContext(ctx)
}

// Close closes the database
func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return err
}

func checkDataset(dataset string) error {
	if !strings.EqualFold(dataset, MainDataset) {
		return warehouse.Wrap("sqlite", "lookup", warehouse.ErrNotFound, fmt.Errorf("dataset %s", dataset))
	}
	return nil
}

func classify(op string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such table"), strings.Contains(msg, "no such column"):
		return warehouse.Wrap("sqlite", op, warehouse.ErrNotFound, err)
	case strings.Contains(msg, "not authorized"), strings.Contains(msg, "readonly database"):
		return warehouse.Wrap("sqlite", op, warehouse.ErrAccessDenied, err)
	}
	return warehouse.Wrap("sqlite", op, nil, err)
}
