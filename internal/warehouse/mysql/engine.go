package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/Rrens/insights-gateway/internal/warehouse"
	"github.com/go-sql-driver/mysql"
)

// Engine implements warehouse.Engine for MySQL. Datasets are databases.
type Engine struct {
	db *sql.DB
}

// Open connects using a go-sql-driver DSN; parseTime is always enabled
func Open(ctx context.Context, dsn string) (*Engine, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dsn: %w", err)
	}
	cfg.ParseTime = true

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping: %w", err)
	}

	return &Engine{db: db}, nil
}

// Name returns the engine identifier
func (e *Engine) Name() string {
	return "mysql"
}

// Dialect returns SQL dialect hints for LLM prompting
func (e *Engine) Dialect() string {
	return `MySQL SQL dialect:
- Datasets are databases; always qualify tables as database.table
- Use backticks for identifiers: ` + "`column_name`" + `
- String concatenation: CONCAT(a, b)
- Date formatting: DATE_FORMAT(date, '%Y-%m-%d')
- Date extraction: YEAR(date), MONTH(date), DAY(date)
- NULL handling: IFNULL(column, default), COALESCE()
- Aggregate functions: COUNT(), SUM(), AVG(), MIN(), MAX(), GROUP_CONCAT()`
}

// ListDatasets returns the non-system databases
func (e *Engine) ListDatasets(ctx context.Context) ([]string, error) {
	return e.queryStrings(ctx, "list datasets", `
		SELECT schema_name
		FROM information_schema.schemata
		WHERE schema_name NOT IN ('mysql', 'information_schema', 'performance_schema', 'sys')
		ORDER BY schema_name
	`)
}

// ListTables returns the tables and views of a database
func (e *Engine) ListTables(ctx context.Context, dataset string) ([]string, error) {
	tables, err := e.queryStrings(ctx, "list tables", `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = ?
		ORDER BY table_name
	`, dataset)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		found, err := e.queryStrings(ctx, "list tables", `SELECT schema_name FROM information_schema.schemata WHERE schema_name = ?`, dataset)
		if err == nil && len(found) == 0 {
			return nil, warehouse.Wrap(e.Name(), "list tables", warehouse.ErrNotFound, fmt.Errorf("dataset %s", dataset))
		}
	}
	return tables, nil
}

// DescribeTable returns the columns, comment and estimated row count of a table
func (e *Engine) DescribeTable(ctx context.Context, dataset, table string) (*domain.TableSchema, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT column_name, column_type, is_nullable = 'YES', column_comment
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position
	`, dataset, table)
	if err != nil {
		return nil, classify("describe table", err)
	}
	defer rows.Close()

	schema := &domain.TableSchema{Dataset: dataset, Name: table}
	for rows.Next() {
		var f domain.FieldSchema
		var nullable bool
		if err := rows.Scan(&f.Name, &f.Type, &nullable, &f.Description); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		f.Type = strings.ToUpper(f.Type)
		f.Mode = "NULLABLE"
		if !nullable {
			f.Mode = "REQUIRED"
		}
		schema.Fields = append(schema.Fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("describe table", err)
	}
	if len(schema.Fields) == 0 {
		return nil, warehouse.Wrap(e.Name(), "describe table", warehouse.ErrNotFound, fmt.Errorf("table %s.%s", dataset, table))
	}

	var comment string
	var rowCount sql.NullInt64
	err = e.db.QueryRowContext(ctx, `
		SELECT table_comment, table_rows
		FROM information_schema.tables
		WHERE table_schema = ? AND table_name = ?
	`, dataset, table).Scan(&comment, &rowCount)
	if err == nil {
		schema.Description = comment
		if rowCount.Valid {
			schema.RowCount = &rowCount.Int64
		}
	}

	return schema, nil
}

// Execute runs a query inside a read-only transaction
func (e *Engine) Execute(ctx context.Context, sqlStr string, opts warehouse.QueryOptions) (*domain.QueryResult, error) {
	if err := warehouse.CheckReadOnly(sqlStr, warehouse.MySQLBlockedPatterns); err != nil {
		return nil, err
	}
	if opts.MaxRows > 0 {
		sqlStr = warehouse.EnforceLimit(sqlStr, opts.MaxRows+1)
	}

	ctx, cancel := warehouse.WithTimeout(ctx, opts)
	defer cancel()

	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, classify("query", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, sqlStr)
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
			schema[i] = domain.FieldSchema{Name: ct.Name(), Type: ct.DatabaseTypeName()}
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

// HealthCheck verifies the connection is alive
func (e *Engine) HealthCheck(ctx context.Context) error {
	if e.db == nil {
		return fmt.Errorf("not connected")
	}
	return e.db.PingContext(ctx)
}

// Close closes the connection pool
func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return err
}

func (e *Engine) queryStrings(ctx context.Context, op, query string, args ...any) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// MySQL server error numbers the agent reports distinctly
const (
	errTableAccessDenied = 1142
	errDBAccessDenied    = 1044
	errNoSuchTable       = 1146
	errBadDB             = 1049
	errBadField          = 1054
)

func classify(op string, err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case errTableAccessDenied, errDBAccessDenied:
			return warehouse.Wrap("mysql", op, warehouse.ErrAccessDenied, err)
		case errNoSuchTable, errBadDB, errBadField:
			return warehouse.Wrap("mysql", op, warehouse.ErrNotFound, err)
		}
	}
	return warehouse.Wrap("mysql", op, nil, err)
}
