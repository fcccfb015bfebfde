package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/Rrens/insights-gateway/internal/warehouse"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Engine implements warehouse.Engine for PostgreSQL. Datasets are schemas.
type Engine struct {
	pool  *pgxpool.Pool
	types *pgtype.Map
}

// Open connects to the warehouse database
func Open(ctx context.Context, dsn string) (*Engine, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	poolConfig.MaxConns = 5
	poolConfig.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping: %w", err)
	}

	return &Engine{pool: pool, types: pgtype.NewMap()}, nil
}

// Name returns the engine identifier
func (e *Engine) Name() string {
	return "postgres"
}

// Dialect returns SQL dialect hints for LLM prompting
func (e *Engine) Dialect() string {
	return `PostgreSQL SQL dialect:
- Datasets are schemas; always qualify tables as schema.table
- Use double quotes for identifiers with special characters: "column name"
- Case-insensitive matching: ILIKE instead of LIKE
- Date truncation: DATE_TRUNC('month', date_column)
- Date extraction: EXTRACT(YEAR FROM date_column)
- NULL handling: COALESCE(column, default_value), NULLIF(a, b)
- Aggregate functions: COUNT(), SUM(), AVG(), MIN(), MAX(), STRING_AGG()
- Window functions: ROW_NUMBER(), RANK(), LAG(), LEAD()`
}

// ListDatasets returns the non-system schemas
func (e *Engine) ListDatasets(ctx context.Context) ([]string, error) {
	rows, err := e.pool.Query(ctx, `
		SELECT schema_name
		FROM information_schema.schemata
		WHERE schema_name NOT IN ('pg_catalog', 'information_schema')
		  AND schema_name NOT LIKE 'pg_toast%'
		  AND schema_name NOT LIKE 'pg_temp%'
		ORDER BY schema_name
	`)
	if err != nil {
		return nil, classify("list datasets", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classify("list datasets", err)
	}
	return names, nil
}

// ListTables returns the tables and views of a schema
func (e *Engine) ListTables(ctx context.Context, dataset string) ([]string, error) {
	rows, err := e.pool.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE lower(table_schema) = lower($1)
		ORDER BY table_name
	`, dataset)
	if err != nil {
		return nil, classify("list tables", err)
	}
	tables, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classify("list tables", err)
	}
	if len(tables) == 0 {
		if ok, _ := e.schemaExists(ctx, dataset); !ok {
			return nil, warehouse.Wrap(e.Name(), "list tables", warehouse.ErrNotFound, fmt.Errorf("dataset %s", dataset))
		}
	}
	return tables, nil
}

// DescribeTable returns the columns, comment and estimated row count of a table
func (e *Engine) DescribeTable(ctx context.Context, dataset, table string) (*domain.TableSchema, error) {
	rows, err := e.pool.Query(ctx, `
		SELECT
			c.table_schema,
			c.table_name,
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES' AS nullable,
			COALESCE(col_description(format('%I.%I', c.table_schema, c.table_name)::regclass, c.ordinal_position), '') AS description
		FROM information_schema.columns c
		WHERE lower(c.table_schema) = lower($1) AND lower(c.table_name) = lower($2)
		ORDER BY c.ordinal_position
	`, dataset, table)
	if err != nil {
		return nil, classify("describe table", err)
	}
	defer rows.Close()

	schema := &domain.TableSchema{Dataset: dataset, Name: table}
	for rows.Next() {
		var f domain.FieldSchema
		var nullable bool
		if err := rows.Scan(&schema.Dataset, &schema.Name, &f.Name, &f.Type, &nullable, &f.Description); err != nil {
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

	var description string
	var rowCount int64
	err = e.pool.QueryRow(ctx, `
		SELECT COALESCE(obj_description(c.oid, 'pg_class'), ''), c.reltuples::bigint
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2
	`, schema.Dataset, schema.Name).Scan(&description, &rowCount)
	if err == nil {
		schema.Description = description
		if rowCount >= 0 {
			schema.RowCount = &rowCount
		}
	}

	return schema, nil
}

// Execute runs a query inside a read-only transaction
func (e *Engine) Execute(ctx context.Context, sql string, opts warehouse.QueryOptions) (*domain.QueryResult, error) {
	if err := warehouse.CheckReadOnly(sql, warehouse.PostgresBlockedPatterns); err != nil {
		return nil, err
	}
	if opts.MaxRows > 0 {
		sql = warehouse.EnforceLimit(sql, opts.MaxRows+1)
	}

	ctx, cancel := warehouse.WithTimeout(ctx, opts)
	defer cancel()

	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, classify("query", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return nil, classify("query", err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	schema := make([]domain.FieldSchema, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = fd.Name
		schema[i] = domain.FieldSchema{Name: fd.Name, Type: e.typeName(fd.DataTypeOID)}
	}

	collector := &warehouse.Collector{MaxRows: opts.MaxRows}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to get row values: %w", err)
		}
		for i, v := range values {
			values[i] = normalize(v)
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

// HealthCheck verifies the pool is alive
func (e *Engine) HealthCheck(ctx context.Context) error {
	if e.pool == nil {
		return fmt.Errorf("not connected")
	}
	return e.pool.Ping(ctx)
}

// Close closes the pool
func (e *Engine) Close() error {
	if e.pool != nil {
		e.pool.Close()
		e.pool = nil
	}
	return nil
}

func (e *Engine) schemaExists(ctx context.Context, dataset string) (bool, error) {
	var exists bool
	err := e.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE lower(schema_name) = lower($1))
	`, dataset).Scan(&exists)
	return exists, err
}

func (e *Engine) typeName(oid uint32) string {
	if t, ok := e.types.TypeForOID(oid); ok {
		return strings.ToUpper(t.Name)
	}
	return ""
}

// normalize converts driver values that do not serialize or aggregate cleanly
func normalize(v any) any {
	switch val := v.(type) {
	case pgtype.Numeric:
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return uuid.UUID(val).String()
	case []byte:
		return string(val)
	}
	return v
}

// Postgres SQLSTATE codes the agent reports distinctly
const (
	codeInsufficientPrivilege = "42501"
	codeUndefinedTable        = "42P01"
	codeUndefinedColumn       = "42703"
	codeInvalidSchemaName     = "3F000"
)

func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeInsufficientPrivilege:
			return warehouse.Wrap("postgres", op, warehouse.ErrAccessDenied, err)
		case codeUndefinedTable, codeUndefinedColumn, codeInvalidSchemaName:
			return warehouse.Wrap("postgres", op, warehouse.ErrNotFound, err)
		}
	}
	return warehouse.Wrap("postgres", op, nil, err)
}
