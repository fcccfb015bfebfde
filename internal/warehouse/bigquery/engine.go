package bigquery

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/Rrens/insights-gateway/internal/warehouse"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Config configures the BigQuery client
type Config struct {
	ProjectID       string
	Location        string
	CredentialsFile string
	CredentialsJSON string
}

// Engine implements warehouse.Engine for BigQuery
type Engine struct {
	client   *bigquery.Client
	project  string
	location string

	mu       sync.RWMutex
	datasets map[string]string
}

// Open creates a BigQuery client. Without explicit credentials the client
// falls back to Application Default Credentials.
func Open(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("bigquery: project_id is required")
	}

	var opts []option.ClientOption
	switch {
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery: failed to create client: %w", err)
	}

	return &Engine{
		client:   client,
		project:  cfg.ProjectID,
		location: cfg.Location,
		datasets: make(map[string]string),
	}, nil
}

// Name returns the engine identifier
func (e *Engine) Name() string {
	return "bigquery"
}

// Dialect returns SQL dialect hints for LLM prompting
func (e *Engine) Dialect() string {
	return `BigQuery Standard SQL:
- Qualify tables as dataset.table or ` + "`project.dataset.table`" + `
- Use backticks for identifiers with special characters
- Date truncation: DATE_TRUNC(date_col, MONTH), TIMESTAMP_TRUNC(ts_col, DAY)
- Date extraction: EXTRACT(YEAR FROM date_col)
- Safe casts and division: SAFE_CAST(x AS INT64), SAFE_DIVIDE(a, b)
- Arrays: UNNEST(array_col)
- Aggregate functions: COUNT(), SUM(), AVG(), APPROX_COUNT_DISTINCT(), STRING_AGG()`
}

// ListDatasets returns the datasets of the project
func (e *Engine) ListDatasets(ctx context.Context) ([]string, error) {
	it := e.client.Datasets(ctx)
	var names []string
	for {
		ds, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classify("list datasets", err)
		}
		names = append(names, ds.DatasetID)
	}

	e.mu.Lock()
	for _, name := range names {
		e.datasets[strings.ToLower(name)] = name
	}
	e.mu.Unlock()

	return names, nil
}

// ListTables returns the table ids of a dataset. The dataset is matched case-insensitively.
func (e *Engine) ListTables(ctx context.Context, dataset string) ([]string, error) {
	it := e.client.Dataset(e.resolveDataset(ctx, dataset)).Tables(ctx)
	var tables []string
	for {
		t, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classify("list tables", err)
		}
		tables = append(tables, t.TableID)
	}
	return tables, nil
}

// DescribeTable returns the schema, description and row count of a table
func (e *Engine) DescribeTable(ctx context.Context, dataset, table string) (*domain.TableSchema, error) {
	ds := e.resolveDataset(ctx, dataset)
	md, err := e.client.Dataset(ds).Table(table).Metadata(ctx)
	if err != nil {
		return nil, classify("describe table", err)
	}

	rows := int64(md.NumRows)
	return &domain.TableSchema{
		Dataset:     ds,
		Name:        table,
		Description: md.Description,
		Fields:      convertSchema(md.Schema),
		RowCount:    &rows,
	}, nil
}

// Execute runs a query job and reads at most opts.MaxRows rows
func (e *Engine) Execute(ctx context.Context, sql string, opts warehouse.QueryOptions) (*domain.QueryResult, error) {
	if err := warehouse.CheckReadOnly(sql, warehouse.BigQueryBlockedPatterns); err != nil {
		return nil, err
	}
	if opts.MaxRows > 0 {
		sql = warehouse.EnforceLimit(sql, opts.MaxRows+1)
	}

	ctx, cancel := warehouse.WithTimeout(ctx, opts)
	defer cancel()

	q := e.client.Query(sql)
	if e.location != "" {
		q.Location = e.location
	}

	job, err := q.Run(ctx)
	if err != nil {
		return nil, classify("query", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return nil, classify("query", err)
	}
	if err := status.Err(); err != nil {
		return nil, classify("query", err)
	}

	it, err := job.Read(ctx)
	if err != nil {
		return nil, classify("query", err)
	}

	collector := &warehouse.Collector{MaxRows: opts.MaxRows}
	for {
		var row []bigquery.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classify("read rows", err)
		}
		values := make([]any, len(row))
		for i, v := range row {
			values[i] = normalize(v)
		}
		if !collector.Add(values) {
			break
		}
	}

	columns := make([]string, len(it.Schema))
	for i, f := range it.Schema {
		columns[i] = f.Name
	}

	result := collector.Result(columns, convertSchema(it.Schema))
	if status.Statistics != nil {
		result.BytesProcessed = status.Statistics.TotalBytesProcessed
	}
	return result, nil
}

// HealthCheck fetches one dataset page to verify credentials and reachability
func (e *Engine) HealthCheck(ctx context.Context) error {
	if e.client == nil {
		return fmt.Errorf("bigquery: client not available")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	it := e.client.Datasets(ctx)
	if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("bigquery: health check failed: %w", err)
	}
	return nil
}

// Close releases the client
func (e *Engine) Close() error {
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}

// resolveDataset maps a dataset name onto the project's actual casing
func (e *Engine) resolveDataset(ctx context.Context, dataset string) string {
	key := strings.ToLower(dataset)

	e.mu.RLock()
	name, ok := e.datasets[key]
	e.mu.RUnlock()
	if ok {
		return name
	}

	if _, err := e.ListDatasets(ctx); err == nil {
		e.mu.RLock()
		name, ok = e.datasets[key]
		e.mu.RUnlock()
		if ok {
			return name
		}
	}
	return dataset
}

func convertSchema(schema bigquery.Schema) []domain.FieldSchema {
	fields := make([]domain.FieldSchema, 0, len(schema))
	for _, f := range schema {
		mode := "NULLABLE"
		switch {
		case f.Repeated:
			mode = "REPEATED"
		case f.Required:
			mode = "REQUIRED"
		}
		field := domain.FieldSchema{
			Name:        f.Name,
			Type:        string(f.Type),
			Mode:        mode,
			Description: f.Description,
		}
		if len(f.Schema) > 0 {
			field.Fields = convertSchema(f.Schema)
		}
		fields = append(fields, field)
	}
	return fields
}

// normalize flattens BigQuery values into JSON- and statistics-friendly forms
func normalize(v bigquery.Value) any {
	switch val := v.(type) {
	case *big.Rat:
		if val == nil {
			return nil
		}
		f, _ := val.Float64()
		return f
	case time.Time:
		return val
	case []bigquery.Value:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case fmt.Stringer:
		// civil.Date, civil.DateTime, civil.Time
		return val.String()
	}
	return v
}

func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusForbidden:
			return warehouse.Wrap("bigquery", op, warehouse.ErrAccessDenied, err)
		case http.StatusNotFound:
			return warehouse.Wrap("bigquery", op, warehouse.ErrNotFound, err)
		}
	}

	var jobErr *bigquery.Error
	if errors.As(err, &jobErr) {
		switch jobErr.Reason {
		case "accessDenied":
			return warehouse.Wrap("bigquery", op, warehouse.ErrAccessDenied, err)
		case "notFound":
			return warehouse.Wrap("bigquery", op, warehouse.ErrNotFound, err)
		}
	}
	return warehouse.Wrap("bigquery", op, nil, err)
}
