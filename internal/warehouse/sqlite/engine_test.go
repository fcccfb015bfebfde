package sqlite_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/Rrens/insights-gateway/internal/warehouse"
	"github.com/Rrens/insights-gateway/internal/warehouse/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *sqlite.Engine {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE orders (id INTEGER PRIMARY KEY, region TEXT NOT NULL, amount REAL);
		INSERT INTO orders (region, amount) VALUES ('north', 10.5), ('south', 20), ('north', 7.25);
		CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT);
	`)
	require.NoError(t, err)

	e := sqlite.New(db)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEngine_Metadata(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	datasets, err := e.ListDatasets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, datasets)

	tables, err := e.ListTables(ctx, "MAIN")
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "orders"}, tables)

	schema, err := e.DescribeTable(ctx, "main", "orders")
	require.NoError(t, err)
	assert.Equal(t, "main.orders", schema.QualifiedName())
	require.Len(t, schema.Fields, 3)
	assert.Equal(t, "region", schema.Fields[1].Name)
	assert.Equal(t, "TEXT", schema.Fields[1].Type)
	assert.Equal(t, "REQUIRED", schema.Fields[1].Mode)
	assert.Equal(t, "NULLABLE", schema.Fields[2].Mode)
	require.NotNil(t, schema.RowCount)
	assert.EqualValues(t, 3, *schema.RowCount)
}

func TestEngine_MetadataNotFound(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	_, err := e.ListTables(ctx, "analytics")
	assert.True(t, warehouse.IsNotFound(err))

	_, err = e.DescribeTable(ctx, "main", "invoices")
	assert.True(t, warehouse.IsNotFound(err))
}

func TestEngine_Execute(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	res, err := e.Execute(ctx, "SELECT region, SUM(amount) AS total FROM main.orders GROUP BY region ORDER BY region", warehouse.QueryOptions{MaxRows: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"region", "total"}, res.Columns)
	assert.Equal(t, 2, res.RowCount)
	assert.False(t, res.Truncated)
	assert.Equal(t, "north", res.Rows[0][0])
	assert.InDelta(t, 17.75, res.Rows[0][1], 0.001)
}

func TestEngine_ExecuteTruncates(t *testing.T) {
	e := newEngine(t)

	res, err := e.Execute(context.Background(), "SELECT id FROM orders ORDER BY id", warehouse.QueryOptions{MaxRows: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowCount)
	assert.True(t, res.Truncated)
}

func TestEngine_ExecuteZeroRows(t *testing.T) {
	e := newEngine(t)

	res, err := e.Execute(context.Background(), "SELECT id FROM orders WHERE region = 'west'", warehouse.QueryOptions{MaxRows: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, res.RowCount)
	assert.NotNil(t, res.Rows)
}

func TestEngine_ExecuteErrors(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	_, err := e.Execute(ctx, "DELETE FROM orders", warehouse.QueryOptions{MaxRows: 10})
	assert.ErrorIs(t, err, warehouse.ErrRejected)

	_, err = e.Execute(ctx, "SELECT * FROM invoices", warehouse.QueryOptions{MaxRows: 10})
	assert.True(t, warehouse.IsNotFound(err))
}
