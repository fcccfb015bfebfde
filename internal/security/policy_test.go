package security_test

import (
	"testing"

	"github.com/Rrens/insights-gateway/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePolicy(t *testing.T) {
	tests := []struct {
		name      string
		sql       string
		datasets  []string
		tables    map[string][]string
		wantValid bool
		wantInErr string
	}{
		{
			name:      "case insensitive dataset and table",
			sql:       "SELECT * FROM Sales.Orders",
			datasets:  []string{"sales"},
			tables:    map[string][]string{"sales": {"orders"}},
			wantValid: true,
		},
		{
			name:      "grant casing differs from query casing",
			sql:       "SELECT * FROM SALES.ORDERS",
			datasets:  []string{"Sales"},
			tables:    map[string][]string{"Sales": {"Orders"}},
			wantValid: true,
		},
		{
			name:      "unauthorized dataset",
			sql:       "SELECT * FROM unauthorized_dataset.some_table",
			datasets:  []string{"allowed_dataset"},
			wantInErr: "unauthorized_dataset",
		},
		{
			name:      "unlisted table in restricted dataset",
			sql:       "SELECT o.id, c.name FROM sales.orders o JOIN sales.customers c ON o.cid = c.id",
			datasets:  []string{"sales"},
			tables:    map[string][]string{"sales": {"orders"}},
			wantInErr: "sales.customers",
		},
		{
			name:      "dataset without table entry allows all tables",
			sql:       "SELECT o.id FROM sales.orders o JOIN sales.customers c ON o.cid = c.id",
			datasets:  []string{"sales"},
			wantValid: true,
		},
		{
			name:      "wildcard",
			sql:       "SELECT * FROM anything.tbl",
			datasets:  []string{"*"},
			wantValid: true,
		},
		{
			name:      "backtick project path",
			sql:       "SELECT * FROM `my-project.sales.orders`",
			datasets:  []string{"sales"},
			wantValid: true,
		},
		{
			name:      "backtick segments",
			sql:       "SELECT * FROM `finance`.`ledger`",
			datasets:  []string{"sales"},
			wantInErr: "finance",
		},
		{
			name:      "cte name is not a table",
			sql:       "WITH recent AS (SELECT * FROM sales.orders WHERE d > '2024-01-01') SELECT COUNT(*) FROM recent",
			datasets:  []string{"sales"},
			wantValid: true,
		},
		{
			name:      "table inside cte body is checked",
			sql:       "WITH recent AS (SELECT * FROM hr.salaries) SELECT COUNT(*) FROM recent",
			datasets:  []string{"sales"},
			wantInErr: "hr",
		},
		{
			name:      "subquery in where",
			sql:       "SELECT * FROM sales.orders WHERE customer_id IN (SELECT id FROM hr.employees)",
			datasets:  []string{"sales"},
			wantInErr: "hr",
		},
		{
			name:      "comma join after derived table",
			sql:       "SELECT * FROM (SELECT id FROM sales.orders) s, finance.ledger l",
			datasets:  []string{"sales"},
			wantInErr: "finance",
		},
		{
			name:      "comma join",
			sql:       "SELECT * FROM sales.orders o, finance.invoices i",
			datasets:  []string{"sales"},
			wantInErr: "finance",
		},
		{
			name:      "unqualified table fails closed",
			sql:       "SELECT * FROM orders",
			datasets:  []string{"sales"},
			wantInErr: "orders",
		},
		{
			name:      "four part path fails closed",
			sql:       "SELECT * FROM a.b.c.d",
			datasets:  []string{"*"},
			wantInErr: "a.b.c.d",
		},
		{
			name:      "extract is not a from clause",
			sql:       "SELECT EXTRACT(YEAR FROM created_at) AS y FROM sales.orders",
			datasets:  []string{"sales"},
			wantValid: true,
		},
		{
			name:      "is distinct from",
			sql:       "SELECT * FROM sales.orders WHERE a IS DISTINCT FROM b",
			datasets:  []string{"sales"},
			wantValid: true,
		},
		{
			name:      "string literal is ignored",
			sql:       "SELECT * FROM sales.orders WHERE note = 'FROM hr.salaries'",
			datasets:  []string{"sales"},
			wantValid: true,
		},
		{
			name:      "comment is ignored",
			sql:       "SELECT * FROM sales.orders -- JOIN hr.salaries",
			datasets:  []string{"sales"},
			wantValid: true,
		},
		{
			name:      "no table reference",
			sql:       "SELECT 1",
			datasets:  nil,
			wantValid: true,
		},
		{
			name:      "empty grant",
			sql:       "SELECT * FROM sales.orders",
			datasets:  nil,
			wantInErr: "sales",
		},
		{
			name:      "no from clause",
			sql:       "SELECT CURRENT_DATE()",
			datasets:  []string{"sales"},
			wantValid: true,
		},
		{
			name:      "explicit dual is unqualified",
			sql:       "SELECT 1 FROM dual",
			datasets:  []string{"sales"},
			wantInErr: "dual",
		},
		{
			name:      "backslash before closing quote fails closed",
			sql:       "SELECT 'a\\' AS x, salary FROM main.payroll --' :: text",
			datasets:  []string{"main"},
			tables:    map[string][]string{"main": {"orders"}},
			wantInErr: "could not verify",
		},
		{
			name:      "backslash in double quoted identifier fails closed",
			sql:       "SELECT \"a\\\" FROM main.payroll\" FROM main.orders",
			datasets:  []string{"main"},
			tables:    map[string][]string{"main": {"orders"}},
			wantInErr: "could not verify",
		},
		{
			name:      "unterminated literal fails closed",
			sql:       "SELECT * FROM sales.orders WHERE a = 'oops",
			datasets:  []string{"sales"},
			wantInErr: "could not verify",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := security.ValidatePolicy(tt.sql, tt.datasets, tt.tables)
			assert.Equal(t, tt.wantValid, res.Valid, res.Error)
			if tt.wantValid {
				assert.Empty(t, res.Error)
				return
			}
			assert.Contains(t, res.Error, tt.wantInErr)
		})
	}
}

func TestExtractTableRefs(t *testing.T) {
	refs, err := security.ExtractTableRefs("SELECT a.x FROM `Proj.Sales.Orders` a LEFT JOIN Sales.Customers c ON a.id = c.id")
	require.NoError(t, err)
	require.Len(t, refs, 2)

	assert.Equal(t, "proj", refs[0].Project)
	assert.Equal(t, "sales.orders", refs[0].String())
	assert.Equal(t, "sales.customers", refs[1].String())
}

func TestExtractTableRefs_NoFrom(t *testing.T) {
	refs, err := security.ExtractTableRefs("SELECT 1")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestExtractTableRefs_BackslashLiteral(t *testing.T) {
	_, err := security.ExtractTableRefs(`SELECT 'a\' AS x, salary FROM main.payroll --' :: text`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backslash")
}

func TestGrant(t *testing.T) {
	g := security.NewGrant([]string{"Sales", "HR"}, map[string][]string{"hr": {"Headcount"}})

	assert.True(t, g.DatasetAllowed("sales"))
	assert.True(t, g.TableAllowed("SALES", "anything"))
	assert.True(t, g.TableAllowed("hr", "headcount"))
	assert.False(t, g.TableAllowed("hr", "salaries"))
	assert.False(t, g.DatasetAllowed("finance"))
	assert.False(t, g.Empty())
	assert.True(t, security.NewGrant(nil, nil).Empty())
}
