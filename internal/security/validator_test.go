package security_test

import (
	"testing"

	"github.com/Rrens/insights-gateway/internal/security"
)

func TestSQLValidator_Validate(t *testing.T) {
	validator := security.NewSQLValidator()

	tests := []struct {
		name    string
		sql     string
		wantErr bool
	}{
		// Valid queries
		{"simple select", "SELECT * FROM sales.orders", false},
		{"select with where", "SELECT id, name FROM sales.customers WHERE id = 1", false},
		{"select with join", "SELECT u.id, o.total FROM crm.users u JOIN sales.orders o ON u.id = o.user_id", false},
		{"select with limit", "SELECT * FROM sales.orders LIMIT 10", false},
		{"select with group", "SELECT status, COUNT(*) FROM sales.orders GROUP BY status", false},
		{"cte query", "WITH active AS (SELECT * FROM crm.users WHERE active = true) SELECT * FROM active", false},
		{"parenthesized select", "(SELECT 1)", false},
		{"trailing semicolon", "SELECT * FROM sales.orders;", false},
		{"keyword inside literal", "SELECT * FROM sales.orders WHERE note = 'please delete me'", false},
		{"keyword inside comment", "SELECT * FROM sales.orders -- drop later", false},
		{"column named updated_at", "SELECT updated_at FROM sales.orders", false},

		// Invalid queries - empty
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"comment only", "-- nothing", true},

		// Invalid queries - not SELECT
		{"insert", "INSERT INTO sales.orders (name) VALUES ('test')", true},
		{"update", "UPDATE sales.orders SET name = 'test' WHERE id = 1", true},
		{"delete", "DELETE FROM sales.orders WHERE id = 1", true},
		{"merge", "MERGE sales.orders t USING sales.staging s ON t.id = s.id WHEN MATCHED THEN DELETE", true},
		{"drop", "DROP TABLE sales.orders", true},
		{"truncate", "TRUNCATE TABLE sales.orders", true},
		{"alter", "ALTER TABLE sales.orders ADD COLUMN email STRING", true},
		{"create", "CREATE TABLE sales.test (id INT64)", true},
		{"grant", "GRANT SELECT ON sales.orders TO readonly", true},

		// Invalid queries - blocked patterns
		{"exec", "EXEC sp_executesql 'SELECT 1'", true},
		{"into outfile", "SELECT * FROM sales.orders INTO OUTFILE '/tmp/data.csv'", true},
		{"load_file", "SELECT LOAD_FILE('/etc/passwd')", true},
		{"export data", "WITH x AS (SELECT 1) SELECT * FROM x; EXPORT DATA OPTIONS(uri='gs://b/*') AS SELECT 1", true},
		{"union null injection", "SELECT id FROM sales.orders UNION ALL SELECT NULL", true},
		{"pg_read_file", "SELECT pg_read_file('/etc/passwd')", true},

		// Multiple statements
		{"multiple statements", "SELECT 1; SELECT 2;", true},
		{"statement with drop", "SELECT 1; DROP TABLE users", true},
		{"unterminated literal", "SELECT 'abc", true},
		{"backslash hides statement break", `SELECT 'a\'; DROP TABLE sales.orders; --'`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.Validate(tt.sql)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
