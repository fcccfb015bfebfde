package warehouse

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrRejected is returned when a statement fails the engine-side read-only guard
var ErrRejected = errors.New("statement rejected")

// Common blocked SQL patterns across all engines
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bINSERT\b`),
	regexp.MustCompile(`(?i)\bUPDATE\b`),
	regexp.MustCompile(`(?i)\bDELETE\b`),
	regexp.MustCompile(`(?i)\bMERGE\b`),
	regexp.MustCompile(`(?i)\bDROP\b`),
	regexp.MustCompile(`(?i)\bTRUNCATE\b`),
	regexp.MustCompile(`(?i)\bALTER\b`),
	regexp.MustCompile(`(?i)\bCREATE\b`),
	regexp.MustCompile(`(?i)\bGRANT\b`),
	regexp.MustCompile(`(?i)\bREVOKE\b`),
	regexp.MustCompile(`(?i)\bEXEC\b`),
	regexp.MustCompile(`(?i)\bEXECUTE\b`),
	regexp.MustCompile(`(?i)\bCALL\b`),
}

// BigQueryBlockedPatterns covers scripting and export statements
var BigQueryBlockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bEXPORT\s+DATA\b`),
	regexp.MustCompile(`(?i)\bDECLARE\b`),
	regexp.MustCompile(`(?i)\bBEGIN\b`),
	regexp.MustCompile(`(?i)\bLOAD\s+DATA\b`),
}

// PostgresBlockedPatterns covers server-side file and remote access
var PostgresBlockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)pg_read_file`),
	regexp.MustCompile(`(?i)pg_write_file`),
	regexp.MustCompile(`(?i)pg_ls_dir`),
	regexp.MustCompile(`(?i)lo_import`),
	regexp.MustCompile(`(?i)lo_export`),
	regexp.MustCompile(`(?i)\bCOPY\b`),
	regexp.MustCompile(`(?i)dblink`),
}

// MySQLBlockedPatterns covers file import and export
var MySQLBlockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)LOAD_FILE`),
	regexp.MustCompile(`(?i)\bLOAD\s+DATA\b`),
	regexp.MustCompile(`(?i)INTO\s+OUTFILE`),
	regexp.MustCompile(`(?i)INTO\s+DUMPFILE`),
}

// SQLiteBlockedPatterns covers attaching files and loading extensions
var SQLiteBlockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bATTACH\b`),
	regexp.MustCompile(`(?i)\bDETACH\b`),
	regexp.MustCompile(`(?i)load_extension`),
	regexp.MustCompile(`(?i)\bPRAGMA\b`),
}

// CheckReadOnly rejects anything but a single SELECT/WITH statement free of
// the common and engine-specific blocked patterns
func CheckReadOnly(sql string, additionalPatterns []*regexp.Regexp) error {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return fmt.Errorf("%w: empty SQL query", ErrRejected)
	}

	if strings.Count(strings.TrimSuffix(sql, ";"), ";") > 0 {
		return fmt.Errorf("%w: multiple statements not allowed", ErrRejected)
	}

	normalized := strings.ToUpper(sql)
	if !strings.HasPrefix(normalized, "SELECT") && !strings.HasPrefix(normalized, "WITH") {
		return fmt.Errorf("%w: only SELECT statements allowed", ErrRejected)
	}

	for _, pattern := range blockedPatterns {
		if pattern.MatchString(sql) {
			return fmt.Errorf("%w: blocked SQL pattern detected", ErrRejected)
		}
	}
	for _, pattern := range additionalPatterns {
		if pattern.MatchString(sql) {
			return fmt.Errorf("%w: blocked SQL pattern detected", ErrRejected)
		}
	}

	return nil
}

var trailingLimit = regexp.MustCompile(`(?i)\bLIMIT\s+\d+(\s*(,|OFFSET)\s*\d+)?\s*$`)

// EnforceLimit appends LIMIT maxRows unless the outermost statement already ends with one
func EnforceLimit(sql string, maxRows int) string {
	sql = strings.TrimSuffix(strings.TrimSpace(sql), ";")
	sql = strings.TrimSpace(sql)
	if maxRows <= 0 || trailingLimit.MatchString(sql) {
		return sql
	}
	return fmt.Sprintf("%s LIMIT %d", sql, maxRows)
}
