package security

import (
	"strings"
)

// SQLValidator is the read-only gate every generated statement passes before
// it reaches a warehouse.
type SQLValidator struct {
	blockedWords   map[string]bool
	blockedPhrases [][]string
}

// NewSQLValidator creates a new SQL validator
func NewSQLValidator() *SQLValidator {
	words := []string{
		"INSERT", "UPDATE", "DELETE", "MERGE", "UPSERT",
		"DROP", "TRUNCATE", "ALTER", "CREATE", "RENAME",
		"GRANT", "REVOKE", "EXEC", "EXECUTE", "CALL", "DECLARE",
		"COPY", "LOAD_FILE", "ATTACH", "DETACH", "LOAD_EXTENSION",
		"PG_READ_FILE", "PG_WRITE_FILE", "PG_LS_DIR", "LO_IMPORT", "LO_EXPORT", "DBLINK",
	}
	blocked := make(map[string]bool, len(words))
	for _, w := range words {
		blocked[w] = true
	}

	return &SQLValidator{
		blockedWords: blocked,
		blockedPhrases: [][]string{
			{"INTO", "OUTFILE"},
			{"INTO", "DUMPFILE"},
			{"LOAD", "DATA"},
			{"EXPORT", "DATA"},
			{"UNION", "ALL", "SELECT", "NULL"},
		},
	}
}

// ValidationError represents a SQL validation error
type ValidationError struct {
	Message string
	Pattern string
}

func (e *ValidationError) Error() string {
	if e.Pattern != "" {
		return e.Message + " (" + e.Pattern + ")"
	}
	return e.Message
}

// Validate checks that sql is a single read-only SELECT statement. Keywords
// inside string literals and comments are not considered.
func (v *SQLValidator) Validate(sql string) error {
	if strings.TrimSpace(sql) == "" {
		return &ValidationError{Message: "empty SQL query"}
	}

	toks, err := tokenize(sql)
	if err != nil {
		return &ValidationError{Message: "malformed SQL: " + err.Error()}
	}
	if len(toks) == 0 {
		return &ValidationError{Message: "empty SQL query"}
	}

	for i, t := range toks {
		if t.punct(";") && i != len(toks)-1 {
			return &ValidationError{Message: "multiple statements not allowed"}
		}
	}

	first := 0
	for first < len(toks) && toks[first].punct("(") {
		first++
	}
	if first >= len(toks) || !(toks[first].is("SELECT") || toks[first].is("WITH")) {
		return &ValidationError{Message: "only SELECT statements allowed"}
	}

	for i, t := range toks {
		if t.kind != tokIdent {
			continue
		}
		word := strings.ToUpper(t.text)
		if v.blockedWords[word] {
			return &ValidationError{Message: "blocked SQL keyword detected", Pattern: word}
		}
		for _, phrase := range v.blockedPhrases {
			if matchPhrase(toks[i:], phrase) {
				return &ValidationError{Message: "blocked SQL pattern detected", Pattern: strings.Join(phrase, " ")}
			}
		}
	}

	return nil
}

func matchPhrase(toks []token, phrase []string) bool {
	if len(toks) < len(phrase) {
		return false
	}
	for i, word := range phrase {
		if !toks[i].is(word) {
			return false
		}
	}
	return true
}
