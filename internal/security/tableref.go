package security

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/xwb1989/sqlparser"
)

// TableRef is a table path found in a SQL statement, normalized to lowercase
type TableRef struct {
	Project string
	Dataset string
	Table   string
	Raw     string
}

// String returns dataset.table
func (r TableRef) String() string {
	if r.Dataset == "" {
		return r.Table
	}
	return r.Dataset + "." + r.Table
}

// ExtractTableRefs returns every table a statement reads from. CTE names are
// not tables and are left out. Any reference that cannot be classified as
// dataset.table or project.dataset.table is returned as an error.
func ExtractTableRefs(sql string) ([]TableRef, error) {
	toks, err := tokenize(sql)
	if err != nil {
		return nil, err
	}

	s := &refScanner{toks: toks, ctes: collectCTENames(toks)}
	if err := s.run(); err != nil {
		return nil, err
	}

	refs, err := classify(s.paths, s.ctes)
	if err != nil {
		return nil, err
	}

	// The AST pass only succeeds for statements the MySQL grammar accepts;
	// when it does, anything it sees that the scanner missed is added.
	astRefs, err := astTableRefs(sql, s.ctes)
	if err != nil {
		return nil, err
	}
	return mergeRefs(refs, astRefs), nil
}

func classify(paths [][]string, ctes map[string]bool) ([]TableRef, error) {
	var refs []TableRef
	for _, parts := range paths {
		ref, skip, err := classifyPath(parts, ctes)
		if err != nil {
			return nil, err
		}
		if !skip {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

func classifyPath(parts []string, ctes map[string]bool) (TableRef, bool, error) {
	raw := strings.Join(parts, ".")
	norm := make([]string, len(parts))
	for i, p := range parts {
		p = strings.ToLower(strings.TrimSpace(strings.Trim(p, "`\"")))
		if p == "" {
			return TableRef{}, false, fmt.Errorf("table reference %q has an empty path segment", raw)
		}
		norm[i] = p
	}

	switch len(norm) {
	case 1:
		if ctes[norm[0]] {
			return TableRef{}, true, nil
		}
		return TableRef{}, false, fmt.Errorf("table reference %q is not qualified with a dataset", raw)
	case 2:
		return TableRef{Dataset: norm[0], Table: norm[1], Raw: raw}, false, nil
	case 3:
		return TableRef{Project: norm[0], Dataset: norm[1], Table: norm[2], Raw: raw}, false, nil
	}
	return TableRef{}, false, fmt.Errorf("table reference %q could not be classified", raw)
}

func astTableRefs(sql string, ctes map[string]bool) ([]TableRef, error) {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, nil
	}

	var paths [][]string
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		aliased, ok := node.(*sqlparser.AliasedTableExpr)
		if !ok {
			return true, nil
		}
		name, ok := aliased.Expr.(sqlparser.TableName)
		if !ok || name.IsEmpty() {
			return true, nil
		}
		// the parser supplies an implicit dual for statements without FROM;
		// an explicit one is still reported by the token scanner
		if name.Qualifier.IsEmpty() && strings.EqualFold(name.Name.String(), "dual") {
			return true, nil
		}
		var parts []string
		if !name.Qualifier.IsEmpty() {
			parts = append(parts, strings.Split(name.Qualifier.String(), ".")...)
		}
		parts = append(parts, strings.Split(name.Name.String(), ".")...)
		paths = append(paths, parts)
		return true, nil
	}, stmt)

	return classify(paths, ctes)
}

func mergeRefs(a, b []TableRef) []TableRef {
	seen := make(map[string]bool, len(a))
	out := make([]TableRef, 0, len(a)+len(b))
	for _, r := range append(a, b...) {
		key := r.Project + "." + r.Dataset + "." + r.Table
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

type tokKind int

const (
	tokIdent tokKind = iota
	tokQuoted
	tokString
	tokNumber
	tokPunct
)

type token struct {
	kind tokKind
	text string
}

func (t token) is(word string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, word)
}

func (t token) punct(p string) bool {
	return t.kind == tokPunct && t.text == p
}

// tokenize splits SQL into identifiers, quoted identifiers, literals and
// punctuation. Comments are dropped; string literal contents are kept out of
// identifier positions. A backslash inside quoted text is rejected: MySQL and
// BigQuery read it as an escape while Postgres and SQLite do not, so the
// literal's end is engine dependent.
func tokenize(sql string) ([]token, error) {
	var toks []token
	rs := []rune(sql)
	for i := 0; i < len(rs); {
		c := rs[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '-' && i+1 < len(rs) && rs[i+1] == '-', c == '#':
			for i < len(rs) && rs[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(rs) && rs[i+1] == '*':
			end := indexRunes(rs, i+2, "*/")
			if end < 0 {
				return nil, fmt.Errorf("unterminated block comment")
			}
			i = end + 2
		case c == '`' || c == '"' || c == '\'':
			j := i + 1
			for j < len(rs) && rs[j] != c {
				if rs[j] == '\\' {
					return nil, fmt.Errorf("backslash in quoted text at offset %d is ambiguous across engines", j)
				}
				j++
			}
			if j >= len(rs) {
				return nil, fmt.Errorf("unterminated quoted text starting at offset %d", i)
			}
			kind := tokQuoted
			if c == '\'' {
				kind = tokString
			}
			toks = append(toks, token{kind: kind, text: string(rs[i+1 : j])})
			i = j + 1
		case isIdentStart(c):
			j := i + 1
			for j < len(rs) && (isIdentPart(rs[j]) || (rs[j] == '-' && j+1 < len(rs) && isIdentPart(rs[j+1]) && rs[j+1] != '-')) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: string(rs[i:j])})
			i = j
		case unicode.IsDigit(c):
			j := i + 1
			for j < len(rs) && (unicode.IsDigit(rs[j]) || rs[j] == '.' || unicode.IsLetter(rs[j])) {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: string(rs[i:j])})
			i = j
		default:
			toks = append(toks, token{kind: tokPunct, text: string(c)})
			i++
		}
	}
	return toks, nil
}

func indexRunes(rs []rune, from int, sub string) int {
	target := []rune(sub)
	for i := from; i+len(target) <= len(rs); i++ {
		if string(rs[i:i+len(target)]) == sub {
			return i
		}
	}
	return -1
}

func isIdentStart(c rune) bool { return c == '_' || unicode.IsLetter(c) }
func isIdentPart(c rune) bool  { return c == '_' || unicode.IsLetter(c) || unicode.IsDigit(c) }

var sqlKeywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "GROUP": true, "ORDER": true, "BY": true,
	"LIMIT": true, "OFFSET": true, "FETCH": true, "HAVING": true, "WINDOW": true, "QUALIFY": true,
	"JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true, "FULL": true, "CROSS": true,
	"OUTER": true, "NATURAL": true, "LATERAL": true, "ON": true, "USING": true, "AS": true,
	"UNION": true, "EXCEPT": true, "INTERSECT": true, "ALL": true, "DISTINCT": true,
	"WITH": true, "RECURSIVE": true, "IN": true, "EXISTS": true, "NOT": true, "AND": true,
	"OR": true, "IS": true, "NULL": true, "CASE": true, "WHEN": true, "THEN": true,
	"ELSE": true, "END": true, "OVER": true, "PARTITION": true, "FOR": true,
	"TABLESAMPLE": true, "PIVOT": true, "UNPIVOT": true, "VALUES": true, "ANY": true,
	"SOME": true, "BETWEEN": true, "LIKE": true, "ILIKE": true,
}

func isKeyword(t token) bool {
	return t.kind == tokIdent && sqlKeywords[strings.ToUpper(t.text)]
}

// collectCTENames finds every `WITH name AS (` and `, name (cols) AS (` definition
func collectCTENames(toks []token) map[string]bool {
	ctes := make(map[string]bool)
	for i := 1; i+2 < len(toks); i++ {
		if toks[i].kind != tokIdent && toks[i].kind != tokQuoted || isKeyword(toks[i]) {
			continue
		}
		if prev := toks[i-1]; !prev.is("WITH") && !prev.is("RECURSIVE") && !prev.punct(",") {
			continue
		}
		j := i + 1
		if toks[j].punct("(") {
			for j < len(toks) && !toks[j].punct(")") {
				j++
			}
			j++
		}
		if j+1 < len(toks) && toks[j].is("AS") && toks[j+1].punct("(") {
			ctes[strings.ToLower(toks[i].text)] = true
		}
	}
	return ctes
}

type parenKind int

const (
	parenGroup parenKind = iota
	parenFunc
)

type parenFrame struct {
	kind     parenKind
	fromItem bool
}

// refScanner walks the token stream and records the path of every FROM and
// JOIN target, including comma-separated from lists and subqueries.
type refScanner struct {
	toks        []token
	pos         int
	ctes        map[string]bool
	paths       [][]string
	pendingItem bool
	stack       []parenFrame
}

func (s *refScanner) run() error {
	for s.pos < len(s.toks) {
		t := s.toks[s.pos]
		switch {
		case t.punct("("):
			frame := parenFrame{kind: parenGroup, fromItem: s.pendingItem}
			s.pendingItem = false
			if s.pos > 0 && s.toks[s.pos-1].kind == tokIdent && !isKeyword(s.toks[s.pos-1]) && !s.queryAt(s.pos+1) {
				frame.kind = parenFunc
			}
			s.stack = append(s.stack, frame)
			s.pos++
		case t.punct(")"):
			if len(s.stack) == 0 {
				return fmt.Errorf("unbalanced parentheses")
			}
			top := s.stack[len(s.stack)-1]
			s.stack = s.stack[:len(s.stack)-1]
			s.pos++
			if top.fromItem {
				if err := s.afterItem(); err != nil {
					return err
				}
			}
		case t.is("FROM") || t.is("JOIN"):
			s.pos++
			if s.inFunc() || s.distinctFrom() {
				// EXTRACT(x FROM y), SUBSTRING(x FROM n), TRIM(... FROM ...)
				continue
			}
			if err := s.fromItem(); err != nil {
				return err
			}
		default:
			s.pos++
		}
	}
	if len(s.stack) != 0 {
		return fmt.Errorf("unbalanced parentheses")
	}
	return nil
}

func (s *refScanner) inFunc() bool {
	return len(s.stack) > 0 && s.stack[len(s.stack)-1].kind == parenFunc
}

// distinctFrom reports whether the FROM just consumed belongs to IS [NOT] DISTINCT FROM
func (s *refScanner) distinctFrom() bool {
	return s.pos >= 2 && s.toks[s.pos-2].is("DISTINCT") && s.pos >= 3 && (s.toks[s.pos-3].is("IS") || s.toks[s.pos-3].is("NOT"))
}

func (s *refScanner) queryAt(i int) bool {
	for i < len(s.toks) && s.toks[i].punct("(") {
		i++
	}
	return i < len(s.toks) && (s.toks[i].is("SELECT") || s.toks[i].is("WITH"))
}

func (s *refScanner) fromItem() error {
	if s.pos >= len(s.toks) {
		return fmt.Errorf("missing table after FROM or JOIN")
	}
	t := s.toks[s.pos]

	switch {
	case t.punct("("):
		s.pendingItem = true
		return nil
	case t.is("LATERAL"):
		s.pos++
		return s.fromItem()
	case t.is("UNNEST"):
		s.pos++
		s.pendingItem = true
		return nil
	}

	parts, next, err := s.readPath(s.pos)
	if err != nil {
		return err
	}
	s.pos = next

	if next < len(s.toks) && s.toks[next].punct("(") {
		// table-valued function; a qualified one still names a dataset
		if len(parts) > 1 {
			s.paths = append(s.paths, parts)
		}
		s.pendingItem = true
		return nil
	}

	s.paths = append(s.paths, parts)
	return s.afterItem()
}

// afterItem skips an optional alias and continues a comma-separated from list
func (s *refScanner) afterItem() error {
	if s.pos < len(s.toks) && s.toks[s.pos].is("AS") {
		s.pos++
		if s.pos < len(s.toks) && (s.toks[s.pos].kind == tokIdent || s.toks[s.pos].kind == tokQuoted) {
			s.pos++
		}
	} else if s.pos < len(s.toks) && (s.toks[s.pos].kind == tokIdent || s.toks[s.pos].kind == tokQuoted) && !isKeyword(s.toks[s.pos]) {
		s.pos++
	}

	if s.pos < len(s.toks) && s.toks[s.pos].punct(",") && !s.inFunc() {
		s.pos++
		return s.fromItem()
	}
	return nil
}

func (s *refScanner) readPath(i int) ([]string, int, error) {
	var parts []string
	for {
		if i >= len(s.toks) {
			return nil, i, fmt.Errorf("incomplete table reference")
		}
		t := s.toks[i]
		switch {
		case t.kind == tokQuoted:
			parts = append(parts, strings.Split(t.text, ".")...)
		case t.kind == tokIdent && !isKeyword(t):
			parts = append(parts, t.text)
		default:
			return nil, i, fmt.Errorf("unrecognized table reference near %q", t.text)
		}
		i++
		if i < len(s.toks) && s.toks[i].punct(".") {
			i++
			continue
		}
		return parts, i, nil
	}
}
