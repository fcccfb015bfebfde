package security

import (
	"fmt"
	"strings"

	"github.com/Rrens/insights-gateway/internal/domain"
)

// PolicyResult is the outcome of checking a statement against a data-access grant
type PolicyResult struct {
	Valid  bool
	Error  string
	Tables []TableRef
}

// Grant is a normalized, lowercase view of allowed datasets and tables
type Grant struct {
	all      bool
	datasets map[string]bool
	tables   map[string]map[string]bool
}

// NewGrant normalizes allowed datasets and tables for case-insensitive lookups.
// A dataset without an entry in tables grants all of its tables.
func NewGrant(datasets []string, tables map[string][]string) Grant {
	g := Grant{
		datasets: make(map[string]bool, len(datasets)),
		tables:   make(map[string]map[string]bool, len(tables)),
	}
	for _, ds := range datasets {
		ds = normalizeIdent(ds)
		if ds == domain.WildcardDataset {
			g.all = true
			continue
		}
		g.datasets[ds] = true
	}
	for ds, list := range tables {
		set := make(map[string]bool, len(list))
		for _, t := range list {
			set[normalizeIdent(t)] = true
		}
		g.tables[normalizeIdent(ds)] = set
	}
	return g
}

// DatasetAllowed reports whether dataset is covered by the grant
func (g Grant) DatasetAllowed(dataset string) bool {
	return g.all || g.datasets[normalizeIdent(dataset)]
}

// TableAllowed reports whether dataset.table is covered by the grant
func (g Grant) TableAllowed(dataset, table string) bool {
	if !g.DatasetAllowed(dataset) {
		return false
	}
	set, restricted := g.tables[normalizeIdent(dataset)]
	return !restricted || set[normalizeIdent(table)]
}

// Empty reports whether the grant allows nothing at all
func (g Grant) Empty() bool {
	return !g.all && len(g.datasets) == 0
}

// Check returns an error naming the first reference outside the grant
func (g Grant) Check(refs []TableRef) error {
	for _, ref := range refs {
		if !g.DatasetAllowed(ref.Dataset) {
			return fmt.Errorf("access to dataset %q is not permitted", ref.Dataset)
		}
		if !g.TableAllowed(ref.Dataset, ref.Table) {
			return fmt.Errorf("access to table %q is not permitted", ref.String())
		}
	}
	return nil
}

// ValidatePolicy decides whether sql only reads tables the grant allows.
// References that cannot be extracted or classified are denied.
func ValidatePolicy(sql string, allowedDatasets []string, allowedTables map[string][]string) PolicyResult {
	refs, err := ExtractTableRefs(sql)
	if err != nil {
		return PolicyResult{Error: fmt.Sprintf("could not verify table access: %v", err)}
	}

	if err := NewGrant(allowedDatasets, allowedTables).Check(refs); err != nil {
		return PolicyResult{Error: err.Error(), Tables: refs}
	}
	return PolicyResult{Valid: true, Tables: refs}
}

func normalizeIdent(s string) string {
	return strings.ToLower(strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "`")))
}
