package service

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/Rrens/insights-gateway/internal/warehouse"
	"github.com/rs/zerolog/log"
)

// MetadataKind classifies questions about what the user can query
type MetadataKind int

const (
	MetadataNone MetadataKind = iota
	MetadataDatasets
	MetadataTables
)

var (
	metadataListPattern   = regexp.MustCompile(`(?i)\b(list|show|display|what|which|available)\s+(me\s+)?(all\s+)?(the\s+)?(available\s+)?(tables|datasets)\b`)
	metadataAccessPattern = regexp.MustCompile(`(?i)\b(tables|datasets)\b.*\b(have|get)\s+access\b`)
	metadataCanPattern    = regexp.MustCompile(`(?i)\b(tables|datasets)\b.*\bcan\s+i\s+(access|see|query|use)\b`)
	tablesWord            = regexp.MustCompile(`(?i)\btables\b`)

	// "which datasets had the highest growth" asks about the data, not the catalog
	analyticCue = regexp.MustCompile(`(?i)\b(highest|lowest|most|least|top|largest|smallest|biggest|best|worst|more|fewer|less|greater|growth|grew|grown|increased?|decreased?|declined?|changed?|average|total)\b`)

	questionRefPattern = regexp.MustCompile("`([^`]+)`|\\b([A-Za-z_][\\w-]*(?:\\.[A-Za-z_]\\w*){1,2})\\b")
)

// DetectMetadataRequest recognizes "what datasets do I have access to" and
// "show tables in X" style questions. Tables take precedence over datasets.
// A match followed by a ranking or change word is an analytic question.
func DetectMetadataRequest(question string) MetadataKind {
	for _, p := range []*regexp.Regexp{metadataListPattern, metadataAccessPattern, metadataCanPattern} {
		loc := p.FindStringIndex(question)
		if loc == nil || analyticCue.MatchString(question[loc[1]:]) {
			continue
		}
		m := question[loc[0]:loc[1]]
		if tablesWord.MatchString(m) {
			return MetadataTables
		}
		return MetadataDatasets
	}
	return MetadataNone
}

// answerMetadata answers from the permission set and engine listings
// without calling a model.
func (a *InsightsAgent) answerMetadata(ctx context.Context, t *turn, kind MetadataKind) error {
	visible, err := a.visibleDatasets(ctx, t)
	if err != nil {
		return err
	}

	if kind == MetadataDatasets {
		t.datasets = visible
		t.answer = datasetsAnswer(visible)
		t.results = listingResult("dataset", visible)
		return nil
	}

	targets := MentionedDatasets(t.req.Question, visible)
	if len(targets) == 0 {
		targets = visible
	}
	t.datasets = targets
	if len(targets) == 0 {
		t.answer = datasetsAnswer(nil)
		return nil
	}

	var (
		sb      strings.Builder
		rows    [][]any
		missing []string
	)
	for _, ds := range targets {
		tables, err := a.listTables(ctx, t, ds)
		if err != nil {
			if warehouse.IsNotFound(err) {
				missing = append(missing, ds)
				continue
			}
			return engineError(err)
		}

		allowed := make([]string, 0, len(tables))
		for _, tbl := range tables {
			if t.grant.TableAllowed(ds, tbl) {
				allowed = append(allowed, tbl)
				rows = append(rows, []any{ds, tbl})
			}
		}

		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		if len(allowed) == 0 {
			fmt.Fprintf(&sb, "You have no accessible tables in %s.", ds)
			continue
		}
		fmt.Fprintf(&sb, "Tables in %s (%d): %s", ds, len(allowed), strings.Join(allowed, ", "))
	}
	for _, ds := range missing {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "Dataset %s was not found in the warehouse.", ds)
	}

	t.answer = sb.String()
	t.results = &domain.QueryResult{
		Columns:  []string{"dataset", "table"},
		Schema:   []domain.FieldSchema{{Name: "dataset", Type: "STRING"}, {Name: "table", Type: "STRING"}},
		Rows:     nonNilRows(rows),
		RowCount: len(rows),
	}
	return nil
}

// visibleDatasets lists what the user may query, as granted; with the
// wildcard grant it is whatever the engine lists.
func (a *InsightsAgent) visibleDatasets(ctx context.Context, t *turn) ([]string, error) {
	if !slices.Contains(t.req.AllowedDatasets, domain.WildcardDataset) {
		out := slices.Clone(t.req.AllowedDatasets)
		sort.Strings(out)
		return out, nil
	}

	datasets, err := t.engine.ListDatasets(ctx)
	if err != nil {
		return nil, engineError(err)
	}
	sort.Strings(datasets)
	return datasets, nil
}

func datasetsAnswer(datasets []string) string {
	if len(datasets) == 0 {
		return "You do not have access to any datasets. " + domain.SuggestContactAdmin
	}
	if len(datasets) == 1 {
		return fmt.Sprintf("You have access to 1 dataset: %s.", datasets[0])
	}
	return fmt.Sprintf("You have access to %d datasets: %s.", len(datasets), strings.Join(datasets, ", "))
}

func listingResult(column string, values []string) *domain.QueryResult {
	rows := make([][]any, len(values))
	for i, v := range values {
		rows[i] = []any{v}
	}
	return &domain.QueryResult{
		Columns:  []string{column},
		Schema:   []domain.FieldSchema{{Name: column, Type: "STRING"}},
		Rows:     rows,
		RowCount: len(rows),
	}
}

func nonNilRows(rows [][]any) [][]any {
	if rows == nil {
		return [][]any{}
	}
	return rows
}

// MentionedDatasets returns the candidates named as whole words in text,
// case-insensitively. Names of two characters or fewer must match exactly.
func MentionedDatasets(text string, candidates []string) []string {
	var out []string
	for _, ds := range candidates {
		if ds == "" || ds == domain.WildcardDataset {
			continue
		}
		expr := `\b` + regexp.QuoteMeta(ds) + `\b`
		if len([]rune(ds)) > 2 {
			expr = `(?i)` + expr
		}
		if regexp.MustCompile(expr).MatchString(text) {
			out = append(out, ds)
		}
	}
	return out
}

// QuestionRef is a dataset.table mention in a question, as typed
type QuestionRef struct {
	Dataset string
	Table   string
	Quoted  bool
}

// String returns dataset.table
func (r QuestionRef) String() string {
	return r.Dataset + "." + r.Table
}

// QuestionTableRefs finds Dataset.Table and `project.dataset.table` mentions
func QuestionTableRefs(question string) []QuestionRef {
	var refs []QuestionRef
	seen := map[string]bool{}

	for _, m := range questionRefPattern.FindAllStringSubmatch(question, -1) {
		path, quoted := m[2], false
		if m[1] != "" {
			path, quoted = m[1], true
		}
		parts := strings.Split(path, ".")
		if len(parts) < 2 || len(parts) > 3 {
			continue
		}
		ref := QuestionRef{
			Dataset: strings.TrimSpace(parts[len(parts)-2]),
			Table:   strings.TrimSpace(parts[len(parts)-1]),
			Quoted:  quoted,
		}
		if ref.Dataset == "" || ref.Table == "" {
			continue
		}
		// abbreviations such as "e.g"
		if !quoted && (len(ref.Dataset) < 2 || len(ref.Table) < 2) {
			continue
		}
		key := strings.ToLower(ref.String())
		if !seen[key] {
			seen[key] = true
			refs = append(refs, ref)
		}
	}
	return refs
}

// checkQuestionRefs keeps the mentions that point at granted datasets and
// rejects early any granted dataset's table outside allowed_tables, or any
// quoted path into a dataset the user cannot read.
func (a *InsightsAgent) checkQuestionRefs(t *turn) ([]QuestionRef, error) {
	var refs []QuestionRef
	for _, ref := range QuestionTableRefs(t.req.Question) {
		if !t.grant.DatasetAllowed(ref.Dataset) {
			if ref.Quoted {
				return nil, domain.NewAgentError(domain.ErrorTypeAuthorization,
					fmt.Sprintf("access to dataset %q is not permitted", ref.Dataset), nil, domain.SuggestContactAdmin)
			}
			continue
		}
		if !t.grant.TableAllowed(ref.Dataset, ref.Table) {
			return nil, domain.NewAgentError(domain.ErrorTypeAuthorization,
				fmt.Sprintf("access to table %q is not permitted", ref.String()), nil, domain.SuggestContactAdmin)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// resolveDatasets picks the datasets a question is about: explicit table
// references, then dataset names in the text, then the datasets of the
// previous answer, then the only granted dataset. With the wildcard grant an
// unresolved question returns nil, meaning any dataset.
func (a *InsightsAgent) resolveDatasets(t *turn, refs []QuestionRef) ([]string, error) {
	allowed := t.req.AllowedDatasets
	wildcard := slices.Contains(allowed, domain.WildcardDataset)

	var out []string
	for _, ref := range refs {
		out = appendUnique(out, canonicalDataset(ref.Dataset, allowed))
	}
	if len(out) > 0 {
		return out, nil
	}

	if !wildcard {
		if mentioned := MentionedDatasets(t.req.Question, allowed); len(mentioned) > 0 {
			return mentioned, nil
		}
	}

	for _, ds := range historyDatasets(t.history) {
		if t.grant.DatasetAllowed(ds) {
			out = appendUnique(out, canonicalDataset(ds, allowed))
		}
	}
	if len(out) > 0 {
		return out, nil
	}

	if wildcard {
		return nil, nil
	}
	if len(allowed) == 1 {
		return slices.Clone(allowed), nil
	}

	candidates := slices.Clone(allowed)
	sort.Strings(candidates)
	return nil, domain.NewAgentError(
		domain.ErrorTypeValidation,
		fmt.Sprintf("the question does not say which dataset to use; you have access to %d datasets: %s", len(candidates), strings.Join(candidates, ", ")),
		nil,
		fmt.Sprintf("Name one of them in your question, for example \"... in %s\"", candidates[0]),
	)
}

// canonicalDataset returns the granted spelling of ds when there is one
func canonicalDataset(ds string, allowed []string) string {
	for _, a := range allowed {
		if strings.EqualFold(a, ds) {
			return a
		}
	}
	return ds
}

// historyDatasets returns the datasets recorded on the latest assistant turn
func historyDatasets(history []domain.Message) []string {
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.Role != domain.RoleAssistant {
			continue
		}
		switch v := msg.Metadata[MetaDatasets].(type) {
		case []string:
			return v
		case []any:
			var out []string
			for _, item := range v {
				if s, ok := item.(string); ok && s != "" {
					out = append(out, s)
				}
			}
			return out
		}
		return nil
	}
	return nil
}

// loadSchemas describes up to MaxSchemaTables granted tables of datasets,
// question references first. Failures only shrink the schema.
func (a *InsightsAgent) loadSchemas(ctx context.Context, t *turn, datasets []string, refs []QuestionRef) []domain.TableSchema {
	if datasets == nil {
		all, err := t.engine.ListDatasets(ctx)
		if err != nil {
			log.Warn().Err(err).Str("request_id", t.id).Msg("failed to list datasets for schema")
			return nil
		}
		datasets = all
	}

	var (
		schemas []domain.TableSchema
		seen    = map[string]bool{}
	)
	add := func(ds, table string) {
		key := strings.ToLower(ds + "." + table)
		if seen[key] || len(schemas) >= a.cfg.MaxSchemaTables || !t.grant.TableAllowed(ds, table) {
			return
		}
		seen[key] = true
		schema, err := a.describeTable(ctx, t, ds, table)
		if err != nil {
			log.Warn().Err(err).Str("request_id", t.id).Str("table", key).Msg("failed to describe table")
			return
		}
		schemas = append(schemas, *schema)
	}

	for _, ref := range refs {
		add(ref.Dataset, ref.Table)
	}
	for _, ds := range datasets {
		if len(schemas) >= a.cfg.MaxSchemaTables {
			break
		}
		tables, err := a.listTables(ctx, t, ds)
		if err != nil {
			log.Warn().Err(err).Str("request_id", t.id).Str("dataset", ds).Msg("failed to list tables for schema")
			continue
		}
		for _, table := range tables {
			add(ds, table)
		}
	}
	return schemas
}

// knownTables returns the engine spelling of the tables the question names
func knownTables(schemas []domain.TableSchema, refs []QuestionRef) []string {
	var out []string
	for _, ref := range refs {
		name := ref.String()
		for _, s := range schemas {
			if strings.EqualFold(s.Dataset, ref.Dataset) && strings.EqualFold(s.Name, ref.Table) {
				name = s.QualifiedName()
				break
			}
		}
		out = append(out, name)
	}
	return out
}

// listTables lists a dataset through the schema cache. The engine is always
// called with the lowercased dataset name.
func (a *InsightsAgent) listTables(ctx context.Context, t *turn, dataset string) ([]string, error) {
	ds := strings.ToLower(dataset)
	engine := t.engine.Name()

	if a.cache != nil {
		if tables, err := a.cache.GetTables(ctx, engine, ds); err != nil {
			log.Debug().Err(err).Msg("schema cache read failed")
		} else if tables != nil {
			return tables, nil
		}
	}

	tables, err := t.engine.ListTables(ctx, ds)
	if err != nil {
		return nil, err
	}

	if a.cache != nil {
		if err := a.cache.SetTables(ctx, engine, ds, tables); err != nil {
			log.Debug().Err(err).Msg("schema cache write failed")
		}
	}
	return tables, nil
}

func (a *InsightsAgent) describeTable(ctx context.Context, t *turn, dataset, table string) (*domain.TableSchema, error) {
	ds := strings.ToLower(dataset)
	engine := t.engine.Name()

	if a.cache != nil {
		if schema, err := a.cache.GetTable(ctx, engine, ds, table); err != nil {
			log.Debug().Err(err).Msg("schema cache read failed")
		} else if schema != nil {
			return schema, nil
		}
	}

	schema, err := t.engine.DescribeTable(ctx, ds, table)
	if err != nil {
		return nil, err
	}

	if a.cache != nil {
		if err := a.cache.SetTable(ctx, engine, schema); err != nil {
			log.Debug().Err(err).Msg("schema cache write failed")
		}
	}
	return schema, nil
}
