package summary

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/montanaflynn/stats"
)

// ColumnKind is the coarse type of a result column
type ColumnKind string

const (
	KindNumeric     ColumnKind = "numeric"
	KindDatetime    ColumnKind = "datetime"
	KindCategorical ColumnKind = "categorical"
	KindBoolean     ColumnKind = "boolean"
)

const (
	defaultPreviewRows = 10
	topValues          = 5
	maxCellChars       = 60
)

// ValueCount is a categorical value and how often it appears
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// NumericStats describes the distribution of a numeric column
type NumericStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"stddev"`
	Sum    float64 `json:"sum"`
}

// ColumnProfile summarizes one column of a result set
type ColumnProfile struct {
	Name     string        `json:"name"`
	Type     string        `json:"type,omitempty"`
	Kind     ColumnKind    `json:"kind"`
	Nulls    int           `json:"nulls"`
	Distinct int           `json:"distinct"`
	Numeric  *NumericStats `json:"numeric,omitempty"`
	Earliest *time.Time    `json:"earliest,omitempty"`
	Latest   *time.Time    `json:"latest,omitempty"`
	Top      []ValueCount  `json:"top,omitempty"`
}

// Digest is a compact, prompt-sized description of a query result
type Digest struct {
	RowCount    int             `json:"row_count"`
	ColumnCount int             `json:"column_count"`
	Truncated   bool            `json:"truncated"`
	Columns     []ColumnProfile `json:"columns"`
	Preview     [][]any         `json:"preview"`
	columnNames []string
}

// Summarizer profiles query results
type Summarizer struct {
	PreviewRows int
}

// New creates a Summarizer showing previewRows rows; non-positive means the default
func New(previewRows int) *Summarizer {
	if previewRows <= 0 {
		previewRows = defaultPreviewRows
	}
	return &Summarizer{PreviewRows: previewRows}
}

// Summarize builds the digest of res. A nil result yields an empty digest.
func (s *Summarizer) Summarize(res *domain.QueryResult) *Digest {
	d := &Digest{}
	if res == nil {
		return d
	}

	d.RowCount = len(res.Rows)
	d.ColumnCount = len(res.Columns)
	d.Truncated = res.Truncated
	d.columnNames = res.Columns

	n := min(s.PreviewRows, len(res.Rows))
	d.Preview = res.Rows[:n]

	for i, name := range res.Columns {
		d.Columns = append(d.Columns, profile(name, res.ColumnType(name), columnValues(res.Rows, i)))
	}
	return d
}

// Profile returns the profile of the named column
func (d *Digest) Profile(name string) (ColumnProfile, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnProfile{}, false
}

// ColumnsOfKind returns the names of columns with the given kind, in result order
func (d *Digest) ColumnsOfKind(kind ColumnKind) []string {
	var out []string
	for _, c := range d.Columns {
		if c.Kind == kind {
			out = append(out, c.Name)
		}
	}
	return out
}

// Text renders the digest for a prompt
func (d *Digest) Text() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Rows: %d", d.RowCount)
	if d.Truncated {
		sb.WriteString(" (truncated to the row limit)")
	}
	fmt.Fprintf(&sb, "\nColumns: %d\n", d.ColumnCount)

	for _, c := range d.Columns {
		fmt.Fprintf(&sb, "- %s (%s", c.Name, c.Kind)
		if c.Type != "" {
			fmt.Fprintf(&sb, ", %s", c.Type)
		}
		fmt.Fprintf(&sb, "): %d distinct, %d null", c.Distinct, c.Nulls)
		switch {
		case c.Numeric != nil:
			fmt.Fprintf(&sb, "; min %s, max %s, mean %s, median %s, sum %s",
				formatFloat(c.Numeric.Min), formatFloat(c.Numeric.Max), formatFloat(c.Numeric.Mean),
				formatFloat(c.Numeric.Median), formatFloat(c.Numeric.Sum))
		case c.Earliest != nil:
			fmt.Fprintf(&sb, "; from %s to %s", c.Earliest.Format(time.RFC3339), c.Latest.Format(time.RFC3339))
		case len(c.Top) > 0:
			parts := make([]string, len(c.Top))
			for i, v := range c.Top {
				parts[i] = fmt.Sprintf("%s (%d)", v.Value, v.Count)
			}
			fmt.Fprintf(&sb, "; top: %s", strings.Join(parts, ", "))
		}
		sb.WriteString("\n")
	}

	if preview := d.PreviewText(); preview != "" {
		sb.WriteString("Preview:\n")
		sb.WriteString(preview)
	}
	return sb.String()
}

// PreviewText renders the preview rows as a pipe-separated table
func (d *Digest) PreviewText() string {
	if len(d.Preview) == 0 || len(d.columnNames) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(strings.Join(d.columnNames, " | "))
	sb.WriteString("\n")
	for _, row := range d.Preview {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = FormatValue(v)
		}
		sb.WriteString(strings.Join(cells, " | "))
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatValue renders a cell compactly
func FormatValue(v any) string {
	var s string
	switch val := v.(type) {
	case nil:
		return "NULL"
	case float64:
		s = formatFloat(val)
	case float32:
		s = formatFloat(float64(val))
	case time.Time:
		s = val.Format(time.RFC3339)
	default:
		s = fmt.Sprint(val)
	}
	if r := []rune(s); len(r) > maxCellChars {
		s = string(r[:maxCellChars]) + "..."
	}
	return s
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 0, 64)
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}

func columnValues(rows [][]any, i int) []any {
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		if i < len(row) {
			out = append(out, row[i])
		} else {
			out = append(out, nil)
		}
	}
	return out
}

func profile(name, typ string, values []any) ColumnProfile {
	p := ColumnProfile{Name: name, Type: typ}

	var nums stats.Float64Data
	var times []time.Time
	var bools int
	counts := make(map[string]int)
	nonNull := 0

	for _, v := range values {
		if v == nil {
			p.Nulls++
			continue
		}
		nonNull++
		counts[fmt.Sprint(v)]++

		if f, ok := toFloat(v); ok {
			nums = append(nums, f)
		}
		if t, ok := v.(time.Time); ok {
			times = append(times, t)
		}
		if _, ok := v.(bool); ok {
			bools++
		}
	}
	p.Distinct = len(counts)

	switch {
	case nonNull > 0 && bools == nonNull:
		p.Kind = KindBoolean
		p.Top = top(counts)
	case nonNull > 0 && len(times) == nonNull, nonNull == 0 && isTimeType(typ):
		p.Kind = KindDatetime
		if len(times) > 0 {
			earliest, latest := times[0], times[0]
			for _, t := range times[1:] {
				if t.Before(earliest) {
					earliest = t
				}
				if t.After(latest) {
					latest = t
				}
			}
			p.Earliest, p.Latest = &earliest, &latest
		}
	case nonNull > 0 && len(nums) == nonNull, nonNull == 0 && isNumericType(typ):
		p.Kind = KindNumeric
		if len(nums) > 0 {
			p.Numeric = describe(nums)
		}
	default:
		p.Kind = KindCategorical
		if isTimeType(typ) {
			p.Kind = KindDatetime
		}
		p.Top = top(counts)
	}
	return p
}

func describe(data stats.Float64Data) *NumericStats {
	out := &NumericStats{}
	out.Min, _ = stats.Min(data)
	out.Max, _ = stats.Max(data)
	out.Mean, _ = stats.Mean(data)
	out.Median, _ = stats.Median(data)
	out.StdDev, _ = stats.StandardDeviation(data)
	out.Sum, _ = stats.Sum(data)
	return out
}

func top(counts map[string]int) []ValueCount {
	out := make([]ValueCount, 0, len(counts))
	for v, c := range counts {
		out = append(out, ValueCount{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if len(out) > topValues {
		out = out[:topValues]
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, !math.IsNaN(n)
	}
	return 0, false
}

// IsNumeric reports whether v is a Go numeric value
func IsNumeric(v any) bool {
	_, ok := toFloat(v)
	return ok
}

func isNumericType(typ string) bool {
	switch strings.ToUpper(typ) {
	case "INT", "INT2", "INT4", "INT8", "INTEGER", "INT64", "BIGINT", "SMALLINT", "TINYINT",
		"FLOAT", "FLOAT4", "FLOAT8", "FLOAT64", "REAL", "DOUBLE", "NUMERIC", "DECIMAL", "BIGNUMERIC":
		return true
	}
	return false
}

func isTimeType(typ string) bool {
	switch strings.ToUpper(typ) {
	case "DATE", "DATETIME", "TIMESTAMP", "TIMESTAMPTZ", "TIME":
		return true
	}
	return false
}
