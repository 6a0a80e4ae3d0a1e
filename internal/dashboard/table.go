package dashboard

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Row = map[string]any

// Preferred leading columns, in display order.
var Preferred = []string{
	"name", "company", "email", "mobile", "ticket_category", "ticket_code", "status",
	"ticket_total", "txId", "added_by_admin", "created_at",
}

// Columns that are never shown in the table.
var hidden = map[string]struct{}{
	"id": {},
}

// DeriveColumns returns the union of keys across rows. A non-empty declared
// order wins outright; otherwise preferred keys lead and the rest follow alphabetically.
func DeriveColumns(rows []Row, declared []string) []string {
	seen := map[string]struct{}{}
	for _, r := range rows {
		for k := range r {
			if _, skip := hidden[k]; skip {
				continue
			}
			seen[k] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	placed := map[string]struct{}{}

	lead := Preferred
	if len(declared) > 0 {
		lead = declared
	}

	for _, k := range lead {
		if _, dup := placed[k]; dup {
			continue
		}
		// declared columns are kept even if no row has them yet
		if _, ok := seen[k]; ok || len(declared) > 0 {
			out = append(out, k)
			placed[k] = struct{}{}
		}
	}

	if len(declared) > 0 {
		return out
	}

	rest := make([]string, 0, len(seen))
	for k := range seen {
		if _, ok := placed[k]; !ok {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)

	return append(out, rest...)
}

type Query struct {
	Page     int
	PageSize int
	Sort     string
	Desc     bool
	Search   string
}

const (
	DefaultPageSize = 25
	MaxPageSize     = 200
)

type Page struct {
	Columns  []string `json:"columns"`
	Rows     []Row    `json:"rows"`
	Page     int      `json:"page"`
	PageSize int      `json:"pageSize"`
	Total    int      `json:"total"`
	Pages    int      `json:"pages"`
}

func (q Query) normalized() Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	q.Search = strings.ToLower(strings.TrimSpace(q.Search))
	return q
}

// Build filters, sorts and pages rows. rows is not modified.
func Build(rows []Row, declared []string, q Query) Page {
	q = q.normalized()

	filtered := make([]Row, 0, len(rows))
	for _, r := range rows {
		if q.Search == "" || matches(r, q.Search) {
			filtered = append(filtered, r)
		}
	}

	if q.Sort != "" {
		key := q.Sort
		sort.SliceStable(filtered, func(i, j int) bool {
			c := compare(filtered[i][key], filtered[j][key])
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
	}

	total := len(filtered)
	pages := (total + q.PageSize - 1) / q.PageSize

	start := (q.Page - 1) * q.PageSize
	if start > total {
		start = total
	}
	end := start + q.PageSize
	if end > total {
		end = total
	}

	return Page{
		Columns:  DeriveColumns(rows, declared),
		Rows:     filtered[start:end],
		Page:     q.Page,
		PageSize: q.PageSize,
		Total:    total,
		Pages:    pages,
	}
}

func matches(r Row, needle string) bool {
	for _, v := range r {
		if strings.Contains(strings.ToLower(Format(v)), needle) {
			return true
		}
	}
	return false
}

// compare orders numbers numerically, times chronologically and everything else
// case-insensitively. Missing values sort last.
func compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return 1
		default:
			return -1
		}
	}

	if fa, ok := number(a); ok {
		if fb, ok := number(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}

	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}

	return strings.Compare(strings.ToLower(Format(a)), strings.ToLower(Format(b)))
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

// Format renders a cell the way the table and CSV show it.
func Format(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.UTC().Format(time.RFC3339)
	case []any:
		parts := make([]string, len(t))
		for i, p := range t {
			parts[i] = Format(p)
		}
		return strings.Join(parts, "; ")
	default:
		return fmt.Sprint(t)
	}
}

// WriteCSV writes a header row followed by one line per row, in column order.
func WriteCSV(w io.Writer, columns []string, rows []Row) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(columns); err != nil {
		return err
	}

	rec := make([]string, len(columns))
	for _, r := range rows {
		for i, c := range columns {
			rec[i] = Format(r[c])
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
