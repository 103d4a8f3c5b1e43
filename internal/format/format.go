// Package format renders normalized tables for the CLI: row filtering
// with a small expression language, multi-key sorting, column
// selection, and text/csv/json output.
package format

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"ae5tools/internal/record"
)

// UsageError reports a malformed option value.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

// Options control output of one table.
type Options struct {
	Format   string // text, csv, json
	Filter   []string
	Columns  string
	Sort     string
	Width    int
	Wide     bool
	NoHeader bool
}

// Output applies sorting, filtering, and column selection, then writes
// the table in the requested format. Single records render transposed
// as field/value pairs in text and csv, and as one object in json.
func Output(w io.Writer, t *record.Table, opts Options) error {
	if t == nil {
		return nil
	}
	rows, columns := t.Rows, t.Columns
	if opts.Sort != "" {
		var err error
		rows, err = sortRows(rows, columns, opts.Sort)
		if err != nil {
			return err
		}
	}
	if len(opts.Filter) > 0 {
		var err error
		rows, err = filterRows(rows, columns, opts.Filter)
		if err != nil {
			return err
		}
	}
	if opts.Columns != "" {
		var err error
		columns, err = selectColumns(columns, opts.Columns)
		if err != nil {
			return err
		}
	}
	switch opts.Format {
	case "json":
		return writeJSON(w, rows, columns, t.IsRecord)
	case "csv":
		return writeCSV(w, rows, columns, t.IsRecord, !opts.NoHeader)
	default:
		return writeText(w, rows, columns, t.IsRecord, opts)
	}
}

var opPattern = regexp.MustCompile(`(==?|!=|>=?|<=?)`)

// filterRows evaluates the filter expressions against each row. Within
// one expression, comma binds loosest (AND), pipe next (OR), ampersand
// tightest (AND); multiple expressions are ANDed together.
func filterRows(rows []*record.Row, columns []string, filters []string) ([]*record.Row, error) {
	known := map[string]bool{}
	for _, c := range columns {
		known[c] = true
	}
	var out []*record.Row
	for _, row := range rows {
		keep := true
		for _, filter := range filters {
			ok, err := evalCommas(row, known, filter)
			if err != nil {
				return nil, err
			}
			if !ok {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, row)
		}
	}
	return out, nil
}

func evalCommas(row *record.Row, known map[string]bool, expr string) (bool, error) {
	for _, part := range strings.Split(expr, ",") {
		ok, err := evalPipes(row, known, part)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func evalPipes(row *record.Row, known map[string]bool, expr string) (bool, error) {
	result := false
	for _, part := range strings.Split(expr, "|") {
		ok, err := evalAmps(row, known, part)
		if err != nil {
			return false, err
		}
		result = result || ok
	}
	return result, nil
}

func evalAmps(row *record.Row, known map[string]bool, expr string) (bool, error) {
	for _, part := range strings.Split(expr, "&") {
		ok, err := evalOne(row, known, part)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func evalOne(row *record.Row, known map[string]bool, expr string) (bool, error) {
	expr = strings.TrimSpace(expr)
	loc := opPattern.FindStringIndex(expr)
	if loc == nil {
		return false, &UsageError{Message: fmt.Sprintf("invalid filter %q: required format <field><op><value>", expr)}
	}
	field := strings.TrimSpace(expr[:loc[0]])
	op := expr[loc[0]:loc[1]]
	value := strings.TrimSpace(expr[loc[1]:])
	if !known[field] {
		return false, &UsageError{Message: fmt.Sprintf("invalid filter field: %s", field)}
	}
	cell := row.Str(field)
	switch op {
	case "=":
		return globMatch(value, cell), nil
	case "!=":
		return !globMatch(value, cell), nil
	case "==":
		return cell == value, nil
	case "<":
		return compare(cell, value) < 0, nil
	case "<=":
		return compare(cell, value) <= 0, nil
	case ">":
		return compare(cell, value) > 0, nil
	case ">=":
		return compare(cell, value) >= 0, nil
	}
	return false, &UsageError{Message: fmt.Sprintf("invalid filter operator: %s", op)}
}

func globMatch(pattern, value string) bool {
	ok, err := path.Match(pattern, value)
	if err != nil {
		return pattern == value
	}
	return ok
}

// compare orders numerically when both sides parse as numbers,
// lexically otherwise.
func compare(a, b string) int {
	fa, erra := strconv.ParseFloat(a, 64)
	fb, errb := strconv.ParseFloat(b, 64)
	if erra == nil && errb == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

// sortRows applies the comma-separated sort keys, rightmost first with
// a stable sort so earlier keys dominate. A leading minus reverses a
// key. String comparison is case-insensitive.
func sortRows(rows []*record.Row, columns []string, keys string) ([]*record.Row, error) {
	known := map[string]bool{}
	for _, c := range columns {
		known[c] = true
	}
	out := make([]*record.Row, len(rows))
	copy(out, rows)
	parts := strings.Split(keys, ",")
	for i := len(parts) - 1; i >= 0; i-- {
		key := strings.TrimSpace(parts[i])
		desc := strings.HasPrefix(key, "-")
		key = strings.TrimPrefix(key, "-")
		if !known[key] {
			return nil, &UsageError{Message: fmt.Sprintf("invalid sort field: %s", key)}
		}
		sort.SliceStable(out, func(a, b int) bool {
			va := strings.ToLower(out[a].Str(key))
			vb := strings.ToLower(out[b].Str(key))
			if desc {
				return compare(va, vb) > 0
			}
			return compare(va, vb) < 0
		})
	}
	return out, nil
}

func selectColumns(columns []string, requested string) ([]string, error) {
	known := map[string]bool{}
	for _, c := range columns {
		known[c] = true
	}
	var out []string
	for _, c := range strings.Split(requested, ",") {
		c = strings.TrimSpace(c)
		if !known[c] {
			return nil, &UsageError{Message: fmt.Sprintf("requested column not found: %s", c)}
		}
		out = append(out, c)
	}
	return out, nil
}

func writeJSON(w io.Writer, rows []*record.Row, columns []string, isRecord bool) error {
	project := func(row *record.Row) *record.Row {
		out := record.NewRow()
		for _, c := range columns {
			if v := row.Get(c); v != nil {
				out.Set(c, v)
			}
		}
		return out
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if isRecord && len(rows) == 1 {
		return enc.Encode(project(rows[0]))
	}
	projected := make([]*record.Row, len(rows))
	for i, row := range rows {
		projected[i] = project(row)
	}
	return enc.Encode(projected)
}

func writeCSV(w io.Writer, rows []*record.Row, columns []string, isRecord, header bool) error {
	cw := csv.NewWriter(w)
	if isRecord && len(rows) == 1 {
		if header {
			if err := cw.Write([]string{"field", "value"}); err != nil {
				return err
			}
		}
		for _, c := range columns {
			if err := cw.Write([]string{c, rows[0].Str(c)}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	}
	if header {
		if err := cw.Write(columns); err != nil {
			return err
		}
	}
	for _, row := range rows {
		cells := make([]string, len(columns))
		for i, c := range columns {
			cells[i] = row.Str(c)
		}
		if err := cw.Write(cells); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeText(w io.Writer, rows []*record.Row, columns []string, isRecord bool, opts Options) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	if opts.Width > 0 && !opts.Wide {
		tw.SetAllowedRowLength(opts.Width)
	}
	if isRecord && len(rows) == 1 {
		if !opts.NoHeader {
			tw.AppendHeader(table.Row{"Field", "Value"})
		}
		for _, c := range columns {
			tw.AppendRow(table.Row{c, rows[0].Str(c)})
		}
		tw.Render()
		return nil
	}
	if !opts.NoHeader {
		head := make(table.Row, len(columns))
		for i, c := range columns {
			head[i] = c
		}
		tw.AppendHeader(head)
	}
	for _, row := range rows {
		cells := make(table.Row, len(columns))
		for i, c := range columns {
			cells[i] = row.Str(c)
		}
		tw.AppendRow(cells)
	}
	tw.Render()
	return nil
}
