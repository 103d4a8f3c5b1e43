package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ShapeError indicates a payload that could not be normalized into
// record or table form; it points at an API contract mismatch.
type ShapeError struct {
	Detail string
}

func (e *ShapeError) Error() string {
	return "response is not record/table shaped: " + e.Detail
}

// Table is the canonical column-ordered shape handed to the output
// layer. A single record is a one-row table with IsRecord set.
type Table struct {
	Columns  []string
	Rows     []*Row
	IsRecord bool
}

// DTypes maps declared columns to their coercion rule. The keys and
// rules are a platform contract shared by every listing.
var DTypes = map[string]string{
	"created":          "datetime",
	"updated":          "datetime",
	"createdTimestamp": "timestamp/ms",
	"notBefore":        "timestamp/s",
}

// Decode parses a raw JSON payload into rows. A JSON object yields a
// single row with isRecord true; a homogeneous list of objects yields
// one row each. Anything else is a ShapeError.
func Decode(raw []byte) ([]*Row, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, false, &ShapeError{Detail: "empty body"}
	}
	switch trimmed[0] {
	case '{':
		row := NewRow()
		if err := json.Unmarshal(trimmed, row); err != nil {
			return nil, false, err
		}
		return []*Row{row}, true, nil
	case '[':
		var parts []json.RawMessage
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return nil, false, err
		}
		rows := make([]*Row, 0, len(parts))
		for _, p := range parts {
			p = bytes.TrimSpace(p)
			if len(p) == 0 || p[0] != '{' {
				return nil, false, &ShapeError{Detail: "list element is not an object"}
			}
			row := NewRow()
			if err := json.Unmarshal(p, row); err != nil {
				return nil, false, err
			}
			rows = append(rows, row)
		}
		return rows, false, nil
	default:
		return nil, false, &ShapeError{Detail: "neither object nor list"}
	}
}

// Coerce applies the declared dtype rules to every row in place.
// Unrecognized values in a declared column fail rather than silently
// becoming null.
func Coerce(rows []*Row) error {
	for _, row := range rows {
		for col, rule := range DTypes {
			if !row.Has(col) {
				continue
			}
			v := row.Get(col)
			if v == nil {
				continue
			}
			if _, ok := v.(time.Time); ok {
				continue
			}
			t, err := coerceTime(v, rule)
			if err != nil {
				return fmt.Errorf("column %s: %w", col, err)
			}
			row.Set(col, t)
		}
	}
	return nil
}

func coerceTime(v any, rule string) (time.Time, error) {
	switch rule {
	case "datetime":
		s, ok := v.(string)
		if !ok {
			return time.Time{}, fmt.Errorf("expected ISO-8601 string, got %T", v)
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized datetime %q", s)
	case "timestamp/ms", "timestamp/s":
		var n int64
		switch t := v.(type) {
		case float64:
			n = int64(t)
		case string:
			var err error
			n, err = strconv.ParseInt(t, 10, 64)
			if err != nil {
				return time.Time{}, fmt.Errorf("unrecognized timestamp %q", t)
			}
		default:
			return time.Time{}, fmt.Errorf("expected epoch number, got %T", v)
		}
		if rule == "timestamp/ms" {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unknown dtype rule %s", rule)
	}
}

// Normalize orders rows against the caller's canonical column list:
// canonical columns present in the data come first in canonical order,
// extra columns follow in their wire order, and an empty table still
// reports the full canonical list.
func Normalize(rows []*Row, columns []string, isRecord bool) (*Table, error) {
	if err := Coerce(rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &Table{Columns: append([]string(nil), columns...)}, nil
	}
	present := map[string]bool{}
	var extras []string
	for _, row := range rows {
		for _, k := range row.Keys() {
			if !present[k] {
				present[k] = true
				if !contains(columns, k) {
					extras = append(extras, k)
				}
			}
		}
	}
	var cols []string
	for _, c := range columns {
		if present[c] {
			cols = append(cols, c)
		}
	}
	cols = append(cols, extras...)
	return &Table{Columns: cols, Rows: rows, IsRecord: isRecord}, nil
}

// Record returns the single row of a record-shaped table.
func (t *Table) Record() *Row {
	if len(t.Rows) == 0 {
		return nil
	}
	return t.Rows[0]
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
