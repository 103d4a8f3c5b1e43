package format

import (
	"strings"
	"testing"

	"ae5tools/internal/record"
)

func makeTable(t *testing.T) *record.Table {
	t.Helper()
	rows, _, err := record.Decode([]byte(`[
		{"name": "alpha", "owner": "alice", "state": "started", "count": 3},
		{"name": "beta", "owner": "bob", "state": "stopped", "count": 12},
		{"name": "gamma", "owner": "alice", "state": "stopped", "count": 5}
	]`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	tbl, err := record.Normalize(rows, []string{"name", "owner", "state", "count"}, false)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return tbl
}

func names(rows []*record.Row) string {
	var out []string
	for _, row := range rows {
		out = append(out, row.Str("name"))
	}
	return strings.Join(out, ",")
}

func TestFilterOperators(t *testing.T) {
	tbl := makeTable(t)
	cases := map[string]string{
		"owner==alice":  "alpha,gamma",
		"name=*a":       "alpha,beta,gamma",
		"name=a*":       "alpha",
		"name!=a*":      "beta,gamma",
		"count>=5":      "beta,gamma",
		"count<5":       "alpha",
		"state<stopped": "alpha",
	}
	for expr, want := range cases {
		rows, err := filterRows(tbl.Rows, tbl.Columns, []string{expr})
		if err != nil {
			t.Fatalf("filter %q: %v", expr, err)
		}
		if got := names(rows); got != want {
			t.Fatalf("filter %q = %q, want %q", expr, got, want)
		}
	}
}

// Ampersand binds tighter than pipe; comma binds loosest.
func TestFilterPrecedence(t *testing.T) {
	tbl := makeTable(t)
	cases := map[string]string{
		"owner==alice&state==stopped|name==beta": "beta,gamma",
		"owner==alice,state==stopped|name==beta": "gamma",
		"name==alpha|name==beta&owner==bob":      "alpha,beta",
	}
	for expr, want := range cases {
		rows, err := filterRows(tbl.Rows, tbl.Columns, []string{expr})
		if err != nil {
			t.Fatalf("filter %q: %v", expr, err)
		}
		if got := names(rows); got != want {
			t.Fatalf("filter %q = %q, want %q", expr, got, want)
		}
	}
}

func TestFilterRejectsUnknownField(t *testing.T) {
	tbl := makeTable(t)
	if _, err := filterRows(tbl.Rows, tbl.Columns, []string{"nope==1"}); err == nil {
		t.Fatalf("unknown field accepted")
	}
	if _, err := filterRows(tbl.Rows, tbl.Columns, []string{"name"}); err == nil {
		t.Fatalf("operatorless filter accepted")
	}
}

func TestSortMultiKey(t *testing.T) {
	tbl := makeTable(t)
	rows, err := sortRows(tbl.Rows, tbl.Columns, "owner,-count")
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	if got := names(rows); got != "gamma,alpha,beta" {
		t.Fatalf("sort = %q", got)
	}
	rows, err = sortRows(tbl.Rows, tbl.Columns, "-name")
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	if got := names(rows); got != "gamma,beta,alpha" {
		t.Fatalf("desc sort = %q", got)
	}
	if _, err := sortRows(tbl.Rows, tbl.Columns, "bogus"); err == nil {
		t.Fatalf("unknown sort field accepted")
	}
}

func TestNumericSort(t *testing.T) {
	tbl := makeTable(t)
	rows, err := sortRows(tbl.Rows, tbl.Columns, "count")
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	// Lexical order would put 12 before 3.
	if got := names(rows); got != "alpha,gamma,beta" {
		t.Fatalf("numeric sort = %q", got)
	}
}

func TestOutputCSV(t *testing.T) {
	tbl := makeTable(t)
	var buf strings.Builder
	err := Output(&buf, tbl, Options{Format: "csv", Filter: []string{"owner==bob"}})
	if err != nil {
		t.Fatalf("output: %v", err)
	}
	want := "name,owner,state,count\nbeta,bob,stopped,12\n"
	if buf.String() != want {
		t.Fatalf("csv = %q, want %q", buf.String(), want)
	}
}

func TestOutputCSVNoHeader(t *testing.T) {
	tbl := makeTable(t)
	var buf strings.Builder
	err := Output(&buf, tbl, Options{Format: "csv", NoHeader: true, Columns: "name"})
	if err != nil {
		t.Fatalf("output: %v", err)
	}
	if buf.String() != "alpha\nbeta\ngamma\n" {
		t.Fatalf("csv = %q", buf.String())
	}
}

func TestOutputJSONColumns(t *testing.T) {
	tbl := makeTable(t)
	var buf strings.Builder
	err := Output(&buf, tbl, Options{Format: "json", Columns: "name,count", Filter: []string{"name==alpha"}})
	if err != nil {
		t.Fatalf("output: %v", err)
	}
	got := strings.Join(strings.Fields(buf.String()), "")
	if got != `[{"name":"alpha","count":3}]` {
		t.Fatalf("json = %q", got)
	}
}

func TestOutputRecordTransposed(t *testing.T) {
	rows, _, err := record.Decode([]byte(`{"name": "alpha", "owner": "alice"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	tbl, err := record.Normalize(rows, []string{"name", "owner"}, true)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	var buf strings.Builder
	if err := Output(&buf, tbl, Options{Format: "csv"}); err != nil {
		t.Fatalf("output: %v", err)
	}
	want := "field,value\nname,alpha\nowner,alice\n"
	if buf.String() != want {
		t.Fatalf("record csv = %q, want %q", buf.String(), want)
	}
}

func TestSelectColumnsUnknown(t *testing.T) {
	if _, err := selectColumns([]string{"name"}, "name,bogus"); err == nil {
		t.Fatalf("unknown column accepted")
	}
}
