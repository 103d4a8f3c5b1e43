package platform

import (
	"context"
	"errors"
	"testing"

	"ae5tools/internal/testserver"
)

func TestEditorInfo(t *testing.T) {
	env := newTestEnv(t)
	env.srv.Editors = []testserver.M{
		{"id": "jupyterlab", "name": "JupyterLab", "is_default": true},
		{"id": "notebook", "name": "Jupyter Notebook", "is_default": false},
	}
	s := env.user(t)
	ctx := context.Background()

	table, err := s.EditorInfo(ctx, "jupyterlab")
	if err != nil {
		t.Fatalf("EditorInfo: %v", err)
	}
	if got := table.Record().Str("name"); got != "JupyterLab" {
		t.Fatalf("name = %q", got)
	}

	// Globs that catch both editors are ambiguous.
	_, err = s.EditorInfo(ctx, "Jupyter*")
	var ambErr *AmbiguousError
	if !errors.As(err, &ambErr) {
		t.Fatalf("got %v, want AmbiguousError", err)
	}

	_, err = s.EditorInfo(ctx, "vscode")
	var nfErr *NotFoundError
	if !errors.As(err, &nfErr) {
		t.Fatalf("got %v, want NotFoundError", err)
	}
}

func TestSampleListMergesTemplates(t *testing.T) {
	env := newTestEnv(t)
	env.srv.Templates = []testserver.M{
		{"id": "a0-t1", "name": "starter", "is_default": true},
	}
	env.srv.Samples = []testserver.M{
		{"id": "a0-s1", "name": "mnist", "is_default": true},
	}
	s := env.user(t)
	table, err := s.SampleList(context.Background())
	if err != nil {
		t.Fatalf("SampleList: %v", err)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("got %d samples, want 2", len(table.Rows))
	}
	tmpl, sample := table.Rows[0], table.Rows[1]
	if !rowBool(tmpl, "is_template") || !rowBool(tmpl, "is_default") {
		t.Fatalf("template flags = %v/%v", tmpl.Get("is_template"), tmpl.Get("is_default"))
	}
	// Plain samples never count as default, whatever the wire says.
	if rowBool(sample, "is_template") || rowBool(sample, "is_default") {
		t.Fatalf("sample flags = %v/%v", sample.Get("is_template"), sample.Get("is_default"))
	}
}

func TestResourceProfileList(t *testing.T) {
	env := newTestEnv(t)
	env.srv.Profiles = []testserver.M{
		{"id": "default", "name": "Default", "cpu": "1", "memory": "2Gi"},
		{"id": "large", "name": "Large", "cpu": "4", "memory": "16Gi"},
	}
	s := env.user(t)
	table, err := s.ResourceProfileList(context.Background())
	if err != nil {
		t.Fatalf("ResourceProfileList: %v", err)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("got %d profiles, want 2", len(table.Rows))
	}
	if got := table.Columns[0]; got != "name" {
		t.Fatalf("first column %q, want name", got)
	}
}

func TestCallRawEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	s := env.user(t)
	table, err := s.Call(context.Background(), "get", "projects", CallOptions{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(table.Rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(table.Rows))
	}
	if table.IsRecord {
		t.Fatalf("listing decoded as a record")
	}
}
