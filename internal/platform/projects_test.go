package platform

import (
	"bytes"
	"context"
	"testing"

	"ae5tools/internal/testserver"
)

func TestProjectInfoWithCollaborators(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	env.srv.Collaborators["projects/a0-p1"] = []testserver.M{
		{"id": "bob", "type": "user", "permission": "r"},
		{"id": "devs", "type": "group", "permission": "rw"},
	}
	s := env.user(t)
	table, err := s.ProjectInfo(context.Background(), "alice/testproj", true, false)
	if err != nil {
		t.Fatalf("ProjectInfo: %v", err)
	}
	if !table.IsRecord {
		t.Fatalf("project info is not a record")
	}
	if got := table.Record().Str("collaborators"); got != "bob, devs" {
		t.Fatalf("collaborators = %q", got)
	}
}

func TestProjectCollaboratorRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	env.srv.Collaborators["projects/a0-p1"] = []testserver.M{
		{"id": "bob", "type": "user", "permission": "r"},
	}
	s := env.user(t)
	ctx := context.Background()

	table, err := s.ProjectCollaboratorAdd(ctx, "a0-p1", []string{"carol"}, false, false)
	if err != nil {
		t.Fatalf("CollaboratorAdd: %v", err)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("got %d collaborators, want 2", len(table.Rows))
	}
	byID := map[string]string{}
	for _, row := range table.Rows {
		byID[row.Str("id")] = row.Str("permission")
	}
	// Existing grants survive a replacement PUT untouched.
	if byID["bob"] != "r" || byID["carol"] != "rw" {
		t.Fatalf("permissions = %v", byID)
	}

	// Re-adding an id replaces its grant rather than duplicating it.
	table, err = s.ProjectCollaboratorAdd(ctx, "a0-p1", []string{"bob"}, false, false)
	if err != nil {
		t.Fatalf("CollaboratorAdd again: %v", err)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("re-add produced %d collaborators, want 2", len(table.Rows))
	}
	for _, row := range table.Rows {
		if row.Str("id") == "bob" && row.Str("permission") != "rw" {
			t.Fatalf("bob's grant not upgraded: %q", row.Str("permission"))
		}
	}

	table, err = s.ProjectCollaboratorRemove(ctx, "a0-p1", []string{"bob"})
	if err != nil {
		t.Fatalf("CollaboratorRemove: %v", err)
	}
	if len(table.Rows) != 1 || table.Rows[0].Str("id") != "carol" {
		t.Fatalf("remove left %d rows", len(table.Rows))
	}
}

func TestProjectCollaboratorAddGroupReadOnly(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	s := env.user(t)
	table, err := s.ProjectCollaboratorAdd(context.Background(), "a0-p1", []string{"everyone"}, true, true)
	if err != nil {
		t.Fatalf("CollaboratorAdd: %v", err)
	}
	row := table.Rows[0]
	if row.Str("type") != "group" || row.Str("permission") != "r" {
		t.Fatalf("grant = %s/%s", row.Str("type"), row.Str("permission"))
	}
}

func TestProjectActivity(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	env.srv.Activity["a0-p1"] = []testserver.M{
		{"id": "a5-3", "type": "session_start", "status": "done", "done": true},
		{"id": "a5-2", "type": "project_update", "status": "done", "done": true},
		{"id": "a5-1", "type": "project_create", "status": "done", "done": true},
	}
	s := env.user(t)
	ctx := context.Background()

	table, err := s.ProjectActivity(ctx, "alice/testproj", 2, false)
	if err != nil {
		t.Fatalf("ProjectActivity: %v", err)
	}
	if len(table.Rows) != 2 || table.Rows[0].Str("id") != "a5-3" {
		t.Fatalf("limited activity = %d rows, first %s", len(table.Rows), table.Rows[0].Str("id"))
	}

	table, err = s.ProjectActivity(ctx, "alice/testproj", 0, true)
	if err != nil {
		t.Fatalf("ProjectActivity latest: %v", err)
	}
	if !table.IsRecord || table.Record().Str("id") != "a5-3" {
		t.Fatalf("latest = %s, record %v", table.Record().Str("id"), table.IsRecord)
	}
}

func TestProjectPatch(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	s := env.user(t)
	table, err := s.ProjectPatch(context.Background(), "alice/testproj", map[string]string{
		"name":   "renamed",
		"editor": "",
	})
	if err != nil {
		t.Fatalf("ProjectPatch: %v", err)
	}
	if got := table.Record().Str("name"); got != "renamed" {
		t.Fatalf("patched name = %q", got)
	}
	if env.srv.Projects[0]["name"] != "renamed" {
		t.Fatalf("server record not updated: %v", env.srv.Projects[0]["name"])
	}
}

func TestProjectDelete(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	s := env.user(t)
	if err := s.ProjectDelete(context.Background(), "alice/other"); err != nil {
		t.Fatalf("ProjectDelete: %v", err)
	}
	if len(env.srv.Projects) != 2 {
		t.Fatalf("%d projects remain, want 2", len(env.srv.Projects))
	}
}

func TestRevisionList(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	env.seedRevisions("a0-p1", env.revision("0.2.0", "main.py"), env.revision("0.1.0", "main.py"))
	s := env.user(t)
	table, err := s.RevisionList(context.Background(), "alice/testproj")
	if err != nil {
		t.Fatalf("RevisionList: %v", err)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("got %d revisions, want 2", len(table.Rows))
	}
	if got := table.Rows[0].Str("project_id"); got != "a0-p1" {
		t.Fatalf("project_id = %q", got)
	}
}

func TestProjectDownload(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	env.seedRevisions("a0-p1", env.revision("0.2.0", "main.py"), env.revision("0.1.0", "main.py"))
	content := []byte("old tarball bytes")
	env.srv.Archives["a0-p1/0.1.0"] = content
	env.srv.Archives["a0-p1/0.2.0"] = []byte("new tarball bytes")
	s := env.user(t)
	data, err := s.ProjectDownload(context.Background(), "alice/testproj:0.1.0")
	if err != nil {
		t.Fatalf("ProjectDownload: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Fatalf("downloaded %q", data)
	}
}

func TestProjectUpload(t *testing.T) {
	env := newTestEnv(t)
	s := env.user(t)
	table, err := s.ProjectUpload(context.Background(), []byte("tarball"), "myproj.tar.gz", "", "", true)
	if err != nil {
		t.Fatalf("ProjectUpload: %v", err)
	}
	if !table.IsRecord {
		t.Fatalf("upload result is not a record")
	}
	if got := table.Record().Str("name"); got != "myproj" {
		t.Fatalf("uploaded name = %q", got)
	}
	if len(env.srv.Projects) != 1 {
		t.Fatalf("server holds %d projects, want 1", len(env.srv.Projects))
	}
}

func TestProjectUploadNeedsName(t *testing.T) {
	env := newTestEnv(t)
	s := env.user(t)
	_, err := s.ProjectUpload(context.Background(), []byte("tarball"), "", "", "", false)
	if err == nil {
		t.Fatalf("upload without name or filename succeeded")
	}
}
