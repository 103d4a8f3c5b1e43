package platform

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ae5tools/internal/ident"
	"ae5tools/internal/testserver"
)

func seedChildren(env *testEnv) {
	purl := env.web.URL + "/api/v2/projects/"
	env.srv.Sessions = []testserver.M{
		{"id": "a1-s1", "name": "testproj-pod", "owner": "alice", "state": "running", "project_url": purl + "p1"},
		{"id": "a1-s2", "name": "other-pod", "owner": "alice", "state": "running", "project_url": purl + "p3"},
	}
	env.srv.Jobs = []testserver.M{
		{"id": "a3-j1", "name": "nightly", "owner": "alice", "project_id": "a0-p1"},
	}
}

func TestResolveByOwnerAndName(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	s := env.user(t)
	row, err := s.Resolve(context.Background(), "projects", "bob/testproj")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if row.Str("id") != "a0-p2" {
		t.Fatalf("resolved %s, want a0-p2", row.Str("id"))
	}
}

func TestResolveAmbiguous(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	s := env.user(t)
	_, err := s.Resolve(context.Background(), "projects", "testproj")
	var ambErr *AmbiguousError
	if !errors.As(err, &ambErr) {
		t.Fatalf("got %v, want AmbiguousError", err)
	}
	if len(ambErr.Matches) != 2 {
		t.Fatalf("ambiguous over %d matches, want 2", len(ambErr.Matches))
	}
}

func TestResolveNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	s := env.user(t)
	_, err := s.Resolve(context.Background(), "projects", "nosuch")
	var nfErr *NotFoundError
	if !errors.As(err, &nfErr) {
		t.Fatalf("got %v, want NotFoundError", err)
	}
}

func TestResolveByID(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	s := env.user(t)
	row, err := s.Resolve(context.Background(), "projects", "a0-p3")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if row.Str("name") != "other" {
		t.Fatalf("resolved %s, want other", row.Str("name"))
	}
}

func TestResolveScopedByProjectID(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	seedChildren(env)
	s := env.user(t)

	// A project id supplied where a session is wanted scopes the
	// match to that project's sessions.
	row, err := s.Resolve(context.Background(), "sessions", "a0-p1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if row.Str("id") != "a1-s1" {
		t.Fatalf("resolved %s, want a1-s1", row.Str("id"))
	}
}

func TestResolveRejectsForeignID(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	seedChildren(env)
	s := env.user(t)
	_, err := s.Resolve(context.Background(), "sessions", "a3-j1")
	if err == nil || !strings.Contains(err.Error(), "expected a sessions id") {
		t.Fatalf("got %v, want id kind mismatch", err)
	}
}

func TestResolveQuiet(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	s := env.user(t)
	ctx := context.Background()
	for _, text := range []string{"nosuch", "testproj"} {
		id, err := ident.Parse(text, true)
		if err != nil {
			t.Fatalf("Parse(%q): %v", text, err)
		}
		row, err := s.resolve(ctx, "projects", id, true)
		if err != nil || row != nil {
			t.Fatalf("quiet resolve of %q = (%v, %v), want (nil, nil)", text, row, err)
		}
	}
}

func TestResolveRevisionLatest(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	env.seedRevisions("a0-p1", env.revision("0.2.0", "main.py"), env.revision("0.1.0", "main.py"))
	s := env.user(t)
	id, err := ident.Parse("alice/testproj:latest", true)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	pid, rev, _, rrow, err := s.resolveRevision(context.Background(), id, false)
	if err != nil {
		t.Fatalf("resolveRevision: %v", err)
	}
	if pid != "a0-p1" || rev != "0.2.0" {
		t.Fatalf("resolved %s:%s, want a0-p1:0.2.0", pid, rev)
	}
	if rrow.Str("name") != "0.2.0" {
		t.Fatalf("revision row name %q", rrow.Str("name"))
	}
}

func TestResolveRevisionByName(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	env.seedRevisions("a0-p1", env.revision("0.2.0", "main.py"), env.revision("0.1.0", "main.py"))
	s := env.user(t)
	id, err := ident.Parse("alice/testproj:0.1.0", true)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_, rev, _, _, err := s.resolveRevision(context.Background(), id, false)
	if err != nil {
		t.Fatalf("resolveRevision: %v", err)
	}
	if rev != "0.1.0" {
		t.Fatalf("resolved revision %s, want 0.1.0", rev)
	}
}

func TestResolveRevisionNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	env.seedRevisions("a0-p1", env.revision("0.1.0", "main.py"))
	s := env.user(t)
	id, err := ident.Parse("alice/testproj:9.9.9", true)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_, _, _, _, err = s.resolveRevision(context.Background(), id, false)
	var nfErr *NotFoundError
	if !errors.As(err, &nfErr) {
		t.Fatalf("got %v, want NotFoundError", err)
	}
	if nfErr.Kind != "revisions" {
		t.Fatalf("error kind %q", nfErr.Kind)
	}
}
