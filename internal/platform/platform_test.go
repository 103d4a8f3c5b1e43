package platform

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"ae5tools/internal/testserver"
)

// testEnv runs one fake cluster per test and hands out sessions
// pointed at it. Credential files land in a per-test temp dir.
type testEnv struct {
	srv *testserver.Server
	web *httptest.Server
	dir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	srv := testserver.New()
	web := httptest.NewServer(srv)
	t.Cleanup(web.Close)
	return &testEnv{srv: srv, web: web, dir: t.TempDir()}
}

func (e *testEnv) cookiePath() string {
	return filepath.Join(e.dir, e.srv.Username+"@aip.test")
}

func (e *testEnv) tokenPath() string {
	return filepath.Join(e.dir, e.srv.AdminUsername+"@aip.test.token")
}

func (e *testEnv) user(t *testing.T) *UserSession {
	t.Helper()
	s, err := NewUserSession("aip.test", e.srv.Username, UserOptions{
		Password:   e.srv.Password,
		BaseURL:    e.web.URL,
		CookieFile: e.cookiePath(),
	})
	if err != nil {
		t.Fatalf("NewUserSession: %v", err)
	}
	s.Poll.Interval = time.Millisecond
	s.Deploy.Interval = time.Millisecond
	return s
}

func (e *testEnv) admin(t *testing.T) *AdminSession {
	t.Helper()
	s, err := NewAdminSession(context.Background(), "aip.test", e.srv.AdminUsername, AdminOptions{
		Password: e.srv.AdminPassword,
		BaseURL:  e.web.URL,
	})
	if err != nil {
		t.Fatalf("NewAdminSession: %v", err)
	}
	return s
}

// seedProjects installs the standard three-project fixture used by
// the resolution tests: two projects named testproj under different
// owners, plus one more under alice.
func (e *testEnv) seedProjects() {
	base := e.web.URL + "/api/v2/projects/"
	e.srv.Projects = []testserver.M{
		{"id": "a0-p1", "name": "testproj", "owner": "alice", "url": base + "p1"},
		{"id": "a0-p2", "name": "testproj", "owner": "bob", "url": base + "p2"},
		{"id": "a0-p3", "name": "other", "owner": "alice", "url": base + "p3"},
	}
}

func (e *testEnv) seedRevisions(pid string, revs ...testserver.M) {
	e.srv.Revisions[pid] = revs
}

func (e *testEnv) revision(name, command string) testserver.M {
	return testserver.M{
		"id":       name,
		"name":     name,
		"commands": []testserver.M{{"id": command}},
		"url":      e.web.URL + "/api/v2/projects/p1/revisions/" + name,
	}
}
