package platform

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
)

func TestUserLoginFlow(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	s := env.user(t)
	if s.Connected() {
		t.Fatalf("connected before any request")
	}
	table, err := s.ProjectList(context.Background(), false)
	if err != nil {
		t.Fatalf("ProjectList: %v", err)
	}
	if len(table.Rows) != 3 {
		t.Fatalf("got %d projects, want 3", len(table.Rows))
	}
	if !s.Connected() {
		t.Fatalf("not connected after successful request")
	}
	fi, err := os.Stat(env.cookiePath())
	if err != nil {
		t.Fatalf("cookie file not written: %v", err)
	}
	if perm := fi.Mode().Perm(); perm != 0o600 {
		t.Fatalf("cookie file mode %o, want 600", perm)
	}
}

func TestUserCookieReuseSkipsNetwork(t *testing.T) {
	env := newTestEnv(t)
	s := env.user(t)
	if err := s.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	// A second session on the same cookie file must come up connected
	// without touching the network at all.
	var calls int32
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer dead.Close()
	s2, err := NewUserSession("aip.test", env.srv.Username, UserOptions{
		BaseURL:    dead.URL,
		CookieFile: env.cookiePath(),
	})
	if err != nil {
		t.Fatalf("NewUserSession: %v", err)
	}
	if !s2.Connected() {
		t.Fatalf("saved cookies not restored")
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Fatalf("construction made %d network calls", n)
	}
}

func TestUserStaleCookieFileFallsThrough(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	stale := `{"saved":"2020-01-01T00:00:00Z","cookies":[` +
		`{"name":"_xsrf","value":"old","path":"/","expires":"2020-01-02T00:00:00Z"},` +
		`{"name":"anaconda-session","value":"old","path":"/","expires":"2020-01-02T00:00:00Z"}]}`
	if err := os.WriteFile(env.cookiePath(), []byte(stale), 0o600); err != nil {
		t.Fatalf("writing stale jar: %v", err)
	}
	s := env.user(t)
	if s.Connected() {
		t.Fatalf("expired cookies treated as a live session")
	}
	if _, err := s.ProjectList(context.Background(), false); err != nil {
		t.Fatalf("ProjectList after stale jar: %v", err)
	}
	if !s.Connected() {
		t.Fatalf("full login did not reconnect")
	}
}

func TestUserBadPassword(t *testing.T) {
	env := newTestEnv(t)
	s, err := NewUserSession("aip.test", env.srv.Username, UserOptions{
		Password: "wrong",
		BaseURL:  env.web.URL,
	})
	if err != nil {
		t.Fatalf("NewUserSession: %v", err)
	}
	_, err = s.ProjectList(context.Background(), false)
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("got %v, want AuthenticationError", err)
	}
	if authErr.Key != "alice@aip.test" {
		t.Fatalf("error key %q", authErr.Key)
	}
}

func TestUserPromptLoop(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	attempts := []string{"nope", "still nope", env.srv.Password}
	var asked int
	s, err := NewUserSession("aip.test", env.srv.Username, UserOptions{
		BaseURL: env.web.URL,
		Prompt: func(key string) (string, error) {
			p := attempts[asked]
			asked++
			return p, nil
		},
	})
	if err != nil {
		t.Fatalf("NewUserSession: %v", err)
	}
	if _, err := s.ProjectList(context.Background(), false); err != nil {
		t.Fatalf("ProjectList: %v", err)
	}
	if asked != 3 {
		t.Fatalf("prompt called %d times, want 3", asked)
	}
}

func TestUserChallengeRelogin(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	s := env.user(t)
	ctx := context.Background()
	if _, err := s.ProjectList(ctx, false); err != nil {
		t.Fatalf("first ProjectList: %v", err)
	}

	// Server-side session expiry answers the next API call with the
	// login page; the client must log back in and retry transparently.
	env.srv.ResetSession()
	table, err := s.ProjectList(ctx, false)
	if err != nil {
		t.Fatalf("ProjectList after expiry: %v", err)
	}
	if len(table.Rows) != 3 {
		t.Fatalf("got %d projects after relogin, want 3", len(table.Rows))
	}
}

func TestUserPersistentChallengeFails(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	s := env.user(t)
	ctx := context.Background()
	if err := s.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	// When the login page comes back even after a fresh login, the call
	// must fail as an authentication problem, not as a bad response body.
	env.srv.ForceChallenge = true
	_, err := s.ProjectList(ctx, false)
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("got %v, want AuthenticationError", err)
	}
	if authErr.Key != "alice@aip.test" {
		t.Fatalf("error key %q", authErr.Key)
	}
}

func TestUserDisconnect(t *testing.T) {
	env := newTestEnv(t)
	s := env.user(t)
	ctx := context.Background()
	if err := s.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if err := s.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if s.Connected() {
		t.Fatalf("still connected after Disconnect")
	}
	s2, err := NewUserSession("aip.test", env.srv.Username, UserOptions{
		BaseURL:    env.web.URL,
		CookieFile: env.cookiePath(),
	})
	if err != nil {
		t.Fatalf("NewUserSession: %v", err)
	}
	if s2.Connected() {
		t.Fatalf("Disconnect left live cookies in the file")
	}
}
