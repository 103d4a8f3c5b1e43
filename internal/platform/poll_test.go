package platform

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"ae5tools/internal/record"
	"ae5tools/internal/testserver"
)

func actionRow(id string, done bool) *record.Row {
	row := record.NewRow()
	row.Set("id", id)
	row.Set("status", "running")
	row.Set("done", done)
	row.Set("error", false)
	return row
}

func TestAwaitGrowsPage(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()

	// Newer activity keeps landing ahead of the awaited action, so the
	// poller has to widen its page until the action becomes visible.
	env.srv.Activity["a0-p1"] = []testserver.M{
		{"id": "a5-new2", "status": "running", "done": false, "error": false},
		{"id": "a5-new1", "status": "running", "done": false, "error": false},
		{"id": "a5-target", "status": "done", "done": true, "error": false},
	}
	s := env.user(t)
	got, err := s.Poll.await(context.Background(), s, "a0-p1", actionRow("a5-target", false))
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if got.Str("id") != "a5-target" || !rowBool(got, "done") {
		t.Fatalf("await returned %s done=%v", got.Str("id"), rowBool(got, "done"))
	}
}

func TestAwaitDoneActionSkipsNetwork(t *testing.T) {
	var calls int32
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer dead.Close()
	s, err := NewUserSession("aip.test", "alice", UserOptions{Password: "x", BaseURL: dead.URL})
	if err != nil {
		t.Fatalf("NewUserSession: %v", err)
	}
	s.Poll.Interval = time.Millisecond
	got, err := s.Poll.await(context.Background(), s, "a0-p1", actionRow("a5-x", true))
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if got.Str("id") != "a5-x" {
		t.Fatalf("await returned %s", got.Str("id"))
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Fatalf("await of a finished action made %d calls", n)
	}
}

func TestAwaitTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	env.srv.Activity["a0-p1"] = []testserver.M{
		{"id": "a5-x", "status": "running", "done": false, "error": false},
	}
	s := env.user(t)
	p := Poller{Interval: time.Millisecond, Timeout: 25 * time.Millisecond}
	_, err := p.await(context.Background(), s, "a0-p1", actionRow("a5-x", false))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
}

func TestAwaitCancel(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	env.srv.Activity["a0-p1"] = []testserver.M{
		{"id": "a5-x", "status": "running", "done": false, "error": false},
	}
	s := env.user(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Poll.await(ctx, s, "a0-p1", actionRow("a5-x", false))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want canceled", err)
	}
}

func TestAwaitErrorState(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	env.srv.Activity["a0-p1"] = []testserver.M{
		{"id": "a5-x", "status": "error", "done": false, "error": true, "message": "boom"},
	}
	s := env.user(t)
	got, err := s.Poll.await(context.Background(), s, "a0-p1", actionRow("a5-x", false))
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if !rowBool(got, "error") || got.Str("message") != "boom" {
		t.Fatalf("await returned error=%v message=%q", rowBool(got, "error"), got.Str("message"))
	}
}
