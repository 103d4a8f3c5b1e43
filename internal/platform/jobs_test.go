package platform

import (
	"context"
	"errors"
	"testing"

	"ae5tools/internal/testserver"
)

func TestJobCreateDefaults(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	env.seedRevisions("a0-p1", env.revision("0.1.0", "main.py"))
	s := env.user(t)
	table, err := s.JobCreate(context.Background(), "alice/testproj", JobCreateOptions{})
	if err != nil {
		t.Fatalf("JobCreate: %v", err)
	}
	rec := table.Record()
	if got := rec.Str("command"); got != "main.py" {
		t.Fatalf("command = %q", got)
	}
	if got := rec.Str("name"); got != "main.py-testproj" {
		t.Fatalf("name = %q", got)
	}
	if len(env.srv.Runs) != 0 {
		t.Fatalf("job without run created %d runs", len(env.srv.Runs))
	}
}

func TestJobCreateUniqueName(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	env.seedRevisions("a0-p1", env.revision("0.1.0", "main.py"))

	// Soft-deleted jobs keep their names via the run listing, so the
	// suffix check runs over jobs and runs together.
	env.srv.Jobs = []testserver.M{
		{"id": "a3-j1", "name": "main.py-testproj", "owner": "alice", "project_id": "a0-p1"},
	}
	env.srv.Runs = []testserver.M{
		{"id": "a4-r1", "name": "main.py-testproj-1", "owner": "alice", "job_id": "a3-gone", "project_id": "a0-p1", "state": "completed"},
	}
	s := env.user(t)
	table, err := s.JobCreate(context.Background(), "alice/testproj", JobCreateOptions{})
	if err != nil {
		t.Fatalf("JobCreate: %v", err)
	}
	if got := table.Record().Str("name"); got != "main.py-testproj-2" {
		t.Fatalf("name = %q, want main.py-testproj-2", got)
	}
}

func TestJobCreateStripsColons(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	env.seedRevisions("a0-p1", env.revision("0.1.0", "notebook:run"))
	s := env.user(t)
	table, err := s.JobCreate(context.Background(), "alice/testproj", JobCreateOptions{})
	if err != nil {
		t.Fatalf("JobCreate: %v", err)
	}
	if got := table.Record().Str("name"); got != "notebookrun-testproj" {
		t.Fatalf("name = %q", got)
	}
}

func TestJobCreateRunWaitCleanup(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	env.seedRevisions("a0-p1", env.revision("0.1.0", "main.py"))
	env.srv.RunStates = []string{"running", "completed"}
	s := env.user(t)
	table, err := s.JobCreate(context.Background(), "alice/testproj", JobCreateOptions{
		Run: true, Wait: true, Cleanup: true, ShowRun: true,
	})
	if err != nil {
		t.Fatalf("JobCreate: %v", err)
	}
	rec := table.Record()
	if got := rec.Str("state"); got != "completed" {
		t.Fatalf("run state = %q", got)
	}
	if got := rec.Str("id"); got[:3] != "a4-" {
		t.Fatalf("show-run returned %s, want a run record", got)
	}
	if len(env.srv.Jobs) != 0 {
		t.Fatalf("cleanup left %d jobs", len(env.srv.Jobs))
	}
}

func TestJobCreateRunFailure(t *testing.T) {
	// Every terminal state other than completed is an error, including a
	// run stopped from outside.
	for _, state := range []string{"failed", "error", "stopped"} {
		t.Run(state, func(t *testing.T) {
			env := newTestEnv(t)
			env.seedProjects()
			env.seedRevisions("a0-p1", env.revision("0.1.0", "main.py"))
			env.srv.RunStates = []string{state}
			s := env.user(t)
			_, err := s.JobCreate(context.Background(), "alice/testproj", JobCreateOptions{Run: true, Wait: true})
			var actErr *ActionError
			if !errors.As(err, &actErr) {
				t.Fatalf("got %v, want ActionError", err)
			}
			if actErr.Op != "completing run" {
				t.Fatalf("error op %q", actErr.Op)
			}
		})
	}
}

func TestJobCreateCleanupConstraints(t *testing.T) {
	env := newTestEnv(t)
	s := env.user(t)
	ctx := context.Background()
	if _, err := s.JobCreate(ctx, "x", JobCreateOptions{Cleanup: true, Schedule: "0 * * * *", Run: true, Wait: true}); err == nil {
		t.Fatalf("cleanup with a schedule accepted")
	}
	if _, err := s.JobCreate(ctx, "x", JobCreateOptions{Cleanup: true}); err == nil {
		t.Fatalf("cleanup without run and wait accepted")
	}
}

func TestJobCreateSchedule(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	env.seedRevisions("a0-p1", env.revision("0.1.0", "main.py"))
	s := env.user(t)
	table, err := s.JobCreate(context.Background(), "alice/testproj", JobCreateOptions{
		Name:     "nightly",
		Schedule: "0 2 * * *",
	})
	if err != nil {
		t.Fatalf("JobCreate: %v", err)
	}
	if got := table.Record().Str("schedule"); got != "0 2 * * *" {
		t.Fatalf("schedule = %q", got)
	}
	if len(env.srv.Runs) != 0 {
		t.Fatalf("scheduled job autoran")
	}
}

func TestRunLog(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	env.srv.Runs = []testserver.M{
		{"id": "a4-r1", "name": "nightly", "owner": "alice", "project_id": "a0-p1", "state": "completed"},
	}
	s := env.user(t)
	log, err := s.RunLog(context.Background(), "a4-r1")
	if err != nil {
		t.Fatalf("RunLog: %v", err)
	}
	if log != "log for a4-r1\n" {
		t.Fatalf("log = %q", log)
	}
}

func TestJobDelete(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	env.srv.Jobs = []testserver.M{
		{"id": "a3-j1", "name": "nightly", "owner": "alice", "project_id": "a0-p1"},
	}
	s := env.user(t)
	if err := s.JobDelete(context.Background(), "nightly"); err != nil {
		t.Fatalf("JobDelete: %v", err)
	}
	if len(env.srv.Jobs) != 0 {
		t.Fatalf("job not removed")
	}
}

func TestEmptyListings(t *testing.T) {
	env := newTestEnv(t)
	env.seedProjects()
	s := env.user(t)
	ctx := context.Background()
	if table, err := s.JobList(ctx); err != nil || len(table.Rows) != 0 {
		t.Fatalf("JobList: %v rows, %v", table, err)
	}
	if table, err := s.RunList(ctx); err != nil || len(table.Rows) != 0 {
		t.Fatalf("RunList: %v rows, %v", table, err)
	}
	if table, err := s.RevisionList(ctx, "alice/testproj"); err != nil || len(table.Rows) != 0 {
		t.Fatalf("RevisionList: %v rows, %v", table, err)
	}
}
