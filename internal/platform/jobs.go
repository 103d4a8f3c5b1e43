package platform

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"ae5tools/internal/ident"
	"ae5tools/internal/record"
)

func (s *UserSession) jobRows(ctx context.Context) ([]*record.Row, error) {
	rows, _, err := s.getRows(ctx, "jobs", nil)
	return rows, err
}

func (s *UserSession) runRows(ctx context.Context) ([]*record.Row, error) {
	rows, _, err := s.getRows(ctx, "runs", nil)
	return rows, err
}

// JobList lists scheduled and run-once jobs.
func (s *UserSession) JobList(ctx context.Context) (*record.Table, error) {
	rows, err := s.jobRows(ctx)
	if err != nil {
		return nil, err
	}
	return record.Normalize(rows, jobColumns, false)
}

// JobInfo resolves one job.
func (s *UserSession) JobInfo(ctx context.Context, text string, quiet bool) (*record.Table, error) {
	id, err := ident.ParseNoRevision(text)
	if err != nil {
		return nil, err
	}
	row, err := s.resolve(ctx, "jobs", id, quiet)
	if err != nil || row == nil {
		return nil, err
	}
	return record.Normalize([]*record.Row{row}, jobColumns, true)
}

// JobDelete removes a job definition.
func (s *UserSession) JobDelete(ctx context.Context, text string) error {
	id, err := s.resolveTextID(ctx, "jobs", text)
	if err != nil {
		return err
	}
	return s.deleteCall(ctx, "jobs/"+id)
}

// RunList lists job runs.
func (s *UserSession) RunList(ctx context.Context) (*record.Table, error) {
	rows, err := s.runRows(ctx)
	if err != nil {
		return nil, err
	}
	return record.Normalize(rows, jobColumns, false)
}

// RunInfo resolves one run.
func (s *UserSession) RunInfo(ctx context.Context, text string, quiet bool) (*record.Table, error) {
	id, err := ident.ParseNoRevision(text)
	if err != nil {
		return nil, err
	}
	row, err := s.resolve(ctx, "runs", id, quiet)
	if err != nil || row == nil {
		return nil, err
	}
	return record.Normalize([]*record.Row{row}, jobColumns, true)
}

// RunLog fetches the text log of a run.
func (s *UserSession) RunLog(ctx context.Context, text string) (string, error) {
	id, err := s.resolveTextID(ctx, "runs", text)
	if err != nil {
		return "", err
	}
	return s.getText(ctx, "runs/"+id+"/log", nil)
}

// RunStop interrupts an in-flight run.
func (s *UserSession) RunStop(ctx context.Context, text string) error {
	id, err := s.resolveTextID(ctx, "runs", text)
	if err != nil {
		return err
	}
	_, err = s.api(ctx, http.MethodPost, "runs/"+id+"/stop", apiRequest{})
	return err
}

// RunDelete removes a run record.
func (s *UserSession) RunDelete(ctx context.Context, text string) error {
	id, err := s.resolveTextID(ctx, "runs", text)
	if err != nil {
		return err
	}
	return s.deleteCall(ctx, "runs/"+id)
}

// JobCreateOptions shape a job creation request.
type JobCreateOptions struct {
	Name            string
	Schedule        string
	Command         string
	ResourceProfile string
	Variables       map[string]string

	// Run triggers an immediate run; Wait blocks until that run
	// reaches a terminal state; Cleanup deletes the job afterward and
	// requires Run and Wait; ShowRun returns the run record instead of
	// the job record.
	Run     bool
	Wait    bool
	Cleanup bool
	ShowRun bool
}

// JobCreate creates a job for a project revision and optionally runs
// it to completion. When no name is supplied one is generated from the
// command and project name, with colons stripped and a numeric suffix
// appended until it collides with no current job or run name. The
// server keeps soft-deleted job names in that namespace, so the check
// runs against the union of both listings.
func (s *UserSession) JobCreate(ctx context.Context, text string, opts JobCreateOptions) (*record.Table, error) {
	if opts.Cleanup && opts.Schedule != "" {
		return nil, &ActionError{Op: "creating job", Message: "cannot combine cleanup with a schedule"}
	}
	if opts.Cleanup && (!opts.Run || !opts.Wait) {
		return nil, &ActionError{Op: "creating job", Message: "cleanup requires run and wait"}
	}
	id, err := ident.Parse(text, true)
	if err != nil {
		return nil, err
	}
	pid, rev, prow, rrow, err := s.resolveRevision(ctx, id, false)
	if err != nil {
		return nil, err
	}
	command := opts.Command
	if command == "" {
		command = firstCommandID(rrow)
	}
	name := opts.Name
	if name == "" {
		name, err = s.uniqueJobName(ctx, command+"-"+prow.Str("name"))
		if err != nil {
			return nil, err
		}
	}
	profile := opts.ResourceProfile
	if profile == "" {
		profile = prow.Str("resource_profile")
	}
	body := map[string]any{
		"name":             name,
		"source":           rrow.Str("url"),
		"revision":         rev,
		"resource_profile": profile,
		"command":          command,
		"target":           "deploy",
		"schedule":         opts.Schedule,
		"autorun":          opts.Run && opts.Schedule == "",
	}
	if len(opts.Variables) > 0 {
		body["variables"] = opts.Variables
	}
	resp, err := s.api(ctx, http.MethodPost, "projects/"+pid+"/jobs", apiRequest{json: body})
	if err != nil {
		return nil, err
	}
	rows, _, err := record.Decode(resp.body)
	if err != nil || len(rows) != 1 {
		return nil, &record.ShapeError{Detail: "job create response is not a record"}
	}
	row := rows[0]
	if msg := errorMessage(row.Get("error")); msg != "" {
		return nil, &ActionError{Op: "creating job", Message: msg}
	}
	if opts.Run {
		run, err := s.latestRun(ctx, row.Str("id"))
		if err != nil {
			return nil, err
		}
		if opts.Wait {
			run, err = s.awaitRun(ctx, run)
			if err != nil {
				return nil, err
			}
		}
		if opts.Cleanup {
			if err := s.deleteCall(ctx, "jobs/"+row.Str("id")); err != nil {
				return nil, err
			}
		}
		if opts.ShowRun {
			row = run
		}
	}
	return record.Normalize([]*record.Row{row}, jobColumns, true)
}

// uniqueJobName strips the characters the server rejects and appends
// the first free numeric suffix.
func (s *UserSession) uniqueJobName(ctx context.Context, base string) (string, error) {
	base = strings.ReplaceAll(base, ":", "")
	taken := map[string]bool{}
	jobs, err := s.jobRows(ctx)
	if err != nil {
		return "", err
	}
	runs, err := s.runRows(ctx)
	if err != nil {
		return "", err
	}
	for _, row := range jobs {
		taken[row.Str("name")] = true
	}
	for _, row := range runs {
		taken[row.Str("name")] = true
	}
	if !taken[base] {
		return base, nil
	}
	for n := 1; ; n++ {
		name := fmt.Sprintf("%s-%d", base, n)
		if !taken[name] {
			return name, nil
		}
	}
}

func (s *UserSession) latestRun(ctx context.Context, jobID string) (*record.Row, error) {
	rows, _, err := s.getRows(ctx, "jobs/"+jobID+"/runs", nil)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &ActionError{Op: "creating job", Message: "job produced no run"}
	}
	return rows[len(rows)-1], nil
}

// awaitRun polls a run until it leaves the active states, using the
// same interval and timeout settings as the activity poller.
func (s *UserSession) awaitRun(ctx context.Context, run *record.Row) (*record.Row, error) {
	if s.Poll.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Poll.Timeout)
		defer cancel()
	}
	id := run.Str("id")
	for !runTerminal(run.Str("state")) {
		if err := sleep(ctx, s.Poll.interval()); err != nil {
			return nil, &ActionError{Op: "completing run", Message: err.Error()}
		}
		fresh, err := s.getRow(ctx, "runs/"+id, nil)
		if err != nil {
			return nil, err
		}
		run = fresh
	}
	if run.Str("state") != "completed" {
		return nil, &ActionError{Op: "completing run", Message: run.Str("status_text")}
	}
	return run, nil
}

func runTerminal(state string) bool {
	// A run stopped from outside never reaches completed, so stopped is
	// terminal too.
	switch state {
	case "completed", "error", "failed", "stopped":
		return true
	}
	return false
}
