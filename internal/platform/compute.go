package platform

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"ae5tools/internal/ident"
	"ae5tools/internal/record"
)

func (s *UserSession) sessionRows(ctx context.Context) ([]*record.Row, error) {
	rows, _, err := s.getRows(ctx, "sessions", nil)
	if err != nil {
		return nil, err
	}
	if err := s.joinProjectNames(ctx, rows, "session"); err != nil {
		return nil, err
	}
	return rows, nil
}

// SessionList lists interactive sessions, joined with project names.
func (s *UserSession) SessionList(ctx context.Context) (*record.Table, error) {
	rows, err := s.sessionRows(ctx)
	if err != nil {
		return nil, err
	}
	return record.Normalize(rows, sessionColumns, false)
}

// SessionInfo resolves one interactive session.
func (s *UserSession) SessionInfo(ctx context.Context, text string, quiet bool) (*record.Table, error) {
	id, err := ident.ParseNoRevision(text)
	if err != nil {
		return nil, err
	}
	row, err := s.resolve(ctx, "sessions", id, quiet)
	if err != nil || row == nil {
		return nil, err
	}
	return record.Normalize([]*record.Row{row}, sessionColumns, true)
}

// SessionStart launches a session for a project, optionally waiting on
// the server-side start action.
func (s *UserSession) SessionStart(ctx context.Context, text string, wait bool) (*record.Table, error) {
	pid, err := s.resolveTextID(ctx, "projects", text)
	if err != nil {
		return nil, err
	}
	resp, err := s.api(ctx, http.MethodPost, "projects/"+pid+"/sessions", apiRequest{})
	if err != nil {
		return nil, err
	}
	rows, _, err := record.Decode(resp.body)
	if err != nil || len(rows) != 1 {
		return nil, &record.ShapeError{Detail: "session start response is not a record"}
	}
	row := rows[0]
	if msg := errorMessage(row.Get("error")); msg != "" {
		return nil, &ActionError{Op: "starting project", Message: msg}
	}
	action, _ := row.Get("action").(*record.Row)
	if wait && action != nil {
		action, err = s.Poll.await(ctx, s, pid, action)
		if err != nil {
			return nil, err
		}
		row.Set("action", action)
	}
	if action != nil && rowBool(action, "error") {
		return nil, &ActionError{Op: "completing session start", Message: action.Str("message")}
	}
	return record.Normalize([]*record.Row{row}, sessionColumns, true)
}

// SessionStop terminates a session.
func (s *UserSession) SessionStop(ctx context.Context, text string) error {
	id, err := s.resolveTextID(ctx, "sessions", text)
	if err != nil {
		return err
	}
	return s.deleteCall(ctx, "sessions/"+id)
}

func (s *UserSession) deploymentRows(ctx context.Context) ([]*record.Row, error) {
	rows, _, err := s.getRows(ctx, "deployments", nil)
	if err != nil {
		return nil, err
	}
	if err := s.joinProjectNames(ctx, rows, ""); err != nil {
		return nil, err
	}
	for _, row := range rows {
		row.Set("endpoint", endpointLabel(row.Str("url")))
	}
	return rows, nil
}

// DeploymentList lists deployments with project ids and the short
// endpoint host label derived from each deployment URL.
func (s *UserSession) DeploymentList(ctx context.Context) (*record.Table, error) {
	rows, err := s.deploymentRows(ctx)
	if err != nil {
		return nil, err
	}
	return record.Normalize(rows, deploymentColumns, false)
}

// DeploymentInfo resolves one deployment.
func (s *UserSession) DeploymentInfo(ctx context.Context, text string, quiet bool) (*record.Table, error) {
	id, err := ident.ParseNoRevision(text)
	if err != nil {
		return nil, err
	}
	row, err := s.resolve(ctx, "deployments", id, quiet)
	if err != nil || row == nil {
		return nil, err
	}
	return record.Normalize([]*record.Row{row}, deploymentColumns, true)
}

// DeploymentEndpoints lists the cluster's static endpoints, restoring
// the canonical a2- deployment id prefix the endpoint API strips.
func (s *UserSession) DeploymentEndpoints(ctx context.Context) (*record.Table, error) {
	resp, err := s.api(ctx, http.MethodGet, "/platform/deploy/api/v1/apps/static-endpoints", apiRequest{})
	if err != nil {
		return nil, err
	}
	rows, _, err := record.Decode(resp.body)
	if err != nil || len(rows) != 1 {
		return nil, &record.ShapeError{Detail: "static endpoint payload is not an object"}
	}
	data, ok := rows[0].Get("data").([]any)
	if !ok {
		return nil, &record.ShapeError{Detail: "static endpoint payload has no data list"}
	}
	var recs []*record.Row
	for _, v := range data {
		if row, ok := v.(*record.Row); ok {
			recs = append(recs, row)
		}
	}
	if err := s.joinProjectNames(ctx, recs, ""); err != nil {
		return nil, err
	}
	for _, row := range recs {
		if d := row.Str("deployment_id"); d != "" {
			row.Set("deployment_id", "a2-"+d)
		}
	}
	return record.Normalize(recs, endpointColumns, false)
}

// DeploymentCollaborators lists a deployment's collaborators.
func (s *UserSession) DeploymentCollaborators(ctx context.Context, text string) (*record.Table, error) {
	id, err := s.resolveTextID(ctx, "deployments", text)
	if err != nil {
		return nil, err
	}
	rows, _, err := s.getRows(ctx, "deployments/"+id+"/collaborators", nil)
	if err != nil {
		return nil, err
	}
	return record.Normalize(rows, collaboratorColumns, false)
}

// DeploymentCollaboratorAdd grants ids access to a deployment.
func (s *UserSession) DeploymentCollaboratorAdd(ctx context.Context, text string, ids []string, group, readOnly bool) (*record.Table, error) {
	id, err := s.resolveTextID(ctx, "deployments", text)
	if err != nil {
		return nil, err
	}
	return s.collaboratorAdd(ctx, "deployments/"+id, ids, group, readOnly)
}

// DeploymentCollaboratorRemove revokes access for ids.
func (s *UserSession) DeploymentCollaboratorRemove(ctx context.Context, text string, ids []string) (*record.Table, error) {
	id, err := s.resolveTextID(ctx, "deployments", text)
	if err != nil {
		return nil, err
	}
	return s.collaboratorRemove(ctx, "deployments/"+id, ids)
}

// DeploymentStartOptions shape a deployment start request.
type DeploymentStartOptions struct {
	Name            string
	Endpoint        string
	Command         string
	ResourceProfile string
	Public          bool
	Wait            bool
}

// DeploymentStart resolves the project revision, assembles the deploy
// request, and waits for the deployment's own state loop. This
// endpoint's status reporting does not follow the generic activity
// poller: the record's state field moves initial/starting -> started,
// and any other terminal value is a failure carrying status_text.
func (s *UserSession) DeploymentStart(ctx context.Context, text string, opts DeploymentStartOptions) (*record.Table, error) {
	id, err := ident.Parse(text, true)
	if err != nil {
		return nil, err
	}
	pid, _, prow, rrow, err := s.resolveRevision(ctx, id, false)
	if err != nil {
		return nil, err
	}
	name := opts.Name
	if name == "" {
		name = prow.Str("name")
	}
	command := opts.Command
	if command == "" {
		command = firstCommandID(rrow)
	}
	profile := opts.ResourceProfile
	if profile == "" {
		profile = prow.Str("resource_profile")
	}
	body := map[string]any{
		"name":             name,
		"source":           rrow.Str("url"),
		"revision":         rrow.Str("id"),
		"resource_profile": profile,
		"command":          command,
		"public":           opts.Public,
		"target":           "deploy",
	}
	if opts.Endpoint != "" {
		body["static_endpoint"] = strings.ToLower(opts.Endpoint)
	}
	resp, err := s.api(ctx, http.MethodPost, "projects/"+pid+"/deployments", apiRequest{json: body})
	if err != nil {
		return nil, err
	}
	rows, _, err := record.Decode(resp.body)
	if err != nil || len(rows) != 1 {
		return nil, &record.ShapeError{Detail: "deployment start response is not a record"}
	}
	row := rows[0]
	if msg := errorMessage(row.Get("error")); msg != "" {
		return nil, &ActionError{Op: "starting deployment", Message: msg}
	}
	if opts.Wait {
		row, err = s.awaitDeploymentState(ctx, row)
		if err != nil {
			return nil, err
		}
	}
	row.Set("project_id", pid)
	return record.Normalize([]*record.Row{row}, deploymentColumns, true)
}

// awaitDeploymentState re-fetches the deployment record until it
// leaves initial/starting. Interval and timeout come from s.Deploy.
func (s *UserSession) awaitDeploymentState(ctx context.Context, row *record.Row) (*record.Row, error) {
	if s.Deploy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Deploy.Timeout)
		defer cancel()
	}
	for state := row.Str("state"); state == "initial" || state == "starting"; state = row.Str("state") {
		if err := sleep(ctx, s.Deploy.interval()); err != nil {
			return nil, &ActionError{Op: "completing deployment start", Message: err.Error()}
		}
		fresh, err := s.getRow(ctx, "deployments/"+row.Str("id"), nil)
		if err != nil {
			return nil, err
		}
		row = fresh
	}
	if row.Str("state") != "started" {
		return nil, &ActionError{Op: "completing deployment start", Message: row.Str("status_text")}
	}
	return row, nil
}

// DeploymentRestart stops a deployment and starts it again from the
// same project, preserving name, endpoint, and profile.
func (s *UserSession) DeploymentRestart(ctx context.Context, text string, wait bool) (*record.Table, error) {
	id, err := ident.ParseNoRevision(text)
	if err != nil {
		return nil, err
	}
	row, err := s.resolve(ctx, "deployments", id, false)
	if err != nil {
		return nil, err
	}
	opts := DeploymentStartOptions{
		Name:            row.Str("name"),
		Endpoint:        endpointLabel(row.Str("url")),
		Command:         row.Str("command"),
		ResourceProfile: row.Str("resource_profile"),
		Public:          rowBool(row, "public"),
		Wait:            wait,
	}
	if err := s.deleteCall(ctx, "deployments/"+row.Str("id")); err != nil {
		return nil, err
	}
	return s.DeploymentStart(ctx, row.Str("project_id"), opts)
}

// DeploymentStop terminates a deployment.
func (s *UserSession) DeploymentStop(ctx context.Context, text string) error {
	id, err := s.resolveTextID(ctx, "deployments", text)
	if err != nil {
		return err
	}
	return s.deleteCall(ctx, "deployments/"+id)
}

// endpointLabel derives the short endpoint host label from a
// deployment URL: the first dotted component of its host.
func endpointLabel(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return ""
	}
	return strings.SplitN(parsed.Host, ".", 2)[0]
}

func firstCommandID(rrow *record.Row) string {
	cmds, _ := rrow.Get("commands").([]any)
	if len(cmds) == 0 {
		return ""
	}
	if row, ok := cmds[0].(*record.Row); ok {
		return row.Str("id")
	}
	return ""
}
