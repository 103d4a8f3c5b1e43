package platform

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"ae5tools/internal/ident"
	"ae5tools/internal/record"
)

func (s *UserSession) projectRows(ctx context.Context) ([]*record.Row, error) {
	rows, _, err := s.getRows(ctx, "projects", nil)
	return rows, err
}

// ProjectList lists every project visible to the session. Collaborator
// summaries cost one extra call per project and are strictly opt-in.
func (s *UserSession) ProjectList(ctx context.Context, collaborators bool) (*record.Table, error) {
	rows, err := s.projectRows(ctx)
	if err != nil {
		return nil, err
	}
	if collaborators {
		if err := s.joinCollaborators(ctx, rows); err != nil {
			return nil, err
		}
	}
	return record.Normalize(rows, projectColumns, false)
}

// ProjectInfo resolves one project. Quiet mode returns (nil, nil)
// instead of resolution errors.
func (s *UserSession) ProjectInfo(ctx context.Context, text string, collaborators, quiet bool) (*record.Table, error) {
	id, err := ident.Parse(text, true)
	if err != nil {
		return nil, err
	}
	row, err := s.resolve(ctx, "projects", id, quiet)
	if err != nil || row == nil {
		return nil, err
	}
	if collaborators {
		if err := s.joinCollaborators(ctx, []*record.Row{row}); err != nil {
			return nil, err
		}
	}
	return record.Normalize([]*record.Row{row}, projectColumns, true)
}

// ProjectCollaborators lists a project's collaborator records.
func (s *UserSession) ProjectCollaborators(ctx context.Context, text string) (*record.Table, error) {
	id, err := s.resolveTextID(ctx, "projects", text)
	if err != nil {
		return nil, err
	}
	rows, _, err := s.getRows(ctx, "projects/"+id+"/collaborators", nil)
	if err != nil {
		return nil, err
	}
	return record.Normalize(rows, collaboratorColumns, false)
}

// Collaborator set changes are read-modify-write over the whole list:
// the server accepts only a full replacement PUT, so concurrent edits
// race (last writer wins).

// ProjectCollaboratorAdd grants ids access; group ids are marked type
// group, and readOnly selects the r permission instead of rw.
func (s *UserSession) ProjectCollaboratorAdd(ctx context.Context, text string, ids []string, group, readOnly bool) (*record.Table, error) {
	pid, err := s.resolveTextID(ctx, "projects", text)
	if err != nil {
		return nil, err
	}
	return s.collaboratorAdd(ctx, "projects/"+pid, ids, group, readOnly)
}

// ProjectCollaboratorRemove revokes access for ids.
func (s *UserSession) ProjectCollaboratorRemove(ctx context.Context, text string, ids []string) (*record.Table, error) {
	pid, err := s.resolveTextID(ctx, "projects", text)
	if err != nil {
		return nil, err
	}
	return s.collaboratorRemove(ctx, "projects/"+pid, ids)
}

func (s *UserSession) collaboratorAdd(ctx context.Context, parent string, ids []string, group, readOnly bool) (*record.Table, error) {
	current, _, err := s.getRows(ctx, parent+"/collaborators", nil)
	if err != nil {
		return nil, err
	}
	drop := map[string]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	var entries []map[string]any
	for _, row := range current {
		if !drop[row.Str("id")] {
			entries = append(entries, map[string]any{
				"id":         row.Str("id"),
				"type":       row.Str("type"),
				"permission": row.Str("permission"),
			})
		}
	}
	ctype, perm := "user", "rw"
	if group {
		ctype = "group"
	}
	if readOnly {
		perm = "r"
	}
	for _, id := range ids {
		entries = append(entries, map[string]any{"id": id, "type": ctype, "permission": perm})
	}
	return s.putCollaborators(ctx, parent, entries)
}

func (s *UserSession) collaboratorRemove(ctx context.Context, parent string, ids []string) (*record.Table, error) {
	current, _, err := s.getRows(ctx, parent+"/collaborators", nil)
	if err != nil {
		return nil, err
	}
	drop := map[string]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	var entries []map[string]any
	for _, row := range current {
		if !drop[row.Str("id")] {
			entries = append(entries, map[string]any{
				"id":         row.Str("id"),
				"type":       row.Str("type"),
				"permission": row.Str("permission"),
			})
		}
	}
	return s.putCollaborators(ctx, parent, entries)
}

func (s *UserSession) putCollaborators(ctx context.Context, parent string, entries []map[string]any) (*record.Table, error) {
	if entries == nil {
		entries = []map[string]any{}
	}
	body := map[string]any{"collaborators": entries}
	resp, err := s.api(ctx, http.MethodPut, parent+"/collaborators", apiRequest{json: body})
	if err != nil {
		return nil, err
	}
	rows, _, err := record.Decode(resp.body)
	if err != nil {
		return nil, err
	}
	return record.Normalize(rows, collaboratorColumns, false)
}

// ProjectSessions lists the project's interactive sessions.
func (s *UserSession) ProjectSessions(ctx context.Context, text string) (*record.Table, error) {
	return s.projectChild(ctx, text, "sessions", sessionColumns)
}

// ProjectDeployments lists the project's deployments.
func (s *UserSession) ProjectDeployments(ctx context.Context, text string) (*record.Table, error) {
	return s.projectChild(ctx, text, "deployments", deploymentColumns)
}

// ProjectJobs lists the project's jobs.
func (s *UserSession) ProjectJobs(ctx context.Context, text string) (*record.Table, error) {
	return s.projectChild(ctx, text, "jobs", jobColumns)
}

// ProjectRuns lists the project's runs.
func (s *UserSession) ProjectRuns(ctx context.Context, text string) (*record.Table, error) {
	return s.projectChild(ctx, text, "runs", revisionColumns)
}

func (s *UserSession) projectChild(ctx context.Context, text, child string, columns []string) (*record.Table, error) {
	id, err := s.resolveTextID(ctx, "projects", text)
	if err != nil {
		return nil, err
	}
	rows, _, err := s.getRows(ctx, "projects/"+id+"/"+child, nil)
	if err != nil {
		return nil, err
	}
	return record.Normalize(rows, columns, false)
}

// ProjectActivity returns the project's activity feed, newest first.
// A limit <= 0 requests everything; latest returns a single record.
func (s *UserSession) ProjectActivity(ctx context.Context, text string, limit int, latest bool) (*record.Table, error) {
	id, err := s.resolveTextID(ctx, "projects", text)
	if err != nil {
		return nil, err
	}
	if latest {
		limit = 1
	} else if limit <= 0 {
		limit = 999999
	}
	params := url.Values{"sort": {"-updated"}, "page[size]": {strconv.Itoa(limit)}}
	rows, err := s.activityPage(ctx, id, params)
	if err != nil {
		return nil, err
	}
	if latest {
		if len(rows) > 1 {
			rows = rows[:1]
		}
		return record.Normalize(rows, activityColumns, true)
	}
	return record.Normalize(rows, activityColumns, false)
}

// ProjectPatch updates a project's name, editor, or resource profile.
func (s *UserSession) ProjectPatch(ctx context.Context, text string, updates map[string]string) (*record.Table, error) {
	id, err := ident.Parse(text, true)
	if err != nil {
		return nil, err
	}
	row, err := s.resolve(ctx, "projects", id, false)
	if err != nil {
		return nil, err
	}
	body := map[string]any{}
	for k, v := range updates {
		if v != "" {
			body[k] = v
		}
	}
	pid := row.Str("id")
	if len(body) > 0 {
		if _, err := s.api(ctx, http.MethodPatch, "projects/"+pid, apiRequest{json: body}); err != nil {
			return nil, err
		}
	}
	return s.ProjectInfo(ctx, pid, false, false)
}

// ProjectDelete removes a project. Fails server-side while the project
// has an active session.
func (s *UserSession) ProjectDelete(ctx context.Context, text string) error {
	id, err := s.resolveTextID(ctx, "projects", text)
	if err != nil {
		return err
	}
	return s.deleteCall(ctx, "projects/"+id)
}

// RevisionList lists a project's revisions, newest first.
func (s *UserSession) RevisionList(ctx context.Context, text string) (*record.Table, error) {
	id, err := s.resolveTextID(ctx, "projects", text)
	if err != nil {
		return nil, err
	}
	rows, _, err := s.getRows(ctx, "projects/"+id+"/revisions", nil)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		row.Set("project_id", projectIDFromURL(row.Str("url"), 3))
	}
	return record.Normalize(rows, revisionColumns, false)
}

// RevisionInfo resolves one revision of one project.
func (s *UserSession) RevisionInfo(ctx context.Context, text string, quiet bool) (*record.Table, error) {
	id, err := ident.Parse(text, true)
	if err != nil {
		return nil, err
	}
	pid, _, prow, rrow, err := s.resolveRevision(ctx, id, quiet)
	if err != nil || pid == "" || rrow == nil {
		return nil, err
	}
	rrow.Set("project_id", prow.Str("id"))
	return record.Normalize([]*record.Row{rrow}, revisionColumns, true)
}

// ProjectDownload fetches a revision archive as raw bytes.
func (s *UserSession) ProjectDownload(ctx context.Context, text string) ([]byte, error) {
	id, err := ident.Parse(text, true)
	if err != nil {
		return nil, err
	}
	pid, rev, _, _, err := s.resolveRevision(ctx, id, false)
	if err != nil {
		return nil, err
	}
	return s.getBlob(ctx, "projects/"+pid+"/revisions/"+rev+"/archive", nil)
}

// ProjectUpload creates a project from an archive, optionally waiting
// for the server-side processing action to finish.
func (s *UserSession) ProjectUpload(ctx context.Context, archive []byte, filename, name, tag string, wait bool) (*record.Table, error) {
	if name == "" {
		if filename == "" {
			return nil, &ActionError{Op: "uploading project", Message: "project name must be supplied for binary input"}
		}
		base := filename
		if k := strings.LastIndexAny(base, "/\\"); k >= 0 {
			base = base[k+1:]
		}
		name = strings.SplitN(base, ".", 2)[0]
	}
	fields := url.Values{"name": {name}}
	if tag != "" {
		fields.Set("tag", tag)
	}
	resp, err := s.api(ctx, http.MethodPost, "projects/upload", apiRequest{
		file:       &upload{field: "project_file", filename: name, content: archive},
		fileFields: fields,
	})
	if err != nil {
		return nil, err
	}
	rows, _, err := record.Decode(resp.body)
	if err != nil || len(rows) != 1 {
		return nil, &record.ShapeError{Detail: "upload response is not a record"}
	}
	row := rows[0]
	if msg := errorMessage(row.Get("error")); msg != "" {
		return nil, &ActionError{Op: "uploading project", Message: msg}
	}
	action, _ := row.Get("action").(*record.Row)
	if wait && action != nil {
		action, err = s.Poll.await(ctx, s, row.Str("id"), action)
		if err != nil {
			return nil, err
		}
		row.Set("action", action)
	}
	if action != nil && rowBool(action, "error") {
		return nil, &ActionError{Op: "processing upload", Message: action.Str("message")}
	}
	return record.Normalize([]*record.Row{row}, projectColumns, true)
}

func (s *UserSession) resolveTextID(ctx context.Context, kind, text string) (string, error) {
	id, err := ident.Parse(text, kind == "projects")
	if err != nil {
		return "", err
	}
	return s.resolveID(ctx, kind, id)
}

// errorMessage extracts a server error payload's message, accepting
// both {"error": {"message": ...}} and bare-string forms.
func errorMessage(v any) string {
	switch t := v.(type) {
	case *record.Row:
		return t.Str("message")
	case string:
		return t
	default:
		return ""
	}
}

// projectIDFromURL recovers the canonical a0- project id from a
// record's project_url, whose trailing path carries the bare id. The
// depth argument selects how far from the end the id segment sits.
func projectIDFromURL(u string, depth int) string {
	parts := strings.Split(strings.TrimRight(u, "/"), "/")
	if len(parts) < depth {
		return ""
	}
	return "a0-" + parts[len(parts)-depth]
}

// joinCollaborators attaches a comma-joined collaborator id summary to
// each row. One extra call per row; callers opt in explicitly.
func (s *UserSession) joinCollaborators(ctx context.Context, rows []*record.Row) error {
	for _, row := range rows {
		collabs, _, err := s.getRows(ctx, "projects/"+row.Str("id")+"/collaborators", nil)
		if err != nil {
			return err
		}
		ids := make([]string, len(collabs))
		for i, c := range collabs {
			ids[i] = c.Str("id")
		}
		row.Set("collaborators", strings.Join(ids, ", "))
	}
	return nil
}

// joinProjectNames attaches project_id and the owning project's name
// to session/deployment rows via their project_url. For listings the
// name map costs a single extra projects call.
func (s *UserSession) joinProjectNames(ctx context.Context, rows []*record.Row, namePrefix string) error {
	if len(rows) == 0 {
		return nil
	}
	needNames := namePrefix != "" || !rows[0].Has("name")
	var names map[string]string
	if needNames {
		projects, err := s.projectRows(ctx)
		if err != nil {
			return err
		}
		names = make(map[string]string, len(projects))
		for _, p := range projects {
			names[p.Str("id")] = p.Str("name")
		}
	}
	for _, row := range rows {
		pid := projectIDFromURL(row.Str("project_url"), 1)
		if needNames {
			if row.Has("name") && namePrefix != "" {
				row.Set(namePrefix+"_name", row.Str("name"))
			}
			row.Set("name", names[pid])
		}
		row.Set("project_id", pid)
	}
	return nil
}
