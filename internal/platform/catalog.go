package platform

import (
	"context"
	"path"

	"ae5tools/internal/record"
)

// Canonical column orders per entity kind. These drive the normalizer's
// left-to-right ordering and are part of the CLI's output contract.
var (
	projectColumns      = []string{"name", "owner", "editor", "resource_profile", "id", "created", "updated", "url"}
	revisionColumns     = []string{"name", "owner", "commands", "id", "project_id", "created", "updated", "url"}
	sessionColumns      = []string{"name", "owner", "resource_profile", "state", "id", "project_id", "created", "updated", "url"}
	deploymentColumns   = []string{"endpoint", "name", "owner", "command", "resource_profile", "project_name", "public", "state", "id", "project_id", "created", "updated", "url"}
	jobColumns          = []string{"name", "owner", "command", "resource_profile", "project_name", "state", "id", "project_id", "created", "updated", "url"}
	collaboratorColumns = []string{"id", "permission", "type", "first name", "last name", "email"}
	userColumns         = []string{"username", "email", "firstName", "lastName", "id"}
	activityColumns     = []string{"type", "status", "message", "done", "owner", "id", "description", "created", "updated"}
	endpointColumns     = []string{"id", "owner", "name", "deployment_id", "project_id", "project_url"}
	editorColumns       = []string{"id", "name", "is_default", "packages"}
	sampleColumns       = []string{"name", "id", "is_template", "is_default", "description", "download_url", "owner", "created", "updated"}
	profileColumns      = []string{"name", "description", "cpu", "memory", "gpu", "id"}
)

// Catalog binds an entity kind to its live listing. The resolver only
// ever consults the full listing, never a single-record endpoint: the
// listings carry derived fields (for instance in-progress creation
// status) that the individual endpoints omit.
type Catalog struct {
	Kind    string
	Columns []string
	List    func(ctx context.Context, s *UserSession) ([]*record.Row, error)
}

// catalogs is the fixed registry of resolvable entity kinds.
var catalogs = map[string]Catalog{
	"projects": {
		Kind:    "projects",
		Columns: projectColumns,
		List: func(ctx context.Context, s *UserSession) ([]*record.Row, error) {
			return s.projectRows(ctx)
		},
	},
	"sessions": {
		Kind:    "sessions",
		Columns: sessionColumns,
		List: func(ctx context.Context, s *UserSession) ([]*record.Row, error) {
			return s.sessionRows(ctx)
		},
	},
	"deployments": {
		Kind:    "deployments",
		Columns: deploymentColumns,
		List: func(ctx context.Context, s *UserSession) ([]*record.Row, error) {
			return s.deploymentRows(ctx)
		},
	},
	"jobs": {
		Kind:    "jobs",
		Columns: jobColumns,
		List: func(ctx context.Context, s *UserSession) ([]*record.Row, error) {
			return s.jobRows(ctx)
		},
	},
	"runs": {
		Kind:    "runs",
		Columns: jobColumns,
		List: func(ctx context.Context, s *UserSession) ([]*record.Row, error) {
			return s.runRows(ctx)
		},
	},
}

// glob matches with fnmatch-style semantics; a malformed pattern is
// compared literally.
func glob(pattern, value string) bool {
	ok, err := path.Match(pattern, value)
	if err != nil {
		return pattern == value
	}
	return ok
}
