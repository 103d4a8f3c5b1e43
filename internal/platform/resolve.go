package platform

import (
	"context"
	"fmt"

	"ae5tools/internal/ident"
	"ae5tools/internal/record"
)

// resolve reduces a loose identifier to exactly one record of the
// given kind. It is a pure conjunctive filter over the current
// listing: owner, name, id, and project id each match independently,
// defaulting to match-anything. Zero matches is a NotFoundError and
// several an AmbiguousError, unless quiet, which returns nil instead.
func (s *UserSession) resolve(ctx context.Context, kind string, id ident.Identifier, quiet bool) (*record.Row, error) {
	catalog, ok := catalogs[kind]
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %s", kind)
	}
	idType := kind
	if id.ID != "" {
		idType = ident.Classify(id.ID)
		if idType != "projects" && idType != kind {
			return nil, fmt.Errorf("expected a %s id, found a %s id: %s", kind, idType, id)
		}
	}
	rows, err := catalog.List(ctx, s)
	if err != nil {
		return nil, err
	}
	owner, name, idPat, pidPat := id.Owner, id.Name, "*", "*"
	if owner == "" {
		owner = "*"
	}
	if name == "" {
		name = "*"
	}
	if id.ID != "" && idType == kind {
		idPat = id.ID
	}
	if kind != "projects" {
		if id.PID != "" {
			pidPat = id.PID
		} else if id.ID != "" && idType == "projects" {
			pidPat = id.ID
		}
	}
	var matches []*record.Row
	for _, row := range rows {
		if glob(owner, row.Str("owner")) && glob(name, row.Str("name")) &&
			glob(idPat, row.Str("id")) && glob(pidPat, row.Str("project_id")) {
			matches = append(matches, row)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		if quiet {
			return nil, nil
		}
		return nil, &NotFoundError{Kind: kind, Ident: fmt.Sprintf("%s/%s/%s", owner, name, idPat)}
	default:
		if quiet {
			return nil, nil
		}
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = ident.FromRecord(m.Str("owner"), m.Str("name"), m.Str("id")).String()
		}
		return nil, &AmbiguousError{
			Kind:    kind,
			Ident:   fmt.Sprintf("%s/%s/%s", owner, name, idPat),
			Matches: names,
		}
	}
}

// resolveID is resolve reduced to the record id.
func (s *UserSession) resolveID(ctx context.Context, kind string, id ident.Identifier) (string, error) {
	row, err := s.resolve(ctx, kind, id, false)
	if err != nil {
		return "", err
	}
	return row.Str("id"), nil
}

// resolveRevision resolves a project plus one of its revisions. The
// server presents revisions newest-first; an empty or "latest"
// revision selects the first entry.
func (s *UserSession) resolveRevision(ctx context.Context, id ident.Identifier, quiet bool) (pid, rev string, prow, rrow *record.Row, err error) {
	prow, err = s.resolve(ctx, "projects", id, quiet)
	if err != nil || prow == nil {
		return "", "", nil, nil, err
	}
	pid = prow.Str("id")
	revisions, _, err := s.getRows(ctx, "projects/"+pid+"/revisions", nil)
	if err != nil {
		return "", "", nil, nil, err
	}
	var matches []*record.Row
	if id.Revision == "" || id.Revision == "latest" {
		if len(revisions) > 0 {
			matches = revisions[:1]
		}
	} else {
		for _, r := range revisions {
			if glob(id.Revision, r.Str("name")) {
				matches = append(matches, r)
			}
		}
	}
	switch len(matches) {
	case 1:
		rrow = matches[0]
		return pid, rrow.Str("name"), prow, rrow, nil
	case 0:
		if quiet {
			return pid, "", prow, nil, nil
		}
		return "", "", nil, nil, &NotFoundError{Kind: "revisions", Ident: id.Revision}
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Str("name")
		}
		if quiet {
			return pid, "", prow, nil, nil
		}
		return "", "", nil, nil, &AmbiguousError{Kind: "revisions", Ident: id.Revision, Matches: names}
	}
}

// Resolve is the exported single-record lookup used by the CLI.
func (s *UserSession) Resolve(ctx context.Context, kind string, text string) (*record.Row, error) {
	id, err := ident.Parse(text, kind == "projects")
	if err != nil {
		return nil, err
	}
	return s.resolve(ctx, kind, id, false)
}
