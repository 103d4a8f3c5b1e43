package platform

import (
	"context"
	"net/url"
	"strings"

	"ae5tools/internal/record"
)

// EditorList lists the editors available for project creation.
func (s *UserSession) EditorList(ctx context.Context) (*record.Table, error) {
	rows, _, err := s.getRows(ctx, "editors", nil)
	if err != nil {
		return nil, err
	}
	return record.Normalize(rows, editorColumns, false)
}

// EditorInfo matches a single editor by id or name.
func (s *UserSession) EditorInfo(ctx context.Context, text string) (*record.Table, error) {
	rows, _, err := s.getRows(ctx, "editors", nil)
	if err != nil {
		return nil, err
	}
	row, err := matchOne(rows, "editors", text)
	if err != nil {
		return nil, err
	}
	return record.Normalize([]*record.Row{row}, editorColumns, true)
}

func (s *UserSession) sampleRows(ctx context.Context) ([]*record.Row, error) {
	templates, _, err := s.getRows(ctx, "template_projects", nil)
	if err != nil {
		return nil, err
	}
	samples, _, err := s.getRows(ctx, "sample_projects", nil)
	if err != nil {
		return nil, err
	}
	for _, row := range templates {
		row.Set("is_template", true)
		row.Set("is_default", rowBool(row, "is_default"))
	}
	for _, row := range samples {
		row.Set("is_template", false)
		row.Set("is_default", false)
	}
	return append(templates, samples...), nil
}

// SampleList merges the template and sample project listings into one
// table, flagging which entries are templates.
func (s *UserSession) SampleList(ctx context.Context) (*record.Table, error) {
	rows, err := s.sampleRows(ctx)
	if err != nil {
		return nil, err
	}
	return record.Normalize(rows, sampleColumns, false)
}

// SampleInfo matches a single sample or template project by id or name.
func (s *UserSession) SampleInfo(ctx context.Context, text string) (*record.Table, error) {
	rows, err := s.sampleRows(ctx)
	if err != nil {
		return nil, err
	}
	row, err := matchOne(rows, "samples", text)
	if err != nil {
		return nil, err
	}
	return record.Normalize([]*record.Row{row}, sampleColumns, true)
}

// ResourceProfileList lists the cluster's resource profiles.
func (s *UserSession) ResourceProfileList(ctx context.Context) (*record.Table, error) {
	rows, _, err := s.getRows(ctx, "resource_profiles", nil)
	if err != nil {
		return nil, err
	}
	return record.Normalize(rows, profileColumns, false)
}

// matchOne applies glob matching over id and name, with the usual
// one/zero/many outcomes.
func matchOne(rows []*record.Row, kind, text string) (*record.Row, error) {
	var matches []*record.Row
	for _, row := range rows {
		if glob(text, row.Str("id")) || glob(text, row.Str("name")) {
			matches = append(matches, row)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, &NotFoundError{Kind: kind, Ident: text}
	default:
		var names []string
		for _, row := range matches {
			names = append(names, row.Str("name"))
		}
		return nil, &AmbiguousError{Kind: kind, Ident: text, Matches: names}
	}
}

// CallOptions adjust a raw API call.
type CallOptions struct {
	Params url.Values
	JSON   any

	// Endpoint routes the call to a deployment's static endpoint host
	// instead of the main platform API.
	Endpoint string
}

// Call issues an arbitrary request against the user API and decodes
// whatever comes back, for the escape-hatch CLI command.
func (s *UserSession) Call(ctx context.Context, method, endpoint string, opts CallOptions) (*record.Table, error) {
	if opts.Endpoint != "" {
		base, err := url.Parse(s.baseURL)
		if err != nil {
			return nil, err
		}
		host := opts.Endpoint
		if i := strings.Index(base.Host, "."); i >= 0 {
			host += base.Host[i:]
		}
		endpoint = base.Scheme + "://" + host + "/" + strings.TrimPrefix(endpoint, "/")
	}
	resp, err := s.api(ctx, method, endpoint, apiRequest{params: opts.Params, json: opts.JSON})
	if err != nil {
		return nil, err
	}
	rows, isRecord, err := record.Decode(resp.body)
	if err != nil {
		return nil, err
	}
	return record.Normalize(rows, nil, isRecord)
}
