package platform

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ae5tools/internal/record"
)

// PasswordPrompt supplies a password for a "username@hostname" key.
// Returning an error aborts the login loop.
type PasswordPrompt func(key string) (string, error)

// session is the transport core shared by the user and admin flavors.
// The owner wires the three hooks at construction.
type session struct {
	hostname string
	username string
	prefix   string
	baseURL  string
	client   *http.Client

	connected bool

	ensureAuth   func(ctx context.Context) error
	prepare      func(*http.Request)
	unauthorized func(status int, header http.Header, body []byte) bool
}

type upload struct {
	field    string
	filename string
	content  []byte
}

// apiRequest carries the per-call options of the transport layer.
type apiRequest struct {
	params     url.Values
	json       any
	form       url.Values
	file       *upload
	fileFields url.Values
	passErrors bool
	// noAuth skips the ensure-authenticated/retry machinery; used by
	// the auth flows themselves.
	noAuth bool
}

type apiResponse struct {
	status int
	header http.Header
	body   []byte
}

func newHTTPClient(jar http.CookieJar) *http.Client {
	// The platform typically fronts itself with a self-signed cert.
	return &http.Client{
		Timeout: 120 * time.Second,
		Jar:     jar,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
}

// Hostname returns the cluster FQDN.
func (s *session) Hostname() string { return s.hostname }

// Username returns the authenticated identity.
func (s *session) Username() string { return s.username }

// Connected reports whether a valid auth artifact is held.
func (s *session) Connected() bool { return s.connected }

func (s *session) key() string { return s.username + "@" + s.hostname }

// endpointURL resolves an endpoint: absolute URLs pass through,
// a leading slash is rooted at the host, anything else goes under the
// session prefix.
func (s *session) endpointURL(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://"):
		return endpoint
	case strings.HasPrefix(endpoint, "/"):
		return s.baseURL + endpoint
	case endpoint == "":
		return s.baseURL + "/" + s.prefix
	default:
		return s.baseURL + "/" + s.prefix + "/" + endpoint
	}
}

// api issues one call, transparently re-authenticating and retrying
// exactly once when the session is unauthenticated or challenged.
func (s *session) api(ctx context.Context, method, endpoint string, req apiRequest) (*apiResponse, error) {
	if !req.noAuth && !s.connected && s.ensureAuth != nil {
		if err := s.ensureAuth(ctx); err != nil {
			return nil, err
		}
	}
	resp, err := s.do(ctx, method, endpoint, req)
	if err != nil {
		return nil, err
	}
	if !req.noAuth && s.unauthorized != nil && s.unauthorized(resp.status, resp.header, resp.body) {
		s.connected = false
		if err := s.ensureAuth(ctx); err != nil {
			return nil, err
		}
		if resp, err = s.do(ctx, method, endpoint, req); err != nil {
			return nil, err
		}
		if s.unauthorized(resp.status, resp.header, resp.body) {
			// A second challenge right after re-authenticating means the
			// credentials no longer work, not a transient logout.
			s.connected = false
			return nil, &AuthenticationError{Key: s.key(), Reason: "still unauthorized after re-authentication"}
		}
	}
	if resp.status >= 400 && !req.passErrors {
		return nil, &UnexpectedResponseError{
			Status: resp.status,
			Method: method,
			URL:    s.endpointURL(endpoint),
			Params: req.params.Encode(),
		}
	}
	return resp, nil
}

func (s *session) do(ctx context.Context, method, endpoint string, req apiRequest) (*apiResponse, error) {
	u := s.endpointURL(endpoint)
	if len(req.params) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + req.params.Encode()
	}
	var body io.Reader
	contentType := ""
	switch {
	case req.file != nil:
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		for k, vs := range req.fileFields {
			for _, v := range vs {
				if err := mw.WriteField(k, v); err != nil {
					return nil, err
				}
			}
		}
		fw, err := mw.CreateFormFile(req.file.field, req.file.filename)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(req.file.content); err != nil {
			return nil, err
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
		body, contentType = &buf, mw.FormDataContentType()
	case req.form != nil:
		body, contentType = strings.NewReader(req.form.Encode()), "application/x-www-form-urlencoded"
	case req.json != nil:
		data, err := json.Marshal(req.json)
		if err != nil {
			return nil, err
		}
		body, contentType = bytes.NewReader(data), "application/json"
	}
	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), u, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if s.prepare != nil {
		s.prepare(httpReq)
	}
	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()
	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	return &apiResponse{status: httpResp.StatusCode, header: httpResp.Header, body: data}, nil
}

// getRows fetches endpoint and decodes the payload into rows.
func (s *session) getRows(ctx context.Context, endpoint string, params url.Values) ([]*record.Row, bool, error) {
	resp, err := s.api(ctx, http.MethodGet, endpoint, apiRequest{params: params})
	if err != nil {
		return nil, false, err
	}
	return record.Decode(resp.body)
}

// getRow fetches endpoint expecting a single record.
func (s *session) getRow(ctx context.Context, endpoint string, params url.Values) (*record.Row, error) {
	rows, isRecord, err := s.getRows(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}
	if !isRecord || len(rows) != 1 {
		return nil, &record.ShapeError{Detail: "expected a single record from " + endpoint}
	}
	return rows[0], nil
}

// getText fetches endpoint as plain text.
func (s *session) getText(ctx context.Context, endpoint string, params url.Values) (string, error) {
	resp, err := s.api(ctx, http.MethodGet, endpoint, apiRequest{params: params})
	if err != nil {
		return "", err
	}
	return string(resp.body), nil
}

// getBlob fetches endpoint as raw bytes.
func (s *session) getBlob(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	resp, err := s.api(ctx, http.MethodGet, endpoint, apiRequest{params: params})
	if err != nil {
		return nil, err
	}
	return resp.body, nil
}

// deleteCall issues a fire-and-forget DELETE.
func (s *session) deleteCall(ctx context.Context, endpoint string) error {
	_, err := s.api(ctx, http.MethodDelete, endpoint, apiRequest{})
	return err
}
