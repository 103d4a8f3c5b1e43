package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/html"
)

const (
	userPrefix = "api/v2"
	authPath   = "/auth/realms/AnacondaPlatform/protocol/openid-connect/auth"
	logoutPath = "/auth/realms/AnacondaPlatform/protocol/openid-connect/logout"
	xsrfCookie = "_xsrf"
)

// UserSession is one authenticated end-user identity against one
// host, carried by the platform's cookie + XSRF-token flow.
type UserSession struct {
	session
	jar      *persistJar
	password string
	prompt   PasswordPrompt
	file     string

	// Poll drives the generic activity poller; Deploy drives the
	// deployment start/restart state loop.
	Poll   Poller
	Deploy Poller
}

// UserOptions configures construction of a UserSession.
type UserOptions struct {
	// Password, when non-empty, is used for login with a single retry
	// on rejection. Otherwise Prompt is consulted in a loop.
	Password string
	Prompt   PasswordPrompt
	// CookieFile enables persistence of the cookie jar at this path.
	CookieFile string
	// BaseURL overrides https://<hostname>; tests use this.
	BaseURL string
}

// NewUserSession builds a session. Saved cookies are loaded here, once;
// no network call is made until the first request needs one.
func NewUserSession(hostname, username string, opts UserOptions) (*UserSession, error) {
	if hostname == "" || username == "" {
		return nil, errors.New("must supply hostname and username")
	}
	s := &UserSession{
		jar:      newPersistJar(),
		password: opts.Password,
		prompt:   opts.Prompt,
		file:     opts.CookieFile,
		Poll:     Poller{Interval: 5 * time.Second},
		Deploy:   Poller{Interval: 5 * time.Second},
	}
	s.hostname = hostname
	s.username = username
	s.prefix = userPrefix
	s.baseURL = opts.BaseURL
	if s.baseURL == "" {
		s.baseURL = "https://" + hostname
	}
	s.client = newHTTPClient(s.jar)
	s.ensureAuth = s.ensureAuthenticated
	s.prepare = s.applyHeaders
	s.unauthorized = userUnauthorized
	if s.file != "" {
		if err := s.jar.load(s.file, s.base()); err != nil {
			return nil, err
		}
	}
	_, s.connected = s.jar.get(s.base(), xsrfCookie)
	return s, nil
}

// newUserSessionFromJar hands pre-minted cookies (impersonation) to a
// fresh session in lieu of a password.
func newUserSessionFromJar(hostname, username, baseURL, cookieFile string, jar *persistJar) (*UserSession, error) {
	s, err := NewUserSession(hostname, username, UserOptions{BaseURL: baseURL})
	if err != nil {
		return nil, err
	}
	s.jar = jar
	s.client = newHTTPClient(jar)
	s.file = cookieFile
	_, s.connected = jar.get(s.base(), xsrfCookie)
	if !s.connected {
		return nil, &AuthenticationError{Key: s.key(), Reason: "impersonation produced no session cookie"}
	}
	if s.file != "" {
		if err := s.jar.save(s.file); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *UserSession) base() *url.URL {
	u, _ := url.Parse(s.baseURL)
	return u
}

func (s *UserSession) applyHeaders(req *http.Request) {
	if v, ok := s.jar.get(s.base(), xsrfCookie); ok {
		req.Header.Set("x-xsrftoken", v)
	}
}

// userUnauthorized recognizes both a plain 401 and the HTML login-form
// challenge the cookie flow answers expired sessions with.
func userUnauthorized(status int, header http.Header, body []byte) bool {
	if status == http.StatusUnauthorized {
		return true
	}
	if strings.HasPrefix(header.Get("Content-Type"), "text/html") && bytes.Contains(body, []byte("kc-form-login")) {
		return true
	}
	return false
}

// ensureAuthenticated obtains a valid cookie session. A caller-supplied
// password is retried exactly once on rejection; a prompt loops until
// success or abort.
func (s *UserSession) ensureAuthenticated(ctx context.Context) error {
	if s.connected {
		return nil
	}
	if s.password != "" {
		err := s.login(ctx, s.password)
		var authErr *AuthenticationError
		if errors.As(err, &authErr) {
			err = s.login(ctx, s.password)
		}
		if err != nil {
			return err
		}
	} else {
		if s.prompt == nil {
			return &AuthenticationError{Key: s.key(), Reason: "no password supplied and no prompt available"}
		}
		for {
			password, err := s.prompt(s.key())
			if err != nil {
				return &AuthenticationError{Key: s.key(), Reason: "aborted: " + err.Error()}
			}
			err = s.login(ctx, password)
			if err == nil {
				break
			}
			var authErr *AuthenticationError
			if !errors.As(err, &authErr) {
				return err
			}
		}
	}
	if _, ok := s.jar.get(s.base(), xsrfCookie); !ok {
		return &AuthenticationError{Key: s.key(), Reason: "failed to create session"}
	}
	s.connected = true
	if s.file != "" {
		if err := s.jar.save(s.file); err != nil {
			return err
		}
	}
	return nil
}

// login walks the OpenID browser dance: fetch the login form, post the
// credentials at its action, and scan the reply for the feedback text
// the identity provider renders on rejection.
func (s *UserSession) login(ctx context.Context, password string) error {
	params := url.Values{
		"client_id":     {"anaconda-platform"},
		"scope":         {"openid"},
		"response_type": {"code"},
		"state":         {uuid.NewString()},
		"redirect_uri":  {s.baseURL + "/login"},
	}
	resp, err := s.api(ctx, http.MethodGet, authPath, apiRequest{params: params, noAuth: true})
	if err != nil {
		return err
	}
	action, err := loginFormAction(resp.body)
	if err != nil {
		return &AuthenticationError{Key: s.key(), Reason: err.Error()}
	}
	form := url.Values{"username": {s.username}, "password": {password}}
	resp, err = s.api(ctx, http.MethodPost, action, apiRequest{form: form, noAuth: true, passErrors: true})
	if err != nil {
		return err
	}
	if msg := feedbackText(resp.body); msg != "" {
		return &AuthenticationError{Key: s.key(), Reason: msg}
	}
	return nil
}

// Authenticate forces a login now instead of on first request.
func (s *UserSession) Authenticate(ctx context.Context) error {
	return s.ensureAuthenticated(ctx)
}

// Disconnect logs the cookie session out server-side, then clears and
// persists the local credential state.
func (s *UserSession) Disconnect(ctx context.Context) error {
	if s.connected {
		params := url.Values{"redirect_uri": {s.baseURL + "/login"}}
		_, _ = s.api(ctx, http.MethodGet, logoutPath, apiRequest{params: params, noAuth: true, passErrors: true})
	}
	s.jar.clear()
	s.connected = false
	if s.file != "" {
		return s.jar.save(s.file)
	}
	return nil
}

// loginFormAction extracts the kc-form-login action as a root-relative
// path, preserving its query string.
func loginFormAction(page []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("cannot parse login page: %w", err)
	}
	var action string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "form" && attr(n, "id") == "kc-form-login" {
			action = attr(n, "action")
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if action == "" {
		return "", errors.New("no login form found on auth page")
	}
	u, err := url.Parse(action)
	if err != nil {
		return "", fmt.Errorf("bad login form action: %w", err)
	}
	path := u.Path
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path, nil
}

// feedbackText returns the kc-feedback-text element's text, if any.
func feedbackText(page []byte) string {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return ""
	}
	var msg string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && strings.Contains(attr(n, "class"), "kc-feedback-text") {
			msg = strings.TrimSpace(text(n))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return msg
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func text(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(text(c))
	}
	return b.String()
}
