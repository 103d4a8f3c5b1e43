package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ae5tools/internal/config"
)

const (
	adminPrefix    = "auth/admin/realms/AnacondaPlatform"
	adminTokenPath = "/auth/realms/master/protocol/openid-connect/token"
)

// AdminSession is an administrative identity carried by OAuth bearer
// tokens against the realm-scoped admin API.
type AdminSession struct {
	session
	jar      *persistJar
	sdata    *tokenData
	password string
	prompt   PasswordPrompt
	file     string
}

type tokenData struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// AdminOptions configures construction of an AdminSession.
type AdminOptions struct {
	Password  string
	Prompt    PasswordPrompt
	TokenFile string
	BaseURL   string
}

// NewAdminSession builds a session. When a token file is present its
// refresh token is spent on exactly one refresh call; a failed refresh
// is discarded silently and the first request falls through to a full
// login.
func NewAdminSession(ctx context.Context, hostname, username string, opts AdminOptions) (*AdminSession, error) {
	if hostname == "" || username == "" {
		return nil, errors.New("must supply hostname and username")
	}
	s := &AdminSession{
		jar:      newPersistJar(),
		password: opts.Password,
		prompt:   opts.Prompt,
		file:     opts.TokenFile,
	}
	s.hostname = hostname
	s.username = username
	s.prefix = adminPrefix
	s.baseURL = opts.BaseURL
	if s.baseURL == "" {
		s.baseURL = "https://" + hostname
	}
	s.client = newHTTPClient(s.jar)
	s.ensureAuth = s.ensureAuthenticated
	s.prepare = s.applyHeaders
	s.unauthorized = func(status int, _ http.Header, _ []byte) bool {
		return status == http.StatusUnauthorized
	}
	if s.file != "" {
		if err := s.loadTokens(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *AdminSession) applyHeaders(req *http.Request) {
	if s.sdata != nil && s.sdata.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.sdata.AccessToken)
	}
}

// loadTokens reloads a saved refresh token; any failure just leaves
// the session disconnected.
func (s *AdminSession) loadTokens(ctx context.Context) error {
	data, err := os.ReadFile(s.file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var saved tokenData
	if err := json.Unmarshal(data, &saved); err != nil || saved.RefreshToken == "" {
		return nil
	}
	_ = s.refresh(ctx, saved.RefreshToken)
	return nil
}

func (s *AdminSession) refresh(ctx context.Context, refreshToken string) error {
	form := url.Values{
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
		"client_id":     {"admin-cli"},
	}
	return s.grant(ctx, form)
}

func (s *AdminSession) grant(ctx context.Context, form url.Values) error {
	resp, err := s.api(ctx, http.MethodPost, adminTokenPath, apiRequest{form: form, noAuth: true, passErrors: true})
	if err != nil {
		return err
	}
	var sdata tokenData
	if err := json.Unmarshal(resp.body, &sdata); err != nil {
		return &AuthenticationError{Key: s.key(), Reason: "malformed token response"}
	}
	if sdata.AccessToken == "" {
		reason := sdata.ErrorDescription
		if reason == "" {
			reason = sdata.Error
		}
		if reason == "" {
			reason = "no access token granted"
		}
		return &AuthenticationError{Key: s.key(), Reason: reason}
	}
	s.sdata = &sdata
	s.connected = true
	if s.file != "" {
		return s.saveTokens()
	}
	return nil
}

func (s *AdminSession) saveTokens() error {
	var data []byte
	if s.sdata != nil {
		data, _ = json.Marshal(s.sdata)
	} else {
		data = []byte("{}")
	}
	return config.WriteSecret(s.file, data)
}

// tokenExpired decodes the access token without verifying it; the
// server is authoritative, this only decides when to refresh early.
func tokenExpired(accessToken string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Now().After(exp.Time.Add(-30 * time.Second))
}

func (s *AdminSession) ensureAuthenticated(ctx context.Context) error {
	if s.connected && s.sdata != nil {
		if !tokenExpired(s.sdata.AccessToken) {
			return nil
		}
		if s.sdata.RefreshToken != "" && s.refresh(ctx, s.sdata.RefreshToken) == nil {
			return nil
		}
		s.connected = false
	}
	login := func(password string) error {
		return s.grant(ctx, url.Values{
			"username":   {s.username},
			"password":   {password},
			"grant_type": {"password"},
			"client_id":  {"admin-cli"},
		})
	}
	if s.password != "" {
		err := login(s.password)
		var authErr *AuthenticationError
		if errors.As(err, &authErr) {
			err = login(s.password)
		}
		return err
	}
	if s.prompt == nil {
		return &AuthenticationError{Key: s.key(), Reason: "no password supplied and no prompt available"}
	}
	for {
		password, err := s.prompt(s.key())
		if err != nil {
			return &AuthenticationError{Key: s.key(), Reason: "aborted: " + err.Error()}
		}
		err = login(password)
		if err == nil {
			return nil
		}
		var authErr *AuthenticationError
		if !errors.As(err, &authErr) {
			return err
		}
	}
}

// Authenticate forces a token grant now instead of on first request.
func (s *AdminSession) Authenticate(ctx context.Context) error {
	return s.ensureAuthenticated(ctx)
}

// Disconnect clears local credential state. The admin API offers no
// token revocation, so there is no server-side call to make.
func (s *AdminSession) Disconnect(ctx context.Context) error {
	s.sdata = nil
	s.connected = false
	if s.file != "" {
		return s.saveTokens()
	}
	return nil
}
