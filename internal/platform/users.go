package platform

import (
	"context"
	"net/http"
	"net/url"
	"regexp"

	"github.com/google/uuid"

	"ae5tools/internal/record"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// UserList lists the realm's user accounts.
func (s *AdminSession) UserList(ctx context.Context) (*record.Table, error) {
	rows, _, err := s.getRows(ctx, "users", nil)
	if err != nil {
		return nil, err
	}
	return record.Normalize(rows, userColumns, false)
}

// UserInfo looks a user up by Keycloak id or username.
func (s *AdminSession) UserInfo(ctx context.Context, text string) (*record.Table, error) {
	row, err := s.userRecord(ctx, text)
	if err != nil {
		return nil, err
	}
	return record.Normalize([]*record.Row{row}, userColumns, true)
}

func (s *AdminSession) userRecord(ctx context.Context, text string) (*record.Row, error) {
	var rows []*record.Row
	var err error
	if uuidPattern.MatchString(text) {
		var row *record.Row
		row, err = s.getRow(ctx, "users/"+text, nil)
		if row != nil {
			rows = []*record.Row{row}
		}
	} else {
		rows, _, err = s.getRows(ctx, "users", url.Values{"username": {text}})
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &NotFoundError{Kind: "users", Ident: text}
	}
	return rows[0], nil
}

// Impersonate trades the admin's bearer credential for a full user
// login: the impersonation endpoint plants the user's Keycloak cookies
// on this session's jar, the openid auth redirect completes the
// platform login, and the loaded jar moves wholesale into a new
// UserSession. The admin session continues with a fresh empty jar so
// no user cookie leaks back into admin calls.
func (s *AdminSession) Impersonate(ctx context.Context, text, cookieFile string) (*UserSession, error) {
	row, err := s.userRecord(ctx, text)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*UserSession, error) {
		s.jar.clear()
		return nil, err
	}
	if _, err := s.api(ctx, http.MethodPost, "users/"+row.Str("id")+"/impersonation", apiRequest{}); err != nil {
		return fail(err)
	}
	params := url.Values{
		"client_id":     {"anaconda-platform"},
		"scope":         {"openid"},
		"response_type": {"code"},
		"state":         {uuid.NewString()},
		"redirect_uri":  {s.baseURL + "/login"},
	}
	if _, err := s.api(ctx, http.MethodGet, authPath, apiRequest{params: params, noAuth: true}); err != nil {
		return fail(err)
	}
	stolen := s.jar
	s.jar = newPersistJar()
	s.client = newHTTPClient(s.jar)
	user, err := newUserSessionFromJar(s.hostname, row.Str("username"), s.baseURL, cookieFile, stolen)
	if err != nil {
		return nil, err
	}
	return user, nil
}
