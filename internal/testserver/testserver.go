// Package testserver hosts a small in-memory imitation of a cluster:
// the Keycloak login form and token grants, the user API, and the
// realm-scoped admin API. Tests seed its record slices directly.
package testserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// M is one wire record.
type M = map[string]any

// Server is the fake cluster. Exported fields may be seeded before
// serving; the zero value of the record slices means empty listings.
type Server struct {
	Username      string
	Password      string
	AdminUsername string
	AdminPassword string

	mu            sync.Mutex
	router        chi.Router
	seq           int
	xsrf          string
	sessionCookie string
	accessToken   string
	refreshToken  string
	grantCalls    int

	Projects      []M
	Sessions      []M
	Deployments   []M
	Jobs          []M
	Runs          []M
	Users         []M
	Editors       []M
	Templates     []M
	Samples       []M
	Profiles      []M
	Endpoints     []M
	Revisions     map[string][]M
	Activity      map[string][]M
	Collaborators map[string][]M
	Archives      map[string][]byte

	// DeployStates is consumed one state per deployment fetch, so a
	// test can walk starting -> started.
	DeployStates []string
	// RunStates is consumed the same way by run fetches.
	RunStates []string

	// ForceChallenge makes every authenticated request answer with the
	// login form, even when a fresh login just succeeded.
	ForceChallenge bool
}

// New returns a server with one user and one admin configured.
func New() *Server {
	s := &Server{
		Username:      "alice",
		Password:      "secret",
		AdminUsername: "admin",
		AdminPassword: "admin-secret",
		Revisions:     map[string][]M{},
		Activity:      map[string][]M{},
		Collaborators: map[string][]M{},
		Archives:      map[string][]byte{},
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ResetSession invalidates the current login server-side, as an
// expired identity-provider session would.
func (s *Server) ResetSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.xsrf = ""
	s.sessionCookie = ""
}

// GrantCalls reports how many token grants have been issued.
func (s *Server) GrantCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grantCalls
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/auth/realms/AnacondaPlatform/protocol/openid-connect/auth", s.handleAuthPage)
	r.Post("/auth/realms/AnacondaPlatform/login-actions/authenticate", s.handleLogin)
	r.Get("/auth/realms/AnacondaPlatform/protocol/openid-connect/logout", s.handleLogout)
	r.Post("/auth/realms/master/protocol/openid-connect/token", s.handleToken)
	r.Get("/login", func(w http.ResponseWriter, r *http.Request) {})

	r.Route("/api/v2", func(r chi.Router) {
		r.Use(s.requireCookies)
		r.Get("/projects", s.list(&s.Projects))
		r.Get("/sessions", s.list(&s.Sessions))
		r.Get("/deployments", s.list(&s.Deployments))
		r.Get("/jobs", s.list(&s.Jobs))
		r.Get("/runs", s.list(&s.Runs))
		r.Get("/editors", s.list(&s.Editors))
		r.Get("/template_projects", s.list(&s.Templates))
		r.Get("/sample_projects", s.list(&s.Samples))
		r.Get("/resource_profiles", s.list(&s.Profiles))

		r.Get("/projects/{id}", s.one(&s.Projects))
		r.Patch("/projects/{id}", s.patchProject)
		r.Delete("/projects/{id}", s.remove(&s.Projects))
		r.Get("/projects/{id}/sessions", s.children(&s.Sessions))
		r.Get("/projects/{id}/deployments", s.children(&s.Deployments))
		r.Get("/projects/{id}/jobs", s.children(&s.Jobs))
		r.Get("/projects/{id}/runs", s.children(&s.Runs))
		r.Get("/projects/{id}/activity", s.activity)
		r.Get("/projects/{id}/revisions", s.revisions)
		r.Get("/projects/{id}/revisions/{rev}/archive", s.archive)
		r.Get("/projects/{id}/collaborators", s.collaborators("projects"))
		r.Put("/projects/{id}/collaborators", s.putCollaborators("projects"))
		r.Post("/projects/upload", s.upload)
		r.Post("/projects/{id}/sessions", s.startSession)
		r.Post("/projects/{id}/deployments", s.startDeployment)
		r.Post("/projects/{id}/jobs", s.createJob)

		r.Get("/sessions/{id}", s.one(&s.Sessions))
		r.Delete("/sessions/{id}", s.remove(&s.Sessions))
		r.Get("/deployments/{id}", s.oneDeployment)
		r.Delete("/deployments/{id}", s.remove(&s.Deployments))
		r.Get("/deployments/{id}/collaborators", s.collaborators("deployments"))
		r.Put("/deployments/{id}/collaborators", s.putCollaborators("deployments"))
		r.Get("/jobs/{id}", s.one(&s.Jobs))
		r.Delete("/jobs/{id}", s.remove(&s.Jobs))
		r.Get("/jobs/{id}/runs", s.children(&s.Runs))
		r.Get("/runs/{id}", s.oneRun)
		r.Delete("/runs/{id}", s.remove(&s.Runs))
		r.Get("/runs/{id}/log", s.runLog)
		r.Post("/runs/{id}/stop", func(w http.ResponseWriter, r *http.Request) {})
	})

	r.Route("/auth/admin/realms/AnacondaPlatform", func(r chi.Router) {
		r.Use(s.requireBearer)
		r.Get("/users", s.listUsers)
		r.Get("/users/{id}", s.oneUser)
		r.Post("/users/{id}/impersonation", s.impersonate)
	})

	r.Get("/platform/deploy/api/v1/apps/static-endpoints", func(w http.ResponseWriter, r *http.Request) {
		if !s.cookiesValid(r) {
			s.challenge(w)
			return
		}
		writeJSON(w, M{"data": s.Endpoints})
	})

	return r
}

const loginForm = `<html><body>
<form id="kc-form-login" action="/auth/realms/AnacondaPlatform/login-actions/authenticate?session_code=%s" method="post">
<input name="username"/><input name="password"/>
</form></body></html>`

const loginFailed = `<html><body>
<form id="kc-form-login" action="/auth/realms/AnacondaPlatform/login-actions/authenticate?session_code=%s" method="post">
<span class="kc-feedback-text">Invalid username or password.</span>
</form></body></html>`

func (s *Server) handleAuthPage(w http.ResponseWriter, r *http.Request) {
	if s.cookiesValid(r) {
		// Already logged in; browsers get bounced straight back.
		http.Redirect(w, r, r.URL.Query().Get("redirect_uri"), http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, loginForm, uuid.NewString())
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.PostFormValue("username") != s.Username || r.PostFormValue("password") != s.Password {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, loginFailed, uuid.NewString())
		return
	}
	s.issueCookies(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (s *Server) issueCookies(w http.ResponseWriter) {
	s.mu.Lock()
	s.xsrf = uuid.NewString()
	s.sessionCookie = uuid.NewString()
	xsrf, session := s.xsrf, s.sessionCookie
	s.mu.Unlock()
	expires := time.Now().Add(8 * time.Hour)
	http.SetCookie(w, &http.Cookie{Name: "_xsrf", Value: xsrf, Path: "/", Expires: expires})
	http.SetCookie(w, &http.Cookie{Name: "anaconda-session", Value: session, Path: "/", Expires: expires})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.xsrf = ""
	s.sessionCookie = ""
	s.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: "_xsrf", Value: "", Path: "/", MaxAge: -1})
	http.SetCookie(w, &http.Cookie{Name: "anaconda-session", Value: "", Path: "/", MaxAge: -1})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ok := false
	switch r.PostFormValue("grant_type") {
	case "password":
		ok = r.PostFormValue("username") == s.AdminUsername && r.PostFormValue("password") == s.AdminPassword
	case "refresh_token":
		s.mu.Lock()
		ok = s.refreshToken != "" && r.PostFormValue("refresh_token") == s.refreshToken
		s.mu.Unlock()
	}
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, M{"error": "invalid_grant", "error_description": "Invalid user credentials"})
		return
	}
	claims := jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix(), "sub": s.AdminUsername}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("testserver"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.mu.Lock()
	s.accessToken = token
	s.refreshToken = uuid.NewString()
	s.grantCalls++
	refresh := s.refreshToken
	s.mu.Unlock()
	writeJSON(w, M{
		"access_token":       token,
		"refresh_token":      refresh,
		"expires_in":         3600,
		"refresh_expires_in": 28800,
	})
}

func (s *Server) cookiesValid(r *http.Request) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionCookie == "" {
		return false
	}
	c, err := r.Cookie("anaconda-session")
	return err == nil && c.Value == s.sessionCookie
}

// challenge answers an unauthenticated API call the way the platform
// does: with the login page instead of a JSON error.
func (s *Server) challenge(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, loginForm, uuid.NewString())
}

func (s *Server) requireCookies(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		force := s.ForceChallenge
		s.mu.Unlock()
		if force || !s.cookiesValid(r) {
			s.challenge(w)
			return
		}
		s.mu.Lock()
		xsrf := s.xsrf
		s.mu.Unlock()
		if r.Header.Get("x-xsrftoken") != xsrf {
			http.Error(w, "xsrf token mismatch", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		token := s.accessToken
		s.mu.Unlock()
		if token == "" || r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) list(records *[]M) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		out := *records
		if out == nil {
			out = []M{} // the platform sends [] for empty listings, never null
		}
		writeJSON(w, out)
	}
}

func (s *Server) one(records *[]M) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if rec := find(*records, chi.URLParam(r, "id")); rec != nil {
			writeJSON(w, rec)
			return
		}
		http.NotFound(w, r)
	}
}

func (s *Server) remove(records *[]M) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		id := chi.URLParam(r, "id")
		for i, rec := range *records {
			if rec["id"] == id {
				*records = append((*records)[:i], (*records)[i+1:]...)
				return
			}
		}
		http.NotFound(w, r)
	}
}

// children filters a listing on project_id.
func (s *Server) children(records *[]M) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		id := chi.URLParam(r, "id")
		out := []M{}
		for _, rec := range *records {
			if rec["project_id"] == id || rec["job_id"] == id {
				out = append(out, rec)
			}
		}
		writeJSON(w, out)
	}
}

func (s *Server) activity(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.Activity[chi.URLParam(r, "id")]
	size := len(entries)
	if v := r.URL.Query().Get("page[size]"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n < size {
			size = n
		}
	}
	writeJSON(w, M{"data": entries[:size]})
}

func (s *Server) revisions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	revs := s.Revisions[chi.URLParam(r, "id")]
	if revs == nil {
		revs = []M{}
	}
	writeJSON(w, revs)
}

func (s *Server) archive(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := chi.URLParam(r, "id") + "/" + chi.URLParam(r, "rev")
	data, ok := s.Archives[key]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/gzip")
	w.Write(data)
}

func (s *Server) collaborators(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		out := s.Collaborators[kind+"/"+chi.URLParam(r, "id")]
		if out == nil {
			out = []M{}
		}
		writeJSON(w, out)
	}
}

func (s *Server) putCollaborators(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Collaborators []M `json:"collaborators"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, c := range body.Collaborators {
			if c["permission"] == nil {
				body.Collaborators[i]["permission"] = "r"
			}
		}
		s.Collaborators[kind+"/"+chi.URLParam(r, "id")] = body.Collaborators
		writeJSON(w, body.Collaborators)
	}
}

func (s *Server) patchProject(w http.ResponseWriter, r *http.Request) {
	var updates M
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := find(s.Projects, chi.URLParam(r, "id"))
	if rec == nil {
		http.NotFound(w, r)
		return
	}
	for k, v := range updates {
		rec[k] = v
	}
	writeJSON(w, rec)
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("a0-upload%d", s.seq)
	rec := M{
		"id":    id,
		"name":  r.MultipartForm.Value["name"][0],
		"owner": s.Username,
		"url":   "http://testserver/api/v2/projects/" + strings.TrimPrefix(id, "a0-"),
		"action": M{
			"id":    fmt.Sprintf("a5-act%d", s.seq),
			"done":  true,
			"error": false,
		},
	}
	s.Projects = append(s.Projects, rec)
	writeJSON(w, rec)
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	pid := chi.URLParam(r, "id")
	rec := M{
		"id":         fmt.Sprintf("a1-sess%d", s.seq),
		"name":       "session",
		"owner":      s.Username,
		"state":      "initial",
		"project_url": "http://testserver/api/v2/projects/" + strings.TrimPrefix(pid, "a0-"),
		"action": M{
			"id":    fmt.Sprintf("a5-act%d", s.seq),
			"done":  true,
			"error": false,
		},
	}
	s.Sessions = append(s.Sessions, rec)
	writeJSON(w, rec)
}

func (s *Server) startDeployment(w http.ResponseWriter, r *http.Request) {
	var body M
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	rec := M{
		"id":               fmt.Sprintf("a2-dep%d", s.seq),
		"name":             body["name"],
		"owner":            s.Username,
		"command":          body["command"],
		"resource_profile": body["resource_profile"],
		"public":           body["public"],
		"state":            "initial",
		"url":              "http://dep.testserver/",
	}
	s.Deployments = append(s.Deployments, rec)
	writeJSON(w, rec)
}

// oneDeployment pops the next scripted state before answering.
func (s *Server) oneDeployment(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := find(s.Deployments, chi.URLParam(r, "id"))
	if rec == nil {
		http.NotFound(w, r)
		return
	}
	if len(s.DeployStates) > 0 {
		rec["state"] = s.DeployStates[0]
		s.DeployStates = s.DeployStates[1:]
	}
	writeJSON(w, rec)
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var body M
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	pid := chi.URLParam(r, "id")
	jid := fmt.Sprintf("a3-job%d", s.seq)
	rec := M{
		"id":         jid,
		"name":       body["name"],
		"owner":      s.Username,
		"command":    body["command"],
		"schedule":   body["schedule"],
		"project_id": pid,
		"state":      "scheduled",
	}
	s.Jobs = append(s.Jobs, rec)
	if autorun, _ := body["autorun"].(bool); autorun {
		s.seq++
		run := M{
			"id":         fmt.Sprintf("a4-run%d", s.seq),
			"name":       body["name"],
			"owner":      s.Username,
			"job_id":     jid,
			"project_id": pid,
			"state":      "running",
		}
		s.Runs = append(s.Runs, run)
	}
	writeJSON(w, rec)
}

func (s *Server) oneRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := find(s.Runs, chi.URLParam(r, "id"))
	if rec == nil {
		http.NotFound(w, r)
		return
	}
	if len(s.RunStates) > 0 {
		rec["state"] = s.RunStates[0]
		s.RunStates = s.RunStates[1:]
	}
	writeJSON(w, rec)
}

func (s *Server) runLog(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "log for %s\n", chi.URLParam(r, "id"))
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	username := r.URL.Query().Get("username")
	out := []M{}
	for _, u := range s.Users {
		if username == "" || u["username"] == username {
			out = append(out, u)
		}
	}
	writeJSON(w, out)
}

func (s *Server) oneUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec := find(s.Users, chi.URLParam(r, "id")); rec != nil {
		writeJSON(w, rec)
		return
	}
	http.NotFound(w, r)
}

// impersonate plants the target user's login cookies on the caller,
// which is what the real identity provider does across the follow-up
// openid-connect redirect.
func (s *Server) impersonate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rec := find(s.Users, chi.URLParam(r, "id"))
	s.mu.Unlock()
	if rec == nil {
		http.NotFound(w, r)
		return
	}
	s.issueCookies(w)
	writeJSON(w, M{"sameRealm": true})
}

func find(records []M, id string) M {
	for _, rec := range records {
		if rec["id"] == id {
			return rec
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
