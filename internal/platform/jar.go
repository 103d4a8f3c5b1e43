package platform

import (
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"sync"
	"time"

	"ae5tools/internal/config"
)

// persistJar wraps the standard cookie jar and additionally records
// every cookie it is handed, with expiries, so the jar can be written
// to and reloaded from the per-(user,host) credential file. The
// standard jar alone does not expose expiry information.
type persistJar struct {
	mu      sync.Mutex
	jar     http.CookieJar
	entries map[string]*http.Cookie
}

type storedCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Domain   string    `json:"domain,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
}

type cookieFile struct {
	Saved   time.Time      `json:"saved"`
	Cookies []storedCookie `json:"cookies"`
}

func newPersistJar() *persistJar {
	jar, _ := cookiejar.New(nil)
	return &persistJar{jar: jar, entries: map[string]*http.Cookie{}}
}

func (j *persistJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	for _, c := range cookies {
		key := c.Name + ";" + c.Domain + ";" + c.Path
		if c.MaxAge < 0 || (!c.Expires.IsZero() && c.Expires.Before(time.Now())) {
			delete(j.entries, key)
			continue
		}
		j.entries[key] = c
	}
	j.mu.Unlock()
	j.jar.SetCookies(u, cookies)
}

func (j *persistJar) Cookies(u *url.URL) []*http.Cookie {
	return j.jar.Cookies(u)
}

// get returns the live value of a named cookie for the base URL.
func (j *persistJar) get(base *url.URL, name string) (string, bool) {
	for _, c := range j.jar.Cookies(base) {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// clear drops every cookie, live and recorded.
func (j *persistJar) clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	jar, _ := cookiejar.New(nil)
	j.jar = jar
	j.entries = map[string]*http.Cookie{}
}

// snapshot returns the recorded live cookies as saved-file entries,
// dropping anything already expired.
func (j *persistJar) snapshot() []storedCookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	var out []storedCookie
	for _, c := range j.entries {
		if !c.Expires.IsZero() && c.Expires.Before(now) {
			continue
		}
		out = append(out, storedCookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		})
	}
	return out
}

// save writes the jar to path with owner-only permissions.
func (j *persistJar) save(path string) error {
	data, err := json.Marshal(cookieFile{Saved: time.Now().UTC(), Cookies: j.snapshot()})
	if err != nil {
		return err
	}
	return config.WriteSecret(path, data)
}

// load reads a saved jar and installs the still-valid cookies against
// base. Expired cookies are dropped here, which is what lets a stale
// file fall through to a full login. Missing files are not an error.
func (j *persistJar) load(path string, base *url.URL) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var f cookieFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil // treat a corrupt jar like an absent one
	}
	now := time.Now()
	var cookies []*http.Cookie
	for _, c := range f.Cookies {
		if !c.Expires.IsZero() && c.Expires.Before(now) {
			continue
		}
		cookies = append(cookies, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	if len(cookies) > 0 {
		j.SetCookies(base, cookies)
	}
	return nil
}
