package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config locates the credential store and any default connection
// settings. The store directory holds config.yml (or config.json), a
// cookies/ dir with one jar file per user@host, and a tokens/ dir with
// one JSON token file per admin@host.
type Config struct {
	Path     string
	Defaults Defaults
}

// Defaults are optional connection defaults from the config file.
type Defaults struct {
	Hostname string `yaml:"hostname" json:"hostname"`
	Username string `yaml:"username" json:"username"`
}

// Account is one saved credential file.
type Account struct {
	Hostname string
	Username string
	Admin    bool
	LastUsed time.Time
	Expires  time.Time
	Expired  bool
}

// Load reads the config directory named by AE5_TOOLS_CONFIG_DIR,
// defaulting to ~/.ae5. The directory need not exist yet.
func Load() (*Config, error) {
	path := os.Getenv("AE5_TOOLS_CONFIG_DIR")
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".ae5")
	}
	cfg := &Config{Path: path}
	for _, name := range []string{"config.yml", "config.json"} {
		data, err := os.ReadFile(filepath.Join(path, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		if strings.HasSuffix(name, ".json") {
			err = json.Unmarshal(data, &cfg.Defaults)
		} else {
			err = yaml.Unmarshal(data, &cfg.Defaults)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", name, err)
		}
		break
	}
	return cfg, nil
}

// CookieFile returns the cookie jar path for a user session.
func (c *Config) CookieFile(username, hostname string) string {
	return filepath.Join(c.Path, "cookies", username+"@"+hostname)
}

// TokenFile returns the token path for an admin session.
func (c *Config) TokenFile(username, hostname string) string {
	return filepath.Join(c.Path, "tokens", username+"@"+hostname)
}

// WriteSecret writes a credential file with owner-only permissions,
// creating the parent directory as needed.
func WriteSecret(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// Accounts lists every saved credential, most recently used first.
func (c *Config) Accounts() ([]Account, error) {
	var out []Account
	for _, label := range []string{"cookies", "tokens"} {
		dir := filepath.Join(c.Path, label)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			name := e.Name()
			if strings.HasPrefix(name, ".") || strings.Count(name, "@") != 1 {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			k := strings.LastIndex(name, "@")
			acct := Account{
				Hostname: name[k+1:],
				Username: name[:k],
				Admin:    label == "tokens",
				LastUsed: info.ModTime(),
			}
			acct.Expires, acct.Expired = credentialExpiry(filepath.Join(dir, name), acct.Admin, info.ModTime())
			out = append(out, acct)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsed.After(out[j].LastUsed) })
	return out, nil
}

// Resolve picks the (hostname, username) pair to use. Explicit values
// win; otherwise the most recently used saved credential of the right
// kind that matches any partial value.
func (c *Config) Resolve(hostname, username string, admin bool) (string, string, error) {
	if hostname == "" {
		hostname = c.Defaults.Hostname
	}
	if username == "" {
		username = c.Defaults.Username
	}
	if hostname != "" && username != "" {
		return hostname, username, nil
	}
	accounts, err := c.Accounts()
	if err != nil {
		return "", "", err
	}
	for _, a := range accounts {
		if a.Admin != admin {
			continue
		}
		if (hostname == "" || hostname == a.Hostname) && (username == "" || username == a.Username) {
			return a.Hostname, a.Username, nil
		}
	}
	return "", "", fmt.Errorf("no saved session matches; supply --hostname and --username")
}

// credentialExpiry inspects a saved credential file. Cookie jars carry
// per-cookie expiries; token files carry refresh_expires_in relative to
// the file mtime.
func credentialExpiry(path string, admin bool, mtime time.Time) (time.Time, bool) {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return time.Time{}, true
	}
	if admin {
		var sdata struct {
			RefreshExpiresIn int64 `json:"refresh_expires_in"`
		}
		if json.Unmarshal(data, &sdata) != nil || sdata.RefreshExpiresIn == 0 {
			return time.Time{}, false
		}
		exp := mtime.Add(time.Duration(sdata.RefreshExpiresIn) * time.Second)
		return exp, exp.Before(time.Now())
	}
	var jar struct {
		Cookies []struct {
			Expires time.Time `json:"expires"`
		} `json:"cookies"`
	}
	if json.Unmarshal(data, &jar) != nil || len(jar.Cookies) == 0 {
		return time.Time{}, true
	}
	min := time.Time{}
	expired := false
	for _, c := range jar.Cookies {
		if c.Expires.IsZero() {
			continue
		}
		if min.IsZero() || c.Expires.Before(min) {
			min = c.Expires
		}
		if c.Expires.Before(time.Now()) {
			expired = true
		}
	}
	return min, expired
}
