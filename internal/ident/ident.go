package ident

import (
	"fmt"
	"regexp"
	"strings"
)

// Identifier is the parsed form of a user-supplied reference string,
// following the [[owner/]name[:revision]][/id] grammar. Fields may hold
// glob patterns; empty fields match anything during resolution.
type Identifier struct {
	Owner    string
	Name     string
	ID       string
	PID      string
	Revision string
}

// MalformedIdentifierError indicates a reference string that does not
// decompose into the platform's identifier grammar.
type MalformedIdentifierError struct {
	Text   string
	Reason string
}

func (e MalformedIdentifierError) Error() string {
	return fmt.Sprintf("invalid identifier %q: %s", e.Text, e.Reason)
}

// Platform id prefixes. These are a wire contract; the prefix alone
// classifies an opaque id without a network call.
var idTypes = map[string]string{
	"a0": "projects",
	"a1": "sessions",
	"a2": "deployments",
	"a3": "jobs",
	"a4": "runs",
}

var idPattern = regexp.MustCompile(`^a[0-9]-[0-9a-z*?\[\]-]+$`)

// IsID reports whether the token has the shape of an opaque platform id
// (possibly containing glob metacharacters in its suffix).
func IsID(token string) bool {
	return idPattern.MatchString(token)
}

// Classify returns the entity kind encoded in an id's prefix, or ""
// when the prefix is unknown.
func Classify(id string) string {
	if len(id) < 3 || id[2] != '-' {
		return ""
	}
	return idTypes[id[:2]]
}

// Parse decomposes text into an Identifier. Revisions (the ":rev"
// suffix on the name segment) are only accepted when allowRevision is
// true; entity kinds other than projects have no revisions.
func Parse(text string, allowRevision bool) (Identifier, error) {
	if strings.TrimSpace(text) == "" {
		return Identifier{}, MalformedIdentifierError{text, "empty string"}
	}
	parts := strings.Split(text, "/")
	var id, pid string
	if n := len(parts); n > 0 && IsID(parts[n-1]) {
		id = parts[n-1]
		parts = parts[:n-1]
		if n := len(parts); n > 0 && IsID(parts[n-1]) {
			if Classify(parts[n-1]) != "projects" {
				return Identifier{}, MalformedIdentifierError{text, "parent id must be a project id"}
			}
			pid = parts[n-1]
			parts = parts[:n-1]
		}
	}
	var owner, name string
	switch len(parts) {
	case 0:
	case 1:
		name = parts[0]
	case 2:
		owner, name = parts[0], parts[1]
	default:
		return Identifier{}, MalformedIdentifierError{text, "too many path segments"}
	}
	if strings.Contains(owner, ":") {
		return Identifier{}, MalformedIdentifierError{text, "owner may not contain a revision"}
	}
	var revision string
	if k := strings.IndexByte(name, ':'); k >= 0 {
		if !allowRevision {
			return Identifier{}, MalformedIdentifierError{text, "a revision is not allowed here"}
		}
		name, revision = name[:k], name[k+1:]
		if revision == "" || strings.Contains(revision, ":") {
			return Identifier{}, MalformedIdentifierError{text, "malformed revision"}
		}
	}
	if owner == "" && name == "" && id == "" && pid == "" {
		return Identifier{}, MalformedIdentifierError{text, "no owner/name or id"}
	}
	return Identifier{Owner: owner, Name: name, ID: id, PID: pid, Revision: revision}, nil
}

// ParseNoRevision is Parse with revisions rejected.
func ParseNoRevision(text string) (Identifier, error) {
	return Parse(text, false)
}

// FromRecord builds an identifier from a resolved record's own fields.
// The result round-trips: parsing and re-resolving it yields the same
// record.
func FromRecord(owner, name, id string) Identifier {
	return Identifier{Owner: owner, Name: name, ID: id}
}

// String renders the canonical owner/name:revision/id form, omitting
// empty fields.
func (i Identifier) String() string {
	var b strings.Builder
	if i.Owner != "" || i.Name != "" {
		if i.Owner != "" {
			b.WriteString(i.Owner)
			b.WriteByte('/')
		}
		b.WriteString(i.Name)
		if i.Revision != "" {
			b.WriteByte(':')
			b.WriteString(i.Revision)
		}
	}
	if i.PID != "" {
		if b.Len() > 0 {
			b.WriteByte('/')
		}
		b.WriteString(i.PID)
	}
	if i.ID != "" {
		if b.Len() > 0 {
			b.WriteByte('/')
		}
		b.WriteString(i.ID)
	}
	return b.String()
}

// Empty reports whether no field is set.
func (i Identifier) Empty() bool {
	return i == Identifier{}
}
