package platform

import (
	"fmt"
	"strings"
)

// AuthenticationError indicates rejected or unobtainable credentials.
type AuthenticationError struct {
	Key    string
	Reason string
}

func (e *AuthenticationError) Error() string {
	if e.Key == "" {
		return "authentication failed: " + e.Reason
	}
	return fmt.Sprintf("authentication failed for %s: %s", e.Key, e.Reason)
}

// UnexpectedResponseError is any >=400 response not otherwise
// classified. It carries enough of the request for diagnosis.
type UnexpectedResponseError struct {
	Status int
	Method string
	URL    string
	Params string
}

func (e *UnexpectedResponseError) Error() string {
	msg := fmt.Sprintf("unexpected response: %d\n  %s %s", e.Status, strings.ToUpper(e.Method), e.URL)
	if e.Params != "" {
		msg += "\n  params: " + e.Params
	}
	return msg
}

// NotFoundError means an identifier matched nothing in the listing.
type NotFoundError struct {
	Kind  string
	Ident string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s found matching %s", e.Kind, e.Ident)
}

// AmbiguousError means an identifier matched more than one record.
type AmbiguousError struct {
	Kind    string
	Ident   string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("multiple %s found matching %s:\n  - %s",
		e.Kind, e.Ident, strings.Join(e.Matches, "\n  - "))
}

// ActionError carries a server-reported asynchronous failure message.
type ActionError struct {
	Op      string
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("error %s: %s", e.Op, e.Message)
}
