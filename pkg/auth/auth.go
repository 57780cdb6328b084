// Package auth applies mirror credentials to outgoing package requests.
package auth

import (
	"net/http"
	"net/url"
	"strings"
)

// Authenticator decorates a request with credentials.
type Authenticator interface {
	Apply(req *http.Request) error
	Type() Type
}

// Type names an authentication scheme.
type Type string

// Authentication types.
const (
	BasicAuthType  Type = "basic"
	HeaderAuthType Type = "header"
	BearerAuthType Type = "bearer"
)

// BasicAuth sends HTTP Basic credentials.
type BasicAuth struct {
	Username string
	Password string
}

// Apply implements Authenticator.
func (b BasicAuth) Apply(req *http.Request) error {
	req.SetBasicAuth(b.Username, b.Password)
	return nil
}

// Type implements Authenticator.
func (b BasicAuth) Type() Type { return BasicAuthType }

// HeaderAuth sends fixed headers, e.g. an entitlement key.
type HeaderAuth struct {
	Headers map[string]string
}

// Apply implements Authenticator.
func (h HeaderAuth) Apply(req *http.Request) error {
	for k, v := range h.Headers {
		req.Header.Set(k, v)
	}
	return nil
}

// Type implements Authenticator.
func (h HeaderAuth) Type() Type { return HeaderAuthType }

// BearerAuth sends a bearer token.
type BearerAuth struct {
	Token string
}

// Apply implements Authenticator.
func (b BearerAuth) Apply(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+b.Token)
	return nil
}

// Type implements Authenticator.
func (b BearerAuth) Type() Type { return BearerAuthType }

// Scoped applies Inner only to requests for the host and path prefix of
// Base. Package locations may point at other mirrors, which must not see
// the repository's credentials.
type Scoped struct {
	Base  *url.URL
	Inner Authenticator
}

// Apply implements Authenticator.
func (s Scoped) Apply(req *http.Request) error {
	if s.Inner == nil || s.Base == nil || !s.Covers(req.URL) {
		return nil
	}
	return s.Inner.Apply(req)
}

// Type implements Authenticator.
func (s Scoped) Type() Type {
	if s.Inner == nil {
		return ""
	}
	return s.Inner.Type()
}

// Covers reports whether u lies below Base.
func (s Scoped) Covers(u *url.URL) bool {
	if u == nil || !strings.EqualFold(u.Scheme, s.Base.Scheme) || !strings.EqualFold(u.Host, s.Base.Host) {
		return false
	}
	prefix := strings.TrimSuffix(s.Base.Path, "/")
	return u.Path == prefix || strings.HasPrefix(u.Path, prefix+"/")
}
