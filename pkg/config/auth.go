package config

import (
	"fmt"

	"github.com/cperrin88/yumsync/pkg/auth"
)

// AuthConfig holds the credentials of a repository. At most one scheme may be set.
type AuthConfig struct {
	BasicAuth  *BasicAuth  `yaml:"basic,omitempty"`
	HeaderAuth *HeaderAuth `yaml:"header,omitempty"`
	BearerAuth *BearerAuth `yaml:"bearer,omitempty"`
}

// BasicAuth holds configuration for HTTP Basic Authentication.
type BasicAuth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// HeaderAuth holds configuration for custom header-based authentication.
type HeaderAuth struct {
	Headers map[string]string `yaml:"headers"`
}

// BearerAuth holds configuration for Bearer token authentication.
type BearerAuth struct {
	Token string `yaml:"token"`
}

func (a *AuthConfig) validate() error {
	if a == nil {
		return nil
	}
	set := 0
	for _, present := range []bool{a.BasicAuth != nil, a.HeaderAuth != nil, a.BearerAuth != nil} {
		if present {
			set++
		}
	}
	if set > 1 {
		return fmt.Errorf("auth must use a single scheme, got %d", set)
	}
	return nil
}

// ToAuthenticator converts the configured scheme. Nil when none is set.
func (a *AuthConfig) ToAuthenticator() auth.Authenticator {
	switch {
	case a == nil:
		return nil
	case a.BasicAuth != nil:
		return auth.BasicAuth{Username: a.BasicAuth.Username, Password: a.BasicAuth.Password}
	case a.HeaderAuth != nil:
		return auth.HeaderAuth{Headers: a.HeaderAuth.Headers}
	case a.BearerAuth != nil:
		return auth.BearerAuth{Token: a.BearerAuth.Token}
	default:
		return nil
	}
}

// Authenticator returns the repository credentials restricted to its base
// URL. Nil when the repository has no credentials or no base URL.
func (rc *RepositoryConfig) Authenticator() auth.Authenticator {
	inner := rc.Auth.ToAuthenticator()
	base := rc.GetBaseURL()
	if inner == nil || base == nil {
		return nil
	}
	return auth.Scoped{Base: base, Inner: inner}
}
