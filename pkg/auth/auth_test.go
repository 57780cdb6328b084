package auth_test

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cperrin88/yumsync/pkg/auth"
)

func newRequest(t *testing.T, rawURL string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, http.NoBody)
	require.NoError(t, err)
	return req
}

func TestSchemes(t *testing.T) {
	tests := []struct {
		name   string
		auth   auth.Authenticator
		header string
		want   string
		typ    auth.Type
	}{
		{"basic", auth.BasicAuth{Username: "user", Password: "pass"}, "Authorization", "Basic dXNlcjpwYXNz", auth.BasicAuthType},
		{"bearer", auth.BearerAuth{Token: "t0k"}, "Authorization", "Bearer t0k", auth.BearerAuthType},
		{"header", auth.HeaderAuth{Headers: map[string]string{"X-Entitlement": "abc"}}, "X-Entitlement", "abc", auth.HeaderAuthType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newRequest(t, "https://mirror.example/fedora/repodata/repomd.xml")
			require.NoError(t, tt.auth.Apply(req))
			assert.Equal(t, tt.want, req.Header.Get(tt.header))
			assert.Equal(t, tt.typ, tt.auth.Type())
		})
	}
}

func TestScopedOnlyCoversBase(t *testing.T) {
	base, err := url.Parse("https://mirror.example/fedora/")
	require.NoError(t, err)
	scoped := auth.Scoped{Base: base, Inner: auth.BearerAuth{Token: "secret"}}
	assert.Equal(t, auth.BearerAuthType, scoped.Type())

	tests := []struct {
		url  string
		want bool
	}{
		{"https://mirror.example/fedora/Packages/f/firefox.rpm", true},
		{"https://mirror.example/fedora", true},
		{"https://MIRROR.example/fedora/x.rpm", true},
		{"https://mirror.example/fedora-updates/x.rpm", false},
		{"http://mirror.example/fedora/x.rpm", false},
		{"https://other.example/fedora/x.rpm", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			req := newRequest(t, tt.url)
			require.NoError(t, scoped.Apply(req))
			assert.Equal(t, tt.want, req.Header.Get("Authorization") != "")
		})
	}
}

func TestScopedWithoutInner(t *testing.T) {
	base, _ := url.Parse("https://mirror.example/")
	scoped := auth.Scoped{Base: base}
	req := newRequest(t, "https://mirror.example/a.rpm")
	require.NoError(t, scoped.Apply(req))
	assert.Empty(t, req.Header.Get("Authorization"))
	assert.Equal(t, auth.Type(""), scoped.Type())
}
