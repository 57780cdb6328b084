package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cperrin88/yumsync/pkg/model"
)

// Mirror is an upstream repository serving package payloads by location.
type Mirror struct {
	*httptest.Server
	files    map[string]string
	requests atomic.Int32
}

// NewMirror serves pkgs. Each payload is the unit's NEVRA string, so the
// checksums RPM derives match what the mirror sends.
func NewMirror(t *testing.T, pkgs ...model.Package) *Mirror {
	t.Helper()
	m := &Mirror{files: make(map[string]string, len(pkgs))}
	for _, p := range pkgs {
		if p.Location != "" {
			m.files["/"+strings.TrimPrefix(p.Location, "/")] = p.Key.NEVRA().String()
		}
	}

	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.requests.Add(1)
		body, ok := m.files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(m.Close)
	return m
}

// BaseURL is the repository root with a trailing slash.
func (m *Mirror) BaseURL() string {
	return m.URL + "/"
}

// Requests counts the requests served so far.
func (m *Mirror) Requests() int32 {
	return m.requests.Load()
}
