package download

import (
	"context"
	"net/url"

	"github.com/cperrin88/yumsync/pkg/auth"
)

// Manager fetches package payloads into a local directory.
type Manager interface {
	// FetchAll downloads all items, returning a map from Item.ID to the
	// absolute local path.
	FetchAll(ctx context.Context, items []Item, opts Options) (map[string]string, error)

	// Fetch downloads a single item and returns its absolute local path.
	Fetch(ctx context.Context, item Item, opts Options) (string, error)
}

// Item represents one remote resource to download.
type Item struct {
	ID  string // unique within a batch
	URL *url.URL
	// Checksum is verified when ChecksumType is sha256 or empty.
	Checksum     string
	ChecksumType string
	Filename     string // relative to Options.Dir; derived when empty
}

// Options control the behavior of the download manager.
type Options struct {
	Dir         string // must be absolute
	Concurrency int    // defaults to half the CPUs, at least 2
	Auth        auth.Authenticator
}
