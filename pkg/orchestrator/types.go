//go:generate mockgen -destination=./mocks/orchestrator.go . Downloader,Feed,HookRunner

package orchestrator

import (
	"context"
	"iter"
	"net/url"
	"time"

	"github.com/cperrin88/yumsync/pkg/auth"
	"github.com/cperrin88/yumsync/pkg/download"
	"github.com/cperrin88/yumsync/pkg/hooks"
	"github.com/cperrin88/yumsync/pkg/metrics"
	"github.com/cperrin88/yumsync/pkg/model"
	"github.com/cperrin88/yumsync/pkg/store"
)

// Downloader handles payload downloading.
type Downloader interface {
	FetchAll(ctx context.Context, items []download.Item, opts download.Options) (map[string]string, error)
}

// Feed is the upstream listing of one repository.
type Feed interface {
	// Each hands fn a single-use enumeration of the units of ct. A category
	// with no upstream source returns an error wrapping errors.ErrCategoryUnavailable.
	Each(ctx context.Context, ct model.ContentType, fn func(iter.Seq2[model.Package, error]) error) error
	Identities(ctx context.Context, ct model.ContentType, project model.Projection) (map[model.UnitKey]struct{}, error)
}

// HookRunner is the subset of the hook manager used by the orchestrator.
type HookRunner interface {
	Execute(ctx context.Context, hookType hooks.HookType, hctx hooks.HookContext) error
}

// Orchestrator ties the feed, planner, downloader, store and purgers together for syncs.
type Orchestrator struct {
	Store   store.Store
	DL      Downloader
	Scripts HookRunner        // optional
	Metrics *metrics.Recorder // optional
	Hooks   Hooks             // Hooks for progress and event notifications

	// Now defaults to time.Now.
	Now func() time.Time
}

// Event represents a simple progress notification.
type Event struct {
	Phase string // planning|downloading|importing|purging|dedup|done|error
	ID    string // repository or unit
	Msg   string
}

// Hooks carries callbacks for progress events.
type Hooks struct {
	OnEvent func(Event)
}

// Repository is one repository to sync.
type Repository struct {
	Name string
	Feed Feed
	// BaseURL resolves the locations of package payloads. Without it
	// packages are imported without fetching their payload.
	BaseURL *url.URL
	Auth    auth.Authenticator
	// RetainOldCount limits the older versions kept per package. Nil keeps all.
	RetainOldCount *int
	RemoveMissing  bool
	// Types defaults to every content type.
	Types []model.ContentType
}

// Options control orchestrator execution.
type Options struct {
	PoolDir     string
	Concurrency int
	DryRun      bool
}

// State is the terminal state of a sync.
type State string

// Sync states.
const (
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Report summarises one repository sync.
type Report struct {
	Repo          string `json:"repo" yaml:"repo"`
	State         State  `json:"state" yaml:"state"`
	DryRun        bool   `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	Planned       int    `json:"planned" yaml:"planned"`
	Present       int    `json:"present" yaml:"present"`
	Downloaded    int    `json:"downloaded" yaml:"downloaded"`
	DownloadBytes int64  `json:"download_bytes" yaml:"download_bytes"`
	Associated    int    `json:"associated" yaml:"associated"`
	// Removed counts unassociated units by reason (see the metrics package).
	Removed map[string]int `json:"removed,omitempty" yaml:"removed,omitempty"`
	// Skipped lists content types upstream has no source for.
	Skipped  []model.ContentType `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Duration time.Duration       `json:"duration" yaml:"duration"`
}

// Stats flattens the counters for hook scripts.
func (r Report) Stats() map[string]int64 {
	stats := map[string]int64{
		"planned":        int64(r.Planned),
		"present":        int64(r.Present),
		"downloaded":     int64(r.Downloaded),
		"download_bytes": r.DownloadBytes,
		"associated":     int64(r.Associated),
	}
	for reason, n := range r.Removed {
		stats["removed_"+reason] = int64(n)
	}
	return stats
}
