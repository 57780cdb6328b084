// Package store defines the data-access port the sync core works against:
// a content pool of units plus per-repository associations.
package store

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"time"

	"github.com/cperrin88/yumsync/pkg/model"
	"github.com/cperrin88/yumsync/pkg/rpmver"
)

// Scope selects units of one content type, either those associated with a
// repository or, with an empty Repo, the whole content collection.
type Scope struct {
	Repo        string
	ContentType model.ContentType
}

// Global reports whether the scope spans every repository.
func (s Scope) Global() bool {
	return s.Repo == ""
}

// Association records that a unit is a member of a repository.
type Association struct {
	Repo      string
	Key       model.UnitKey
	UpdatedAt time.Time
}

// Aggregation is the result of probing a store for server-side grouping.
type Aggregation int

const (
	// AggregationUnsupported means duplicate grouping must be done client side.
	AggregationUnsupported Aggregation = iota
	// AggregationSupported means the store implements Aggregator.
	AggregationSupported
)

func (a Aggregation) String() string {
	if a == AggregationSupported {
		return "supported"
	}
	return "unsupported"
}

// Store is the local unit store.
type Store interface {
	// Add inserts units into the content pool. Existing units are left untouched.
	Add(ctx context.Context, pkgs ...model.Package) error
	// Associate makes a pooled unit a member of repo, refreshing the
	// association timestamp when it already is one.
	Associate(ctx context.Context, repo string, key model.UnitKey, at time.Time) error
	// Remove drops the association of the keys with repo. Units stay in the pool.
	Remove(ctx context.Context, repo string, keys ...model.UnitKey) error
	// Exists reports whether the unit is in the pool.
	Exists(ctx context.Context, key model.UnitKey) (bool, error)
	// Lookup returns a pooled unit or ErrUnitNotFound.
	Lookup(ctx context.Context, key model.UnitKey) (model.Package, error)
	// Units streams the full records in scope.
	Units(ctx context.Context, scope Scope) iter.Seq2[model.Package, error]
	// Keys streams only the identities in scope.
	Keys(ctx context.Context, scope Scope) iter.Seq2[model.UnitKey, error]
	// Associations returns the associations of the given keys with repo, or
	// with every repository when repo is empty. Unassociated keys are omitted.
	Associations(ctx context.Context, repo string, keys []model.UnitKey) ([]Association, error)
	// QueryByNames streams rpm units of repo whose name or provides match any
	// of names, ordered by name and then ascending version.
	QueryByNames(ctx context.Context, repo string, names []string) iter.Seq2[model.Package, error]
	// Aggregation probes for server-side duplicate grouping.
	Aggregation(ctx context.Context) Aggregation
	Close() error
}

// Aggregator is implemented by stores that can group duplicate units themselves.
type Aggregator interface {
	// DuplicateGroups streams every set of units in scope sharing a NEVRA key.
	DuplicateGroups(ctx context.Context, scope Scope) iter.Seq2[[]model.UnitKey, error]
}

// SortByVersion orders packages by name, then ascending version, then arch.
func SortByVersion(pkgs []model.Package) {
	slices.SortStableFunc(pkgs, func(a, b model.Package) int {
		return cmp.Or(
			cmp.Compare(a.Key.Name, b.Key.Name),
			rpmver.Compare(a.EVR(), b.EVR()),
			cmp.Compare(a.Key.Arch, b.Key.Arch),
		)
	})
}

// Collect drains a stream into a slice, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}
