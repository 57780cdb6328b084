package purge

import (
	"cmp"
	"context"
	"maps"
	"slices"

	"github.com/cperrin88/yumsync/pkg/errors"
	"github.com/cperrin88/yumsync/pkg/logger"
	"github.com/cperrin88/yumsync/pkg/model"
	"github.com/cperrin88/yumsync/pkg/store"
)

// Upstream enumerates the identities upstream currently offers for a content
// type, projected for comparison. A category with no upstream source returns
// an error wrapping errors.ErrCategoryUnavailable.
type Upstream interface {
	Identities(ctx context.Context, ct model.ContentType, project model.Projection) (map[model.UnitKey]struct{}, error)
}

// Result describes the units a purge pass removed.
type Result struct {
	Removed map[model.ContentType][]model.UnitKey
	// Skipped lists categories whose upstream source was unavailable.
	Skipped []model.ContentType
}

// Count returns the number of removed units.
func (r Result) Count() int {
	n := 0
	for _, keys := range r.Removed {
		n += len(keys)
	}
	return n
}

func newResult() Result {
	return Result{Removed: make(map[model.ContentType][]model.UnitKey)}
}

func sortedKeys(set map[model.UnitKey]struct{}) []model.UnitKey {
	return slices.SortedFunc(maps.Keys(set), func(a, b model.UnitKey) int {
		return cmp.Compare(a.String(), b.String())
	})
}

// MissingPurger removes units of a repository that upstream no longer lists.
type MissingPurger struct {
	Store    store.Store
	Upstream Upstream
	Repo     string
	// Types defaults to every content type.
	Types []model.ContentType
	// DryRun computes the removals without applying them.
	DryRun bool
}

// Run processes each content type in turn, checking for cancellation
// between types. Categories without an upstream source are skipped.
func (m *MissingPurger) Run(ctx context.Context) (Result, error) {
	res := newResult()
	types := m.Types
	if len(types) == 0 {
		types = model.AllContentTypes
	}

	for _, ct := range types {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		fields := logger.Fields{"repo": m.Repo, "content_type": string(ct)}
		project := model.ProjectionFor(ct)
		remote, err := m.Upstream.Identities(ctx, ct, project)
		if errors.Is(err, errors.ErrCategoryUnavailable) {
			logger.Debug("Upstream category unavailable, skipping missing content purge", fields)
			res.Skipped = append(res.Skipped, ct)
			continue
		}
		if err != nil {
			return res, errors.Wrapf(err, "failed to enumerate upstream %s", ct)
		}

		missing, err := Missing(m.Store.Keys(ctx, store.Scope{Repo: m.Repo, ContentType: ct}), remote, project)
		if err != nil {
			return res, err
		}
		if len(missing) == 0 {
			continue
		}

		keys := sortedKeys(missing)
		if !m.DryRun {
			if err := m.Store.Remove(ctx, m.Repo, keys...); err != nil {
				return res, errors.Wrapf(err, "failed to remove missing %s units", ct)
			}
		}
		res.Removed[ct] = keys
		logger.Info("Removed content no longer upstream", fields, logger.Fields{"count": len(keys)})
	}
	return res, nil
}

// RetentionPurger drops package versions beyond the retention count.
type RetentionPurger struct {
	Store  store.Store
	Repo   string
	Retain int
	// Types defaults to the package content types.
	Types  []model.ContentType
	DryRun bool
}

// Run applies OldVersions to each content type of the repository.
func (r *RetentionPurger) Run(ctx context.Context) (Result, error) {
	res := newResult()
	types := r.Types
	if len(types) == 0 {
		types = model.PackageContentTypes
	}

	for _, ct := range types {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		old, err := OldVersions(ctx, r.Store.Keys(ctx, store.Scope{Repo: r.Repo, ContentType: ct}), r.Retain)
		if err != nil {
			return res, err
		}
		if len(old) == 0 {
			continue
		}

		keys := sortedKeys(old)
		if !r.DryRun {
			if err := r.Store.Remove(ctx, r.Repo, keys...); err != nil {
				return res, errors.Wrapf(err, "failed to remove old %s versions", ct)
			}
		}
		res.Removed[ct] = keys
		logger.Info("Removed old versions", logger.Fields{"repo": r.Repo, "content_type": string(ct), "count": len(keys)})
	}
	return res, nil
}
