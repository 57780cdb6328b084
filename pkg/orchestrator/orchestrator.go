// Package orchestrator runs repository syncs: it plans against the upstream
// feed, fetches and imports what is missing, and then applies the removal
// policies of the repository.
package orchestrator

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"net/url"
	"path"
	"slices"
	"time"

	"github.com/cperrin88/yumsync/pkg/dedup"
	"github.com/cperrin88/yumsync/pkg/download"
	"github.com/cperrin88/yumsync/pkg/errors"
	"github.com/cperrin88/yumsync/pkg/hooks"
	"github.com/cperrin88/yumsync/pkg/logger"
	"github.com/cperrin88/yumsync/pkg/metrics"
	"github.com/cperrin88/yumsync/pkg/model"
	"github.com/cperrin88/yumsync/pkg/purge"
	"github.com/cperrin88/yumsync/pkg/store"
	"github.com/cperrin88/yumsync/pkg/syncplan"
)

// postSyncGrace bounds the post-sync hook of a cancelled sync.
const postSyncGrace = 30 * time.Second

func emit(h Hooks, e Event) {
	if h.OnEvent != nil {
		h.OnEvent(e)
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Sync brings repo in line with its feed.
//
// A cancelled context is not a failure: the report comes back in
// StateCancelled with whatever was done so far and a nil error. Any other
// error leaves the report in StateFailed.
func (o *Orchestrator) Sync(ctx context.Context, repo Repository, opts Options) (Report, error) {
	if o.Store == nil {
		return Report{}, fmt.Errorf("store is not configured")
	}
	if repo.Feed == nil {
		return Report{}, fmt.Errorf("%w: repository %s has no feed", errors.ErrInvalidFeed, repo.Name)
	}

	start := time.Now()
	rep := Report{Repo: repo.Name, DryRun: opts.DryRun, Removed: make(map[string]int)}
	fields := logger.Fields{"repo": repo.Name, "dry_run": opts.DryRun}

	err := o.run(ctx, repo, opts, &rep)
	rep.Duration = time.Since(start)
	switch {
	case err == nil:
		rep.State = StateCompleted
	case ctx.Err() != nil:
		rep.State = StateCancelled
		logger.Warn("Sync cancelled", fields, logger.Fields{"reason": err.Error()})
		err = nil
	default:
		rep.State = StateFailed
	}

	if !opts.DryRun {
		o.Metrics.SyncFinished(repo.Name, string(rep.State), rep.Duration)
	}
	if err != nil {
		emit(o.Hooks, Event{Phase: "error", ID: repo.Name, Msg: err.Error()})
		return rep, err
	}

	hookCtx := ctx
	if rep.State == StateCancelled {
		var cancel context.CancelFunc
		hookCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), postSyncGrace)
		defer cancel()
	}
	if err := o.runScript(hookCtx, hooks.PostSync, hooks.HookContext{
		Repo: repo.Name, DryRun: opts.DryRun, State: string(rep.State), Stats: rep.Stats(),
	}); err != nil {
		emit(o.Hooks, Event{Phase: "error", ID: repo.Name, Msg: err.Error()})
		return rep, err
	}

	emit(o.Hooks, Event{Phase: "done", ID: repo.Name, Msg: string(rep.State)})
	logger.Success("Sync finished", fields, logger.Fields{
		"state":      rep.State,
		"planned":    rep.Planned,
		"downloaded": rep.Downloaded,
		"associated": rep.Associated,
		"took":       rep.Duration.Round(time.Millisecond).String(),
	})
	return rep, nil
}

func (o *Orchestrator) runScript(ctx context.Context, hookType hooks.HookType, hctx hooks.HookContext) error {
	if o.Scripts == nil {
		return nil
	}
	return o.Scripts.Execute(ctx, hookType, hctx)
}

func (o *Orchestrator) run(ctx context.Context, repo Repository, opts Options, rep *Report) error {
	if err := o.runScript(ctx, hooks.PreSync, hooks.HookContext{Repo: repo.Name, DryRun: opts.DryRun}); err != nil {
		return err
	}

	types := repo.Types
	if len(types) == 0 {
		types = model.AllContentTypes
	}
	for _, ct := range types {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := o.syncType(ctx, repo, ct, opts, rep)
		if errors.Is(err, errors.ErrCategoryUnavailable) {
			logger.Debug("Upstream category unavailable", logger.Fields{"repo": repo.Name, "content_type": string(ct)})
			rep.Skipped = append(rep.Skipped, ct)
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "failed to sync %s", ct)
		}
	}

	return o.removeUnwanted(ctx, repo, types, opts, rep)
}

func (o *Orchestrator) syncType(ctx context.Context, repo Repository, ct model.ContentType, opts Options, rep *Report) error {
	emit(o.Hooks, Event{Phase: "planning", ID: repo.Name, Msg: string(ct)})

	planner := &syncplan.Planner{RetainOldCount: repo.RetainOldCount}
	var wanted map[model.UnitKey]int64
	err := repo.Feed.Each(ctx, ct, func(units iter.Seq2[model.Package, error]) error {
		var err error
		wanted, err = planner.Wanted(ctx, units)
		return err
	})
	if err != nil {
		return err
	}

	rec, err := syncplan.Reconcile(ctx, o.Store, repo.Name, wanted)
	if err != nil {
		return err
	}
	rep.Planned += len(wanted)
	rep.Present += rec.Present

	fields := logger.Fields{"repo": repo.Name, "content_type": string(ct)}
	logger.Info("Planned sync", fields, logger.Fields{
		"wanted": len(wanted), "present": rec.Present, "pooled": len(rec.Associate), "missing": len(rec.Download),
	})

	if opts.DryRun {
		if repo.BaseURL != nil && ct.IsPackage() {
			rep.Downloaded += len(rec.Download)
			rep.DownloadBytes += rec.DownloadBytes()
		}
		rep.Associated += len(rec.Associate) + len(rec.Download)
		return nil
	}
	o.Metrics.Planned(repo.Name, ct, len(wanted))

	pkgs, err := collect(ctx, repo.Feed, ct, rec.Download)
	if err != nil {
		return err
	}
	fetched, bytes, err := o.fetch(ctx, repo, opts, pkgs)
	if err != nil {
		return err
	}
	rep.Downloaded += fetched
	rep.DownloadBytes += bytes
	o.Metrics.Downloaded(repo.Name, fetched, bytes)

	emit(o.Hooks, Event{Phase: "importing", ID: repo.Name, Msg: fmt.Sprintf("%d %s units", len(pkgs)+len(rec.Associate), ct)})
	if len(pkgs) > 0 {
		if err := o.Store.Add(ctx, pkgs...); err != nil {
			return errors.Wrap(err, "failed to import units")
		}
	}
	keys := slices.Clone(rec.Associate)
	for _, p := range pkgs {
		keys = append(keys, p.Key)
	}
	slices.SortFunc(keys, compareKeys)
	if err := syncplan.AssociateAll(ctx, o.Store, repo.Name, keys, o.now()); err != nil {
		return errors.Wrap(err, "failed to associate units")
	}
	rep.Associated += len(keys)
	o.Metrics.Associated(repo.Name, len(keys))
	return nil
}

func compareKeys(a, b model.UnitKey) int {
	return cmp.Compare(a.String(), b.String())
}

// collect makes a second pass over the feed for the records of the units
// that have to be imported.
func collect(ctx context.Context, f Feed, ct model.ContentType, want map[model.UnitKey]int64) ([]model.Package, error) {
	if len(want) == 0 {
		return nil, nil
	}
	seen := make(map[model.UnitKey]struct{}, len(want))
	out := make([]model.Package, 0, len(want))
	err := f.Each(ctx, ct, func(units iter.Seq2[model.Package, error]) error {
		for p, err := range units {
			if err != nil {
				return err
			}
			if _, ok := want[p.Key]; !ok {
				continue
			}
			if _, dup := seen[p.Key]; dup {
				continue
			}
			seen[p.Key] = struct{}{}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b model.Package) int { return compareKeys(a.Key, b.Key) })
	return out, nil
}

// PoolPath is where a package payload is stored below the pool directory.
// Payloads with a checksum are content addressed so repositories share them.
func PoolPath(repo string, p model.Package) string {
	base := path.Base(p.Location)
	if sum := p.Key.Checksum; len(sum) > 2 {
		return path.Join(string(p.Key.ContentType), sum[:2], sum, base)
	}
	return path.Join(repo, path.Clean("/"+p.Location)[1:])
}

// fetch downloads the payloads of the package units in pkgs. Units without a
// location, and every unit of a repository without a base URL, are imported
// as metadata only.
func (o *Orchestrator) fetch(ctx context.Context, repo Repository, opts Options, pkgs []model.Package) (int, int64, error) {
	if repo.BaseURL == nil {
		return 0, 0, nil
	}

	var items []download.Item
	var bytes int64
	for _, p := range pkgs {
		if !p.Key.ContentType.IsPackage() || p.Location == "" {
			continue
		}
		loc, err := url.Parse(p.Location)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: location of %s: %w", errors.ErrInvalidFeed, p.Key, err)
		}
		items = append(items, download.Item{
			ID:           p.Key.String(),
			URL:          repo.BaseURL.ResolveReference(loc),
			Checksum:     p.Key.Checksum,
			ChecksumType: p.Key.ChecksumType,
			Filename:     PoolPath(repo.Name, p),
		})
		bytes += p.Size
	}
	if len(items) == 0 {
		return 0, 0, nil
	}
	if o.DL == nil {
		return 0, 0, fmt.Errorf("download manager is not configured")
	}

	emit(o.Hooks, Event{Phase: "downloading", ID: repo.Name, Msg: fmt.Sprintf("%d payloads", len(items))})
	if _, err := o.DL.FetchAll(ctx, items, download.Options{
		Dir:         opts.PoolDir,
		Concurrency: opts.Concurrency,
		Auth:        repo.Auth,
	}); err != nil {
		return 0, 0, err
	}
	return len(items), bytes, nil
}

func packageTypes(types []model.ContentType) []model.ContentType {
	var out []model.ContentType
	for _, ct := range types {
		if ct.IsPackage() {
			out = append(out, ct)
		}
	}
	return out
}

// removeUnwanted applies retention, missing content removal and duplicate
// resolution, in that order.
func (o *Orchestrator) removeUnwanted(ctx context.Context, repo Repository, types []model.ContentType, opts Options, rep *Report) error {
	pkgTypes := packageTypes(types)

	if repo.RetainOldCount != nil && len(pkgTypes) > 0 {
		emit(o.Hooks, Event{Phase: "purging", ID: repo.Name, Msg: metrics.ReasonRetention})
		res, err := (&purge.RetentionPurger{
			Store: o.Store, Repo: repo.Name, Retain: *repo.RetainOldCount, Types: pkgTypes, DryRun: opts.DryRun,
		}).Run(ctx)
		o.recordRemoved(repo.Name, metrics.ReasonRetention, res.Count(), opts, rep)
		if err != nil {
			return err
		}
	}

	if repo.RemoveMissing {
		emit(o.Hooks, Event{Phase: "purging", ID: repo.Name, Msg: metrics.ReasonMissing})
		res, err := (&purge.MissingPurger{
			Store: o.Store, Upstream: repo.Feed, Repo: repo.Name, Types: types, DryRun: opts.DryRun,
		}).Run(ctx)
		o.recordRemoved(repo.Name, metrics.ReasonMissing, res.Count(), opts, rep)
		if err != nil {
			return err
		}
	}

	if opts.DryRun {
		return nil
	}
	dd := dedup.New(o.Store)
	for _, ct := range pkgTypes {
		emit(o.Hooks, Event{Phase: "dedup", ID: repo.Name, Msg: string(ct)})
		res, err := dd.Sweep(ctx, store.Scope{Repo: repo.Name, ContentType: ct})
		o.recordRemoved(repo.Name, metrics.ReasonDuplicate, res.Count(), opts, rep)
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) recordRemoved(repo, reason string, n int, opts Options, rep *Report) {
	if n == 0 {
		return
	}
	rep.Removed[reason] += n
	if !opts.DryRun {
		o.Metrics.Removed(repo, reason, n)
	}
}
