// Package syncplan decides which upstream units a repository must fetch.
package syncplan

import (
	"context"
	"iter"
	"time"

	"github.com/cperrin88/yumsync/pkg/logger"
	"github.com/cperrin88/yumsync/pkg/model"
	"github.com/cperrin88/yumsync/pkg/rpmver"
	"github.com/cperrin88/yumsync/pkg/store"
)

// DefaultCheckEvery is how many packages are consumed between cancellation checks.
const DefaultCheckEvery = 10000

// Planner selects the wanted units from an upstream enumeration.
type Planner struct {
	// RetainOldCount limits how many versions older than the newest are kept
	// per package. Nil keeps every version.
	RetainOldCount *int
	// CheckEvery overrides DefaultCheckEvery.
	CheckEvery int
}

type sized struct {
	key  model.UnitKey
	size int64
}

func (p *Planner) limit() int {
	if p.RetainOldCount == nil {
		return 0
	}
	return *p.RetainOldCount + 1
}

func (p *Planner) checkEvery() int {
	if p.CheckEvery > 0 {
		return p.CheckEvery
	}
	return DefaultCheckEvery
}

// Wanted makes a single pass over remote and returns every unit worth
// keeping with its size. Package units are grouped by VersionedKey and only
// the newest RetainOldCount+1 versions of each group survive; other content
// is always wanted.
//
// On cancellation the units planned so far are returned with the context error.
func (p *Planner) Wanted(ctx context.Context, remote iter.Seq2[model.Package, error]) (map[model.UnitKey]int64, error) {
	groups := make(map[model.VersionedKey]*rpmver.Window[sized])
	plain := make(map[model.UnitKey]int64)
	limit, every := p.limit(), p.checkEvery()

	n := 0
	for pkg, err := range remote {
		if err != nil {
			return flatten(groups, plain), err
		}
		n++
		if n%every == 0 {
			if err := ctx.Err(); err != nil {
				return flatten(groups, plain), err
			}
		}

		if !pkg.Key.ContentType.IsPackage() {
			plain[pkg.Key] = pkg.Size
			continue
		}

		vk := pkg.Key.VersionedKey()
		w, ok := groups[vk]
		if !ok {
			w = rpmver.NewWindow[sized](limit)
			groups[vk] = w
		}
		entry := sized{key: pkg.Key, size: pkg.Size}
		if evicted, ok := w.Upsert(pkg.EVR(), func(sized, bool) sized { return entry }); ok {
			logger.Debug("Dropping old upstream version", logger.Fields{"unit": evicted.key.String()})
		}
	}

	return flatten(groups, plain), nil
}

func flatten(groups map[model.VersionedKey]*rpmver.Window[sized], plain map[model.UnitKey]int64) map[model.UnitKey]int64 {
	out := make(map[model.UnitKey]int64, len(plain))
	for k, v := range plain {
		out[k] = v
	}
	for _, w := range groups {
		for _, e := range w.All() {
			out[e.key] = e.size
		}
	}
	return out
}

// Reconciliation splits a wanted set against the local store.
type Reconciliation struct {
	// Download lists units absent from the store, with their sizes.
	Download map[model.UnitKey]int64
	// Associate lists units already pooled that only need to join the repository.
	Associate []model.UnitKey
	// Present counts wanted units the repository already has.
	Present int
}

// DownloadBytes sums the sizes of the units to download.
func (r Reconciliation) DownloadBytes() int64 {
	var total int64
	for _, size := range r.Download {
		total += size
	}
	return total
}

// Reconcile removes the units repo already holds (exact identity) from
// wanted, then separates what is pooled elsewhere from what must be fetched.
func Reconcile(ctx context.Context, st store.Store, repo string, wanted map[model.UnitKey]int64) (Reconciliation, error) {
	remaining := make(map[model.UnitKey]int64, len(wanted))
	types := make(map[model.ContentType]struct{})
	for k, v := range wanted {
		remaining[k] = v
		types[k.ContentType] = struct{}{}
	}

	rec := Reconciliation{Download: make(map[model.UnitKey]int64)}
	for ct := range types {
		for key, err := range st.Keys(ctx, store.Scope{Repo: repo, ContentType: ct}) {
			if err != nil {
				return rec, err
			}
			if _, ok := remaining[key]; ok {
				delete(remaining, key)
				rec.Present++
			}
		}
	}

	for key, size := range remaining {
		if err := ctx.Err(); err != nil {
			return rec, err
		}
		pooled, err := st.Exists(ctx, key)
		if err != nil {
			return rec, err
		}
		if pooled {
			rec.Associate = append(rec.Associate, key)
		} else {
			rec.Download[key] = size
		}
	}
	return rec, nil
}

// AssociateAll joins every key to repo with the same timestamp.
func AssociateAll(ctx context.Context, st store.Store, repo string, keys []model.UnitKey, at time.Time) error {
	for _, k := range keys {
		if err := st.Associate(ctx, repo, k, at); err != nil {
			return err
		}
	}
	return nil
}
