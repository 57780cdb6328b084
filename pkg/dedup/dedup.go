// Package dedup finds and resolves units that share a NEVRA but differ by checksum.
package dedup

import (
	"cmp"
	"context"
	"hash/fnv"
	"iter"
	"maps"
	"slices"
	"sync"

	"github.com/cperrin88/yumsync/pkg/errors"
	"github.com/cperrin88/yumsync/pkg/logger"
	"github.com/cperrin88/yumsync/pkg/model"
	"github.com/cperrin88/yumsync/pkg/store"
)

// DefaultPartitions is the number of passes the streaming fallback makes.
const DefaultPartitions = 16

// Deduplicator groups duplicate units of a store. The grouping strategy is
// chosen once, on first use, from the store's aggregation capability.
type Deduplicator struct {
	store      store.Store
	partitions int

	once sync.Once
	mode store.Aggregation
}

// Option configures a Deduplicator.
type Option func(*Deduplicator)

// WithPartitions sets how many hash partitions the streaming fallback uses.
// More partitions lower peak memory at the cost of more passes over the store.
func WithPartitions(n int) Option {
	return func(d *Deduplicator) {
		if n > 0 {
			d.partitions = n
		}
	}
}

// New returns a Deduplicator over st.
func New(st store.Store, opts ...Option) *Deduplicator {
	d := &Deduplicator{store: st, partitions: DefaultPartitions}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Mode probes the store on first call and returns the chosen strategy.
func (d *Deduplicator) Mode(ctx context.Context) store.Aggregation {
	d.once.Do(func() {
		d.mode = d.store.Aggregation(ctx)
		if d.mode == store.AggregationSupported {
			if _, ok := d.store.(store.Aggregator); !ok {
				d.mode = store.AggregationUnsupported
			}
		}
		if d.mode == store.AggregationUnsupported {
			logger.Warn("Store has no server-side aggregation, using streaming duplicate search",
				logger.Fields{"partitions": d.partitions})
		}
	})
	return d.mode
}

// FindDuplicates streams every group of two or more units in scope that
// share a NEVRA key.
func (d *Deduplicator) FindDuplicates(ctx context.Context, scope store.Scope) iter.Seq2[[]model.UnitKey, error] {
	if d.Mode(ctx) == store.AggregationSupported {
		return d.store.(store.Aggregator).DuplicateGroups(ctx, scope)
	}
	return d.streamGroups(ctx, scope)
}

func partitionOf(k model.UnitKey, partitions int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.String()))
	return int(h.Sum32() % uint32(partitions))
}

// streamGroups makes one pass over the scope per partition, holding only the
// keys hashing into the current partition.
func (d *Deduplicator) streamGroups(ctx context.Context, scope store.Scope) iter.Seq2[[]model.UnitKey, error] {
	return func(yield func([]model.UnitKey, error) bool) {
		for part := range d.partitions {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			groups := make(map[model.UnitKey][]model.UnitKey)
			for key, err := range d.store.Keys(ctx, scope) {
				if err != nil {
					yield(nil, err)
					return
				}
				nevra := key.NEVRA()
				if partitionOf(nevra, d.partitions) != part {
					continue
				}
				groups[nevra] = append(groups[nevra], key)
			}

			order := slices.SortedFunc(maps.Keys(groups), func(a, b model.UnitKey) int {
				return cmp.Compare(a.String(), b.String())
			})
			for _, nevra := range order {
				if members := groups[nevra]; len(members) > 1 {
					if !yield(members, nil) {
						return
					}
				}
			}
		}
	}
}

// Resolve keeps the most recently associated member of group in repo and
// removes the others from it. Units stay in the pool for other repositories.
func (d *Deduplicator) Resolve(ctx context.Context, repo string, group []model.UnitKey) (model.UnitKey, []model.UnitKey, error) {
	assocs, err := d.store.Associations(ctx, repo, group)
	if err != nil {
		return model.UnitKey{}, nil, errors.Wrapf(err, "failed to load associations of %s", repo)
	}
	if len(assocs) == 0 {
		return model.UnitKey{}, nil, nil
	}

	slices.SortFunc(assocs, func(a, b store.Association) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Key.String(), b.Key.String())
	})

	keep := assocs[0].Key
	removed := make([]model.UnitKey, 0, len(assocs)-1)
	for _, a := range assocs[1:] {
		removed = append(removed, a.Key)
	}
	if len(removed) > 0 {
		if err := d.store.Remove(ctx, repo, removed...); err != nil {
			return keep, nil, errors.Wrapf(err, "failed to remove duplicates from %s", repo)
		}
	}
	return keep, removed, nil
}

// Result summarises a sweep.
type Result struct {
	Groups  int
	Removed map[string][]model.UnitKey
}

// Count returns the number of removed associations.
func (r Result) Count() int {
	n := 0
	for _, keys := range r.Removed {
		n += len(keys)
	}
	return n
}

// Sweep resolves every duplicate group in scope. For a global scope each
// repository holding more than one member of a group is resolved on its own.
// Groups are collected before any removal so the search is not disturbed.
func (d *Deduplicator) Sweep(ctx context.Context, scope store.Scope) (Result, error) {
	res := Result{Removed: make(map[string][]model.UnitKey)}

	groups, err := store.Collect(d.FindDuplicates(ctx, scope))
	if err != nil {
		return res, err
	}
	res.Groups = len(groups)

	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		repos := []string{scope.Repo}
		if scope.Global() {
			repos, err = d.reposHolding(ctx, group)
			if err != nil {
				return res, err
			}
		}

		for _, repo := range repos {
			keep, removed, err := d.Resolve(ctx, repo, group)
			if err != nil {
				return res, err
			}
			if len(removed) == 0 {
				continue
			}
			res.Removed[repo] = append(res.Removed[repo], removed...)
			logger.Debug("Resolved duplicate units", logger.Fields{
				"repo": repo, "kept": keep.String(), "removed": len(removed),
			})
		}
	}

	if n := res.Count(); n > 0 {
		logger.Info("Removed duplicate units", logger.Fields{
			"content_type": string(scope.ContentType), "groups": res.Groups, "removed": n,
		})
	}
	return res, nil
}

// reposHolding lists the repositories associated with more than one member of group.
func (d *Deduplicator) reposHolding(ctx context.Context, group []model.UnitKey) ([]string, error) {
	assocs, err := d.store.Associations(ctx, "", group)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, a := range assocs {
		counts[a.Repo]++
	}
	var repos []string
	for repo, n := range counts {
		if n > 1 {
			repos = append(repos, repo)
		}
	}
	slices.Sort(repos)
	return repos, nil
}
