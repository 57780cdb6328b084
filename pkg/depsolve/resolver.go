// Package depsolve matches requirements against a pool of packages and
// follows requires to the providers they need.
//
// Matching is first applicable match, not SAT solving: the pool's own order
// decides which version of a provider is chosen.
package depsolve

import (
	"iter"

	"github.com/cperrin88/yumsync/pkg/model"
)

// IndexState tells which index over the pool is currently built.
type IndexState int

const (
	// IndexEmpty means no index has been built yet.
	IndexEmpty IndexState = iota
	// IndexByProvides maps every provided name to its providers.
	IndexByProvides
	// IndexByPackages maps package names to their versions.
	IndexByPackages
)

func (s IndexState) String() string {
	switch s {
	case IndexByProvides:
		return "by-provides"
	case IndexByPackages:
		return "by-packages"
	default:
		return "empty"
	}
}

// Resolver answers queries over a fixed pool snapshot. Only one index is
// held at a time; asking for the other one rebuilds and replaces it.
type Resolver struct {
	pool  []model.Package
	state IndexState
	index map[string][]int
}

// NewResolver snapshots pool. The pool is expected in ascending version
// order; it is never re-sorted.
func NewResolver(pool iter.Seq2[model.Package, error]) (*Resolver, error) {
	r := &Resolver{}
	for p, err := range pool {
		if err != nil {
			return nil, err
		}
		r.pool = append(r.pool, p)
	}
	return r, nil
}

// NewResolverFromSlice builds a resolver over an in-memory pool.
func NewResolverFromSlice(pool []model.Package) *Resolver {
	return &Resolver{pool: pool}
}

// State returns the currently built index.
func (r *Resolver) State() IndexState {
	return r.state
}

// Len returns the pool size.
func (r *Resolver) Len() int {
	return len(r.pool)
}

// ensure builds the index for mode unless it is already live.
func (r *Resolver) ensure(mode IndexState) {
	if r.state == mode {
		return
	}

	index := make(map[string][]int)
	for i, p := range r.pool {
		switch mode {
		case IndexByProvides:
			for _, name := range p.ProvidedNames() {
				index[name] = append(index[name], i)
			}
		case IndexByPackages:
			index[p.Key.Name] = append(index[p.Key.Name], i)
		}
	}
	r.index, r.state = index, mode
}

// Packages returns every version of the named package in pool order.
func (r *Resolver) Packages(name string) []model.Package {
	r.ensure(IndexByPackages)
	idx := r.index[name]
	out := make([]model.Package, 0, len(idx))
	for _, i := range idx {
		out = append(out, r.pool[i])
	}
	return out
}

// Providers returns every package providing name in pool order.
func (r *Resolver) Providers(name string) []model.Package {
	r.ensure(IndexByProvides)
	idx := r.index[name]
	out := make([]model.Package, 0, len(idx))
	for _, i := range idx {
		out = append(out, r.pool[i])
	}
	return out
}

type choice struct {
	req      int
	provider string
}

// Match returns the distinct packages filling at least one requirement. For
// each requirement and provider name a single package is kept: the last
// filling one in pool order, i.e. the newest in an ascending pool.
// Requirements nothing fills are skipped.
func (r *Resolver) Match(reqs []model.Requirement) []model.Package {
	r.ensure(IndexByProvides)

	chosen := make(map[choice]int)
	var order []choice
	for ri, req := range reqs {
		for _, i := range r.index[req.Name] {
			p := r.pool[i]
			if !req.ProvidedBy(p) {
				continue
			}
			c := choice{req: ri, provider: p.Key.Name}
			if _, ok := chosen[c]; !ok {
				order = append(order, c)
			}
			chosen[c] = i
		}
	}

	seen := make(map[model.UnitKey]struct{}, len(order))
	out := make([]model.Package, 0, len(order))
	for _, c := range order {
		p := r.pool[chosen[c]]
		if _, ok := seen[p.Key]; ok {
			continue
		}
		seen[p.Key] = struct{}{}
		out = append(out, p)
	}
	return out
}
