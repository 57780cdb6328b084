package depsolve

import (
	"context"
	"iter"
	"slices"

	"github.com/cperrin88/yumsync/pkg/model"
	"github.com/cperrin88/yumsync/pkg/store"
)

// Query returns candidate providers for any of names, in ascending version
// order per name.
type Query func(ctx context.Context, names []string) iter.Seq2[model.Package, error]

// RepoQuery queries the rpm units of one repository.
func RepoQuery(st store.Store, repo string) Query {
	return func(ctx context.Context, names []string) iter.Seq2[model.Package, error] {
		return st.QueryByNames(ctx, repo, names)
	}
}

// requirementsOf collects the requires of seeds and the distinct names they mention.
func requirementsOf(seeds []model.Package) ([]model.Requirement, []string) {
	var reqs []model.Requirement
	names := make(map[string]struct{})
	for _, p := range seeds {
		for _, req := range p.Requires {
			reqs = append(reqs, req)
			names[req.Name] = struct{}{}
		}
	}

	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	slices.Sort(sorted)
	return reqs, sorted
}

// FindDependentRPMs returns the direct providers of the seeds' requires,
// excluding the seeds themselves. All requirement names go to query in a
// single batch. Unmet requirements are not an error here and are dropped.
func FindDependentRPMs(ctx context.Context, seeds []model.Package, query Query) ([]model.Package, error) {
	reqs, names := requirementsOf(seeds)
	if len(names) == 0 {
		return nil, nil
	}

	r, err := NewResolver(query(ctx, names))
	if err != nil {
		return nil, err
	}
	isSeed := make(map[model.UnitKey]bool, len(seeds))
	for _, s := range seeds {
		isSeed[s.Key] = true
	}
	return slices.DeleteFunc(r.Match(reqs), func(p model.Package) bool { return isSeed[p.Key] }), nil
}

// Closure follows requires from seeds until no new provider turns up. The
// result excludes the seeds and lists dependencies before their dependents.
func Closure(ctx context.Context, seeds []model.Package, query Query) ([]model.Package, error) {
	known := make(map[model.UnitKey]model.Package)
	edges := make(map[model.UnitKey][]model.UnitKey)
	isSeed := make(map[model.UnitKey]bool, len(seeds))
	for _, s := range seeds {
		isSeed[s.Key] = true
		known[s.Key] = s
	}

	frontier := seeds
	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// one batched query per round, matched per package to record edges
		_, names := requirementsOf(frontier)
		if len(names) == 0 {
			break
		}
		r, err := NewResolver(query(ctx, names))
		if err != nil {
			return nil, err
		}

		var next []model.Package
		for _, p := range frontier {
			for _, d := range r.Match(p.Requires) {
				if d.Key == p.Key {
					continue
				}
				edges[p.Key] = append(edges[p.Key], d.Key)
				if _, ok := known[d.Key]; !ok {
					known[d.Key] = d
					next = append(next, d)
				}
			}
		}
		frontier = next
	}

	return topoOrder(seeds, edges, known, isSeed), nil
}

func topoOrder(seeds []model.Package, edges map[model.UnitKey][]model.UnitKey, known map[model.UnitKey]model.Package, isSeed map[model.UnitKey]bool) []model.Package {
	order := make([]model.Package, 0, len(known))
	seen := make(map[model.UnitKey]bool, len(known))
	var dfs func(k model.UnitKey)
	dfs = func(k model.UnitKey) {
		if seen[k] {
			return
		}
		seen[k] = true
		for _, d := range edges[k] {
			dfs(d)
		}
		if !isSeed[k] {
			order = append(order, known[k])
		}
	}
	for _, s := range seeds {
		dfs(s.Key)
	}
	return order
}
