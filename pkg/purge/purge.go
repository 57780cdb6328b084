// Package purge computes which local units a repository should drop: versions
// beyond the retention policy and content that disappeared upstream.
package purge

import (
	"context"
	"iter"

	"github.com/cperrin88/yumsync/pkg/model"
	"github.com/cperrin88/yumsync/pkg/rpmver"
)

// OldVersions groups local units by VersionedKey and returns those falling
// outside the newest retain+1 versions of their group. Units sharing a
// version are kept or dropped together. Callers run it once per content type.
func OldVersions(ctx context.Context, local iter.Seq2[model.UnitKey, error], retain int) (map[model.UnitKey]struct{}, error) {
	if retain < 0 {
		retain = 0
	}

	removed := make(map[model.UnitKey]struct{})
	groups := make(map[model.VersionedKey]*rpmver.Window[[]model.UnitKey])

	for key, err := range local {
		if err != nil {
			return removed, err
		}

		vk := key.VersionedKey()
		w, ok := groups[vk]
		if !ok {
			w = rpmver.NewWindow[[]model.UnitKey](retain + 1)
			groups[vk] = w
		}
		evicted, ok := w.Upsert(key.EVR(), func(old []model.UnitKey, _ bool) []model.UnitKey {
			return append(old, key)
		})
		if ok {
			for _, k := range evicted {
				removed[k] = struct{}{}
			}
		}
	}

	return removed, ctx.Err()
}

// Missing returns every local unit whose projected identity is absent from
// remote. Matched entries are deleted from remote as they are seen, so the
// set is consumed by the call.
func Missing(local iter.Seq2[model.UnitKey, error], remote map[model.UnitKey]struct{}, project model.Projection) (map[model.UnitKey]struct{}, error) {
	if project == nil {
		project = model.FullIdentity
	}

	removed := make(map[model.UnitKey]struct{})
	for key, err := range local {
		if err != nil {
			return removed, err
		}
		p := project(key)
		if _, ok := remote[p]; ok {
			delete(remote, p)
			continue
		}
		removed[key] = struct{}{}
	}
	return removed, nil
}
