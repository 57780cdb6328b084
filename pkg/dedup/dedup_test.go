package dedup

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cperrin88/yumsync/pkg/logger"
	"github.com/cperrin88/yumsync/pkg/model"
	"github.com/cperrin88/yumsync/pkg/store"
	"github.com/cperrin88/yumsync/pkg/store/jsonstore"
	"github.com/cperrin88/yumsync/pkg/store/sqlstore"
	"github.com/cperrin88/yumsync/test/testutil"
)

var backends = map[string]func(t *testing.T) store.Store{
	"json": func(t *testing.T) store.Store {
		st, err := jsonstore.Open(filepath.Join(t.TempDir(), "store.json"))
		require.NoError(t, err)
		return st
	},
	"sqlite": func(t *testing.T) store.Store {
		st, err := sqlstore.Open(filepath.Join(t.TempDir(), "store.db"))
		require.NoError(t, err)
		return st
	},
}

var t0 = time.Date(2013, 9, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	st                  store.Store
	first, second, last model.Package
	unique              model.Package
}

// seed pools three builds of firefox and associates them with fedora at
// increasing times, plus a unique package.
func seed(t *testing.T, st store.Store) fixture {
	t.Helper()
	ctx := context.Background()
	f := fixture{
		st:     st,
		first:  testutil.RPM("firefox", "23.0.2-1.fc19"),
		unique: testutil.RPM("xulrunner", "23.0-1.fc19"),
	}
	f.second = testutil.WithChecksum(f.first, "rebuild-1")
	f.last = testutil.WithChecksum(f.first, "rebuild-2")

	require.NoError(t, st.Add(ctx, f.first, f.second, f.last, f.unique))
	require.NoError(t, st.Associate(ctx, "fedora", f.first.Key, t0))
	require.NoError(t, st.Associate(ctx, "fedora", f.last.Key, t0.Add(2*time.Hour)))
	require.NoError(t, st.Associate(ctx, "fedora", f.second.Key, t0.Add(time.Hour)))
	require.NoError(t, st.Associate(ctx, "fedora", f.unique.Key, t0))
	return f
}

var fedoraRPMs = store.Scope{Repo: "fedora", ContentType: model.ContentTypeRPM}

func TestFindDuplicates(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			f := seed(t, open(t))
			defer func() { _ = f.st.Close() }()

			groups, err := store.Collect(New(f.st).FindDuplicates(context.Background(), fedoraRPMs))
			require.NoError(t, err)
			require.Len(t, groups, 1)
			assert.ElementsMatch(t, testutil.Keys(f.first, f.second, f.last), groups[0])
		})
	}
}

func TestResolveKeepsNewestAssociation(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := seed(t, open(t))
			defer func() { _ = f.st.Close() }()

			keep, removed, err := New(f.st).Resolve(ctx, "fedora", testutil.Keys(f.first, f.second, f.last))
			require.NoError(t, err)
			assert.Equal(t, f.last.Key, keep)
			assert.ElementsMatch(t, testutil.Keys(f.first, f.second), removed)

			keys, err := store.Collect(f.st.Keys(ctx, fedoraRPMs))
			require.NoError(t, err)
			assert.ElementsMatch(t, testutil.Keys(f.last, f.unique), keys)

			ok, err := f.st.Exists(ctx, f.first.Key)
			require.NoError(t, err)
			assert.True(t, ok, "removed units stay pooled")
		})
	}
}

func TestSweepConverges(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := seed(t, open(t))
			defer func() { _ = f.st.Close() }()

			d := New(f.st, WithPartitions(3))
			res, err := d.Sweep(ctx, fedoraRPMs)
			require.NoError(t, err)
			assert.Equal(t, 1, res.Groups)
			assert.Equal(t, 2, res.Count())

			groups, err := store.Collect(d.FindDuplicates(ctx, fedoraRPMs))
			require.NoError(t, err)
			assert.Empty(t, groups)

			res, err = d.Sweep(ctx, fedoraRPMs)
			require.NoError(t, err)
			assert.Zero(t, res.Count())
		})
	}
}

func TestGlobalSweepResolvesPerRepository(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := seed(t, open(t))
			defer func() { _ = f.st.Close() }()

			// updates holds one build only; nothing to resolve there
			require.NoError(t, f.st.Associate(ctx, "updates", f.first.Key, t0.Add(5*time.Hour)))

			res, err := New(f.st).Sweep(ctx, store.Scope{ContentType: model.ContentTypeRPM})
			require.NoError(t, err)
			assert.ElementsMatch(t, testutil.Keys(f.first, f.second), res.Removed["fedora"])
			assert.Empty(t, res.Removed["updates"])

			keys, err := store.Collect(f.st.Keys(ctx, store.Scope{Repo: "updates", ContentType: model.ContentTypeRPM}))
			require.NoError(t, err)
			assert.Equal(t, testutil.Keys(f.first), keys)
		})
	}
}

func TestSweepCancelled(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			f := seed(t, open(t))
			defer func() { _ = f.st.Close() }()

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			res, err := New(f.st).Sweep(ctx, fedoraRPMs)
			assert.ErrorIs(t, err, context.Canceled)
			assert.Zero(t, res.Count())
		})
	}
}

func TestModeProbedOnceAndFallbackLogged(t *testing.T) {
	buf := &bytes.Buffer{}
	logger.SetOutput(buf)
	defer logger.SetOutput(nil)
	logger.InitLogger("info", true)

	f := seed(t, backends["json"](t))
	d := New(f.st)
	for range 3 {
		assert.Equal(t, store.AggregationUnsupported, d.Mode(context.Background()))
		_, err := store.Collect(d.FindDuplicates(context.Background(), fedoraRPMs))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, strings.Count(buf.String(), "streaming duplicate search"))

	sql := New(backends["sqlite"](t))
	assert.Equal(t, store.AggregationSupported, sql.Mode(context.Background()))
}

func TestPartitioningIsComplete(t *testing.T) {
	ctx := context.Background()
	st := backends["json"](t)
	var all []model.Package
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		p := testutil.RPM(name, "1.0-1")
		all = append(all, p, testutil.WithChecksum(p, name))
	}
	require.NoError(t, st.Add(ctx, all...))
	for _, p := range all {
		require.NoError(t, st.Associate(ctx, "fedora", p.Key, t0))
	}

	for _, parts := range []int{1, 2, 5, 32} {
		groups, err := store.Collect(New(st, WithPartitions(parts)).FindDuplicates(ctx, fedoraRPMs))
		require.NoError(t, err)
		assert.Len(t, groups, 7, "partitions=%d", parts)
	}
}
