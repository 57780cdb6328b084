package depsolve

import (
	"context"
	"fmt"
	"iter"
	"math/rand"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cperrin88/yumsync/pkg/model"
	"github.com/cperrin88/yumsync/pkg/rpmver"
	"github.com/cperrin88/yumsync/pkg/store"
	"github.com/cperrin88/yumsync/pkg/store/sqlstore"
	"github.com/cperrin88/yumsync/test/testutil"
)

// sliceQuery serves a fixed pool, filtered by provided names and sorted like
// a store would, and counts calls.
type sliceQuery struct {
	pool  []model.Package
	calls [][]string
}

func (q *sliceQuery) query(_ context.Context, names []string) iter.Seq2[model.Package, error] {
	q.calls = append(q.calls, names)
	var out []model.Package
	for _, p := range q.pool {
		for _, n := range p.ProvidedNames() {
			if slices.Contains(names, n) {
				out = append(out, p)
				break
			}
		}
	}
	store.SortByVersion(out)
	return testutil.Stream(out...)
}

func names(pkgs []model.Package) []string {
	out := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, p.Key.Name+"-"+p.EVR().String())
	}
	return out
}

func TestIndexStateMachine(t *testing.T) {
	r := NewResolverFromSlice([]model.Package{
		testutil.WithProvides(testutil.RPM("nss", "3.15-1"), "libnss3.so"),
	})
	assert.Equal(t, IndexEmpty, r.State())

	assert.Len(t, r.Providers("libnss3.so"), 1)
	assert.Equal(t, IndexByProvides, r.State())

	assert.Len(t, r.Packages("nss"), 1)
	assert.Equal(t, IndexByPackages, r.State())
	assert.Empty(t, r.Packages("libnss3.so"), "package index only knows real names")

	r.Match([]model.Requirement{{Name: "nss"}})
	assert.Equal(t, IndexByProvides, r.State())
	assert.Equal(t, "by-provides", r.State().String())
}

func TestMatchChoosesLastInPoolOrder(t *testing.T) {
	pool := []model.Package{
		testutil.RPM("xulrunner", "22.0-1"),
		testutil.RPM("xulrunner", "23.0-1"),
		testutil.RPM("xulrunner", "23.0-2"),
	}
	r := NewResolverFromSlice(pool)

	got := r.Match([]model.Requirement{{Name: "xulrunner"}})
	assert.Equal(t, []string{"xulrunner-23.0-2"}, names(got))

	got = r.Match([]model.Requirement{model.NewRequirement("xulrunner", rpmver.ParseEVR("23.0"), model.LT)})
	assert.Equal(t, []string{"xulrunner-22.0-1"}, names(got))

	// no re-sorting: a descending pool yields its last entry
	reversed := slices.Clone(pool)
	slices.Reverse(reversed)
	got = NewResolverFromSlice(reversed).Match([]model.Requirement{{Name: "xulrunner"}})
	assert.Equal(t, []string{"xulrunner-22.0-1"}, names(got))
}

func TestMatchOnePackagePerProviderName(t *testing.T) {
	pool := []model.Package{
		testutil.WithProvides(testutil.RPM("openssl-libs", "1.0.1-1"), "libssl.so"),
		testutil.WithProvides(testutil.RPM("compat-openssl", "0.9.8-1"), "libssl.so"),
		testutil.WithProvides(testutil.RPM("openssl-libs", "1.0.1-2"), "libssl.so"),
	}
	got := NewResolverFromSlice(pool).Match([]model.Requirement{{Name: "libssl.so"}})
	assert.ElementsMatch(t, []string{"openssl-libs-1.0.1-2", "compat-openssl-0.9.8-1"}, names(got))
}

func TestMatchDistinctAcrossRequirements(t *testing.T) {
	nss := testutil.WithProvides(testutil.RPM("nss", "3.15-1"), "libnss3.so", "libsmime3.so")
	got := NewResolverFromSlice([]model.Package{nss}).Match([]model.Requirement{
		{Name: "libnss3.so"}, {Name: "libsmime3.so"}, {Name: "nss"}, {Name: "missing"},
	})
	assert.Equal(t, []string{"nss-3.15-1"}, names(got))
}

func TestMatchSoundness(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	capabilities := []string{"a", "b", "c", "libx.so", "liby.so"}

	for trial := range 30 {
		var pool []model.Package
		for i := range rnd.Intn(12) + 1 {
			p := testutil.RPM(capabilities[rnd.Intn(3)], fmt.Sprintf("%d.%d-1", rnd.Intn(3), i))
			if rnd.Intn(2) == 0 {
				p = testutil.WithProvides(p, capabilities[3+rnd.Intn(2)])
			}
			pool = append(pool, p)
		}
		store.SortByVersion(pool)

		var reqs []model.Requirement
		for range rnd.Intn(3) + 1 {
			name := capabilities[rnd.Intn(len(capabilities))]
			if rnd.Intn(2) == 0 {
				reqs = append(reqs, model.Requirement{Name: name})
			} else {
				ops := []model.Comparison{model.EQ, model.LT, model.LE, model.GT, model.GE}
				reqs = append(reqs, model.NewRequirement(name, rpmver.ParseEVR(fmt.Sprintf("%d.5", rnd.Intn(3))), ops[rnd.Intn(len(ops))]))
			}
		}

		got := NewResolverFromSlice(pool).Match(reqs)
		matched := make(map[model.UnitKey]bool)
		for _, p := range got {
			matched[p.Key] = true
			assert.True(t, slices.ContainsFunc(reqs, func(r model.Requirement) bool { return r.ProvidedBy(p) }),
				"trial %d: %s fills no requirement", trial, p.Key)
		}

		// any filling package left out shares its provider name with a chosen one
		for _, p := range pool {
			if matched[p.Key] {
				continue
			}
			for _, r := range reqs {
				if !r.ProvidedBy(p) {
					continue
				}
				assert.True(t, slices.ContainsFunc(got, func(m model.Package) bool {
					return m.Key.Name == p.Key.Name && r.ProvidedBy(m)
				}), "trial %d: %s fills %s but no %s provider was chosen", trial, p.Key, r, p.Key.Name)
			}
		}
	}
}

func firefoxPool() (firefox, xulrunner, sqlite model.Package, pool []model.Package) {
	firefox = testutil.RPM("firefox", "23.0.2-1.fc19", "xulrunner >= 23.0")
	xulrunner = testutil.RPM("xulrunner", "23.0-1.fc19", "sqlite")
	sqlite = testutil.RPM("sqlite", "3.7.17-1.fc19")
	return firefox, xulrunner, sqlite, []model.Package{firefox, xulrunner, sqlite, testutil.RPM("xulrunner", "22.0-1.fc19")}
}

func TestFindDependentRPMsFirstOrderOnly(t *testing.T) {
	firefox, xulrunner, _, pool := firefoxPool()
	q := &sliceQuery{pool: pool}

	got, err := FindDependentRPMs(context.Background(), []model.Package{firefox}, q.query)
	require.NoError(t, err)
	assert.Equal(t, []model.Package{xulrunner}, got)
	assert.Len(t, q.calls, 1)
}

func TestFindDependentRPMsBatchesNames(t *testing.T) {
	a := testutil.RPM("a", "1-1", "liba", "libshared")
	b := testutil.RPM("b", "1-1", "libb", "libshared", "libmissing")
	pool := []model.Package{
		testutil.WithProvides(testutil.RPM("pa", "1-1"), "liba"),
		testutil.WithProvides(testutil.RPM("pb", "1-1"), "libb"),
		testutil.WithProvides(testutil.RPM("ps", "1-1"), "libshared"),
	}
	q := &sliceQuery{pool: pool}

	got, err := FindDependentRPMs(context.Background(), []model.Package{a, b}, q.query)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pa-1-1", "pb-1-1", "ps-1-1"}, names(got))
	require.Len(t, q.calls, 1)
	assert.Equal(t, []string{"liba", "libb", "libmissing", "libshared"}, q.calls[0])
}

func TestFindDependentRPMsExcludesSelfProvidingSeed(t *testing.T) {
	glibc := testutil.WithProvides(testutil.RPM("glibc", "2.17-4.fc19", "libc.so.6", "tzdata"), "libc.so.6")
	tzdata := testutil.RPM("tzdata", "2013c-1.fc19")
	q := &sliceQuery{pool: []model.Package{glibc, tzdata}}

	got, err := FindDependentRPMs(context.Background(), []model.Package{glibc}, q.query)
	require.NoError(t, err)
	assert.Equal(t, []model.Package{tzdata}, got)

	closure, err := Closure(context.Background(), []model.Package{glibc}, q.query)
	require.NoError(t, err)
	assert.Equal(t, got, closure)
}

func TestFindDependentRPMsNoRequires(t *testing.T) {
	q := &sliceQuery{}
	got, err := FindDependentRPMs(context.Background(), []model.Package{testutil.RPM("bash", "4.2-1")}, q.query)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, q.calls)
}

func TestClosure(t *testing.T) {
	firefox, xulrunner, sqlite, pool := firefoxPool()
	q := &sliceQuery{pool: pool}

	got, err := Closure(context.Background(), []model.Package{firefox}, q.query)
	require.NoError(t, err)
	assert.Equal(t, []model.Package{sqlite, xulrunner}, got, "dependencies come before dependents")
	assert.Len(t, q.calls, 2)
}

func TestClosureToleratesCycles(t *testing.T) {
	a := testutil.RPM("a", "1-1", "b")
	b := testutil.RPM("b", "1-1", "a")
	q := &sliceQuery{pool: []model.Package{a, b}}

	got, err := Closure(context.Background(), []model.Package{a}, q.query)
	require.NoError(t, err)
	assert.Equal(t, []model.Package{b}, got)
}

func TestClosureCancelled(t *testing.T) {
	firefox, _, _, pool := firefoxPool()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Closure(ctx, []model.Package{firefox}, (&sliceQuery{pool: pool}).query)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRepoQueryAgainstStore(t *testing.T) {
	ctx := context.Background()
	st, err := sqlstore.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	firefox, xulrunner, _, pool := firefoxPool()
	require.NoError(t, st.Add(ctx, pool...))
	for _, p := range pool {
		require.NoError(t, st.Associate(ctx, "fedora", p.Key, time.Now()))
	}

	got, err := FindDependentRPMs(ctx, []model.Package{firefox}, RepoQuery(st, "fedora"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, xulrunner.Key, got[0].Key)
}
