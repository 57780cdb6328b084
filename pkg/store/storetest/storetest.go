// Package storetest holds behaviour tests shared by every store.Store implementation.
package storetest

import (
	"cmp"
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cperrin88/yumsync/pkg/errors"
	"github.com/cperrin88/yumsync/pkg/model"
	"github.com/cperrin88/yumsync/pkg/store"
	"github.com/cperrin88/yumsync/test/testutil"
)

// Factory returns a fresh, empty store. The test owns closing it.
type Factory func(t *testing.T) store.Store

// Run exercises the store contract against stores created by open.
func Run(t *testing.T, open Factory) {
	t.Run("AddIsIdempotent", func(t *testing.T) { testAddIdempotent(t, open(t)) })
	t.Run("AssociateAndRemove", func(t *testing.T) { testAssociateAndRemove(t, open(t)) })
	t.Run("AssociateUnknownUnit", func(t *testing.T) { testAssociateUnknown(t, open(t)) })
	t.Run("ScopedQueries", func(t *testing.T) { testScopedQueries(t, open(t)) })
	t.Run("Associations", func(t *testing.T) { testAssociations(t, open(t)) })
	t.Run("QueryByNames", func(t *testing.T) { testQueryByNames(t, open(t)) })
	t.Run("EmptyFieldsAreIdentity", func(t *testing.T) { testEmptyFields(t, open(t)) })
}

func keys(t *testing.T, s store.Store, scope store.Scope) []model.UnitKey {
	t.Helper()
	out, err := store.Collect(s.Keys(context.Background(), scope))
	require.NoError(t, err)
	slices.SortFunc(out, func(a, b model.UnitKey) int { return cmp.Compare(a.String(), b.String()) })
	return out
}

func testAddIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer func() { _ = s.Close() }()

	ff := testutil.RPM("firefox", "23.0.2-1.fc19", "xulrunner")
	require.NoError(t, s.Add(ctx, ff))
	require.NoError(t, s.Add(ctx, ff))

	assert.Len(t, keys(t, s, store.Scope{ContentType: model.ContentTypeRPM}), 1)

	ok, err := s.Exists(ctx, ff.Key)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Lookup(ctx, ff.Key)
	require.NoError(t, err)
	assert.Equal(t, ff.Key, got.Key)
	assert.Equal(t, ff.Size, got.Size)
	assert.Equal(t, ff.Requires, got.Requires)

	other := testutil.WithChecksum(ff, "other")
	ok, err = s.Exists(ctx, other.Key)
	require.NoError(t, err)
	assert.False(t, ok, "identity includes the checksum")

	_, err = s.Lookup(ctx, other.Key)
	assert.ErrorIs(t, err, errors.ErrUnitNotFound)
}

func testAssociateAndRemove(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer func() { _ = s.Close() }()

	ff := testutil.RPM("firefox", "23.0.2-1.fc19")
	xr := testutil.RPM("xulrunner", "23.0-1.fc19")
	require.NoError(t, s.Add(ctx, ff, xr))

	now := time.Date(2013, 9, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Associate(ctx, "fedora", ff.Key, now))
	require.NoError(t, s.Associate(ctx, "fedora", xr.Key, now))
	require.NoError(t, s.Associate(ctx, "updates", ff.Key, now))

	scope := store.Scope{Repo: "fedora", ContentType: model.ContentTypeRPM}
	assert.Len(t, keys(t, s, scope), 2)

	require.NoError(t, s.Remove(ctx, "fedora", ff.Key))
	assert.Equal(t, []model.UnitKey{xr.Key}, keys(t, s, scope))

	// removal is scoped to the repository and keeps the unit pooled
	assert.Len(t, keys(t, s, store.Scope{Repo: "updates", ContentType: model.ContentTypeRPM}), 1)
	ok, err := s.Exists(ctx, ff.Key)
	require.NoError(t, err)
	assert.True(t, ok)

	// removing something absent is not an error
	require.NoError(t, s.Remove(ctx, "fedora", ff.Key, testutil.RPM("ghost", "1-1").Key))
}

func testAssociateUnknown(t *testing.T, s store.Store) {
	defer func() { _ = s.Close() }()
	err := s.Associate(context.Background(), "fedora", testutil.RPM("ghost", "1-1").Key, time.Now())
	assert.ErrorIs(t, err, errors.ErrUnitNotFound)
}

func testScopedQueries(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer func() { _ = s.Close() }()

	ff := testutil.RPM("firefox", "23.0.2-1.fc19")
	adv := testutil.Erratum("FEDORA-2013-1")
	orphan := testutil.RPM("sqlite", "3.7.17-1.fc19")
	require.NoError(t, s.Add(ctx, ff, adv, orphan))
	require.NoError(t, s.Associate(ctx, "fedora", ff.Key, time.Now()))
	require.NoError(t, s.Associate(ctx, "fedora", adv.Key, time.Now()))

	assert.Equal(t, []model.UnitKey{ff.Key}, keys(t, s, store.Scope{Repo: "fedora", ContentType: model.ContentTypeRPM}))
	assert.Equal(t, []model.UnitKey{adv.Key}, keys(t, s, store.Scope{Repo: "fedora", ContentType: model.ContentTypeErratum}))
	assert.Len(t, keys(t, s, store.Scope{ContentType: model.ContentTypeRPM}), 2, "global scope covers the whole pool")
	assert.Empty(t, keys(t, s, store.Scope{Repo: "other", ContentType: model.ContentTypeRPM}))

	units, err := store.Collect(s.Units(ctx, store.Scope{Repo: "fedora", ContentType: model.ContentTypeRPM}))
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, ff.Location, units[0].Location)
}

func testAssociations(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer func() { _ = s.Close() }()

	a := testutil.RPM("firefox", "23.0.2-1.fc19")
	b := testutil.WithChecksum(a, "rebuild")
	require.NoError(t, s.Add(ctx, a, b))

	t0 := time.Date(2013, 9, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Associate(ctx, "fedora", a.Key, t0))
	require.NoError(t, s.Associate(ctx, "fedora", b.Key, t0.Add(time.Hour)))
	require.NoError(t, s.Associate(ctx, "updates", a.Key, t0))

	got, err := s.Associations(ctx, "fedora", []model.UnitKey{a.Key, b.Key})
	require.NoError(t, err)
	require.Len(t, got, 2)
	times := map[model.UnitKey]time.Time{}
	for _, as := range got {
		assert.Equal(t, "fedora", as.Repo)
		times[as.Key] = as.UpdatedAt
	}
	assert.True(t, times[a.Key].Equal(t0))
	assert.True(t, times[b.Key].Equal(t0.Add(time.Hour)))

	// re-association refreshes the timestamp
	require.NoError(t, s.Associate(ctx, "fedora", a.Key, t0.Add(2*time.Hour)))
	got, err = s.Associations(ctx, "fedora", []model.UnitKey{a.Key})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].UpdatedAt.Equal(t0.Add(2*time.Hour)))

	all, err := s.Associations(ctx, "", []model.UnitKey{a.Key, b.Key})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func testQueryByNames(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer func() { _ = s.Close() }()

	newer := testutil.RPM("xulrunner", "23.0-2.fc19")
	older := testutil.RPM("xulrunner", "23.0-1.fc19")
	lib := testutil.WithProvides(testutil.RPM("nss", "3.15-1.fc19"), "libnss3.so")
	other := testutil.RPM("sqlite", "3.7.17-1.fc19")
	require.NoError(t, s.Add(ctx, newer, older, lib, other))
	for _, p := range []model.Package{newer, older, lib, other} {
		require.NoError(t, s.Associate(ctx, "fedora", p.Key, time.Now()))
	}

	got, err := store.Collect(s.QueryByNames(ctx, "fedora", []string{"xulrunner", "libnss3.so"}))
	require.NoError(t, err)
	names := make([]string, 0, len(got))
	for _, p := range got {
		names = append(names, p.Key.Name+"-"+p.EVR().String())
	}
	assert.Equal(t, []string{"nss-3.15-1.fc19", "xulrunner-23.0-1.fc19", "xulrunner-23.0-2.fc19"}, names)

	got, err = store.Collect(s.QueryByNames(ctx, "other-repo", []string{"xulrunner"}))
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = store.Collect(s.QueryByNames(ctx, "fedora", nil))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testEmptyFields(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer func() { _ = s.Close() }()

	noEpoch := testutil.RPM("bash", "4.2-1")
	zeroEpoch := noEpoch
	zeroEpoch.Key.Epoch = "0"
	require.NoError(t, s.Add(ctx, noEpoch, zeroEpoch))

	assert.Len(t, keys(t, s, store.Scope{ContentType: model.ContentTypeRPM}), 2, "empty epoch is kept verbatim")
	got, err := s.Lookup(ctx, noEpoch.Key)
	require.NoError(t, err)
	assert.Empty(t, got.Key.Epoch)
}
