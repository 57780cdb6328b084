package orchestrator

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/cperrin88/yumsync/pkg/download"
	"github.com/cperrin88/yumsync/pkg/errors"
	"github.com/cperrin88/yumsync/pkg/feed"
	"github.com/cperrin88/yumsync/pkg/hooks"
	"github.com/cperrin88/yumsync/pkg/metrics"
	"github.com/cperrin88/yumsync/pkg/model"
	ocmocks "github.com/cperrin88/yumsync/pkg/orchestrator/mocks"
	"github.com/cperrin88/yumsync/pkg/store"
	"github.com/cperrin88/yumsync/pkg/store/jsonstore"
	"github.com/cperrin88/yumsync/test/testutil"
)

var (
	firefox22 = testutil.RPM("firefox", "22.0-1.fc19")
	firefox23 = testutil.RPM("firefox", "23.0-1.fc19", "xulrunner")
	xulrunner = testutil.RPM("xulrunner", "23.0-1.fc19")
	advisory  = testutil.Erratum("FEDORA-2013-1234")
)

func newFeed(t *testing.T, units map[model.ContentType][]model.Package) *feed.Source {
	t.Helper()
	dir := t.TempDir()
	for ct, pkgs := range units {
		f, err := os.Create(filepath.Join(dir, string(ct)+".jsonl"))
		require.NoError(t, err)
		enc := json.NewEncoder(f)
		for _, p := range pkgs {
			require.NoError(t, enc.Encode(p))
		}
		require.NoError(t, f.Close())
	}
	src, err := feed.NewSource(dir)
	require.NoError(t, err)
	return src
}

func newStore(t *testing.T) *jsonstore.Store {
	t.Helper()
	st, err := jsonstore.Open(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func repoKeys(t *testing.T, st store.Store, repo string, ct model.ContentType) []model.UnitKey {
	t.Helper()
	keys, err := store.Collect(st.Keys(context.Background(), store.Scope{Repo: repo, ContentType: ct}))
	require.NoError(t, err)
	return keys
}

func defaultUnits() map[model.ContentType][]model.Package {
	return map[model.ContentType][]model.Package{
		model.ContentTypeRPM:     {firefox22, firefox23, xulrunner},
		model.ContentTypeErratum: {advisory},
	}
}

func TestSync_DownloadsAndAssociates(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	base, _ := url.Parse("https://mirror.example.com/fedora/19/x86_64/")
	poolDir := t.TempDir()
	st := newStore(t)
	rec := metrics.New()

	dl := ocmocks.NewMockDownloader(ctrl)
	dl.EXPECT().FetchAll(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, items []download.Item, opts download.Options) (map[string]string, error) {
			require.Len(t, items, 2)
			assert.Equal(t, firefox23.Key.String(), items[0].ID)
			assert.Equal(t, "https://mirror.example.com/fedora/19/x86_64/"+firefox23.Location, items[0].URL.String())
			assert.Equal(t, firefox23.Key.Checksum, items[0].Checksum)
			assert.Equal(t, PoolPath("fedora", firefox23), items[0].Filename)
			assert.Equal(t, xulrunner.Key.String(), items[1].ID)
			assert.Equal(t, poolDir, opts.Dir)
			assert.Equal(t, 3, opts.Concurrency)
			return map[string]string{}, nil
		},
	).Times(1)

	scripts := ocmocks.NewMockHookRunner(ctrl)
	gomock.InOrder(
		scripts.EXPECT().Execute(gomock.Any(), hooks.PreSync, hooks.HookContext{Repo: "fedora"}).Return(nil),
		scripts.EXPECT().Execute(gomock.Any(), hooks.PostSync, gomock.Any()).DoAndReturn(
			func(_ context.Context, _ hooks.HookType, hctx hooks.HookContext) error {
				assert.Equal(t, "completed", hctx.State)
				assert.Equal(t, int64(2), hctx.Stats["downloaded"])
				assert.Equal(t, int64(3), hctx.Stats["associated"])
				return nil
			}),
	)

	orch := &Orchestrator{Store: st, DL: dl, Scripts: scripts, Metrics: rec}
	rep, err := orch.Sync(context.Background(), Repository{
		Name:           "fedora",
		Feed:           newFeed(t, defaultUnits()),
		BaseURL:        base,
		RetainOldCount: testutil.IntPtr(0),
		Types:          []model.ContentType{model.ContentTypeRPM, model.ContentTypeSRPM, model.ContentTypeErratum},
	}, Options{PoolDir: poolDir, Concurrency: 3})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, rep.State)
	assert.Equal(t, 3, rep.Planned)
	assert.Equal(t, 2, rep.Downloaded)
	assert.Equal(t, firefox23.Size+xulrunner.Size, rep.DownloadBytes)
	assert.Equal(t, 3, rep.Associated)
	assert.Equal(t, []model.ContentType{model.ContentTypeSRPM}, rep.Skipped)

	assert.ElementsMatch(t, testutil.Keys(firefox23, xulrunner), repoKeys(t, st, "fedora", model.ContentTypeRPM))
	assert.ElementsMatch(t, testutil.Keys(advisory), repoKeys(t, st, "fedora", model.ContentTypeErratum))

	expected := `
# HELP yumsync_units_associated_total Units associated with a repository.
# TYPE yumsync_units_associated_total counter
yumsync_units_associated_total{repo="fedora"} 3
`
	require.NoError(t, promtest.GatherAndCompare(rec.Registry(), strings.NewReader(expected), "yumsync_units_associated_total"))
}

func TestSync_SecondRunOnlyAssociates(t *testing.T) {
	st := newStore(t)
	src := newFeed(t, defaultUnits())
	orch := &Orchestrator{Store: st}

	first, err := orch.Sync(context.Background(), Repository{Name: "fedora", Feed: src}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 4, first.Associated)
	assert.Zero(t, first.Downloaded)

	again, err := orch.Sync(context.Background(), Repository{Name: "fedora", Feed: src}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 4, again.Present)
	assert.Zero(t, again.Associated)

	// a second repository reuses the pooled units
	other, err := orch.Sync(context.Background(), Repository{Name: "fedora-mirror", Feed: src}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 4, other.Associated)
	assert.ElementsMatch(t, testutil.Keys(firefox22, firefox23, xulrunner), repoKeys(t, st, "fedora-mirror", model.ContentTypeRPM))
}

func TestSync_DryRunTouchesNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	base, _ := url.Parse("https://mirror.example.com/fedora/")
	st := newStore(t)
	dl := ocmocks.NewMockDownloader(ctrl)

	orch := &Orchestrator{Store: st, DL: dl}
	rep, err := orch.Sync(context.Background(), Repository{
		Name:          "fedora",
		Feed:          newFeed(t, defaultUnits()),
		BaseURL:       base,
		RemoveMissing: true,
	}, Options{DryRun: true, PoolDir: t.TempDir()})
	require.NoError(t, err)

	assert.True(t, rep.DryRun)
	assert.Equal(t, 4, rep.Planned)
	assert.Equal(t, 3, rep.Downloaded)
	assert.Equal(t, 4, rep.Associated)
	assert.Empty(t, repoKeys(t, st, "fedora", model.ContentTypeRPM))
	exists, err := st.Exists(context.Background(), firefox23.Key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSync_RetentionAndMissing(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	firefox21 := testutil.RPM("firefox", "21.0-1.fc19")
	gone := testutil.RPM("gone", "1.0-1")
	require.NoError(t, st.Add(ctx, firefox21, gone))
	for _, k := range testutil.Keys(firefox21, gone) {
		require.NoError(t, st.Associate(ctx, "fedora", k, time.Unix(100, 0)))
	}

	orch := &Orchestrator{Store: st}
	rep, err := orch.Sync(ctx, Repository{
		Name:           "fedora",
		Feed:           newFeed(t, defaultUnits()),
		RetainOldCount: testutil.IntPtr(0),
		RemoveMissing:  true,
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, map[string]int{metrics.ReasonRetention: 1, metrics.ReasonMissing: 1}, rep.Removed)
	assert.ElementsMatch(t, testutil.Keys(firefox23, xulrunner), repoKeys(t, st, "fedora", model.ContentTypeRPM))

	// removed units stay pooled
	exists, err := st.Exists(ctx, gone.Key)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSync_ResolvesDuplicates(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	stale := testutil.WithChecksum(firefox23, "rebuilt")
	require.NoError(t, st.Add(ctx, stale))
	require.NoError(t, st.Associate(ctx, "fedora", stale.Key, time.Unix(100, 0)))

	orch := &Orchestrator{Store: st, Now: func() time.Time { return time.Unix(200, 0) }}
	rep, err := orch.Sync(ctx, Repository{
		Name:  "fedora",
		Feed:  newFeed(t, map[model.ContentType][]model.Package{model.ContentTypeRPM: {firefox23}}),
		Types: []model.ContentType{model.ContentTypeRPM},
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Removed[metrics.ReasonDuplicate])
	assert.Equal(t, testutil.Keys(firefox23), repoKeys(t, st, "fedora", model.ContentTypeRPM))
}

func TestSync_CancelledIsNotFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	base, _ := url.Parse("https://mirror.example.com/")
	rec := metrics.New()

	dl := ocmocks.NewMockDownloader(ctrl)
	dl.EXPECT().FetchAll(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, []download.Item, download.Options) (map[string]string, error) {
			cancel()
			return nil, context.Canceled
		},
	)
	scripts := ocmocks.NewMockHookRunner(ctrl)
	scripts.EXPECT().Execute(gomock.Any(), hooks.PreSync, gomock.Any()).Return(nil)
	scripts.EXPECT().Execute(gomock.Any(), hooks.PostSync, gomock.Any()).DoAndReturn(
		func(hookCtx context.Context, _ hooks.HookType, hctx hooks.HookContext) error {
			assert.NoError(t, hookCtx.Err())
			assert.Equal(t, "cancelled", hctx.State)
			return nil
		},
	)

	st := newStore(t)
	orch := &Orchestrator{Store: st, DL: dl, Scripts: scripts, Metrics: rec}
	rep, err := orch.Sync(ctx, Repository{Name: "fedora", Feed: newFeed(t, defaultUnits()), BaseURL: base}, Options{PoolDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, rep.State)
	assert.Empty(t, repoKeys(t, st, "fedora", model.ContentTypeRPM))

	expected := `
# HELP yumsync_sync_runs_total Finished syncs by terminal state.
# TYPE yumsync_sync_runs_total counter
yumsync_sync_runs_total{repo="fedora",state="cancelled"} 1
`
	require.NoError(t, promtest.GatherAndCompare(rec.Registry(), strings.NewReader(expected), "yumsync_sync_runs_total"))
}

func TestSync_PreSyncHookAborts(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	scripts := ocmocks.NewMockHookRunner(ctrl)
	scripts.EXPECT().Execute(gomock.Any(), hooks.PreSync, gomock.Any()).Return(errors.ErrHookScript)

	var phases []string
	orch := &Orchestrator{Store: newStore(t), Scripts: scripts, Hooks: Hooks{OnEvent: func(e Event) { phases = append(phases, e.Phase) }}}
	rep, err := orch.Sync(context.Background(), Repository{Name: "fedora", Feed: newFeed(t, defaultUnits())}, Options{})
	assert.ErrorIs(t, err, errors.ErrHookScript)
	assert.Equal(t, StateFailed, rep.State)
	assert.Equal(t, []string{"error"}, phases)
}

func TestSync_FeedErrorFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := ocmocks.NewMockFeed(ctrl)
	f.EXPECT().Each(gomock.Any(), model.ContentTypeRPM, gomock.Any()).Return(errors.ErrInvalidFeed)

	orch := &Orchestrator{Store: newStore(t)}
	rep, err := orch.Sync(context.Background(), Repository{Name: "fedora", Feed: f, Types: []model.ContentType{model.ContentTypeRPM}}, Options{})
	assert.ErrorIs(t, err, errors.ErrInvalidFeed)
	assert.Equal(t, StateFailed, rep.State)
}

func TestSync_Events(t *testing.T) {
	var phases []string
	orch := &Orchestrator{Store: newStore(t), Hooks: Hooks{OnEvent: func(e Event) {
		assert.Equal(t, "fedora", e.ID)
		phases = append(phases, e.Phase)
	}}}
	_, err := orch.Sync(context.Background(), Repository{
		Name:           "fedora",
		Feed:           newFeed(t, defaultUnits()),
		RetainOldCount: testutil.IntPtr(1),
		Types:          []model.ContentType{model.ContentTypeRPM, model.ContentTypeErratum},
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"planning", "importing", "planning", "importing", "purging", "dedup", "done"}, phases)
}

func TestSync_NotConfigured(t *testing.T) {
	_, err := (&Orchestrator{}).Sync(context.Background(), Repository{Name: "fedora"}, Options{})
	assert.Error(t, err)

	_, err = (&Orchestrator{Store: newStore(t)}).Sync(context.Background(), Repository{Name: "fedora"}, Options{})
	assert.ErrorIs(t, err, errors.ErrInvalidFeed)
}

func TestPoolPath(t *testing.T) {
	p := model.Package{
		Key:      model.UnitKey{ContentType: model.ContentTypeRPM, Checksum: "abcdef"},
		Location: "Packages/f/firefox.rpm",
	}
	assert.Equal(t, "rpm/ab/abcdef/firefox.rpm", PoolPath("fedora", p))

	p.Key.Checksum = ""
	assert.Equal(t, "fedora/Packages/f/firefox.rpm", PoolPath("fedora", p))

	p.Location = "../../etc/passwd"
	assert.Equal(t, "fedora/etc/passwd", PoolPath("fedora", p))
}
