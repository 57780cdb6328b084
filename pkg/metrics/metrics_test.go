package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cperrin88/yumsync/pkg/model"
)

func TestCounters(t *testing.T) {
	r := New()
	r.Planned("fedora", model.ContentTypeRPM, 3)
	r.Planned("fedora", model.ContentTypeRPM, 2)
	r.Downloaded("fedora", 2, 2048)
	r.Associated("fedora", 5)
	r.Removed("fedora", ReasonRetention, 1)
	r.Removed("fedora", ReasonDuplicate, 2)
	r.SyncFinished("fedora", "completed", 3*time.Second)

	assert.Equal(t, 5.0, testutil.ToFloat64(r.planned.WithLabelValues("fedora", "rpm")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.downloaded.WithLabelValues("fedora")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(r.bytes.WithLabelValues("fedora")))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.associated.WithLabelValues("fedora")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.removed.WithLabelValues("fedora", ReasonDuplicate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("fedora", "completed")))

	expected := `
# HELP yumsync_units_removed_total Units unassociated from a repository.
# TYPE yumsync_units_removed_total counter
yumsync_units_removed_total{reason="duplicate",repo="fedora"} 2
yumsync_units_removed_total{reason="retention",repo="fedora"} 1
`
	require.NoError(t, testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected), "yumsync_units_removed_total"))
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.Planned("fedora", model.ContentTypeRPM, 1)
	r.Downloaded("fedora", 1, 1)
	r.Associated("fedora", 1)
	r.Removed("fedora", ReasonMissing, 1)
	r.SyncFinished("fedora", "cancelled", time.Second)
	assert.Nil(t, r.Registry())
	assert.NoError(t, r.WriteTextfile("/nonexistent/metrics.prom"))
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.SyncFinished("epel", "cancelled", time.Second)

	path := filepath.Join(t.TempDir(), "yumsync.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `yumsync_sync_runs_total{repo="epel",state="cancelled"} 1`)
	assert.Contains(t, string(data), "yumsync_sync_duration_seconds_count")
}
