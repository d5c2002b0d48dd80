package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopWhenDisabled(t *testing.T) {
	if IsEnabled() {
		t.Skip("registry already initialized by another test")
	}
	assert.IsType(t, noopCacheMetrics{}, NewCacheMetrics())
	assert.IsType(t, noopAccessMetrics{}, NewAccessMetrics())
	assert.IsType(t, noopExportMetrics{}, NewExportMetrics())
	assert.IsType(t, noopStoreMetrics{}, NewStoreMetrics("memory"))
}

func TestPrometheusMetrics(t *testing.T) {
	InitRegistry()
	require.True(t, IsEnabled())

	cm, ok := NewCacheMetrics().(*cacheMetrics)
	require.True(t, ok)
	cm.RecordHit("attr")
	cm.RecordHit("attr")
	cm.RecordMiss("attr")
	cm.RecordLoad("attr", time.Millisecond, errors.New("boom"))
	assert.Equal(t, 2.0, testutil.ToFloat64(cm.hits.WithLabelValues("attr")))
	assert.Equal(t, 1.0, testutil.ToFloat64(cm.misses.WithLabelValues("attr")))
	assert.Equal(t, 1.0, testutil.ToFloat64(cm.loads.WithLabelValues("attr", "error")))

	am, ok := NewAccessMetrics().(*accessMetrics)
	require.True(t, ok)
	am.RecordDenied("read_only")
	am.RecordAllowed()
	assert.Equal(t, 1.0, testutil.ToFloat64(am.denials.WithLabelValues("read_only")))
	assert.Equal(t, 1.0, testutil.ToFloat64(am.decisions.WithLabelValues("allowed")))

	em, ok := NewExportMetrics().(*exportMetrics)
	require.True(t, ok)
	em.RecordReload(3, 1, nil)
	em.RecordReload(0, 0, errors.New("unreadable"))
	assert.Equal(t, 3.0, testutil.ToFloat64(em.exportsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(em.reloadsTotal.WithLabelValues("error")))
}
