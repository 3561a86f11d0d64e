package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord(t *testing.T) {
	m, err := NewEmoterMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordRewrite(2, 1)
	m.RecordUpload(ResultSuccess)
	m.RecordUpload(ResultError)
	m.RecordEviction("static", 3)
	m.SetCacheSlots("animated", 10, 50)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesRewritten))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.substitutions.WithLabelValues("cache")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploadsTotal.WithLabelValues(ResultError)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.evictionsTotal.WithLabelValues("static")))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.cacheSlotsMax.WithLabelValues("animated")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *EmoterMetrics
	assert.NotPanics(t, func() {
		m.RecordRewrite(1, 1)
		m.RecordUpload(ResultSuccess)
		m.RecordSync("cache", ResultSuccess, 1)
	})
}

func TestHandler(t *testing.T) {
	m, err := NewEmoterMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	m.RecordUpload(ResultSuccess)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "emoter_uploads_total")
}
