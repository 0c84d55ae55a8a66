package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

func TestMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveSubmission("register", "persisted")
	m.ObserveSubmission("register", "persisted")
	m.ObserveSubmission("register", "timeout")
	m.ObserveAttempt("ok", 20*time.Millisecond)
	m.ObserveStage("executing", time.Second)
	m.ObserveScore("titanic", 0.78)

	assert.InDelta(t, 2, testutil.ToFloat64(m.submissions.WithLabelValues("register", "persisted")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.submissions.WithLabelValues("register", "timeout")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.attempts.WithLabelValues("ok")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.stages))
}

func TestMetrics_OnAttempt(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.OnAttempt(1, time.Millisecond, nil)
	m.OnAttempt(1, time.Second, core.Failf(core.KindTimeout, "too slow"))
	m.OnAttempt(2, time.Second, core.Failf(core.KindTimeout, "too slow"))
	m.OnAttempt(1, time.Millisecond, errors.New("worker crashed"))

	assert.InDelta(t, 1, testutil.ToFloat64(m.attempts.WithLabelValues("ok")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.attempts.WithLabelValues("timeout")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.attempts.WithLabelValues("error")), 0)
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveSubmission("cross_validate", "persisted")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `featurefactory_submissions_total{operation="cross_validate",outcome="persisted"} 1`))
}
