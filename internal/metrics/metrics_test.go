package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordersUpdateCollectors(t *testing.T) {
	before := testutil.ToFloat64(eventsProcessed.WithLabelValues("unit_started"))
	RecordEvent("unit_started")
	assert.Equal(t, before+1, testutil.ToFloat64(eventsProcessed.WithLabelValues("unit_started")))

	added := testutil.ToFloat64(treeMutations.WithLabelValues("added"))
	RecordSync(time.Millisecond, 3, 0, 1)
	assert.Equal(t, added+3, testutil.ToFloat64(treeMutations.WithLabelValues("added")))

	RecordReplayed(2)
	SetMailboxDepth(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(mailboxDepth))
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordDiagnostic("analysis")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "arbor_store_diagnostics_reported_total"))
}
