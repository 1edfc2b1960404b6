package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prudhvinik1/offlinesync/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initForTest(t *testing.T) {
	t.Helper()
	InitMetrics(prometheus.Labels{"backend": "test"})
}

// TestObserveRound tests the round counter by outcome
func TestObserveRound(t *testing.T) {
	initForTest(t)
	before := testutil.ToFloat64(syncRoundsTotal.WithLabelValues(OutcomeWalkExpired))

	ObserveRound(OutcomeWalkExpired, 5*time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(syncRoundsTotal.WithLabelValues(OutcomeWalkExpired)))
}

// TestAddMerged tests that empty batches leave no series behind
func TestAddMerged(t *testing.T) {
	initForTest(t)
	series := testutil.CollectAndCount(mergedEntities)

	AddMerged("attachment", MergeRejected, 0)
	assert.Equal(t, series, testutil.CollectAndCount(mergedEntities))

	before := testutil.ToFloat64(mergedEntities.WithLabelValues("owned_record", MergeInserted))
	AddMerged("owned_record", MergeInserted, 3)
	assert.Equal(t, before+3, testutil.ToFloat64(mergedEntities.WithLabelValues("owned_record", MergeInserted)))
}

// TestWrapStore tests that store calls are timed and passed through
func TestWrapStore(t *testing.T) {
	initForTest(t)
	store := WrapStore(repositories.NewMemoryEntityStore())

	// ACT
	version, err := store.MaxVersion(context.Background())

	// ASSERT
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(StoreLatency, "offlinesync_store_latency_seconds"), 1)
}

// TestMiddleware tests request counting by method and status
func TestMiddleware(t *testing.T) {
	initForTest(t)
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPut, "201"))
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/global/a/b", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPut, "201")))
}
