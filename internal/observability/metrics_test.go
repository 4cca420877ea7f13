package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RegisterOnFreshRegistry(t *testing.T) {
	m := NewMetricsForTesting()
	reg := prometheus.NewRegistry()

	for _, c := range m.Collectors() {
		require.NoError(t, reg.Register(c))
	}

	m.RecordsByStage.WithLabelValues("parsed").Add(2)
	m.Runs.WithLabelValues("success").Inc()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsByStage.WithLabelValues("parsed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("success")))
}

func TestNewMetricsForTesting_Independent(t *testing.T) {
	a := NewMetricsForTesting()
	b := NewMetricsForTesting()

	a.StoreUpserts.WithLabelValues("inserted").Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.StoreUpserts.WithLabelValues("inserted")))
}

func TestPushToGateway(t *testing.T) {
	var gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, PushToGateway(context.Background(), srv.URL, "event-harvest", "host-1"))
	assert.Equal(t, "/metrics/job/event-harvest/instance/host-1", gotPath)
	assert.NotEmpty(t, gotBody)
}

func TestPushToGateway_Disabled(t *testing.T) {
	assert.NoError(t, PushToGateway(context.Background(), "", "job", ""))
}

func TestPushToGateway_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	assert.Error(t, PushToGateway(context.Background(), srv.URL, "job", ""))
}

func TestSetupTracing_DisabledIsNoop(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), "", "event-harvest", "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
