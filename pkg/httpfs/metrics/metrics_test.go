package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/xrdhttp/curlfs/pkg/httpfs"
)

func TestMetricsOperationStarted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.OperationStarted("GET")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.started.WithLabelValues("GET")))
}

func TestMetricsOperationSucceeded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.OperationSucceeded("GET", 100*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.succeeded.WithLabelValues("GET")))
}

func TestMetricsOperationFailed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.OperationFailed("PUT", httpfs.KindServerError)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.failed.WithLabelValues("PUT", "ServerError")))
}

func TestMetricsQueueDepthAndInFlight(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.QueueDepth(7)
	m.InFlight(3)
	assert.Equal(t, float64(7), testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.inFlight))
}
