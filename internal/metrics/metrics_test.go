package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveFetch(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveFetch("http", OutcomeFetched, 100, time.Second)
	m.ObserveFetch("http", OutcomeFetched, 50, time.Second)
	m.ObserveFetch("http", OutcomeCached, 999, 0)
	m.ObserveFetch("s3", OutcomeFailed, 0, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.segments.WithLabelValues("http", OutcomeFetched)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.segments.WithLabelValues("http", OutcomeCached)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.segments.WithLabelValues("s3", OutcomeFailed)))

	// Cached bytes are not counted as fetched.
	assert.Equal(t, 150.0, testutil.ToFloat64(m.bytes.WithLabelValues("http")))
}

func TestObserveMerge(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveMerge(nil, time.Millisecond)
	m.ObserveMerge(errors.New("boom"), time.Millisecond)
	m.ObserveMerge(errors.New("boom"), time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.merges.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.merges.WithLabelValues("failed")))
}

func TestInflight(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Inflight(1)
	m.Inflight(1)
	m.Inflight(-1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inflight))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveFetch("http", OutcomeFetched, 1, time.Second)
	m.ObserveMerge(nil, time.Second)
	m.Inflight(1)
}
