package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg)

	p.MeasurementsPublished(3)
	p.CertificateIssued("production")
	p.CertificateIssued("production")
	p.RetryScheduled("registry-pending")
	p.SyncTickCompleted(time.Second, errors.New("boom"))

	assert.Equal(t, 3.0, testutil.ToFloat64(p.measurementsPublished))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.certificates.WithLabelValues("issued", "production")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.retries.WithLabelValues("registry-pending")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNopSatisfiesRecorder(t *testing.T) {
	var r Recorder = Nop{}
	r.SliceDelivered()
}
