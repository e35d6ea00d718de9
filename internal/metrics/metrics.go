// Package metrics defines the counters the pipeline reports. Components take
// a Recorder; the host decides whether it is backed by Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Recorder interface {
	MeasurementsPublished(n int)
	SyncTickSkipped(reason string)
	SyncTickCompleted(d time.Duration, err error)
	CertificateCreated(meterType string)
	CertificateIssued(meterType string)
	CertificateRejected(meterType string)
	SliceDelivered()
	RetryScheduled(policy string)
	MessageDeadLettered(queue string)
	OutboxDispatched(n int)
}

// Nop discards everything.
type Nop struct{}

func (Nop) MeasurementsPublished(int)              {}
func (Nop) SyncTickSkipped(string)                 {}
func (Nop) SyncTickCompleted(time.Duration, error) {}
func (Nop) CertificateCreated(string)              {}
func (Nop) CertificateIssued(string)               {}
func (Nop) CertificateRejected(string)             {}
func (Nop) SliceDelivered()                        {}
func (Nop) RetryScheduled(string)                  {}
func (Nop) MessageDeadLettered(string)             {}
func (Nop) OutboxDispatched(int)                   {}

const namespace = "certificate_issuance"

// Prometheus records into collectors registered on the given registerer.
type Prometheus struct {
	measurementsPublished prometheus.Counter
	syncTicksSkipped      *prometheus.CounterVec
	syncTickDuration      *prometheus.HistogramVec
	certificates          *prometheus.CounterVec
	slicesDelivered       prometheus.Counter
	retries               *prometheus.CounterVec
	deadLettered          *prometheus.CounterVec
	outboxDispatched      prometheus.Counter
}

func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		measurementsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_published_total",
			Help:      "Measurements published by the sync worker.",
		}),
		syncTicksSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_ticks_skipped_total",
			Help:      "Sync ticks that did no work.",
		}, []string{"reason"}),
		syncTickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_tick_duration_seconds",
			Help:      "Duration of a single meter sync tick.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		certificates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "certificates_total",
			Help:      "Certificate state transitions.",
		}, []string{"state", "meter_type"}),
		slicesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_slices_delivered_total",
			Help:      "Slices accepted by a wallet.",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Handler retries by policy.",
		}, []string{"policy"}),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dead_lettered_total",
			Help:      "Deliveries rejected into a dead-letter queue.",
		}, []string{"queue"}),
		outboxDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_dispatched_total",
			Help:      "Outbox rows published to the bus.",
		}),
	}
	reg.MustRegister(
		p.measurementsPublished,
		p.syncTicksSkipped,
		p.syncTickDuration,
		p.certificates,
		p.slicesDelivered,
		p.retries,
		p.deadLettered,
		p.outboxDispatched,
	)
	return p
}

func (p *Prometheus) MeasurementsPublished(n int) {
	p.measurementsPublished.Add(float64(n))
}

func (p *Prometheus) SyncTickSkipped(reason string) {
	p.syncTicksSkipped.WithLabelValues(reason).Inc()
}

func (p *Prometheus) SyncTickCompleted(d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.syncTickDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (p *Prometheus) CertificateCreated(meterType string) {
	p.certificates.WithLabelValues("creating", meterType).Inc()
}

func (p *Prometheus) CertificateIssued(meterType string) {
	p.certificates.WithLabelValues("issued", meterType).Inc()
}

func (p *Prometheus) CertificateRejected(meterType string) {
	p.certificates.WithLabelValues("rejected", meterType).Inc()
}

func (p *Prometheus) SliceDelivered() {
	p.slicesDelivered.Inc()
}

func (p *Prometheus) RetryScheduled(policy string) {
	p.retries.WithLabelValues(policy).Inc()
}

func (p *Prometheus) MessageDeadLettered(queue string) {
	p.deadLettered.WithLabelValues(queue).Inc()
}

func (p *Prometheus) OutboxDispatched(n int) {
	p.outboxDispatched.Add(float64(n))
}
