// Package measurement models metering data as delivered by the measurement
// source and the client used to fetch it.
package measurement

import (
	"context"

	"github.com/septivank/certificate-issuance-worker/internal/interval"
)

// Quality describes how a quantity was obtained by the grid operator.
type Quality string

const (
	QualityMeasured   Quality = "measured"
	QualityRevised    Quality = "revised"
	QualityCalculated Quality = "calculated"
	QualityEstimated  Quality = "estimated"
)

// Measurement is a single reading for a meter over [From, To).
type Measurement struct {
	MeterID         string             `json:"meterId"`
	From            interval.Timestamp `json:"from"`
	To              interval.Timestamp `json:"to"`
	Quantity        int64              `json:"quantity"`
	QuantityMissing bool               `json:"quantityMissing"`
	Quality         Quality            `json:"quality"`
}

// Interval returns the period the reading covers.
func (m Measurement) Interval() interval.Interval {
	return interval.Interval{From: m.From, To: m.To}
}

// Source fetches measurements for a meter over [from, to).
type Source interface {
	Query(ctx context.Context, owner, meterID string, from, to interval.Timestamp) ([]Measurement, error)
}
