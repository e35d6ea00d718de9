// Package window implements the per-meter sliding window: how far the
// measurement stream has been consumed and which sub-intervals before that
// point are still missing.
//
// All functions are pure. The caller loads a window, applies them and writes
// the result back.
package window

import (
	"github.com/septivank/certificate-issuance-worker/internal/interval"
	"github.com/septivank/certificate-issuance-worker/internal/measurement"
)

// SlidingWindow is the synchronization state for one meter.
//
// SynchronizationPoint never decreases and every Missing entry lies before it.
type SlidingWindow struct {
	MeterID              string
	SynchronizationPoint interval.Timestamp
	Missing              interval.MissingSet

	// Version is the stored row version used for optimistic concurrency.
	// Zero means the window has not been persisted yet.
	Version int
}

// Create starts a window for a meter that has never been synchronized.
// The synchronization point starts on the hour at or before start.
func Create(meterID string, start interval.Timestamp) SlidingWindow {
	return SlidingWindow{
		MeterID:              meterID,
		SynchronizationPoint: start.RoundToLatestHour(),
		Missing:              interval.MissingSet{},
	}
}

// GetFetchIntervalStart is the earliest point the sync worker must request:
// the start of the oldest missing interval, or the synchronization point when
// nothing is missing.
func GetFetchIntervalStart(w SlidingWindow) interval.Timestamp {
	if earliest, ok := w.Missing.Earliest(); ok {
		return interval.Min(w.SynchronizationPoint, earliest)
	}
	return w.SynchronizationPoint
}

// FilterMeasurements keeps measurements that are new (at or after the
// synchronization point) or that fall entirely inside a missing interval.
// Readings flagged QuantityMissing are never returned.
func FilterMeasurements(w SlidingWindow, measurements []measurement.Measurement) []measurement.Measurement {
	out := make([]measurement.Measurement, 0, len(measurements))
	for _, m := range measurements {
		if m.QuantityMissing {
			continue
		}
		if m.From >= w.SynchronizationPoint {
			out = append(out, m)
			continue
		}
		if _, ok := m.Interval().FindFirstContaining(w.Missing); ok {
			out = append(out, m)
		}
	}
	return out
}

// UpdateSlidingWindow advances the window to newSyncPoint. Every sub-span of
// the existing missing intervals and of [SynchronizationPoint, newSyncPoint)
// that is not covered by a reading with a quantity stays or becomes missing.
// Spans covered in an earlier run are not reopened. A newSyncPoint behind the
// current point leaves the point where it is.
func UpdateSlidingWindow(w SlidingWindow, measurements []measurement.Measurement, newSyncPoint interval.Timestamp) SlidingWindow {
	target := interval.Max(newSyncPoint, w.SynchronizationPoint)

	candidates := interval.Normalize(w.Missing)
	if target > w.SynchronizationPoint {
		candidates = candidates.Union([]interval.Interval{{From: w.SynchronizationPoint, To: target}})
	}

	covered := make([]interval.Interval, 0, len(measurements))
	for _, m := range measurements {
		if m.QuantityMissing || m.From >= m.To {
			continue
		}
		covered = append(covered, m.Interval())
	}

	return SlidingWindow{
		MeterID:              w.MeterID,
		SynchronizationPoint: target,
		Missing:              candidates.Subtract(covered),
		Version:              w.Version,
	}
}
