package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/septivank/certificate-issuance-worker/internal/contract"
	"github.com/septivank/certificate-issuance-worker/internal/events"
	"github.com/septivank/certificate-issuance-worker/internal/interval"
	"github.com/septivank/certificate-issuance-worker/internal/measurement"
	"github.com/septivank/certificate-issuance-worker/internal/metrics"
	"github.com/septivank/certificate-issuance-worker/internal/repository"
	"github.com/septivank/certificate-issuance-worker/internal/window"
	"github.com/septivank/certificate-issuance-worker/tools/timeparser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const meterID = "571313000000000001"

var anchor = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(offset time.Duration) interval.Timestamp {
	return interval.FromTime(anchor.Add(offset))
}

type memoryWindows struct {
	mu      sync.Mutex
	windows map[string]window.SlidingWindow
	saves   int
	saveErr error
}

func newMemoryWindows(ws ...window.SlidingWindow) *memoryWindows {
	m := &memoryWindows{windows: map[string]window.SlidingWindow{}}
	for _, w := range ws {
		if w.Version == 0 {
			w.Version = 1
		}
		m.windows[w.MeterID] = w
	}
	return m
}

func (m *memoryWindows) GetSlidingWindow(_ context.Context, id string) (window.SlidingWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[id]
	if !ok {
		return window.SlidingWindow{}, repository.ErrNotFound
	}
	return w, nil
}

func (m *memoryWindows) SaveSlidingWindow(_ context.Context, w window.SlidingWindow) (window.SlidingWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return w, m.saveErr
	}
	if stored, ok := m.windows[w.MeterID]; ok && stored.Version != w.Version {
		return w, repository.ErrConcurrencyConflict
	}
	m.saves++
	w.Version++
	m.windows[w.MeterID] = w
	return w, nil
}

type stubSource struct {
	measurements []measurement.Measurement
	err          error
	calls        int
	from, to     interval.Timestamp
}

func (s *stubSource) Query(_ context.Context, _, _ string, from, to interval.Timestamp) ([]measurement.Measurement, error) {
	s.calls++
	s.from, s.to = from, to
	return s.measurements, s.err
}

type recordingEmitter struct {
	published []events.MeasurementPublished
	err       error
}

func (r *recordingEmitter) Emit(_ context.Context, envs ...events.Envelope) error {
	if r.err != nil {
		return r.err
	}
	for _, env := range envs {
		body, err := json.Marshal(env)
		if err != nil {
			return err
		}
		p, _, err := events.Decode[events.MeasurementPublished](body, events.TypeMeasurementPublished)
		if err != nil {
			return err
		}
		r.published = append(r.published, p)
	}
	return nil
}

func reading(from, to time.Duration, qty int64) measurement.Measurement {
	return measurement.Measurement{
		MeterID:  meterID,
		From:     at(from),
		To:       at(to),
		Quantity: qty,
		Quality:  measurement.QualityMeasured,
	}
}

func newTestSync(store *memoryWindows, source *stubSource, emitter *recordingEmitter, boundary timeparser.AgeBoundary, now time.Time) *SyncService {
	s := NewSyncService(store, source, emitter, SyncConfig{MinimumAge: time.Hour, AgeBoundary: boundary}, metrics.Nop{}, zap.NewNop())
	s.now = func() time.Time { return now }
	return s
}

func syncInfo(start interval.Timestamp) contract.SyncInfo {
	return contract.SyncInfo{MeterID: meterID, StartSyncDate: start, Owner: "owner-1", MeterType: contract.MeterTypeProduction}
}

func TestSyncMeterPublishesAndAdvances(t *testing.T) {
	store := newMemoryWindows(window.SlidingWindow{MeterID: meterID, SynchronizationPoint: at(-time.Hour), Missing: interval.MissingSet{}})
	source := &stubSource{measurements: []measurement.Measurement{reading(-time.Hour, 0, 10)}}
	emitter := &recordingEmitter{}

	err := newTestSync(store, source, emitter, timeparser.AgeBoundaryInclusive, anchor.Add(time.Hour)).
		SyncMeter(context.Background(), syncInfo(at(-time.Hour)))

	require.NoError(t, err)
	assert.Equal(t, at(-time.Hour), source.from)
	assert.Equal(t, at(0), source.to)
	require.Len(t, emitter.published, 1)
	assert.Equal(t, int64(10), emitter.published[0].Quantity)

	saved := store.windows[meterID]
	assert.Equal(t, at(0), saved.SynchronizationPoint)
	assert.Empty(t, saved.Missing)
}

func TestSyncMeterRecordsGapForMissingQuantity(t *testing.T) {
	store := newMemoryWindows(window.SlidingWindow{MeterID: meterID, SynchronizationPoint: at(-time.Hour), Missing: interval.MissingSet{}})
	missing := reading(-time.Hour, 0, 0)
	missing.QuantityMissing = true
	source := &stubSource{measurements: []measurement.Measurement{missing}}
	emitter := &recordingEmitter{}

	err := newTestSync(store, source, emitter, timeparser.AgeBoundaryInclusive, anchor.Add(time.Hour)).
		SyncMeter(context.Background(), syncInfo(at(-time.Hour)))

	require.NoError(t, err)
	assert.Empty(t, emitter.published)
	saved := store.windows[meterID]
	assert.Equal(t, at(0), saved.SynchronizationPoint)
	assert.Equal(t, interval.MissingSet{{From: at(-time.Hour), To: at(0)}}, saved.Missing)
}

func TestSyncMeterFillsOneOfTwoGaps(t *testing.T) {
	store := newMemoryWindows(window.SlidingWindow{
		MeterID:              meterID,
		SynchronizationPoint: at(0),
		Missing: interval.MissingSet{
			{From: at(-10 * time.Hour), To: at(-9 * time.Hour)},
			{From: at(-7 * time.Hour), To: at(-6 * time.Hour)},
		},
	})
	source := &stubSource{measurements: []measurement.Measurement{reading(-10*time.Hour, -9*time.Hour, 7)}}
	emitter := &recordingEmitter{}

	err := newTestSync(store, source, emitter, timeparser.AgeBoundaryInclusive, anchor.Add(time.Hour)).
		SyncMeter(context.Background(), syncInfo(at(-24*time.Hour)))

	require.NoError(t, err)
	assert.Equal(t, at(-10*time.Hour), source.from)
	assert.Len(t, emitter.published, 1)
	saved := store.windows[meterID]
	assert.Equal(t, at(0), saved.SynchronizationPoint)
	assert.Equal(t, interval.MissingSet{{From: at(-7 * time.Hour), To: at(-6 * time.Hour)}}, saved.Missing)
}

func TestSyncMeterSkipsWhenNothingIsOldEnough(t *testing.T) {
	store := newMemoryWindows(window.SlidingWindow{MeterID: meterID, SynchronizationPoint: at(0), Missing: interval.MissingSet{}})
	source := &stubSource{}
	emitter := &recordingEmitter{}

	err := newTestSync(store, source, emitter, timeparser.AgeBoundaryInclusive, anchor.Add(30*time.Minute)).
		SyncMeter(context.Background(), syncInfo(at(0)))

	require.NoError(t, err)
	assert.Zero(t, source.calls)
	assert.Zero(t, store.saves)
	assert.Empty(t, emitter.published)
}

func TestSyncMeterAgeBoundary(t *testing.T) {
	// The reading ends exactly MinimumAge before now.
	tests := []struct {
		boundary      timeparser.AgeBoundary
		wantPublished int
		wantSyncPoint interval.Timestamp
	}{
		{timeparser.AgeBoundaryInclusive, 1, at(0)},
		{timeparser.AgeBoundaryStrict, 0, at(-time.Hour)},
	}
	for _, tt := range tests {
		t.Run(string(tt.boundary), func(t *testing.T) {
			store := newMemoryWindows(window.SlidingWindow{MeterID: meterID, SynchronizationPoint: at(-time.Hour), Missing: interval.MissingSet{}})
			source := &stubSource{measurements: []measurement.Measurement{reading(-time.Hour, 0, 10)}}
			emitter := &recordingEmitter{}

			err := newTestSync(store, source, emitter, tt.boundary, anchor.Add(time.Hour)).
				SyncMeter(context.Background(), syncInfo(at(-time.Hour)))

			require.NoError(t, err)
			assert.Len(t, emitter.published, tt.wantPublished)
			assert.Equal(t, tt.wantSyncPoint, store.windows[meterID].SynchronizationPoint)
			assert.Empty(t, store.windows[meterID].Missing)
		})
	}
}

func TestSyncMeterDropsYoungReadings(t *testing.T) {
	store := newMemoryWindows(window.SlidingWindow{MeterID: meterID, SynchronizationPoint: at(-2 * time.Hour), Missing: interval.MissingSet{}})
	source := &stubSource{measurements: []measurement.Measurement{
		reading(-2*time.Hour, -time.Hour, 5),
		reading(-time.Hour, 0, 6),
	}}
	emitter := &recordingEmitter{}

	err := newTestSync(store, source, emitter, timeparser.AgeBoundaryInclusive, anchor.Add(30*time.Minute)).
		SyncMeter(context.Background(), syncInfo(at(-2*time.Hour)))

	require.NoError(t, err)
	require.Len(t, emitter.published, 1)
	assert.Equal(t, int64(5), emitter.published[0].Quantity)
	assert.Equal(t, at(-time.Hour), store.windows[meterID].SynchronizationPoint)
}

func TestSyncMeterCreatesWindowOnTheHour(t *testing.T) {
	store := newMemoryWindows()
	source := &stubSource{measurements: []measurement.Measurement{reading(-2*time.Hour, -time.Hour, 3)}}
	emitter := &recordingEmitter{}

	err := newTestSync(store, source, emitter, timeparser.AgeBoundaryInclusive, anchor.Add(time.Hour)).
		SyncMeter(context.Background(), syncInfo(at(-2*time.Hour+20*time.Minute)))

	require.NoError(t, err)
	assert.Equal(t, at(-2*time.Hour), source.from)
	assert.Len(t, emitter.published, 1)
	saved := store.windows[meterID]
	assert.Equal(t, 1, saved.Version)
	assert.Equal(t, at(-time.Hour), saved.SynchronizationPoint)
}

func TestSyncMeterDoesNotPersistWhenPublishFails(t *testing.T) {
	initial := window.SlidingWindow{MeterID: meterID, SynchronizationPoint: at(-time.Hour), Missing: interval.MissingSet{}}
	store := newMemoryWindows(initial)
	source := &stubSource{measurements: []measurement.Measurement{reading(-time.Hour, 0, 10)}}
	emitter := &recordingEmitter{err: errors.New("broker unreachable")}

	err := newTestSync(store, source, emitter, timeparser.AgeBoundaryInclusive, anchor.Add(time.Hour)).
		SyncMeter(context.Background(), syncInfo(at(-time.Hour)))

	assert.ErrorContains(t, err, "broker unreachable")
	assert.Zero(t, store.saves)
	assert.Equal(t, at(-time.Hour), store.windows[meterID].SynchronizationPoint)
}

func TestSyncMeterFailsWhenPersistFails(t *testing.T) {
	store := newMemoryWindows(window.SlidingWindow{MeterID: meterID, SynchronizationPoint: at(-time.Hour), Missing: interval.MissingSet{}})
	store.saveErr = repository.ErrConcurrencyConflict
	source := &stubSource{measurements: []measurement.Measurement{reading(-time.Hour, 0, 10)}}
	emitter := &recordingEmitter{}

	err := newTestSync(store, source, emitter, timeparser.AgeBoundaryInclusive, anchor.Add(time.Hour)).
		SyncMeter(context.Background(), syncInfo(at(-time.Hour)))

	assert.ErrorIs(t, err, repository.ErrConcurrencyConflict)
}

func TestSyncMeterFetchFailure(t *testing.T) {
	store := newMemoryWindows(window.SlidingWindow{MeterID: meterID, SynchronizationPoint: at(-time.Hour), Missing: interval.MissingSet{}})
	source := &stubSource{err: errors.New("timeout")}

	err := newTestSync(store, source, &recordingEmitter{}, timeparser.AgeBoundaryInclusive, anchor.Add(time.Hour)).
		SyncMeter(context.Background(), syncInfo(at(-time.Hour)))

	assert.ErrorContains(t, err, "timeout")
	assert.Zero(t, store.saves)
}
