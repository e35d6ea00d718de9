package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/septivank/certificate-issuance-worker/internal/contract"
	"github.com/septivank/certificate-issuance-worker/internal/events"
	"github.com/septivank/certificate-issuance-worker/internal/interval"
	"github.com/septivank/certificate-issuance-worker/internal/logging"
	"github.com/septivank/certificate-issuance-worker/internal/measurement"
	"github.com/septivank/certificate-issuance-worker/internal/metrics"
	"github.com/septivank/certificate-issuance-worker/internal/repository"
	"github.com/septivank/certificate-issuance-worker/internal/window"
	"github.com/septivank/certificate-issuance-worker/tools/timeparser"
	"go.uber.org/zap"
)

// WindowStore persists sliding windows with optimistic concurrency.
type WindowStore interface {
	GetSlidingWindow(ctx context.Context, meterID string) (window.SlidingWindow, error)
	SaveSlidingWindow(ctx context.Context, w window.SlidingWindow) (window.SlidingWindow, error)
}

// SyncConfig holds the aging rule for measurements.
type SyncConfig struct {
	MinimumAge  time.Duration
	AgeBoundary timeparser.AgeBoundary
}

// SyncService runs one synchronization tick for a meter.
type SyncService struct {
	windows   WindowStore
	source    measurement.Source
	publisher events.Emitter
	cfg       SyncConfig
	recorder  metrics.Recorder
	logger    *zap.Logger
	now       func() time.Time
}

// NewSyncService creates a new sync service
func NewSyncService(
	windows WindowStore,
	source measurement.Source,
	publisher events.Emitter,
	cfg SyncConfig,
	recorder metrics.Recorder,
	logger *zap.Logger,
) *SyncService {
	return &SyncService{
		windows:   windows,
		source:    source,
		publisher: publisher,
		cfg:       cfg,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
	}
}

// SyncMeter fetches what is old enough since the window's fetch start,
// publishes qualifying readings and then stores the advanced window.
// Nothing is stored unless every publish succeeded.
func (s *SyncService) SyncMeter(ctx context.Context, info contract.SyncInfo) error {
	logger := logging.WithMeter(s.logger, info.MeterID)

	w, err := s.windows.GetSlidingWindow(ctx, info.MeterID)
	if errors.Is(err, repository.ErrNotFound) {
		w = window.Create(info.MeterID, info.StartSyncDate)
		logger.Info("creating sliding window", zap.Stringer("synchronization_point", w.SynchronizationPoint))
	} else if err != nil {
		return fmt.Errorf("failed to load sliding window: %w", err)
	}

	now := s.now().UTC()
	fetchFrom := window.GetFetchIntervalStart(w)
	fetchTo := interval.Min(interval.FromTime(now), interval.FromTime(now.Add(-s.cfg.MinimumAge)))
	if fetchFrom >= fetchTo {
		logger.Debug("nothing old enough to fetch",
			zap.Stringer("fetch_from", fetchFrom),
			zap.Stringer("fetch_to", fetchTo))
		s.recorder.SyncTickSkipped("empty_range")
		return nil
	}

	fetched, err := s.source.Query(ctx, info.Owner, info.MeterID, fetchFrom, fetchTo)
	if err != nil {
		return fmt.Errorf("failed to fetch measurements: %w", err)
	}

	aged := make([]measurement.Measurement, 0, len(fetched))
	newSyncPoint := w.SynchronizationPoint
	for _, m := range fetched {
		if !timeparser.IsOldEnough(m.To.Time(), now, s.cfg.MinimumAge, s.cfg.AgeBoundary) {
			continue
		}
		aged = append(aged, m)
		newSyncPoint = interval.Max(newSyncPoint, m.To)
	}

	publishable := window.FilterMeasurements(w, aged)
	for _, m := range publishable {
		env := events.Must(events.TypeMeasurementPublished, events.NewMeasurementPublished(m))
		if err := s.publisher.Emit(ctx, env); err != nil {
			return fmt.Errorf("failed to publish measurement %s: %w", m.Interval(), err)
		}
	}

	updated := window.UpdateSlidingWindow(w, aged, newSyncPoint)
	if _, err := s.windows.SaveSlidingWindow(ctx, updated); err != nil {
		return fmt.Errorf("failed to save sliding window: %w", err)
	}

	s.recorder.MeasurementsPublished(len(publishable))
	logger.Info("meter synchronized",
		zap.Int("fetched", len(fetched)),
		zap.Int("published", len(publishable)),
		zap.Stringer("synchronization_point", updated.SynchronizationPoint),
		zap.Int("missing_intervals", len(updated.Missing)),
	)
	return nil
}
