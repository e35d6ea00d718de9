package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/robfig/cron/v3"
	"github.com/septivank/certificate-issuance-worker/internal/contract"
	"github.com/septivank/certificate-issuance-worker/internal/interval"
	"github.com/septivank/certificate-issuance-worker/internal/lock"
	"github.com/septivank/certificate-issuance-worker/internal/logging"
	"github.com/septivank/certificate-issuance-worker/internal/metrics"
	"github.com/septivank/certificate-issuance-worker/internal/retry"
	"go.uber.org/zap"
)

// MeterSyncer runs one tick for one meter.
type MeterSyncer interface {
	SyncMeter(ctx context.Context, info contract.SyncInfo) error
}

// ActiveContracts lists contracts active at a point in time.
type ActiveContracts interface {
	ListActive(ctx context.Context, at interval.Timestamp) ([]contract.IssuingContract, error)
}

// Scheduler fans every actively synchronized meter out to a worker pool on a
// cron schedule. A meter whose lock is held elsewhere is skipped this run.
type Scheduler struct {
	contracts ActiveContracts
	syncer    MeterSyncer
	locker    lock.Locker
	runner    *retry.Runner
	pool      pond.Pool
	spec      string
	runBudget time.Duration
	recorder  metrics.Recorder
	logger    *zap.Logger
	cron      *cron.Cron
}

// SchedulerConfig holds scheduling parameters.
type SchedulerConfig struct {
	Spec      string
	Workers   int
	RunBudget time.Duration
}

func NewScheduler(
	contracts ActiveContracts,
	syncer MeterSyncer,
	locker lock.Locker,
	runner *retry.Runner,
	cfg SchedulerConfig,
	recorder metrics.Recorder,
	logger *zap.Logger,
) *Scheduler {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{
		contracts: contracts,
		syncer:    syncer,
		locker:    locker,
		runner:    runner,
		pool:      pond.NewPool(workers),
		spec:      cfg.Spec,
		runBudget: cfg.RunBudget,
		recorder:  recorder,
		logger:    logger.With(zap.String("component", "sync_scheduler")),
	}
}

// Start registers the cron job and starts the scheduler. Runs that overrun
// the schedule make the next one skip.
func (s *Scheduler) Start(ctx context.Context) error {
	cl := cronLogger{s.logger.Sugar()}
	s.cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	_, err := s.cron.AddFunc(s.spec, func() {
		runCtx := ctx
		if s.runBudget > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, s.runBudget)
			defer cancel()
		}
		if err := s.RunOnce(runCtx); err != nil {
			s.logger.Error("sync run failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", s.spec, err)
	}

	s.cron.Start()
	s.logger.Info("sync scheduler started", zap.String("schedule", s.spec))
	return nil
}

// Stop waits for a running sync pass to finish and drains the pool.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.pool.StopAndWait()
	s.logger.Info("sync scheduler stopped")
}

// RunOnce synchronizes every meter with an active contract.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	contracts, err := s.contracts.ListActive(ctx, interval.Now())
	if err != nil {
		return fmt.Errorf("failed to list active contracts: %w", err)
	}
	infos := contract.SyncInfosFromContracts(contracts)

	group := s.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, info := range infos {
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			s.syncOne(groupCtx, info)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return err
	}
	s.logger.Debug("sync run finished", zap.Int("meters", len(infos)))
	return nil
}

func (s *Scheduler) syncOne(ctx context.Context, info contract.SyncInfo) {
	logger := logging.WithMeter(s.logger, info.MeterID)

	unlock, err := s.locker.TryLock(ctx, "sync:"+info.MeterID)
	if errors.Is(err, lock.ErrNotAcquired) {
		logger.Debug("meter sync already running elsewhere")
		s.recorder.SyncTickSkipped("locked")
		return
	}
	if err != nil {
		logger.Warn("failed to lock meter", zap.Error(err))
		return
	}
	defer unlock()

	start := time.Now()
	err = s.runner.Run(ctx, func(ctx context.Context) error {
		return s.syncer.SyncMeter(ctx, info)
	})
	s.recorder.SyncTickCompleted(time.Since(start), err)
	if err != nil {
		logger.Error("meter sync failed", zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
