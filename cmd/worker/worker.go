package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/septivank/certificate-issuance-worker/internal/config"
	"github.com/septivank/certificate-issuance-worker/internal/db"
	"github.com/septivank/certificate-issuance-worker/internal/events"
	"github.com/septivank/certificate-issuance-worker/internal/issuance"
	"github.com/septivank/certificate-issuance-worker/internal/lock"
	"github.com/septivank/certificate-issuance-worker/internal/measurement"
	"github.com/septivank/certificate-issuance-worker/internal/metrics"
	"github.com/septivank/certificate-issuance-worker/internal/mq"
	"github.com/septivank/certificate-issuance-worker/internal/outbox"
	"github.com/septivank/certificate-issuance-worker/internal/registry"
	"github.com/septivank/certificate-issuance-worker/internal/repository"
	"github.com/septivank/certificate-issuance-worker/internal/retry"
	"github.com/septivank/certificate-issuance-worker/internal/server"
	"github.com/septivank/certificate-issuance-worker/internal/service"
	"github.com/septivank/certificate-issuance-worker/internal/validator"
	"github.com/septivank/certificate-issuance-worker/internal/wallet"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// stage binds one saga handler to the events it consumes.
type stage struct {
	name       string
	routingKey events.Type
	handler    mq.MessageHandler
}

type stageHandlers struct {
	fx.In

	Trigger   *issuance.Trigger
	Submitter *issuance.Submitter
	Poller    *issuance.StatusPoller
	Issued    *issuance.IssuedMarker
	Rejected  *issuance.RejectionMarker
	Delivery  *issuance.WalletDelivery
}

func (h stageHandlers) stages() []stage {
	return []stage{
		{"issuance-trigger", events.TypeMeasurementPublished, h.Trigger.Handle},
		{"registry-submission", events.TypeCertificateCreated, h.Submitter.Handle},
		{"registry-status", events.TypeCertificateSentToRegistry, h.Poller.Handle},
		{"mark-issued", events.TypeCertificateIssuedInRegistry, h.Issued.Handle},
		{"mark-rejected", events.TypeCertificateFailedInRegistry, h.Rejected.Handle},
		{"wallet-delivery", events.TypeCertificateMarkedAsIssued, h.Delivery.Handle},
	}
}

// startConsumers declares one queue per saga stage and consumes it until
// shutdown.
func startConsumers(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	runner *retry.Runner,
	recorder metrics.Recorder,
	logger *zap.Logger,
	handlers stageHandlers,
) error {
	// Create context for consumers that will be cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	consumers := make([]*mq.Consumer, 0, 6)
	for _, st := range handlers.stages() {
		consumer, err := mq.NewConsumer(mq.ConsumerConfig{
			Connection:    conn,
			Exchange:      cfg.RabbitMQ.Exchange,
			Queue:         mq.NewQueueSpec(cfg.RabbitMQ.QueuePrefix, st.name, string(st.routingKey)),
			PrefetchCount: cfg.RabbitMQ.PrefetchCount,
			Workers:       cfg.RabbitMQ.Workers,
			Runner:        runner,
			Recorder:      recorder,
			Logger:        logger.With(zap.String("stage", st.name)),
			Handler:       st.handler,
		})
		if err != nil {
			cancel()
			for _, c := range consumers {
				_ = c.Close()
			}
			return fmt.Errorf("failed to create %s consumer: %w", st.name, err)
		}
		consumers = append(consumers, consumer)
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			for _, c := range consumers {
				if err := c.Start(ctx); err != nil {
					return err
				}
			}
			logger.Info("saga consumers started",
				zap.Int("stages", len(consumers)),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			var firstErr error
			for _, c := range consumers {
				if err := c.Close(); err != nil {
					logger.Error("failed to close consumer", zap.Error(err))
					if firstErr == nil {
						firstErr = err
					}
				}
			}
			logger.Info("saga consumers stopped")
			return firstErr
		},
	})
	return nil
}

// startRelay runs the outbox relay for the lifetime of the application.
func startRelay(lc fx.Lifecycle, relay *outbox.Relay) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				relay.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

// startScheduler runs the meter sync schedule unless it is disabled.
func startScheduler(lc fx.Lifecycle, cfg *config.Config, scheduler *service.Scheduler, logger *zap.Logger) {
	if !cfg.Sync.Enabled {
		logger.Info("sync scheduler disabled")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return scheduler.Start(ctx)
		},
		OnStop: func(context.Context) error {
			cancel()
			scheduler.Stop()
			return nil
		},
	})
}

func startHTTPServer(lc fx.Lifecycle, cfg *config.Config, handler http.Handler, logger *zap.Logger) {
	server.Start(lc, fmt.Sprintf(":%d", cfg.ServicePort), handler, logger)
}

// ProvideMetrics creates the registry served on /metrics and the recorder
// injected into components
func ProvideMetrics() (*prometheus.Registry, metrics.Recorder) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewPrometheus(reg)
}

// ProvideHTTPHandler creates the health and metrics router
func ProvideHTTPHandler(reg *prometheus.Registry, repo *repository.Repository, conn *mq.Connection, logger *zap.Logger) http.Handler {
	return server.NewRouter(reg, []server.Check{
		{Name: "postgres", Check: repo.Ping},
		{Name: "rabbitmq", Check: func(context.Context) error {
			if conn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}},
	}, logger)
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL, cfg.Database.MaxConns)
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvidePublisher creates the confirming publisher used by the outbox relay
func ProvidePublisher(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.Exchange, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}

// ProvideRelay creates the outbox relay
func ProvideRelay(repo *repository.Repository, publisher *mq.Publisher, cfg *config.Config, recorder metrics.Recorder, logger *zap.Logger) *outbox.Relay {
	return outbox.NewRelay(repo, publisher, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize, recorder, logger)
}

// ProvideRunner creates the retry runner shared by consumers and the scheduler
func ProvideRunner(cfg *config.Config, recorder metrics.Recorder, logger *zap.Logger) *retry.Runner {
	return retry.NewRunner(
		retry.IncrementalPolicy(cfg.Retry.MaxAttempts, cfg.Retry.InitialInterval, cfg.Retry.Increment, cfg.Retry.MaxInterval),
		retry.PendingPolicy(cfg.Retry.PendingMaxAttempts, cfg.Retry.PendingInterval),
		recorder,
		logger,
	)
}

// ProvideLocker uses redis leases when REDIS_URL is set and an in-process
// lock table otherwise
func ProvideLocker(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (lock.Locker, error) {
	if cfg.Redis.URL == "" {
		logger.Info("REDIS_URL not set, using in-process meter locks")
		return lock.NewLocal(), nil
	}
	client, err := lock.NewRedisClient(context.Background(), cfg.Redis.URL, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return lock.NewRedis(client, cfg.ServiceName+":lock:", cfg.Redis.LockTTL, logger), nil
}

// ProvideSyncService creates the per-meter sync service. Measurements go
// through the outbox like every other event.
func ProvideSyncService(repo *repository.Repository, cfg *config.Config, recorder metrics.Recorder, logger *zap.Logger) *service.SyncService {
	source := measurement.NewClient(cfg.Measurement.BaseURL, cfg.Measurement.Timeout, logger)
	return service.NewSyncService(repo, source, repo, service.SyncConfig{
		MinimumAge:  cfg.Sync.MinimumAge,
		AgeBoundary: cfg.Sync.AgeBoundary,
	}, recorder, logger)
}

// ProvideScheduler creates the cron-driven sync scheduler
func ProvideScheduler(
	repo *repository.Repository,
	syncer *service.SyncService,
	locker lock.Locker,
	runner *retry.Runner,
	cfg *config.Config,
	recorder metrics.Recorder,
	logger *zap.Logger,
) *service.Scheduler {
	return service.NewScheduler(repo, syncer, locker, runner, service.SchedulerConfig{
		Spec:      cfg.Sync.Schedule,
		Workers:   cfg.Sync.Workers,
		RunBudget: cfg.Sync.RunBudget,
	}, recorder, logger)
}

// ProvideIssuer parses the grid area issuer keys
func ProvideIssuer(cfg *config.Config) (*registry.Issuer, error) {
	keys, err := registry.ParseIssuerKeys(cfg.Registry.IssuerKeys)
	if err != nil {
		return nil, err
	}
	return registry.NewIssuer(cfg.Registry.Name, keys), nil
}

// ProvideRegistryClient creates the registry RPC client
func ProvideRegistryClient(cfg *config.Config, logger *zap.Logger) *registry.Client {
	return registry.NewClient(cfg.Registry.BaseURL, cfg.Registry.Timeout, logger)
}

// ProvideWalletClient creates the wallet deposit client
func ProvideWalletClient(cfg *config.Config, logger *zap.Logger) *wallet.Client {
	return wallet.NewClient(cfg.Wallet.Timeout, logger)
}

func ProvideTrigger(repo *repository.Repository, recorder metrics.Recorder, logger *zap.Logger) *issuance.Trigger {
	return issuance.NewTrigger(repo, repo, validator.NewValidator(), recorder, logger)
}

func ProvideSubmitter(issuer *registry.Issuer, client *registry.Client, repo *repository.Repository, logger *zap.Logger) *issuance.Submitter {
	return issuance.NewSubmitter(issuer, client, repo, logger)
}

func ProvideStatusPoller(client *registry.Client, repo *repository.Repository, logger *zap.Logger) *issuance.StatusPoller {
	return issuance.NewStatusPoller(client, repo, logger)
}

func ProvideIssuedMarker(repo *repository.Repository, issuer *registry.Issuer, recorder metrics.Recorder, logger *zap.Logger) *issuance.IssuedMarker {
	return issuance.NewIssuedMarker(repo, issuer.Registry(), recorder, logger)
}

func ProvideRejectionMarker(repo *repository.Repository, recorder metrics.Recorder, logger *zap.Logger) *issuance.RejectionMarker {
	return issuance.NewRejectionMarker(repo, recorder, logger)
}

func ProvideWalletDelivery(client *wallet.Client, repo *repository.Repository, recorder metrics.Recorder, logger *zap.Logger) *issuance.WalletDelivery {
	return issuance.NewWalletDelivery(client, repo, recorder, logger)
}
