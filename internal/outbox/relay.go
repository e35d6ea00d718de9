// Package outbox drains events that were committed together with their
// triggering row onto the bus.
package outbox

import (
	"context"
	"time"

	"github.com/septivank/certificate-issuance-worker/internal/db"
	"github.com/septivank/certificate-issuance-worker/internal/metrics"
	"go.uber.org/zap"
)

// Store hands out undispatched messages in order.
type Store interface {
	DispatchOutbox(ctx context.Context, limit int, publish func(ctx context.Context, msg db.OutboxMessage) error) (int, error)
}

// Publisher publishes a raw body under a routing key and waits for the
// broker to confirm it.
type Publisher interface {
	PublishRaw(ctx context.Context, routingKey string, messageID string, body []byte) error
}

type Relay struct {
	store        Store
	publisher    Publisher
	pollInterval time.Duration
	batchSize    int
	recorder     metrics.Recorder
	logger       *zap.Logger
}

func NewRelay(store Store, publisher Publisher, pollInterval time.Duration, batchSize int, recorder metrics.Recorder, logger *zap.Logger) *Relay {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		store:        store,
		publisher:    publisher,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		recorder:     recorder,
		logger:       logger.With(zap.String("component", "outbox_relay")),
	}
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// another poll.
func (r *Relay) Run(ctx context.Context) {
	r.logger.Info("outbox relay started",
		zap.Duration("poll_interval", r.pollInterval),
		zap.Int("batch_size", r.batchSize))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return
		case <-timer.C:
		}

		n, err := r.DispatchOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Error("outbox dispatch failed", zap.Error(err))
		}

		next := r.pollInterval
		if err == nil && n == r.batchSize {
			next = 0
		}
		timer.Reset(next)
	}
}

// DispatchOnce publishes one batch and returns how many rows were dispatched.
func (r *Relay) DispatchOnce(ctx context.Context) (int, error) {
	n, err := r.store.DispatchOutbox(ctx, r.batchSize, func(ctx context.Context, msg db.OutboxMessage) error {
		return r.publisher.PublishRaw(ctx, msg.RoutingKey, msg.MessageID.String(), msg.Payload)
	})
	if n > 0 {
		r.recorder.OutboxDispatched(n)
		r.logger.Debug("outbox batch dispatched", zap.Int("count", n))
	}
	return n, err
}
