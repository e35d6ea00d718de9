package mq

import (
	"context"
	"errors"
	"fmt"

	"github.com/alitto/pond/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/septivank/certificate-issuance-worker/internal/logging"
	"github.com/septivank/certificate-issuance-worker/internal/metrics"
	"github.com/septivank/certificate-issuance-worker/internal/retry"
	"go.uber.org/zap"
)

// MessageHandler is a function that processes a message
type MessageHandler func(ctx context.Context, body []byte) error

// Outcome is what the consumer does with a delivery after handling it.
type Outcome int

const (
	OutcomeAck Outcome = iota
	OutcomeRequeue
	OutcomeDeadLetter
)

// Decide maps a handler result to an outcome: success acks, shutdown
// requeues so the message is redelivered after restart, anything else has
// already used its retries and is dead-lettered.
func Decide(ctx context.Context, err error) Outcome {
	switch {
	case err == nil:
		return OutcomeAck
	case ctx.Err() != nil, errors.Is(err, context.Canceled):
		return OutcomeRequeue
	default:
		return OutcomeDeadLetter
	}
}

// Consumer handles message consumption from RabbitMQ
type Consumer struct {
	channel       *amqp.Channel
	spec          QueueSpec
	prefetchCount int
	workers       int
	runner        *retry.Runner
	recorder      metrics.Recorder
	logger        *zap.Logger
	handler       MessageHandler
	pool          pond.Pool
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Connection    *Connection
	Exchange      string
	Queue         QueueSpec
	PrefetchCount int
	Workers       int
	Runner        *retry.Runner
	Recorder      metrics.Recorder
	Logger        *zap.Logger
	Handler       MessageHandler
}

// NewConsumer opens a channel, declares the queue topology and returns a
// consumer ready to Start.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	ch, err := cfg.Connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	if err := declareExchange(ch, cfg.Exchange); err != nil {
		ch.Close()
		return nil, err
	}

	if err := declareQueue(ch, cfg.Exchange, cfg.Queue, cfg.Logger); err != nil {
		ch.Close()
		return nil, err
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Consumer{
		channel:       ch,
		spec:          cfg.Queue,
		prefetchCount: cfg.PrefetchCount,
		workers:       workers,
		runner:        cfg.Runner,
		recorder:      cfg.Recorder,
		logger:        cfg.Logger.With(zap.String("queue", cfg.Queue.Name)),
		handler:       cfg.Handler,
	}, nil
}

// Start starts consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.spec.Name,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.pool = pond.NewPool(c.workers, pond.WithContext(ctx))

	c.logger.Info("consumer started",
		zap.Int("prefetch", c.prefetchCount),
		zap.Int("workers", c.workers),
	)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("consumer context cancelled, stopping")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn("message channel closed")
					return
				}
				c.pool.Submit(func() {
					c.processMessage(ctx, msg)
				})
			}
		}
	}()

	return nil
}

func (c *Consumer) processMessage(ctx context.Context, msg amqp.Delivery) {
	logger := logging.WithRequestID(c.logger, msg.MessageId)
	logger.Debug("received message from queue",
		zap.String("routing_key", msg.RoutingKey),
		zap.Int("body_size", len(msg.Body)),
	)

	err := c.runner.Run(ctx, func(ctx context.Context) error {
		return c.handler(ctx, msg.Body)
	})

	switch Decide(ctx, err) {
	case OutcomeAck:
		if ackErr := msg.Ack(false); ackErr != nil {
			logger.Error("failed to ACK message", zap.Error(ackErr))
		}
	case OutcomeRequeue:
		logger.Info("handler interrupted by shutdown, requeueing", zap.Error(err))
		if nackErr := msg.Nack(false, true); nackErr != nil {
			logger.Error("failed to NACK message", zap.Error(nackErr))
		}
	case OutcomeDeadLetter:
		logger.Error("failed to process message",
			zap.Error(err),
			zap.String("routing_key", msg.RoutingKey),
			zap.Stringer("failure", retry.Classify(err)),
		)
		c.recorder.MessageDeadLettered(c.spec.Name)
		// NACK with requeue=false sends to DLQ
		if nackErr := msg.Nack(false, false); nackErr != nil {
			logger.Error("failed to NACK message", zap.Error(nackErr))
		}
	}
}

// Close stops the worker pool and closes the consumer channel. In-flight
// handlers see their context cancelled and requeue.
func (c *Consumer) Close() error {
	if c.pool != nil {
		c.pool.StopAndWait()
	}
	if c.channel != nil {
		return c.channel.Close()
	}
	return nil
}
