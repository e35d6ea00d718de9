package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/septivank/certificate-issuance-worker/internal/events"
	"go.uber.org/zap"
)

// Publisher publishes to the topic exchange with publisher confirms: a
// publish returns only after the broker has taken responsibility.
type Publisher struct {
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
	mu       sync.Mutex
}

// NewPublisher opens a confirm-mode channel and declares the exchange.
func NewPublisher(conn *Connection, exchange string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := declareExchange(ch, exchange); err != nil {
		ch.Close()
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	return &Publisher{
		channel:  ch,
		exchange: exchange,
		logger:   logger.With(zap.String("component", "publisher")),
	}, nil
}

// PublishRaw publishes body and waits for the broker's confirmation.
func (p *Publisher) PublishRaw(ctx context.Context, routingKey, messageID string, body []byte) error {
	p.mu.Lock()
	confirmation, err := p.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    messageID,
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for confirm of %s: %w", routingKey, err)
	}
	if !acked {
		return fmt.Errorf("broker nacked %s message %s", routingKey, messageID)
	}

	p.logger.Debug("published event",
		zap.String("routing_key", routingKey),
		zap.String("message_id", messageID),
	)
	return nil
}

// Emit publishes envelopes directly, routed by their type.
func (p *Publisher) Emit(ctx context.Context, envelopes ...events.Envelope) error {
	for _, env := range envelopes {
		body, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		if err := p.PublishRaw(ctx, string(env.Type), env.MessageID.String(), body); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}

var _ events.Emitter = (*Publisher)(nil)
