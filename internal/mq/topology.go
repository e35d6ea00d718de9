package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// QueueSpec describes one consumer queue and its dead-letter queue.
type QueueSpec struct {
	Name       string
	DLQ        string
	RoutingKey string
}

// NewQueueSpec derives queue and DLQ names from a prefix and stage name.
func NewQueueSpec(prefix, stage, routingKey string) QueueSpec {
	name := prefix + "." + stage
	return QueueSpec{Name: name, DLQ: name + ".dlq", RoutingKey: routingKey}
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	return nil
}

// declareQueue declares spec's queue with dead-lettering into its DLQ and
// binds it to exchange.
func declareQueue(ch *amqp.Channel, exchange string, spec QueueSpec, logger *zap.Logger) error {
	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": spec.DLQ,
	}
	_, err := ch.QueueDeclare(
		spec.Name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		args,
	)
	if err != nil {
		// A failed declare closes the channel; the caller must open a new one.
		logger.Warn("failed to declare queue with DLX", zap.String("queue", spec.Name), zap.Error(err))
		return fmt.Errorf("failed to declare queue %s: %w", spec.Name, err)
	}

	_, err = ch.QueueDeclare(
		spec.DLQ,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ %s: %w", spec.DLQ, err)
	}

	if err := ch.QueueBind(spec.Name, spec.RoutingKey, exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", spec.Name, err)
	}
	return nil
}
