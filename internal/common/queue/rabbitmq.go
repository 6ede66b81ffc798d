// Package queue is the RabbitMQ transport for lead events.
package queue

import (
	"context"
	"fmt"
	"time"

	"crm-lead-workers/internal/common/config"
	"crm-lead-workers/internal/common/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName = "ex.leads"
	QueueName    = "q.lead-automations"
	DLQName      = "q.lead-automations.dlq"
	DLXName      = "ex.leads.dlx"
	RoutingKey   = "k.lead-event"
)

// topologyChannel is the part of *amqp.Channel used to declare topology.
type topologyChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

type RabbitMQ struct {
	Conn *amqp.Connection
	Ch   *amqp.Channel
}

func NewRabbitMQ(cfg config.RabbitMQConfig) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.GetURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := setupTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare topology: %w", err)
	}

	return &RabbitMQ{Conn: conn, Ch: ch}, nil
}

// setupTopology declares the work queue with a dead letter exchange so
// rejected messages land in DLQName instead of being dropped.
func setupTopology(ch topologyChannel) error {
	if err := ch.ExchangeDeclare(DLXName, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(DLQName, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.QueueBind(DLQName, RoutingKey, DLXName, false, nil); err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(ExchangeName, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    DLXName,
		"x-dead-letter-routing-key": RoutingKey,
	}
	if _, err := ch.QueueDeclare(QueueName, true, false, false, false, args); err != nil {
		return err
	}
	return ch.QueueBind(QueueName, RoutingKey, ExchangeName, false, nil)
}

// Publish sends a persistent JSON message to the lead exchange.
func (r *RabbitMQ) Publish(ctx context.Context, messageType, messageID string, body []byte) error {
	return r.Ch.PublishWithContext(ctx,
		ExchangeName,
		RoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Type:         messageType,
			MessageId:    messageID,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
}

// Deliveries starts a manual-ack consumer on QueueName.
func (r *RabbitMQ) Deliveries(prefetch int, consumer string) (<-chan amqp.Delivery, error) {
	if err := r.Ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}
	msgs, err := r.Ch.Consume(QueueName, consumer, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}
	return msgs, nil
}

func (r *RabbitMQ) Ping() error {
	if r.Conn == nil || r.Conn.IsClosed() {
		return fmt.Errorf("rabbitmq connection closed")
	}
	return nil
}

func (r *RabbitMQ) Close() error {
	if r.Ch != nil {
		r.Ch.Close()
	}
	if r.Conn != nil {
		return r.Conn.Close()
	}
	return nil
}

// MessageHandler processes one message body.
type MessageHandler func(ctx context.Context, body []byte) error

// Serve acks each delivery the handler accepts and rejects the rest without
// requeue, which routes them to the dead letter queue. It returns when ctx is
// done or the delivery channel closes.
func Serve(ctx context.Context, deliveries <-chan amqp.Delivery, handle MessageHandler, log logger.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				log.Warn("delivery channel closed", nil)
				return
			}
			if err := handle(ctx, d.Body); err != nil {
				log.Error("message rejected", map[string]interface{}{
					"messageId": d.MessageId,
					"error":     err,
				})
				if nackErr := d.Nack(false, false); nackErr != nil {
					log.Error("nack failed", map[string]interface{}{"error": nackErr})
				}
				continue
			}
			if ackErr := d.Ack(false); ackErr != nil {
				log.Error("ack failed", map[string]interface{}{"error": ackErr})
			}
		}
	}
}
