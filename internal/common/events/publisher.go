package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	apperrors "crm-lead-workers/internal/common/errors"
	"crm-lead-workers/internal/common/logger"
	"crm-lead-workers/internal/common/metrics"
)

// Publisher delivers a lead event to the dispatcher side.
type Publisher interface {
	Publish(ctx context.Context, event LeadEvent) error
}

// AsyncPublisher hands each event to a goroutine with its own timeout.
// Publish never blocks on delivery and never reports delivery errors; those
// are logged and counted.
type AsyncPublisher struct {
	next      Publisher
	transport string
	timeout   time.Duration
	logger    logger.Logger
	wg        sync.WaitGroup
}

func NewAsyncPublisher(next Publisher, transport string, timeout time.Duration, log logger.Logger) *AsyncPublisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AsyncPublisher{
		next:      next,
		transport: transport,
		timeout:   timeout,
		logger:    log.WithFields(map[string]interface{}{"transport": transport}),
	}
}

func (p *AsyncPublisher) Publish(_ context.Context, event LeadEvent) error {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				metrics.LeadEventsPublished.WithLabelValues(p.transport, "panic").Inc()
				p.logger.Error("lead event publish panicked", map[string]interface{}{
					"eventId": event.ID,
					"leadId":  event.LeadID,
					"panic":   fmt.Sprint(r),
				})
			}
		}()

		// The caller's context may already be done once its transaction
		// committed; delivery gets a fresh one.
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if err := p.next.Publish(ctx, event); err != nil {
			metrics.LeadEventsPublished.WithLabelValues(p.transport, "failed").Inc()
			p.logger.Error("lead event publish failed", map[string]interface{}{
				"eventId":  event.ID,
				"leadId":   event.LeadID,
				"triggers": event.Triggers,
				"error":    err,
			})
			return
		}
		metrics.LeadEventsPublished.WithLabelValues(p.transport, "published").Inc()
		p.logger.Debug("lead event published", map[string]interface{}{
			"eventId": event.ID,
			"leadId":  event.LeadID,
		})
	}()
	return nil
}

// Wait blocks until every in-flight publish has finished.
func (p *AsyncPublisher) Wait() {
	p.wg.Wait()
}

// ==========================
// Transports
// ==========================

// AMQPChannel is the publishing side of a RabbitMQ connection.
type AMQPChannel interface {
	Publish(ctx context.Context, messageType, messageID string, body []byte) error
}

type AMQPPublisher struct {
	ch AMQPChannel
}

func NewAMQPPublisher(ch AMQPChannel) *AMQPPublisher {
	return &AMQPPublisher{ch: ch}
}

func (p *AMQPPublisher) Publish(ctx context.Context, event LeadEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode lead event: %w", err)
	}
	if err := p.ch.Publish(ctx, MessageName, event.ID, body); err != nil {
		return apperrors.NewEventPublishFailedError("amqp", err)
	}
	return nil
}

// MessagePublisher is satisfied by camunda.Client.
type MessagePublisher interface {
	PublishMessage(ctx context.Context, name, correlationKey, messageID string, ttl time.Duration, variables interface{}) error
}

// ZeebePublisher correlates events by lead id; the message ID makes
// redelivery of the same event idempotent within the TTL.
type ZeebePublisher struct {
	client MessagePublisher
	ttl    time.Duration
}

func NewZeebePublisher(client MessagePublisher, ttl time.Duration) *ZeebePublisher {
	return &ZeebePublisher{client: client, ttl: ttl}
}

func (p *ZeebePublisher) Publish(ctx context.Context, event LeadEvent) error {
	if err := p.client.PublishMessage(ctx, MessageName, event.LeadID, event.ID, p.ttl, event); err != nil {
		return apperrors.NewEventPublishFailedError("zeebe", err)
	}
	return nil
}

// Handler consumes events in-process.
type Handler interface {
	Dispatch(ctx context.Context, event LeadEvent) error
}

// InlinePublisher calls the dispatcher directly.
type InlinePublisher struct {
	handler Handler
}

func NewInlinePublisher(h Handler) *InlinePublisher {
	return &InlinePublisher{handler: h}
}

func (p *InlinePublisher) Publish(ctx context.Context, event LeadEvent) error {
	return p.handler.Dispatch(ctx, event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, LeadEvent) error { return nil }
