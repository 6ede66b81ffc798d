package automation

import (
	"context"
	"time"

	"crm-lead-workers/internal/common/events"
	"crm-lead-workers/internal/common/logger"
	"crm-lead-workers/internal/common/metrics"
	"crm-lead-workers/internal/common/notify"
	"crm-lead-workers/internal/models"
)

// Result counts what one event produced.
type Result struct {
	Matched int `json:"matched"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

type Dispatcher struct {
	registry *Registry
	channels notify.Channels
	timeout  time.Duration
	logger   logger.Logger
}

type DispatcherOptions struct {
	Registry *Registry
	Channels notify.Channels
	Timeout  time.Duration
	Logger   logger.Logger
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Channels == nil {
		opts.Channels = notify.Channels{}
	}
	return &Dispatcher{
		registry: opts.Registry,
		channels: opts.Channels,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
	}
}

// Dispatch implements events.Handler. Delivery failures never surface as
// errors; only an invalid event does.
func (d *Dispatcher) Dispatch(ctx context.Context, e events.LeadEvent) error {
	_, err := d.Run(ctx, e)
	return err
}

// HandleMessage decodes an AMQP body and dispatches it.
func (d *Dispatcher) HandleMessage(ctx context.Context, body []byte) error {
	e, err := events.Decode(body)
	if err != nil {
		return err
	}
	return d.Dispatch(ctx, e)
}

// Run fans the event out to every applicable automation. Each automation
// is attempted independently and is not retried.
func (d *Dispatcher) Run(ctx context.Context, e events.LeadEvent) (Result, error) {
	var res Result
	if err := e.Validate(); err != nil {
		return res, err
	}

	log := d.logger.WithFields(map[string]interface{}{"leadId": e.LeadID, "eventId": e.ID})
	data := e.TemplateData()
	seen := make(map[string]bool)

	for _, trigger := range e.Triggers {
		automations, err := d.registry.Active(ctx, trigger)
		if err != nil {
			log.Error("automation lookup failed", map[string]interface{}{"trigger": trigger, "error": err})
			continue
		}

		for _, a := range automations {
			if seen[a.ID] {
				continue
			}
			seen[a.ID] = true

			if !a.AppliesTo(e.Stage) {
				continue
			}
			res.Matched++

			switch d.deliver(ctx, log, a, e, data) {
			case "sent":
				res.Sent++
			case "failed":
				res.Failed++
			default:
				res.Skipped++
			}
		}
	}

	log.Info("lead event dispatched", map[string]interface{}{
		"triggers": e.Triggers,
		"matched":  res.Matched,
		"sent":     res.Sent,
		"failed":   res.Failed,
		"skipped":  res.Skipped,
	})
	return res, nil
}

func (d *Dispatcher) deliver(ctx context.Context, log logger.Logger, a models.Automation, e events.LeadEvent, data map[string]interface{}) string {
	fields := map[string]interface{}{
		"automationId": a.ID,
		"channel":      a.Channel,
	}

	sender, ok := d.channels.Get(a.Channel)
	if !ok {
		metrics.AutomationDispatches.WithLabelValues(string(a.Channel), "not_configured").Inc()
		log.Warn("automation channel not configured", fields)
		return "skipped"
	}

	to := notify.Recipient(a.Channel, e.LeadEmail, e.LeadPhone)
	if to == "" {
		metrics.AutomationDispatches.WithLabelValues(string(a.Channel), "no_recipient").Inc()
		log.Info("lead has no contact for automation channel", fields)
		return "skipped"
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	id, err := sender.Send(sendCtx, notify.Message{
		To:           to,
		Subject:      notify.Render(a.Subject, data),
		Body:         notify.Render(a.Body, data),
		TemplateName: a.TemplateName,
	})
	if err != nil {
		metrics.AutomationDispatches.WithLabelValues(string(a.Channel), "failed").Inc()
		fields["error"] = err
		log.Error("automation delivery failed", fields)
		return "failed"
	}

	metrics.AutomationDispatches.WithLabelValues(string(a.Channel), "sent").Inc()
	fields["messageId"] = id
	log.Debug("automation delivered", fields)
	return "sent"
}
