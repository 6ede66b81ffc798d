package main

import (
	"context"
	"fmt"

	"crm-lead-workers/internal/common/aws"
	"crm-lead-workers/internal/common/camunda"
	"crm-lead-workers/internal/common/config"
	"crm-lead-workers/internal/common/events"
	apphttp "crm-lead-workers/internal/common/http"
	"crm-lead-workers/internal/common/logger"
	"crm-lead-workers/internal/common/notify"
	"crm-lead-workers/internal/common/queue"
	"crm-lead-workers/internal/common/search"
	"crm-lead-workers/internal/matching"
	"crm-lead-workers/internal/models"
)

// buildChannels creates a sender for every enabled integration. SES takes
// the email channel when both SES and SMTP are enabled.
func buildChannels(ctx context.Context, cfg *config.Config, log logger.Logger) (notify.Channels, error) {
	channels := notify.Channels{}
	integrations := cfg.Integrations

	switch {
	case integrations.AWS.SES.Enabled:
		client, err := aws.NewSESClient(ctx, integrations.AWS.Region, integrations.AWS.SES.FromEmail)
		if err != nil {
			return nil, fmt.Errorf("ses: %w", err)
		}
		channels[models.ChannelEmail] = notify.NewSESEmail(client)
	case integrations.SMTP.Enabled:
		channels[models.ChannelEmail] = notify.NewSMTPEmail(
			integrations.SMTP.Host,
			integrations.SMTP.Port,
			integrations.SMTP.Username,
			integrations.SMTP.Password,
			integrations.SMTP.DefaultFrom,
		)
	}

	if integrations.AWS.SNS.Enabled {
		client, err := aws.NewSNSClient(ctx, integrations.AWS.Region, integrations.AWS.SNS.DefaultSMSSenderID)
		if err != nil {
			return nil, fmt.Errorf("sns: %w", err)
		}
		channels[models.ChannelSMS] = notify.NewSNSSMS(client)
	}

	if integrations.WhatsApp.Enabled {
		channels[models.ChannelWhatsApp] = notify.NewWhatsApp(notify.WhatsAppConfig{
			BaseURL:      integrations.WhatsApp.BaseURL,
			PhoneID:      integrations.WhatsApp.PhoneID,
			AccessToken:  integrations.WhatsApp.AccessToken,
			LanguageCode: integrations.WhatsApp.LanguageCode,
		}, apphttp.NewClient(config.GetDuration(integrations.WhatsApp.Timeout)))
	}

	enabled := make([]string, 0, len(channels))
	for ch := range channels {
		enabled = append(enabled, string(ch))
	}
	log.Info("Notification channels configured", map[string]interface{}{"channels": enabled})
	return channels, nil
}

// buildPublisher picks the transport that carries lead events to the
// dispatcher. The result is wrapped in an AsyncPublisher by the caller.
func buildPublisher(cfg *config.Config, mq *queue.RabbitMQ, zeebe *camunda.Client, inline events.Handler) events.Publisher {
	switch cfg.Events.Transport {
	case config.TransportAMQP:
		if mq != nil {
			return events.NewAMQPPublisher(mq)
		}
	case config.TransportZeebe:
		if zeebe != nil {
			return events.NewZeebePublisher(zeebe, config.GetDuration(cfg.Events.MessageTTL))
		}
	case config.TransportInline:
		return events.NewInlinePublisher(inline)
	}
	return events.Nop{}
}

// candidateSource serves college-match lookups. The conversion path always
// reads candidates inside its own transaction.
func candidateSource(cfg *config.Config, db matching.CandidateSource, colleges *search.CollegeIndex) matching.CandidateSource {
	if cfg.Search.CandidateSource == "elasticsearch" && colleges != nil {
		return colleges
	}
	return db
}
