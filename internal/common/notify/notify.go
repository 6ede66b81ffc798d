// Package notify delivers rendered automation messages over email, SMS and
// WhatsApp.
package notify

import (
	"context"
	"fmt"
	"strings"

	"crm-lead-workers/internal/models"
)

// Message is one rendered delivery. TemplateName is only used by channels
// that send provider-side templates.
type Message struct {
	To           string
	Subject      string
	Body         string
	TemplateName string
}

// Sender delivers a message and returns the provider's message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Channels maps an automation channel to its sender. A channel missing
// from the map is not configured.
type Channels map[models.Channel]Sender

func (c Channels) Get(ch models.Channel) (Sender, bool) {
	s, ok := c[ch]
	return s, ok && s != nil
}

// Recipient picks the lead contact a channel delivers to.
func Recipient(ch models.Channel, email, phone string) string {
	switch ch {
	case models.ChannelEmail:
		return strings.TrimSpace(email)
	case models.ChannelSMS, models.ChannelWhatsApp:
		return strings.TrimSpace(phone)
	}
	return ""
}

// Render replaces {{key}} placeholders with values from data and removes
// any placeholder left without a value.
func Render(tmpl string, data map[string]interface{}) string {
	result := tmpl

	for k, v := range data {
		value := ""
		switch val := v.(type) {
		case string:
			value = val
		case nil:
		default:
			value = fmt.Sprintf("%v", val)
		}
		result = strings.ReplaceAll(result, "{{"+k+"}}", value)
	}

	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		result = result[:start] + result[start+end+2:]
	}

	return result
}
