package notify

import (
	"context"
	"fmt"
	"strings"

	apphttp "crm-lead-workers/internal/common/http"
)

// JSONPoster is satisfied by the shared http client.
type JSONPoster interface {
	PostJSON(ctx context.Context, url string, headers map[string]string, payload, out interface{}) error
}

type WhatsAppConfig struct {
	BaseURL      string
	PhoneID      string
	AccessToken  string
	LanguageCode string
}

// WhatsApp sends through the Meta Graph messages endpoint. Automations with
// a template name send that approved template with the rendered body as its
// only parameter; the rest send plain text.
type WhatsApp struct {
	cfg    WhatsAppConfig
	client JSONPoster
}

func NewWhatsApp(cfg WhatsAppConfig, client JSONPoster) *WhatsApp {
	return &WhatsApp{cfg: cfg, client: client}
}

type whatsAppResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (w *WhatsApp) Send(ctx context.Context, msg Message) (string, error) {
	if w.cfg.AccessToken == "" || w.cfg.PhoneID == "" {
		return "", fmt.Errorf("whatsapp not configured")
	}

	to := strings.TrimPrefix(msg.To, "+")
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
	}
	if msg.TemplateName != "" {
		payload["type"] = "template"
		payload["template"] = map[string]interface{}{
			"name":     msg.TemplateName,
			"language": map[string]string{"code": w.cfg.LanguageCode},
			"components": []map[string]interface{}{
				{
					"type": "body",
					"parameters": []map[string]string{
						{"type": "text", "text": msg.Body},
					},
				},
			},
		}
	} else {
		payload["type"] = "text"
		payload["text"] = map[string]string{"body": msg.Body}
	}

	url := fmt.Sprintf("%s/%s/messages", strings.TrimRight(w.cfg.BaseURL, "/"), w.cfg.PhoneID)
	headers := map[string]string{"Authorization": "Bearer " + w.cfg.AccessToken}

	var resp whatsAppResponse
	if err := w.client.PostJSON(ctx, url, headers, payload, &resp); err != nil {
		return "", fmt.Errorf("whatsapp send: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("whatsapp: %s (code %d)", resp.Error.Message, resp.Error.Code)
	}
	if len(resp.Messages) == 0 {
		return "", nil
	}
	return resp.Messages[0].ID, nil
}

var _ JSONPoster = (*apphttp.Client)(nil)
