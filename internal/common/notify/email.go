package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// SESAPI is satisfied by aws.SESClient.
type SESAPI interface {
	SendEmail(ctx context.Context, to, subject, body string) (string, error)
}

type SESEmail struct {
	client SESAPI
}

func NewSESEmail(client SESAPI) *SESEmail {
	return &SESEmail{client: client}
}

func (s *SESEmail) Send(ctx context.Context, msg Message) (string, error) {
	return s.client.SendEmail(ctx, msg.To, msg.Subject, msg.Body)
}

// Dialer is satisfied by *gomail.Dialer.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPEmail is used when SES is disabled.
type SMTPEmail struct {
	dialer Dialer
	from   string
}

func NewSMTPEmail(host string, port int, user, password, from string) *SMTPEmail {
	return NewSMTPEmailWithDialer(gomail.NewDialer(host, port, user, password), from)
}

func NewSMTPEmailWithDialer(d Dialer, from string) *SMTPEmail {
	return &SMTPEmail{dialer: d, from: from}
}

func (s *SMTPEmail) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.New().String()
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", fmt.Sprintf("<%s@crm-lead-workers>", id))
	m.SetBody("text/plain", msg.Body)
	m.AddAlternative("text/html", msg.Body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}
	return id, nil
}
