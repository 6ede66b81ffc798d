package notify

import "context"

// SNSAPI is satisfied by aws.SNSClient.
type SNSAPI interface {
	SendSMS(ctx context.Context, phone, message string) (string, error)
}

type SNSSMS struct {
	client SNSAPI
}

func NewSNSSMS(client SNSAPI) *SNSSMS {
	return &SNSSMS{client: client}
}

func (s *SNSSMS) Send(ctx context.Context, msg Message) (string, error) {
	return s.client.SendSMS(ctx, msg.To, msg.Body)
}
