package notification

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type mailSendFunc func(ctx context.Context, m *mail.SGMailV3) (*rest.Response, error)

// SendGridSender delivers email through the SendGrid v3 API.
type SendGridSender struct {
	from *mail.Email
	send mailSendFunc
}

func NewSendGridSender(apiKey, fromEmail, fromName string) *SendGridSender {
	client := sendgrid.NewSendClient(apiKey)
	return &SendGridSender{
		from: mail.NewEmail(fromName, fromEmail),
		send: client.SendWithContext,
	}
}

func (s *SendGridSender) SendEmail(ctx context.Context, to, subject, body string) error {
	msg := mail.NewSingleEmail(s.from, subject, mail.NewEmail("", to), body, "")
	resp, err := s.send(ctx, msg)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid: unexpected status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
