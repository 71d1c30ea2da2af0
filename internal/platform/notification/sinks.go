package notification

import (
	"context"
	"errors"
	"fmt"
)

// LiveRegistry is the connection registry the live sink pushes to.
type LiveRegistry interface {
	SendAppointmentNotification(ctx context.Context, msg interface{}, userIDs []string) error
}

// LiveSink pushes the payload to connected doctors, patients and admins.
type LiveSink struct {
	registry LiveRegistry
}

func NewLiveSink(registry LiveRegistry) *LiveSink {
	return &LiveSink{registry: registry}
}

func (s *LiveSink) Name() string { return "websocket" }

func (s *LiveSink) Deliver(ctx context.Context, ev Event) error {
	return s.registry.SendAppointmentNotification(ctx, ev.Payload, ev.UserIDs())
}

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// EmailSink emails every recipient that has an address.
type EmailSink struct {
	sender    EmailSender
	templates *TemplateEngine
}

func NewEmailSink(sender EmailSender, templates *TemplateEngine) *EmailSink {
	return &EmailSink{sender: sender, templates: templates}
}

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Deliver(ctx context.Context, ev Event) error {
	tpl := emailTemplateFor(ev.Payload.Type)
	if tpl == "" {
		return nil
	}
	var errs []error
	for _, r := range ev.Recipients {
		if r.Email == "" {
			continue
		}
		subject, body, err := s.templates.Render(tpl, templateData(ev.Payload, r))
		if err != nil {
			return err
		}
		if err := s.sender.SendEmail(ctx, r.Email, subject, body); err != nil {
			errs = append(errs, fmt.Errorf("email %s: %w", r.UserID, err))
		}
	}
	return errors.Join(errs...)
}

// SMSSink texts recipients about status changes only.
type SMSSink struct {
	sender    SMSSender
	templates *TemplateEngine
}

func NewSMSSink(sender SMSSender, templates *TemplateEngine) *SMSSink {
	return &SMSSink{sender: sender, templates: templates}
}

func (s *SMSSink) Name() string { return "sms" }

func (s *SMSSink) Deliver(ctx context.Context, ev Event) error {
	switch ev.Payload.Type {
	case TypeAppointmentStatusChanged, TypeAppointmentAutoStatusChanged:
	default:
		return nil
	}
	var errs []error
	for _, r := range ev.Recipients {
		if r.Phone == "" {
			continue
		}
		_, body, err := s.templates.Render("sms-status-changed", templateData(ev.Payload, r))
		if err != nil {
			return err
		}
		if err := s.sender.SendSMS(ctx, r.Phone, body); err != nil {
			errs = append(errs, fmt.Errorf("sms %s: %w", r.UserID, err))
		}
	}
	return errors.Join(errs...)
}
