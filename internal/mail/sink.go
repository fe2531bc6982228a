// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

// Package mail delivers transactional email through SendGrid or SMTP.
package mail

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"
)

// ErrDisabled is returned by DisabledSink for every message.
var ErrDisabled = errors.New("email provider not configured")

// Message is a single HTML email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

func (m Message) validate() error {
	if m.To == "" {
		return oops.Code("MAIL_NO_RECIPIENT").Errorf("no recipient specified")
	}
	return nil
}

// Sink delivers messages to a provider.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// Config selects and configures the provider.
type Config struct {
	From           string
	SendGridAPIKey string
	SMTPHost       string
	SMTPPort       int
	SMTPUsername   string
	SMTPPassword   string
}

// NewSinkFromConfig returns a SendGrid sink when an API key and sender are
// set, an SMTP sink when a host and sender are set, and a DisabledSink
// otherwise.
func NewSinkFromConfig(cfg Config, logger *slog.Logger) Sink {
	switch {
	case cfg.SendGridAPIKey != "" && cfg.From != "":
		return NewSendGridSink(cfg.SendGridAPIKey, cfg.From)
	case cfg.SMTPHost != "" && cfg.From != "":
		return NewSMTPSink(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.From)
	default:
		logger.Warn("email provider is not configured, outgoing mail will be dropped")
		return NewDisabledSink(logger)
	}
}

// DisabledSink drops every message with a warning and reports ErrDisabled.
type DisabledSink struct {
	logger *slog.Logger
}

// NewDisabledSink creates a DisabledSink.
func NewDisabledSink(logger *slog.Logger) *DisabledSink {
	return &DisabledSink{logger: logger}
}

// Send logs the dropped subject.
func (s *DisabledSink) Send(ctx context.Context, msg Message) error {
	s.logger.WarnContext(ctx, "email provider not configured, message not sent", "subject", msg.Subject)
	return ErrDisabled
}
