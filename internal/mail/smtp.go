// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

package mail

import (
	"context"

	"github.com/samber/oops"
	"gopkg.in/gomail.v2"
)

// Dialer is the subset of gomail.Dialer used here.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSink sends through an SMTP relay.
type SMTPSink struct {
	dialer Dialer
	from   string
}

// NewSMTPSink creates a sink for the given relay.
func NewSMTPSink(host string, port int, username, password, from string) *SMTPSink {
	return NewSMTPSinkWithDialer(gomail.NewDialer(host, port, username, password), from)
}

// NewSMTPSinkWithDialer creates a sink around an existing dialer.
func NewSMTPSinkWithDialer(dialer Dialer, from string) *SMTPSink {
	return &SMTPSink{dialer: dialer, from: from}
}

// Send delivers msg. gomail has no context support, so ctx is only checked
// before dialing.
func (s *SMTPSink) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("provider", "smtp").Wrap(err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)

	if err := s.dialer.DialAndSend(m); err != nil {
		return oops.Code("MAIL_SEND_FAILED").
			With("provider", "smtp").
			Wrap(err)
	}
	return nil
}
