// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

package mail

import (
	"context"

	"github.com/samber/oops"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridClient is the subset of the SendGrid client used here.
type SendGridClient interface {
	SendWithContext(ctx context.Context, email *sgmail.SGMailV3) (*rest.Response, error)
}

// SendGridSink sends through the SendGrid v3 mail API.
type SendGridSink struct {
	client SendGridClient
	from   string
}

// NewSendGridSink creates a sink using the given API key.
func NewSendGridSink(apiKey, from string) *SendGridSink {
	return NewSendGridSinkWithClient(sendgrid.NewSendClient(apiKey), from)
}

// NewSendGridSinkWithClient creates a sink around an existing client.
func NewSendGridSinkWithClient(client SendGridClient, from string) *SendGridSink {
	return &SendGridSink{client: client, from: from}
}

// Send delivers msg. Any non-2xx response is an error.
func (s *SendGridSink) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}

	email := sgmail.NewSingleEmail(
		sgmail.NewEmail("", s.from),
		msg.Subject,
		sgmail.NewEmail("", msg.To),
		"",
		msg.HTML,
	)
	resp, err := s.client.SendWithContext(ctx, email)
	if err != nil {
		return oops.Code("MAIL_SEND_FAILED").
			With("provider", "sendgrid").
			Wrap(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return oops.Code("MAIL_SEND_REJECTED").
			With("provider", "sendgrid").
			With("status", resp.StatusCode).
			Errorf("sendgrid responded with status %d", resp.StatusCode)
	}
	return nil
}
