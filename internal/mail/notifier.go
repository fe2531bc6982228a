// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

package mail

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cchanitur/accounts/pkg/errutil"
)

// Delivery outcomes reported to a Recorder.
const (
	ResultSent    = "sent"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// Recorder counts delivery outcomes.
type Recorder interface {
	RecordEmail(result string)
}

// Notifier sends mail on a best-effort basis. Delivery errors are logged
// and counted, never returned.
type Notifier struct {
	sink     Sink
	recorder Recorder
	logger   *slog.Logger
}

// NewNotifier creates a Notifier. recorder may be nil.
func NewNotifier(sink Sink, recorder Recorder, logger *slog.Logger) *Notifier {
	return &Notifier{sink: sink, recorder: recorder, logger: logger}
}

// Notify sends an HTML email to to.
func (n *Notifier) Notify(ctx context.Context, to, subject, html string) {
	err := n.sink.Send(ctx, Message{To: to, Subject: subject, HTML: html})
	if errors.Is(err, ErrDisabled) {
		n.record(ResultSkipped)
		return
	}
	if err != nil {
		errutil.LogError(ctx, n.logger, "email delivery failed", err)
		n.record(ResultFailed)
		return
	}
	n.logger.InfoContext(ctx, "email sent", "subject", subject)
	n.record(ResultSent)
}

func (n *Notifier) record(result string) {
	if n.recorder != nil {
		n.recorder.RecordEmail(result)
	}
}
