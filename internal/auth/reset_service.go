// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

package auth

import (
	"bytes"
	"context"
	"html/template"
	"log/slog"
	"time"

	"github.com/samber/oops"
)

// ResetEmailSubject is the subject line of the password reset email.
const ResetEmailSubject = "Recuperación de contraseña"

var resetEmailTemplate = template.Must(template.New("reset").Parse(`<p>Hola, hemos recibido una solicitud para restablecer la contraseña de tu cuenta.</p>
<p>Si no fuiste tú, puedes ignorar este mensaje y tu contraseña seguirá siendo la misma.</p>
<p>Para elegir una nueva contraseña abre el siguiente enlace (caduca en {{.Minutes}} minutos):</p>
<p><a href="{{.Link}}">Restablecer contraseña</a></p>
`))

// Notifier delivers an HTML email on a best-effort basis. It never reports
// failure; delivery problems are the notifier's to log.
type Notifier interface {
	Notify(ctx context.Context, to, subject, html string)
}

// ResetLinkFunc turns a reset token into the absolute URL mailed to the user.
type ResetLinkFunc func(token string) string

// PasswordResetService handles the emailed password reset flow.
type PasswordResetService struct {
	users    UserRepository
	hasher   PasswordHasher
	tokens   *TokenCodec
	notifier Notifier
	logger   *slog.Logger
	maxAge   time.Duration
}

// NewPasswordResetService creates a new PasswordResetService.
func NewPasswordResetService(
	users UserRepository,
	hasher PasswordHasher,
	tokens *TokenCodec,
	notifier Notifier,
	logger *slog.Logger,
) (*PasswordResetService, error) {
	if users == nil {
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("user repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("password hasher is required")
	}
	if tokens == nil {
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("token codec is required")
	}
	if notifier == nil {
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("notifier is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PasswordResetService{
		users:    users,
		hasher:   hasher,
		tokens:   tokens,
		notifier: notifier,
		logger:   logger,
		maxAge:   ResetTokenMaxAge,
	}, nil
}

// RequestReset mails a reset link to a registered email.
// Returns ErrNotFound for an unknown email. Once the link is handed to the
// notifier the request has succeeded, whether or not the email is delivered.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string, link ResetLinkFunc) error {
	email = NormalizeEmail(email)
	if email == "" {
		return oops.Code("RESET_EMAIL_EMPTY").Wrapf(ErrInvalidInput, "email cannot be empty")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	token, err := s.tokens.Issue(user.Email)
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "issue token").
			Wrap(err)
	}

	var body bytes.Buffer
	err = resetEmailTemplate.Execute(&body, struct {
		Link    string
		Minutes int
	}{
		Link:    link(token),
		Minutes: int(s.maxAge / time.Minute),
	})
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "render email").
			Wrap(err)
	}

	s.notifier.Notify(ctx, user.Email, ResetEmailSubject, body.String())
	s.logger.InfoContext(ctx, "password reset requested", "username", user.Username)
	return nil
}

// ValidateToken returns the email a reset token was issued for.
// Every failure wraps ErrInvalidToken.
func (s *PasswordResetService) ValidateToken(token string) (string, error) {
	return s.tokens.Verify(token, s.maxAge)
}

// ResetPassword sets a new password for the user the token was issued to.
// The token is checked again so an expired link cannot be replayed by POST.
func (s *PasswordResetService) ResetPassword(ctx context.Context, token, newPassword string) error {
	email, err := s.ValidateToken(token)
	if err != nil {
		return err
	}

	if newPassword == "" {
		return oops.Code("RESET_PASSWORD_EMPTY").Wrapf(ErrInvalidInput, "new password cannot be empty")
	}

	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	if err := s.users.UpdatePassword(ctx, email, digest); err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "update password").
			With("email", email).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "password reset completed")
	return nil
}
