// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

package web

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/samber/oops"

	"github.com/cchanitur/accounts/internal/auth"
	"github.com/cchanitur/accounts/internal/session"
	"github.com/cchanitur/accounts/pkg/errutil"
)

// User-facing notices.
const (
	msgStoreUnavailable   = "No se puede establecer conexión con la base de datos en este momento. Intenta nuevamente más tarde."
	msgEmailTaken         = "El correo electrónico ya está registrado."
	msgUsernameTaken      = "El nombre de usuario ya está en uso."
	msgInvalidUsername    = "El nombre de usuario debe tener entre 3 y 30 caracteres, comenzar con una letra y contener solo letras, números o guiones bajos."
	msgInvalidEmail       = "El correo electrónico no es válido."
	msgEmptyPassword      = "La contraseña no puede estar vacía."
	msgInvalidCredentials = "Usuario o contraseña incorrectos."
	msgResetSent          = "Te hemos enviado un correo para recuperar tu contraseña."
	msgEmailUnknown       = "El correo electrónico no está registrado."
	msgEmailRequired      = "Ingresa tu correo electrónico."
	msgResetLinkInvalid   = "El enlace de restablecimiento ha caducado o es inválido."
	msgPasswordReset      = "Tu contraseña ha sido restablecida con éxito."
	msgProfileMissing     = "No encontramos tu cuenta. Inicia sesión nuevamente."
	msgUnexpected         = "Ocurrió un error inesperado. Intenta nuevamente."
)

// Account event names and outcomes for metrics.
const (
	eventRegister     = "register"
	eventLogin        = "login"
	eventResetRequest = "reset_request"
	eventReset        = "reset"

	outcomeSuccess  = "success"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if session.FromContext(r.Context()).Username() == "" {
		redirect(w, r, "/login")
		return
	}
	redirect(w, r, "/pagina_principal")
}

func (s *Server) handleRegisterForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, pageRegister, viewData{})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := session.FromContext(ctx)
	values := formValues{
		Username: r.PostFormValue("usuario"),
		Email:    r.PostFormValue("email"),
	}

	user, err := s.accounts.Register(ctx, values.Username, values.Email, r.PostFormValue("contrasena"))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrDuplicateEmail):
			s.metrics.RecordAuthEvent(eventRegister, outcomeRejected)
			st.AddFlash(session.FlashError, msgEmailTaken)
			redirect(w, r, "/registro")
		case errors.Is(err, auth.ErrDuplicateUsername):
			s.metrics.RecordAuthEvent(eventRegister, outcomeRejected)
			st.AddFlash(session.FlashError, msgUsernameTaken)
			redirect(w, r, "/registro")
		case errors.Is(err, auth.ErrInvalidInput):
			s.metrics.RecordAuthEvent(eventRegister, outcomeRejected)
			st.AddFlash(session.FlashError, invalidInputMessage(err))
			s.render(w, r, pageRegister, viewData{Values: values})
		default:
			s.metrics.RecordAuthEvent(eventRegister, outcomeError)
			s.flashFailure(r, "registration failed", err)
			s.render(w, r, pageRegister, viewData{Values: values})
		}
		return
	}

	s.metrics.RecordAuthEvent(eventRegister, outcomeSuccess)
	st.SignIn(user.Username)
	redirect(w, r, "/pagina_principal")
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, pageLogin, viewData{})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := session.FromContext(ctx)
	values := formValues{Username: r.PostFormValue("usuario")}

	user, err := s.accounts.Authenticate(ctx, values.Username, r.PostFormValue("contrasena"))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.metrics.RecordAuthEvent(eventLogin, outcomeRejected)
			st.AddFlash(session.FlashError, msgInvalidCredentials)
		} else {
			s.metrics.RecordAuthEvent(eventLogin, outcomeError)
			s.flashFailure(r, "login failed", err)
		}
		s.render(w, r, pageLogin, viewData{Values: values})
		return
	}

	s.metrics.RecordAuthEvent(eventLogin, outcomeSuccess)
	st.SignIn(user.Username)
	redirect(w, r, "/pagina_principal")
}

func (s *Server) handleMain(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, pageIndex, viewData{})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := session.FromContext(ctx)

	user, err := s.accounts.Profile(ctx, st.Username())
	switch {
	case err == nil:
		s.render(w, r, pageProfile, viewData{User: user})
	case errors.Is(err, auth.ErrNotFound):
		// The account behind the session is gone.
		st.SignOut()
		st.AddFlash(session.FlashError, msgProfileMissing)
		redirect(w, r, "/login")
	default:
		s.flashFailure(r, "profile lookup failed", err)
		redirect(w, r, "/pagina_principal")
	}
}

func (s *Server) handleRecoverForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, pageRecover, viewData{})
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := session.FromContext(ctx)
	values := formValues{Email: r.PostFormValue("email")}

	err := s.resets.RequestReset(ctx, values.Email, s.resetLink(r))
	switch {
	case err == nil:
		s.metrics.RecordAuthEvent(eventResetRequest, outcomeSuccess)
		st.AddFlash(session.FlashSuccess, msgResetSent)
		values = formValues{}
	case errors.Is(err, auth.ErrNotFound):
		s.metrics.RecordAuthEvent(eventResetRequest, outcomeRejected)
		st.AddFlash(session.FlashError, msgEmailUnknown)
	case errors.Is(err, auth.ErrInvalidInput):
		s.metrics.RecordAuthEvent(eventResetRequest, outcomeRejected)
		st.AddFlash(session.FlashError, msgEmailRequired)
	default:
		s.metrics.RecordAuthEvent(eventResetRequest, outcomeError)
		s.flashFailure(r, "password reset request failed", err)
	}
	s.render(w, r, pageRecover, viewData{Values: values})
}

func (s *Server) handleResetForm(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if _, err := s.resets.ValidateToken(token); err != nil {
		s.rejectResetLink(w, r, err)
		return
	}
	s.render(w, r, pageReset, viewData{Token: token})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := session.FromContext(ctx)
	token := r.PathValue("token")

	// The link is checked before the form is looked at.
	if _, err := s.resets.ValidateToken(token); err != nil {
		s.rejectResetLink(w, r, err)
		return
	}

	err := s.resets.ResetPassword(ctx, token, r.PostFormValue("nueva_contrasena"))
	switch {
	case err == nil:
		s.metrics.RecordAuthEvent(eventReset, outcomeSuccess)
		st.AddFlash(session.FlashSuccess, msgPasswordReset)
		redirect(w, r, "/login")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrNotFound):
		s.rejectResetLink(w, r, err)
	case errors.Is(err, auth.ErrInvalidInput):
		s.metrics.RecordAuthEvent(eventReset, outcomeRejected)
		st.AddFlash(session.FlashError, msgEmptyPassword)
		s.render(w, r, pageReset, viewData{Token: token})
	default:
		s.metrics.RecordAuthEvent(eventReset, outcomeError)
		s.flashFailure(r, "password reset failed", err)
		s.render(w, r, pageReset, viewData{Token: token})
	}
}

func (s *Server) rejectResetLink(w http.ResponseWriter, r *http.Request, err error) {
	s.metrics.RecordAuthEvent(eventReset, outcomeRejected)
	s.logger.InfoContext(r.Context(), "reset link rejected", errutil.Attrs(err)...)
	session.FromContext(r.Context()).AddFlash(session.FlashError, msgResetLinkInvalid)
	redirect(w, r, "/recuperar_contrasena")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	session.FromContext(r.Context()).SignOut()
	redirect(w, r, "/login")
}

// requireUser redirects anonymous browsers to the login page.
func (s *Server) requireUser(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if session.FromContext(r.Context()).Username() == "" {
			redirect(w, r, "/login")
			return
		}
		next(w, r)
	})
}

// flashFailure logs err and queues the notice matching its class.
func (s *Server) flashFailure(r *http.Request, msg string, err error) {
	st := session.FromContext(r.Context())
	if errors.Is(err, auth.ErrStoreUnavailable) {
		errutil.LogWarn(r.Context(), s.logger, msg, err)
		st.AddFlash(session.FlashError, msgStoreUnavailable)
		return
	}
	errutil.LogError(r.Context(), s.logger, msg, err)
	st.AddFlash(session.FlashError, msgUnexpected)
}

// invalidInputMessage picks the notice for a registration validation error.
func invalidInputMessage(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		switch oopsErr.Code() {
		case "AUTH_INVALID_USERNAME":
			return msgInvalidUsername
		case "AUTH_INVALID_EMAIL":
			return msgInvalidEmail
		case "AUTH_EMPTY_PASSWORD":
			return msgEmptyPassword
		}
	}
	return msgUnexpected
}

// resetLink builds absolute reset URLs from the configured base URL, or from
// the request Host when none is set. X-Forwarded-Proto counts only behind a
// trusted proxy.
func (s *Server) resetLink(r *http.Request) auth.ResetLinkFunc {
	base := s.cfg.BaseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil || (s.cfg.TrustProxy && r.Header.Get("X-Forwarded-Proto") == "https") {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return func(token string) string {
		return base + "/restablecer_contrasena/" + url.PathEscape(token)
	}
}
