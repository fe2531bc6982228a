// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

package web

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/samber/oops"

	"github.com/cchanitur/accounts/internal/auth"
	"github.com/cchanitur/accounts/internal/session"
	"github.com/cchanitur/accounts/pkg/errutil"
)

// Page names.
const (
	pageRegister = "register"
	pageLogin    = "login"
	pageIndex    = "index"
	pageProfile  = "profile"
	pageRecover  = "recover"
	pageReset    = "reset"
)

var pageTitles = map[string]string{
	pageRegister: "Registro",
	pageLogin:    "Iniciar sesión",
	pageIndex:    "Página principal",
	pageProfile:  "Mi perfil",
	pageRecover:  "Recuperar contraseña",
	pageReset:    "Restablecer contraseña",
}

type page struct {
	title string
	tmpl  *template.Template
}

// formValues echoes non-secret fields back into a re-rendered form.
type formValues struct {
	Username string
	Email    string
}

// viewData is the data every page template receives.
type viewData struct {
	Title    string
	Username string
	Flashes  []session.Flash
	Values   formValues
	User     *auth.User
	Token    string
}

func parsePages() (map[string]*page, error) {
	pages := make(map[string]*page, len(pageTitles))
	for name, title := range pageTitles {
		tmpl, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, oops.Code("WEB_TEMPLATE_INVALID").With("page", name).Wrap(err)
		}
		pages[name] = &page{title: title, tmpl: tmpl}
	}
	return pages, nil
}

// render writes a page with the session's pending flashes.
func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data viewData) {
	p, ok := s.pages[name]
	if !ok {
		s.serverError(w, r, oops.Code("WEB_TEMPLATE_MISSING").With("page", name).Errorf("unknown page"))
		return
	}

	st := session.FromContext(r.Context())
	data.Title = p.title
	data.Username = st.Username()
	data.Flashes = append(data.Flashes, st.PopFlashes()...)

	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		s.serverError(w, r, oops.Code("WEB_RENDER_FAILED").With("page", name).Wrap(err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// redirect sends a 302 to path.
func redirect(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, path, http.StatusFound)
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	errutil.LogError(r.Context(), s.logger, "request failed", err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
