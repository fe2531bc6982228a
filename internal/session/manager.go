// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/cchanitur/accounts/pkg/errutil"
)

// DefaultCookieName is the cookie carrying the session token.
const DefaultCookieName = "accounts_session"

// Config controls cookie and lifetime behaviour.
type Config struct {
	CookieName string
	TTL        time.Duration
	Secure     bool
}

// Manager loads and persists sessions around HTTP requests.
type Manager struct {
	repo   Repository
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a Manager. Zero config fields take their defaults.
func NewManager(repo Repository, cfg Config, logger *slog.Logger) (*Manager, error) {
	if repo == nil {
		return nil, oops.Code("SESSION_MANAGER_INVALID").Errorf("session repository is required")
	}
	if logger == nil {
		return nil, oops.Code("SESSION_MANAGER_INVALID").Errorf("logger is required")
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Manager{repo: repo, cfg: cfg, logger: logger, now: time.Now}, nil
}

type ctxKey struct{}

// State is the request-scoped view of a browser session. It is not safe
// for concurrent use; each request owns its own State.
type State struct {
	sess      *Session
	token     string
	created   bool
	dirty     bool
	retired   *ulid.ULID
	committed bool
	err       error
}

// FromContext returns the State attached by Manager.Middleware, or nil.
func FromContext(ctx context.Context) *State {
	st, _ := ctx.Value(ctxKey{}).(*State)
	return st
}

func withState(ctx context.Context, st *State) context.Context {
	return context.WithValue(ctx, ctxKey{}, st)
}

// Username returns the signed-in username, or "" when anonymous.
func (s *State) Username() string {
	if s == nil || s.sess == nil {
		return ""
	}
	return s.sess.Username
}

// SignIn marks the browser as authenticated as username. The session token
// is always replaced so a token issued before login cannot be reused after it.
func (s *State) SignIn(username string) {
	var flashes []Flash
	if s.sess != nil {
		flashes = s.sess.Flashes
		if !s.created {
			id := s.sess.ID
			s.retired = &id
		}
	}
	s.sess = nil
	if !s.ensure() {
		return
	}
	s.sess.Username = username
	s.sess.Flashes = flashes
	s.dirty = true
}

// SignOut clears the authenticated username. Pending flashes survive.
func (s *State) SignOut() {
	if s.sess == nil || s.sess.Username == "" {
		return
	}
	s.sess.Username = ""
	s.dirty = true
}

// AddFlash queues a notice for the next rendered page.
func (s *State) AddFlash(category, message string) {
	if !s.ensure() {
		return
	}
	s.sess.Flashes = append(s.sess.Flashes, Flash{Category: category, Message: message})
	s.dirty = true
}

// PopFlashes returns and clears the queued notices.
func (s *State) PopFlashes() []Flash {
	if s == nil || s.sess == nil || len(s.sess.Flashes) == 0 {
		return nil
	}
	flashes := s.sess.Flashes
	s.sess.Flashes = nil
	s.dirty = true
	return flashes
}

func (s *State) ensure() bool {
	if s.sess != nil {
		return true
	}
	token, hash, err := GenerateToken()
	if err != nil {
		s.err = err
		return false
	}
	// Expiry is reset on commit.
	sess, err := NewSession(hash, time.Now().Add(DefaultTTL))
	if err != nil {
		s.err = err
		return false
	}
	s.sess = sess
	s.token = token
	s.created = true
	return true
}

// Load resolves the session named by the request cookie. A missing,
// unknown, or expired cookie yields an anonymous State.
func (m *Manager) Load(r *http.Request) *State {
	st := &State{}
	cookie, err := r.Cookie(m.cfg.CookieName)
	if err != nil || cookie.Value == "" {
		return st
	}
	sess, err := m.repo.GetByTokenHash(r.Context(), HashToken(cookie.Value))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			errutil.LogWarn(r.Context(), m.logger, "session lookup failed", err)
		}
		return st
	}
	st.sess = sess
	st.token = cookie.Value
	return st
}

// Commit persists a changed State and writes the session cookie. It must
// run before the response headers are sent and is a no-op after the first call.
func (m *Manager) Commit(ctx context.Context, w http.ResponseWriter, st *State) error {
	if st == nil || st.committed {
		return nil
	}
	st.committed = true

	if st.err != nil {
		return oops.Code("SESSION_COMMIT_FAILED").Wrap(st.err)
	}
	if st.retired != nil {
		if err := m.repo.Delete(ctx, *st.retired); err != nil && !errors.Is(err, ErrNotFound) {
			errutil.LogWarn(ctx, m.logger, "retire rotated session failed", err)
		}
	}
	if st.sess == nil || !st.dirty {
		return nil
	}
	// Nothing worth storing for an anonymous browser with no notices.
	if st.created && st.sess.Username == "" && len(st.sess.Flashes) == 0 {
		return nil
	}

	now := m.now()
	st.sess.LastSeenAt = now
	st.sess.ExpiresAt = now.Add(m.cfg.TTL)

	var err error
	if st.created {
		err = m.repo.Create(ctx, st.sess)
	} else {
		err = m.repo.Update(ctx, st.sess)
		if errors.Is(err, ErrNotFound) {
			// Reaped between load and commit.
			err = m.repo.Create(ctx, st.sess)
		}
	}
	if err != nil {
		return oops.Code("SESSION_COMMIT_FAILED").
			With("session_id", st.sess.ID.String()).
			Wrap(err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    st.token,
		Path:     "/",
		Expires:  st.sess.ExpiresAt,
		MaxAge:   int(m.cfg.TTL.Seconds()),
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Middleware attaches a State to every request and commits it before the
// handler's response headers go out.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := m.Load(r)
		cw := &commitWriter{ResponseWriter: w}
		cw.commit = func() {
			if err := m.Commit(r.Context(), w, st); err != nil {
				errutil.LogError(r.Context(), m.logger, "session commit failed", err)
			}
		}
		next.ServeHTTP(cw, r.WithContext(withState(r.Context(), st)))
		cw.flush()
	})
}

// RunReaper deletes expired sessions every interval until ctx is done.
func (m *Manager) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.repo.DeleteExpired(ctx)
			if err != nil {
				errutil.LogWarn(ctx, m.logger, "expired session cleanup failed", err)
				continue
			}
			if n > 0 {
				m.logger.DebugContext(ctx, "expired sessions removed", "count", n)
			}
		}
	}
}

// commitWriter runs commit exactly once, before the first header write.
type commitWriter struct {
	http.ResponseWriter
	commit func()
	done   bool
}

func (c *commitWriter) flush() {
	if c.done {
		return
	}
	c.done = true
	c.commit()
}

func (c *commitWriter) WriteHeader(code int) {
	c.flush()
	c.ResponseWriter.WriteHeader(code)
}

func (c *commitWriter) Write(b []byte) (int, error) {
	c.flush()
	return c.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (c *commitWriter) Unwrap() http.ResponseWriter {
	return c.ResponseWriter
}
