// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cchanitur Contributors

package web

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cchanitur/accounts/internal/logging"
	"github.com/cchanitur/accounts/internal/session"
)

const tracerName = "github.com/cchanitur/accounts/internal/web"

// RequestIDHeader carries the request id back to the client.
const RequestIDHeader = "X-Request-Id"

// unmatchedRoute labels requests no route matched.
const unmatchedRoute = "unmatched"

// statusRecorder captures the response status and size.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (rw *statusRecorder) WriteHeader(code int) {
	if rw.status == 0 {
		rw.status = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err //nolint:wrapcheck // ResponseWriter passthrough
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *statusRecorder) code() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

// route returns the mux pattern that serves r.
func (s *Server) route(r *http.Request) string {
	if _, pattern := s.mux.Handler(r); pattern != "" {
		return pattern
	}
	return unmatchedRoute
}

// recoverPanics turns a handler panic into a 500 and logs the stack.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler { //nolint:errorlint // sentinel panic value
					panic(rec)
				}
				s.logger.ErrorContext(r.Context(), "panic recovered",
					"panic", rec,
					"method", r.Method,
					"path", sanitizePath(r.URL.Path),
					"stack", string(debug.Stack()),
				)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// traceRequests assigns a request id and opens a server span for the request.
func (s *Server) traceRequests(next http.Handler) http.Handler {
	tracer := otel.Tracer(tracerName)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > 64 {
			requestID = ulid.Make().String()
		}
		w.Header().Set(RequestIDHeader, requestID)

		route := s.route(r)
		ctx, span := tracer.Start(r.Context(), route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("request.id", requestID),
			))
		defer span.End()

		ctx = logging.WithAttrs(ctx, slog.String("request_id", requestID))
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(ctx))

		status := rec.code()
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	})
}

// tagUser adds the signed-in username to the request's log attributes.
func (s *Server) tagUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if username := session.FromContext(r.Context()).Username(); username != "" {
			r = r.WithContext(logging.WithAttrs(r.Context(), slog.String("username", username)))
		}
		next.ServeHTTP(w, r)
	})
}

// logRequests writes an access log line and records request metrics.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		status := rec.code()
		route := s.route(r)
		s.metrics.ObserveRequest(route, r.Method, status, elapsed)

		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		case strings.HasPrefix(route, "GET /static/"):
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", sanitizePath(r.URL.Path),
			"route", route,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"bytes_written", rec.written,
			"remote_addr", r.RemoteAddr,
		)
	})
}

// sanitizePath hides reset tokens carried in the path.
func sanitizePath(path string) string {
	const prefix = "/restablecer_contrasena/"
	if strings.HasPrefix(path, prefix) && len(path) > len(prefix) {
		return prefix + "***"
	}
	return path
}
