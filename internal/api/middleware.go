package api

import (
	"fmt"
	"net/http"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog"

	"github.com/dhis2/dhis2-core-sub010/internal/metrics"
	"github.com/dhis2/dhis2-core-sub010/internal/version"
)

const (
	// RequestIDHeader carries the request id; a valid incoming id is kept.
	RequestIDHeader = "X-Request-ID"
	// VersionHeader carries the server version so clients can check compatibility.
	VersionHeader = "X-Cache-Admin-Version"
)

// chain wraps the router with the middleware shared by every route.
func chain(next http.Handler, logger zerolog.Logger) http.Handler {
	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})

	h := withVersion(next)
	h = sentryHandler.Handle(h)
	h = withRecovery(h)
	h = gzhttp.GzipHandler(h)
	return withRequestID(h, logger)
}

// withRequestID assigns a request id and stores a request-scoped logger in the context.
func withRequestID(next http.Handler, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		reqLogger := logger.With().Str("request_id", id).Logger()
		next.ServeHTTP(w, r.WithContext(reqLogger.WithContext(r.Context())))
	})
}

func withVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(VersionHeader, versionHeaderValue())
		next.ServeHTTP(w, r)
	})
}

func versionHeaderValue() string {
	return version.Canonical()
}

// withRecovery turns a panic into a 500 response. Sentry has already captured it by then.
func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			zerolog.Ctx(r.Context()).Error().
				Str("panic", fmt.Sprint(rec)).
				Str("path", r.URL.Path).
				Msg("Recovered from panic in admin handler")
			writeError(w, r, fmt.Errorf("internal error: %v", rec))
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// instrument records request count and latency for route.
func instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		metrics.ObserveAdminRequest(r.Method, route, rec.status, elapsed)
		zerolog.Ctx(r.Context()).Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", rec.status).
			Dur("duration", elapsed).
			Msg("Handled admin request")
	})
}
