package router

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-staff/internal/account"
	"github.com/ovaphlow/pitchfork/service-staff/internal/auth"
	"github.com/ovaphlow/pitchfork/service-staff/internal/news"
	"github.com/ovaphlow/pitchfork/service-staff/internal/notification"
	"github.com/ovaphlow/pitchfork/service-staff/pkg/utilities"
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware returns a middleware that logs requests at debug level using the provided sugared logger.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			// ensure status is set
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", r.Header.Get("X-Request-ID"),
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware returns a middleware that sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Prevent MIME sniffing
			w.Header().Set("X-Content-Type-Options", "nosniff")

			// Clickjacking protection
			w.Header().Set("X-Frame-Options", "DENY")

			w.Header().Set("Referrer-Policy", "no-referrer")
			// responses carry tokens and personal data
			w.Header().Set("Cache-Control", "no-store")

			// JSON only, nothing to load or embed
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			}

			// HSTS - instruct browsers to use HTTPS for future requests. Only set if request is over TLS.
			if r.TLS != nil {
				// 30 days by default
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequestIDMiddleware tags each request with an X-Request-ID, keeping one
// supplied by the caller.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = utilities.NewKSUID()
				r.Header.Set("X-Request-ID", id)
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r)
		})
	}
}

// Deps is everything the routes need.
type Deps struct {
	Accounts      *account.Handler
	Notifications *notification.Handler
	News          *news.Handler
	Issuer        *auth.Issuer
	Lookup        auth.AccountLookup
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
func RegisterRoutes(logger *zap.SugaredLogger, d Deps) http.Handler {
	mux := http.NewServeMux()
	authed := auth.RequireAccount(d.Issuer, d.Lookup, logger)
	protect := func(h http.HandlerFunc) http.Handler { return authed(h) }

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /token", d.Accounts.Login)
	mux.HandleFunc("GET /.well-known/jwks.json", d.Issuer.JWKSHandler)

	mux.Handle("POST /users", protect(d.Accounts.Create))
	mux.Handle("GET /users", protect(d.Accounts.Search))
	mux.Handle("GET /users/me", protect(d.Accounts.Me))
	mux.Handle("PUT /users/me", protect(d.Accounts.UpdateMe))
	mux.Handle("GET /users/{id}", protect(d.Accounts.Get))
	mux.Handle("PUT /users/{id}", protect(d.Accounts.Update))
	mux.Handle("POST /users/unblock/{id}", protect(d.Accounts.Unblock))

	mux.Handle("GET /users/me/notifications", protect(d.Notifications.List))
	mux.Handle("PUT /users/notifications/{id}/read", protect(d.Notifications.MarkRead))

	mux.Handle("GET /news", protect(d.News.List))
	mux.Handle("GET /news/{id}", protect(d.News.Get))
	mux.Handle("POST /news", protect(d.News.Create))
	mux.Handle("PATCH /news/{id}", protect(d.News.Update))
	mux.Handle("DELETE /news/{id}", protect(d.News.Delete))

	return RequestIDMiddleware()(LoggingMiddleware(logger)(SecurityHeadersMiddleware()(mux)))
}
