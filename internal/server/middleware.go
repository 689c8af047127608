package server

import (
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/esap-cc/shortlinker/internal/config"
	"github.com/esap-cc/shortlinker/internal/core"
	"github.com/esap-cc/shortlinker/internal/metrics"
	"github.com/esap-cc/shortlinker/pkg/logger"
	"github.com/esap-cc/shortlinker/pkg/password"
)

// Middleware is a standard http.Handler wrapper.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares outermost-first.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// RequestIDMiddleware assigns each request an ID carried via context.
func RequestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), requestID)))
		})
	}
}

// LoggingMiddleware logs request outcome and latency.
func LoggingMiddleware(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Debug("Request completed",
				"request_id", logger.GetRequestID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// RecoveryMiddleware converts panics into 500s and keeps the process up.
func RecoveryMiddleware(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					metrics.PanicsRecoveredTotal.Inc()
					log.Error("Panic recovered in handler",
						"request_id", logger.GetRequestID(r.Context()),
						"path", r.URL.Path,
						"panic", rec,
					)
					writeError(w, core.NewInternalError("handler panic", nil))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// AuthMiddleware enforces the admin bearer token. The stored value is an
// argon2id hash, so the presented token is verified rather than
// compared; the last successful (hash, token) pair is cached so steady
// traffic pays the key derivation once. A cookie fallback supports
// browser panels.
func AuthMiddleware(configs *config.Handle, log *slog.Logger) Middleware {
	var verified atomic.Pointer[[2]string]
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			stored := configs.Current().GetOr(config.KeyAdminToken, "")
			if stored == "" {
				writeError(w, core.NewAuthError("admin API disabled: no admin token configured"))
				return
			}

			token := bearerToken(r)
			if token == "" {
				if cookie, err := r.Cookie("token"); err == nil {
					token = cookie.Value
				}
			}
			ok := false
			if token != "" {
				if hit := verified.Load(); hit != nil && hit[0] == stored &&
					subtle.ConstantTimeCompare([]byte(hit[1]), []byte(token)) == 1 {
					ok = true
				} else if verifyToken(stored, token) {
					verified.Store(&[2]string{stored, token})
					ok = true
				}
			}
			if !ok {
				metrics.AuthFailuresTotal.Inc()
				log.Warn("Authentication failed",
					"request_id", logger.GetRequestID(r.Context()),
					"client_ip", clientIP(r),
					"path", r.URL.Path,
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
				writeError(w, core.NewAuthError("missing or invalid token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// verifyToken checks a presented token against the stored value, which
// is an argon2id hash under normal operation but may be a raw token for
// secondary credentials like the health token.
func verifyToken(stored, presented string) bool {
	if password.IsHashed(stored) {
		ok, err := password.Verify(stored, presented)
		return err == nil && ok
	}
	return stored == presented
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
