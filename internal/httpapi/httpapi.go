// Package httpapi holds the response envelope and middleware shared by the
// server and host HTTP surfaces (spec.md §6.1/§6.2). Grounded on the
// teacher framework's core/middleware.go (recovery/logging middleware
// chain) and core/agent.go's handleCapabilityRequest (JSON envelope,
// structured error logging), generalized from a single-agent capability
// handler to the {success, error} envelope every spec.md §6.1 response
// carries.
package httpapi

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/angelstreet/virtualpytest-sub002/internal/apperr"
	"github.com/angelstreet/virtualpytest-sub002/internal/logger"
)

// Envelope is the {success, error?} shape every response carries (spec.md §6.1).
type Envelope struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// WriteJSON writes data wrapped in a successful Envelope.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Success: true, Data: data})
}

// WriteError maps err to its HTTP status (apperr.HTTPStatus) and writes a
// failed Envelope carrying its message.
func WriteError(w http.ResponseWriter, log logger.Logger, op string, err error) {
	status := apperr.HTTPStatus(err)
	if log != nil {
		log.Warn("request failed", logger.Fields{"op": op, "status": status, "error": err.Error()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Success: false, Error: err.Error()})
}

// DecodeJSON parses a request body into v, returning a apperr ValidationError on failure.
func DecodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return apperr.Wrapf("DecodeJSON", "ValidationError", apperr.ErrValidation, "empty request body")
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrapf("DecodeJSON", "ValidationError", apperr.ErrValidation, "malformed request body: %v", err)
	}
	return nil
}

// responseWriter wraps http.ResponseWriter to capture the status code for
// logging, mirroring the teacher's own responseWriter in core/middleware.go.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.statusCode = http.StatusOK
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

// LoggingMiddleware logs every request in dev mode, and only non-2xx or
// slow (>1s) requests otherwise -- same policy as the teacher's
// core/middleware.go LoggingMiddleware.
func LoggingMiddleware(log logger.Logger, devMode bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			duration := time.Since(start)

			shouldLog := devMode || wrapped.statusCode >= 400 || duration > time.Second
			if !shouldLog {
				return
			}
			fields := logger.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapped.statusCode,
				"duration_ms": duration.Milliseconds(),
				"remote_addr": r.RemoteAddr,
			}
			switch {
			case wrapped.statusCode >= 500:
				log.Error("http request error", fields)
			case wrapped.statusCode >= 400:
				log.Warn("http request client error", fields)
			default:
				log.Info("http request", fields)
			}
		})
	}
}

// RecoveryMiddleware recovers panics in handlers, logging the stack and
// returning 500 instead of crashing the process.
func RecoveryMiddleware(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if log != nil {
						log.Error("http handler panic recovered", logger.Fields{
							"panic": rec,
							"path":  r.URL.Path,
							"stack": string(debug.Stack()),
						})
					}
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// PermissiveCORS allows cross-origin requests from any origin, sufficient
// for the local-development / single-tenant-frontend deployments this
// module targets; spec.md's UI is explicitly out of scope (§1) so no
// allow-list configuration surface is built on top of it.
func PermissiveCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Team-Id, X-User-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Chain composes middleware in the order given: Chain(a,b)(h) == a(b(h)).
func Chain(mw ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		for i := len(mw) - 1; i >= 0; i-- {
			h = mw[i](h)
		}
		return h
	}
}

// TeamID extracts the required team_id from query or header (spec.md §6.1:
// "All paths are team-scoped by a required team_id").
func TeamID(r *http.Request) string {
	if v := r.URL.Query().Get("team_id"); v != "" {
		return v
	}
	return r.Header.Get("X-Team-Id")
}

// UserID extracts the authenticated user context the proxy forwards
// downstream (spec.md §4.5: "adds team_id and authenticated user context
// as headers").
func UserID(r *http.Request) string {
	return r.Header.Get("X-User-Id")
}
