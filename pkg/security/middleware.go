package security

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"runtime"
	"slices"
	"strconv"
	"time"

	"github.com/codeGROOVE-dev/hookfeed/pkg/apierror"
	"github.com/codeGROOVE-dev/hookfeed/pkg/logger"
)

// CombinedMiddleware applies, in order: request logging, panic recovery,
// rate limiting, security headers and CORS with an origin allowlist. Requests
// for unlimitedPaths skip the rate limit.
func CombinedMiddleware(rl *RateLimiter, allowedOrigins []string, unlimitedPaths ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			requestID := RequestIDFromContext(r.Context())

			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			defer func() {
				if rec := recover(); rec != nil {
					buf := make([]byte, 4096)
					n := runtime.Stack(buf, false)
					logger.Error("panic recovered", fmt.Errorf("%v", rec), logger.Fields{
						"ip":         ip,
						"path":       r.URL.Path,
						"request_id": requestID,
						"stack":      string(buf[:n]),
					})
					if !wrapped.written {
						apierror.Write(wrapped, apierror.UnexpectedFault(fmt.Errorf("panic: %v", rec)))
					}
				}

				fields := logger.Fields{
					"method":      r.Method,
					"path":        r.URL.Path,
					"status":      wrapped.statusCode,
					"ip":          ip,
					"duration_ms": time.Since(start).Milliseconds(),
					"request_id":  requestID,
				}
				if wrapped.statusCode >= http.StatusBadRequest {
					fields["user_agent"] = r.UserAgent()
					logger.Warn("http response", fields)
				} else {
					logger.Debug("http response", fields)
				}
			}()

			if limited := !slices.Contains(unlimitedPaths, r.URL.Path); limited {
				if ok, wait := rl.Take(ip); !ok {
					logger.Warn("rate limit exceeded", logger.Fields{
						"ip":          ip,
						"path":        r.URL.Path,
						"user_agent":  r.UserAgent(),
						"retry_after": wait.String(),
					})
					wrapped.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
					apierror.WriteJSON(wrapped, http.StatusTooManyRequests, map[string]string{"error": "Rate limit exceeded"})
					return
				}
			}

			wrapped.Header().Set("X-Content-Type-Options", "nosniff")
			wrapped.Header().Set("X-Frame-Options", "DENY")
			wrapped.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")

			origin := r.Header.Get("Origin")
			if origin != "" && len(allowedOrigins) > 0 {
				if OriginAllowed(origin, allowedOrigins) {
					wrapped.Header().Set("Access-Control-Allow-Origin", origin)
					wrapped.Header().Set("Vary", "Origin")
				} else {
					logger.Debug("CORS rejected", logger.Fields{"origin": origin, "ip": ip, "path": r.URL.Path})
				}
			}

			if r.Method == http.MethodOptions {
				wrapped.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				wrapped.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
				wrapped.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(wrapped, r)
		})
	}
}

// responseWriter records the status code. It passes hijacking through so
// websocket upgrades keep working behind the middleware.
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
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.written = true
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
