// Package middleware wraps the HTTP trigger surface.
package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// RequestLogger logs every request with its status and duration. The sync
// endpoints can run for minutes, so the duration field is the interesting
// part. A nil logger disables the middleware.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}

			next.ServeHTTP(sw, r)

			logger.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr))
		})
	}
}

// statusWriter records the first status code written. A second WriteHeader
// is dropped instead of tripping net/http's superfluous-call warning.
type statusWriter struct {
	http.ResponseWriter
	statusCode    int
	headerWritten bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if sw.headerWritten {
		return
	}
	sw.statusCode = code
	sw.headerWritten = true
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.headerWritten {
		sw.WriteHeader(http.StatusOK)
	}
	return sw.ResponseWriter.Write(b)
}

func (sw *statusWriter) status() int {
	if !sw.headerWritten {
		return http.StatusOK
	}
	return sw.statusCode
}
