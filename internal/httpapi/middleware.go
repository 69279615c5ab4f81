// v1
// internal/httpapi/middleware.go
package httpapi

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
)

// Wrap adds panic recovery, an optional combined-format access log and the
// structured request log around the router.
func Wrap(logger *slog.Logger, accessLog io.Writer, next http.Handler) http.Handler {
	h := WrapWithLogging(logger, next)
	if accessLog != nil {
		h = handlers.CombinedLoggingHandler(accessLog, h)
	}
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{logger}),
		handlers.PrintRecoveryStack(false),
	)(h)
}

// WrapWithLogging records method, path, status and latency of every request.
func WrapWithLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Info("http_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.status),
			slog.String("duration", time.Since(start).String()),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type recoveryLogger struct {
	log *slog.Logger
}

func (l recoveryLogger) Println(args ...interface{}) {
	l.log.Error("http_panic_recovered", slog.String("detail", fmt.Sprint(args...)))
}
