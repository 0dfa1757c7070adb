package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"stakeledger/observability/logging"
)

const headerRequestID = "X-Request-ID"

const (
	contextKeyRequestID contextKey = "stakingd.request_id"
	contextKeyLogger    contextKey = "stakingd.logger"
)

// requestContext assigns a request ID, reusing a well-formed inbound one,
// and attaches a request-scoped logger.
func requestContext(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(headerRequestID))
			if _, err := uuid.Parse(id); err != nil {
				id = uuid.NewString()
			}
			w.Header().Set(headerRequestID, id)
			logger := base.With(logging.MaskField("request_id", id))
			ctx := context.WithValue(r.Context(), contextKeyRequestID, id)
			ctx = context.WithValue(ctx, contextKeyLogger, logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// accessLog writes one line per request and records request metrics once
// the handler returns.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		var route string
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		s.metrics.Observe(route, r.Method, status, time.Since(started))
		attrs := []any{
			logging.MaskField("method", r.Method),
			logging.MaskField("path", r.URL.Path),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(started)),
		}
		if caller, ok := callerFrom(r.Context()); ok {
			attrs = append(attrs, logging.MaskField("caller", caller.Hex()))
		}
		logger := loggerFrom(r.Context())
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", attrs...)
			return
		}
		logger.Info("request served", attrs...)
	})
}

func loggerFrom(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKeyLogger).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}
