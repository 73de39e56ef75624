package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/identity-onboarding/internal/observer"
	"gitlab.com/timkado/api/identity-onboarding/pkg/logger"
)

const unmatchedRoute = "unmatched"

// instrument attaches a request logger to the context, then logs and meters
// every request by route pattern.
func instrument(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			log := base.With(zap.String("method", r.Method), zap.String("path", r.URL.Path))
			r = r.WithContext(logger.WithLogger(r.Context(), log))

			next.ServeHTTP(ww, r)

			route := unmatchedRoute
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			observer.IncHTTPRequest(route, strconv.Itoa(status))
			log.Debug("Request served",
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

// recoverer turns a handler panic into a 500.
func recoverer(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					if p == http.ErrAbortHandler {
						panic(p)
					}
					log.Error("Panic recovered in HTTP handler", zap.Any("panic_error", p), zap.Stack("stack"))
					writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: codeInternal})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
