package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/hilthontt/socialbook/internal/infrastructure/logging"
)

func (app *Application) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		app.logger.Debug(logging.IO, logging.ExternalService, "ops request served", map[logging.ExtraKey]any{
			logging.Method:  r.Method,
			logging.Path:    r.URL.Path,
			logging.Status:  ww.Status(),
			logging.Latency: time.Since(start).String(),
		})
	})
}
