package api

import (
	"context"
	"expvar"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hilthontt/socialbook/internal/infrastructure/configs"
	"github.com/hilthontt/socialbook/internal/infrastructure/logging"
	"github.com/hilthontt/socialbook/internal/infrastructure/metrics"
	healthHandler "github.com/hilthontt/socialbook/internal/presentation/handler/health"
)

// Application is the ops listener every worker exposes: health probes and metrics.
type Application struct {
	config        configs.HTTPConfig
	healthHandler *healthHandler.Handler
	metrics       *metrics.Metrics
	logger        logging.Logger
}

func NewApplication(
	config configs.HTTPConfig,
	healthHandler *healthHandler.Handler,
	metrics *metrics.Metrics,
	logger logging.Logger,
) *Application {
	return &Application{
		config:        config,
		healthHandler: healthHandler,
		metrics:       metrics,
		logger:        logger,
	}
}

func (app *Application) Mount() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(app.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", app.healthHandler.GetHealth)
	r.Get("/healthz", app.healthHandler.GetHealth)
	r.Get("/live", app.healthHandler.GetHealth)
	r.Get("/ready", app.healthHandler.GetReady)
	r.Method(http.MethodGet, "/metrics", app.metrics.Handler())
	r.Method(http.MethodGet, "/debug/vars", expvar.Handler())

	return r
}

func (app *Application) Addr() string {
	return net.JoinHostPort(app.config.Host, fmt.Sprint(app.config.Port))
}

// Run serves mux until ctx is cancelled, then shuts down gracefully.
func (app *Application) Run(ctx context.Context, mux http.Handler) error {
	ln, err := net.Listen("tcp", app.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", app.Addr(), err)
	}
	return app.Serve(ctx, ln, mux)
}

func (app *Application) Serve(ctx context.Context, ln net.Listener, mux http.Handler) error {
	srv := &http.Server{
		Handler:      mux,
		WriteTimeout: time.Second * 30,
		ReadTimeout:  time.Second * 10,
		IdleTimeout:  time.Minute,
	}

	shutdown := make(chan error, 1)

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		shutdown <- srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(logging.IO, logging.Startup, "ops server has started", map[logging.ExtraKey]any{
		logging.Address: ln.Addr().String(),
	})

	err := srv.Serve(ln)
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	if err := <-shutdown; err != nil {
		return err
	}

	app.logger.Info(logging.IO, logging.Shutdown, "ops server has stopped", map[logging.ExtraKey]any{
		logging.Address: ln.Addr().String(),
	})
	return nil
}
