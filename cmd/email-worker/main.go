package main

import (
	"context"
	"expvar"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/hilthontt/socialbook/internal/dependency"
	"github.com/hilthontt/socialbook/internal/infrastructure/configs"
	"github.com/hilthontt/socialbook/internal/infrastructure/events"
	"github.com/hilthontt/socialbook/internal/infrastructure/identity"
	"github.com/hilthontt/socialbook/internal/infrastructure/logging"
	"github.com/hilthontt/socialbook/internal/infrastructure/mailer"
	"github.com/hilthontt/socialbook/internal/infrastructure/messaging"
)

const (
	serviceName = "socialbook-email-worker"
)

func main() {
	configPath := configs.DetermineConfigPath()
	cfg, err := configs.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}

	container, err := dependency.NewContainer(serviceName, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer container.Close(context.Background())
	logger := container.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var directory identity.UserDirectory
	if keycloak := identity.NewKeycloakClient(cfg.Identity, logger); keycloak.Enabled() {
		directory = keycloak
	} else {
		logger.Warn(logging.Identity, logging.Startup, "identity provider not configured; emails go to the operator address", nil)
	}

	if !cfg.SMTP.Enabled() {
		logger.Warn(logging.SMTP, logging.Startup, "missing SMTP config; events will only be logged", nil)
	}

	queue, err := container.QueueSpec(messaging.CommentEmailsQueue)
	if err != nil {
		logger.Fatal(logging.RabbitMQ, logging.Startup, err.Error(), nil)
	}
	handler := events.NewEmailConsumer(cfg.SMTP, mailer.NewSMTPMailer(cfg.SMTP, logger), directory, logger)
	consumer := container.NewConsumer(queue, handler)

	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	if err := container.RunWorker(ctx, consumer, nil); err != nil {
		logger.Error(logging.General, logging.Shutdown, err.Error(), nil)
	}
}
