package main

import (
	"context"
	"expvar"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/hilthontt/socialbook/internal/dependency"
	"github.com/hilthontt/socialbook/internal/infrastructure/configs"
	"github.com/hilthontt/socialbook/internal/infrastructure/events"
	"github.com/hilthontt/socialbook/internal/infrastructure/logging"
	"github.com/hilthontt/socialbook/internal/infrastructure/messaging"
	"github.com/hilthontt/socialbook/internal/persistence/db"
	"github.com/hilthontt/socialbook/internal/persistence/repository"
	"github.com/hilthontt/socialbook/internal/presentation/handler/health"
)

const (
	serviceName = "socialbook-notification-worker"
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

	mongoCfg := db.NewMongoConfig(cfg.Mongo)
	client, err := db.NewMongoClient(ctx, mongoCfg, logger)
	if err != nil {
		logger.Fatal(logging.MongoDB, logging.Startup, err.Error(), nil)
	}
	defer db.DisconnectMongo(context.Background(), client, logger)

	notifications := repository.NewNotificationRepository(db.GetDatabase(client, mongoCfg))
	if err := notifications.EnsureIndexes(ctx); err != nil {
		logger.Fatal(logging.MongoDB, logging.Startup, err.Error(), nil)
	}

	queue, err := container.QueueSpec(messaging.CommentNotificationsQueue)
	if err != nil {
		logger.Fatal(logging.RabbitMQ, logging.Startup, err.Error(), nil)
	}
	consumer := container.NewConsumer(queue, events.NewNotificationConsumer(notifications, logger))

	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	if err := container.RunWorker(ctx, consumer, map[string]health.Component{
		"mongodb": health.ComponentFunc(func() bool {
			return db.Ping(context.Background(), client, 2*time.Second) == nil
		}),
	}); err != nil {
		logger.Error(logging.General, logging.Shutdown, err.Error(), nil)
	}
}
