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
	"github.com/hilthontt/socialbook/internal/infrastructure/logging"
	"github.com/hilthontt/socialbook/internal/infrastructure/messaging"
)

const (
	serviceName = "socialbook-log-worker"
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

	// RABBITMQ_QUEUE picks the queue; recommendations is the default deployment.
	queue, err := container.QueueSpec(messaging.RecommendationsQueue)
	if err != nil {
		logger.Fatal(logging.RabbitMQ, logging.Startup, err.Error(), nil)
	}
	consumer := container.NewConsumer(queue, events.NewLogConsumer(logger))

	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	if err := container.RunWorker(ctx, consumer, nil); err != nil {
		logger.Error(logging.General, logging.Shutdown, err.Error(), nil)
	}
}
