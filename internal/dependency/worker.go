package dependency

import (
	"context"
	"fmt"

	"github.com/hilthontt/socialbook/internal/infrastructure/configs"
	"github.com/hilthontt/socialbook/internal/infrastructure/logging"
	"github.com/hilthontt/socialbook/internal/infrastructure/messaging"
	"github.com/hilthontt/socialbook/internal/infrastructure/metrics"
	"github.com/hilthontt/socialbook/internal/infrastructure/tracing"
	"github.com/hilthontt/socialbook/internal/presentation/api"
	"github.com/hilthontt/socialbook/internal/presentation/handler/health"
	"golang.org/x/sync/errgroup"
)

// Container holds what every socialbook process shares: config, logger,
// tracer and metrics.
type Container struct {
	Name    string
	Config  *configs.Config
	Logger  logging.Logger
	Metrics *metrics.Metrics

	// Options are appended to every publisher and consumer built by the container.
	Options []messaging.Option

	shutdownTracer tracing.ShutdownFunc
}

func NewContainer(name string, cfg *configs.Config) (*Container, error) {
	c := &Container{
		Name:    name,
		Config:  cfg,
		Metrics: metrics.New(),
	}

	c.Logger = logging.NewLogger(&logging.LoggerConfig{
		AppName:  name,
		FilePath: cfg.Logger.FilePath,
		Encoding: cfg.Logger.Encoding,
		Level:    cfg.Logger.Level,
		Logger:   cfg.Logger.Logger,
	})

	shutdown, err := tracing.InitTracer(tracing.Config{
		ServiceName: name,
		Environment: cfg.Tracing.Environment,
		Endpoint:    cfg.Tracing.Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("error initializing tracer: %w", err)
	}
	c.shutdownTracer = shutdown

	c.Logger.Info(logging.General, logging.Startup, "dependencies initialized", map[logging.ExtraKey]any{
		logging.AppName:  name,
		logging.Exchange: cfg.RabbitMQ.Exchange,
	})
	return c, nil
}

// Topology is the default exchange layout, with the dead-letter pair when enabled.
func (c *Container) Topology() messaging.Topology {
	topo := messaging.DefaultTopology(c.Config.RabbitMQ.Exchange)
	if c.Config.RabbitMQ.DeadLetter {
		topo = topo.WithDeadLetter()
	}
	return topo
}

// QueueSpec resolves the queue a worker consumes. rabbitmq.queue overrides
// defaultQueue, and rabbitmq.routing_key replaces its default bindings.
func (c *Container) QueueSpec(defaultQueue string) (messaging.QueueSpec, error) {
	name := c.Config.RabbitMQ.Queue
	if name == "" {
		name = defaultQueue
	}
	if name == "" {
		return messaging.QueueSpec{}, fmt.Errorf("rabbitmq.queue is required")
	}

	if key := c.Config.RabbitMQ.RoutingKey; key != "" {
		return messaging.QueueSpec{Name: name, Bindings: []string{key}}, nil
	}

	spec, ok := c.Topology().Queue(name)
	if !ok {
		return messaging.QueueSpec{}, fmt.Errorf("queue %q has no default binding; set rabbitmq.routing_key", name)
	}
	return spec, nil
}

func (c *Container) messagingOptions() []messaging.Option {
	opts := []messaging.Option{messaging.WithMetrics(c.Metrics)}
	return append(opts, c.Options...)
}

func (c *Container) NewConsumer(queue messaging.QueueSpec, handler messaging.Handler) *messaging.Consumer {
	rc := c.Config.RabbitMQ
	return messaging.NewConsumer(messaging.ConsumerConfig{
		URL:             rc.URL,
		Exchange:        rc.Exchange,
		Queue:           queue,
		Prefetch:        rc.Prefetch,
		RetryDelay:      rc.RetryDelay,
		MaxRedeliveries: rc.MaxRedeliveries,
		DeadLetter:      rc.DeadLetter,
		ConsumerTag:     c.Name,
	}, handler, c.Logger, c.messagingOptions()...)
}

func (c *Container) NewPublisher() *messaging.Publisher {
	rc := c.Config.RabbitMQ
	topo := c.Topology()
	return messaging.NewPublisher(messaging.PublisherConfig{
		URL:            rc.URL,
		Exchange:       rc.Exchange,
		RetryDelay:     rc.RetryDelay,
		ConnectionName: c.Name,
		Topology:       &topo,
	}, c.Logger, c.messagingOptions()...)
}

// NewApplication builds the ops server. Readiness requires every component.
func (c *Container) NewApplication(components map[string]health.Component) *api.Application {
	return api.NewApplication(c.Config.HTTP, health.NewHandler(components), c.Metrics, c.Logger)
}

// RunWorker runs consumer and the ops server until ctx is cancelled or either fails.
// The consumer always gates readiness; extra adds more components.
func (c *Container) RunWorker(ctx context.Context, consumer *messaging.Consumer, extra map[string]health.Component) error {
	components := map[string]health.Component{"rabbitmq": consumer}
	for name, component := range extra {
		components[name] = component
	}
	app := c.NewApplication(components)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(ctx)
	})
	g.Go(func() error {
		return app.Run(ctx, app.Mount())
	})

	err := g.Wait()
	c.Logger.Info(logging.General, logging.Shutdown, "worker stopped", map[logging.ExtraKey]any{
		logging.AppName: c.Name,
		logging.Queue:   consumer.Queue(),
	})
	return err
}

// Close flushes traces and the logger.
func (c *Container) Close(ctx context.Context) {
	if c.shutdownTracer != nil {
		if err := c.shutdownTracer(ctx); err != nil {
			c.Logger.Warn(logging.General, logging.Shutdown, "failed to shut down tracer", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}
	}
	_ = c.Logger.Sync()
}
