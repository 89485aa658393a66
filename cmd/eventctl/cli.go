package main

import (
	"context"

	"github.com/hilthontt/socialbook/internal/dependency"
	"github.com/hilthontt/socialbook/internal/domain"
	"github.com/hilthontt/socialbook/internal/infrastructure/configs"
	"github.com/hilthontt/socialbook/internal/infrastructure/messaging"
	"github.com/hilthontt/socialbook/internal/persistence/db"
	"github.com/hilthontt/socialbook/internal/persistence/repository"
)

const serviceName = "socialbook-eventctl"

type cli struct {
	configPath string
	verbose    bool

	// Overridable in tests.
	options        []messaging.Option
	openRepository func(ctx context.Context, container *dependency.Container) (domain.NotificationRepository, func(), error)
}

func (c *cli) container() (*dependency.Container, error) {
	cfg, err := configs.Load(configs.ResolveConfigPath(c.configPath))
	if err != nil {
		return nil, err
	}

	cfg.Logger.Encoding = "console"
	if !c.verbose {
		cfg.Logger.Level = "warn"
	}

	container, err := dependency.NewContainer(serviceName, cfg)
	if err != nil {
		return nil, err
	}
	container.Options = append(container.Options, c.options...)
	return container, nil
}

func (c *cli) repository(ctx context.Context, container *dependency.Container) (domain.NotificationRepository, func(), error) {
	if c.openRepository != nil {
		return c.openRepository(ctx, container)
	}

	mongoCfg := db.NewMongoConfig(container.Config.Mongo)
	client, err := db.NewMongoClient(ctx, mongoCfg, container.Logger)
	if err != nil {
		return nil, nil, err
	}

	closeFn := func() {
		_ = db.DisconnectMongo(context.Background(), client, container.Logger)
	}
	return repository.NewNotificationRepository(db.GetDatabase(client, mongoCfg)), closeFn, nil
}
