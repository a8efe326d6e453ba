package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"changewatch/internal/config"
	"changewatch/internal/logging"
	"changewatch/internal/pubsub"
	memorybus "changewatch/internal/pubsub/memory"
	natsbus "changewatch/internal/pubsub/nats"
	"changewatch/internal/relay"
	"changewatch/internal/storage"
	memorystore "changewatch/internal/storage/memory"
	mongostore "changewatch/internal/storage/mongo"
	"changewatch/internal/watch"
)

func main() {
	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		log.Fatalf("Logging error: %v", err)
	}
	defer logging.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	schemas, err := cfg.Schemas()
	if err != nil {
		log.Fatalf("Schema error: %v", err)
	}

	// 2. Build the store backend and the bus
	backend, cleanup, err := buildBackend(ctx, cfg, schemas)
	if err != nil {
		log.Fatalf("Storage error: %v", err)
	}
	defer cleanup()

	consumer, publisher, busCleanup, err := buildBus(ctx, cfg)
	if err != nil {
		log.Fatalf("Bus error: %v", err)
	}
	defer busCleanup()

	pred, err := buildPredicate(cfg.Watch)
	if err != nil {
		log.Fatalf("Watch predicate error: %v", err)
	}

	// 3. Run the relay until a signal arrives
	r := relay.New(backend, consumer, publisher, relay.Options{
		Watch:            pred,
		PublishPreEvents: cfg.Watch.PublishPreEvents,
	})
	r.Middleware().SetEnabled(cfg.Watch.Enabled)

	slog.Info("Starting changewatch relay",
		"backend", cfg.Storage.Backend,
		"bus", cfg.Bus.Provider,
		"watch_enabled", cfg.Watch.Enabled,
	)
	if err := r.Run(ctx); err != nil {
		slog.Error("Relay terminated", "error", err)
	}
}

func buildBackend(ctx context.Context, cfg *config.Config, schemas storage.Schemas) (relay.Backend, func(), error) {
	switch cfg.Storage.Backend {
	case "memory":
		return memorystore.New(schemas), func() {}, nil
	case "mongo":
		store, err := mongostore.Connect(ctx, cfg.Storage.Mongo.URI, cfg.Storage.Mongo.Database, schemas)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close(context.Background()) }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func buildBus(ctx context.Context, cfg *config.Config) (pubsub.Consumer, pubsub.Publisher, func(), error) {
	switch cfg.Bus.Provider {
	case "memory":
		broker := memorybus.NewBroker()
		return broker.Consumer(cfg.Bus.OpsStream + ".>"), broker.Publisher(), broker.Close, nil
	case "nats":
		provider, err := natsbus.NewProvider(cfg.Bus.URL)
		if err != nil {
			return nil, nil, nil, err
		}
		consumer, err := provider.NewConsumer(pubsub.ConsumerOptions{
			StreamName:   cfg.Bus.OpsStream,
			ConsumerName: cfg.Bus.ConsumerName,
		})
		if err != nil {
			provider.Close()
			return nil, nil, nil, err
		}
		publisher, err := provider.NewPublisher(ctx, pubsub.PublisherOptions{
			StreamName: cfg.Bus.ChangesStream,
		})
		if err != nil {
			provider.Close()
			return nil, nil, nil, err
		}
		return consumer, publisher, provider.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown bus provider %q", cfg.Bus.Provider)
	}
}

func buildPredicate(cfg config.WatchConfig) (watch.CollectionPredicate, error) {
	if cfg.Expr != "" {
		return watch.WatchExpr(cfg.Expr)
	}
	if len(cfg.Collections) > 0 {
		return watch.WatchCollections(cfg.Collections...), nil
	}
	return watch.WatchAll(), nil
}
