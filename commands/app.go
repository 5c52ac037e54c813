package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/trawler/callback"
	"github.com/c360studio/trawler/config"
	"github.com/c360studio/trawler/crawler"
	"github.com/c360studio/trawler/dispatch"
	"github.com/c360studio/trawler/historic"
	"github.com/c360studio/trawler/pipeline"
	"github.com/c360studio/trawler/playstore"
	"github.com/c360studio/trawler/storage"
	"github.com/c360studio/trawler/storage/mongostore"
	"github.com/c360studio/trawler/terminator"
)

// crawlCacheSize bounds the worker-local crawl cache.
const crawlCacheSize = 256

// App bundles the process wide resources of the daemon and worker
// commands: the NATS connection (embedded server or external), the
// Mongo store and the dispatcher on top of JetStream.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	embeddedServer *server.Server
	natsConn       *nats.Conn
	js             jetstream.JetStream

	store      *mongostore.Store
	dispatcher *dispatch.NATSDispatcher
}

// newApp connects the store and the messaging layer.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	store, err := connectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = store

	if err := a.startNATS(ctx); err != nil {
		a.Shutdown(ctx)
		return nil, fmt.Errorf("start NATS: %w", err)
	}

	dispatcher, err := dispatch.NewNATSDispatcher(ctx, a.js, logger)
	if err != nil {
		a.Shutdown(ctx)
		return nil, err
	}
	a.dispatcher = dispatcher
	return a, nil
}

func (a *App) startNATS(ctx context.Context) error {
	if a.cfg.NATS.URL != "" && !a.cfg.NATS.Embedded {
		// Connect to external NATS
		a.logger.Info("connecting to NATS", "url", a.cfg.NATS.URL)
		conn, err := nats.Connect(a.cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		a.natsConn = conn
	} else {
		// Start embedded NATS server
		a.logger.Info("starting embedded NATS server")
		opts := &server.Options{
			Port:      -1, // Random available port
			JetStream: true,
			NoLog:     true,
			NoSigs:    true,
		}
		ns, err := server.NewServer(opts)
		if err != nil {
			return fmt.Errorf("create embedded NATS server: %w", err)
		}
		go ns.Start()
		if !ns.ReadyForConnections(5 * time.Second) {
			ns.Shutdown()
			return fmt.Errorf("embedded NATS server failed to start")
		}
		a.embeddedServer = ns

		conn, err := nats.Connect(ns.ClientURL())
		if err != nil {
			ns.Shutdown()
			return fmt.Errorf("connect to embedded NATS: %w", err)
		}
		a.natsConn = conn
	}

	js, err := jetstream.New(a.natsConn)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	a.js = js
	return nil
}

// Shutdown releases the messaging and storage resources.
func (a *App) Shutdown(ctx context.Context) {
	if a.natsConn != nil {
		_ = a.natsConn.Drain()
		a.natsConn.Close()
	}
	if a.embeddedServer != nil {
		a.embeddedServer.Shutdown()
		a.embeddedServer.WaitForShutdown()
	}
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			a.logger.Warn("close store", "error", err)
		}
	}
}

// registerHandlers binds every task handler the engine ships to a
// fresh registry: the crawl tasks, pipelines, the target monitor
// callback, the terminators and the Play Store request tasks.
func (a *App) registerHandlers() (*dispatch.Registry, error) {
	deps := crawler.Dependencies{
		Caller:    a.dispatcher,
		Submitter: a.dispatcher,
		Logger:    a.logger,
	}
	return buildRegistry(a.store, a.store, deps, a.cfg, a.logger)
}

// startWorkers brings up one consumer per queue. The request queue is
// rate limited per the configuration, the others run unthrottled.
func (a *App) startWorkers(ctx context.Context, registry *dispatch.Registry, queues []string) ([]*dispatch.Worker, error) {
	results, err := dispatch.EnsureResultsBucket(ctx, a.js)
	if err != nil {
		return nil, err
	}
	workers := make([]*dispatch.Worker, 0, len(queues))
	for _, queue := range queues {
		cfg := dispatch.DefaultWorkerConfig(queue)
		if a.cfg.Worker.Concurrency > 0 {
			cfg.Concurrency = a.cfg.Worker.Concurrency
		}
		if a.cfg.Worker.MaxDeliver > 0 {
			cfg.MaxDeliver = a.cfg.Worker.MaxDeliver
		}
		if a.cfg.Worker.AckWait > 0 {
			cfg.AckWait = a.cfg.Worker.AckWait
		}
		if queue == "request" {
			cfg.RatePerSecond = a.cfg.Worker.RequestRate
		}
		worker := dispatch.NewWorker(cfg, registry, a.js, results, a.logger)
		if err := worker.Start(ctx); err != nil {
			stopWorkers(workers)
			return nil, fmt.Errorf("start %s worker: %w", queue, err)
		}
		workers = append(workers, worker)
	}
	return workers, nil
}

func stopWorkers(workers []*dispatch.Worker) {
	for _, worker := range workers {
		worker.Stop()
	}
}

// connectStore opens the Mongo store from the configuration.
func connectStore(ctx context.Context, cfg *config.Config) (*mongostore.Store, error) {
	store, err := mongostore.Connect(ctx, mongostore.Config{
		URI:              cfg.Mongo.URI,
		MetadataDatabase: cfg.Mongo.MetadataDatabase,
		DataDatabase:     cfg.Mongo.DataDatabase,
		TargetIdentity:   cfg.Mongo.TargetIdentity,
	})
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}
	return store, nil
}

// buildRegistry assembles the full task registry. The crawl tasks
// apply pipelines, terminators and callbacks in-process, so the
// registry itself becomes their Applier; commands that only need the
// registered task names may leave the dispatch dependencies nil.
func buildRegistry(meta storage.MetadataStore, data storage.DataStore, deps crawler.Dependencies, cfg *config.Config, logger *slog.Logger) (*dispatch.Registry, error) {
	registry := dispatch.NewRegistry()

	crawls, err := storage.NewCrawlCache(meta, crawlCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create crawl cache: %w", err)
	}

	factory := pipeline.NewFactoryRegistry()
	playstore.RegisterDocuments(factory)
	saver := historic.NewSaver(data, nil)

	pipeline.NewTasks(meta, saver, factory, crawls, logger).Register(registry)
	callback.NewTasks(meta, crawls, logger).Register(registry)
	terminator.Register(registry)

	deps.Applier = registry
	crawler.NewTasks(meta, deps, logger).Register(registry)

	client := playstore.NewClient(playstoreClientConfig(cfg))
	playstore.NewTasks(client, logger).Register(registry)

	return registry, nil
}

func playstoreClientConfig(cfg *config.Config) playstore.ClientConfig {
	return playstore.ClientConfig{
		RequestsPerSecond: cfg.Playstore.RequestsPerSecond,
		Attempts:          cfg.Playstore.Attempts,
		Timeout:           cfg.Playstore.Timeout,
		UserAgent:         cfg.Playstore.UserAgent,
		Country:           cfg.Playstore.Country,
	}
}
