// Package commands implements the speccorpus CLI subcommands and the
// wiring that builds the orchestrator from configuration.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/speccorpus/config"
	"github.com/c360studio/speccorpus/corpus"
	"github.com/c360studio/speccorpus/dispatch"
	"github.com/c360studio/speccorpus/graph"
	"github.com/c360studio/speccorpus/investigate"
	"github.com/c360studio/speccorpus/library"
	"github.com/c360studio/speccorpus/notes"
	"github.com/c360studio/speccorpus/orchestrate"
	"github.com/c360studio/speccorpus/publish"
	"github.com/c360studio/speccorpus/registry"
	"github.com/c360studio/speccorpus/tools/git"
	"github.com/c360studio/speccorpus/validate"
	"github.com/c360studio/speccorpus/watch"
)

// App holds the wired components behind every subcommand.
type App struct {
	Config       *config.Config
	Registry     *registry.Registry
	Graph        *graph.Graph
	Pool         *dispatch.Pool
	Gate         *publish.Gate
	Library      *library.Manager
	Watcher      *watch.Watcher
	Orchestrator *orchestrate.Orchestrator

	nc     *nats.Conn
	logger *slog.Logger
}

// BuildApp loads configuration and assembles the pipeline. An explicit
// config path skips the layered loader.
func BuildApp(ctx context.Context, configPath string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
		if err == nil {
			err = cfg.Validate()
		}
	} else {
		cfg, err = config.NewLoader(logger).Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	app := &App{Config: cfg, logger: logger}

	store, err := app.buildStore(ctx)
	if err != nil {
		return nil, err
	}

	normalizer := corpus.NewNormalizer(cfg.Registry.Stopwords)
	reg, err := registry.New(ctx, store,
		registry.WithLogger(logger),
		registry.WithNormalizer(normalizer))
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("build registry: %w", err)
	}
	app.Registry = reg

	client := investigate.NewClient(cfg.Collaborator.Endpoint,
		investigate.WithLogger(logger))
	app.Pool = dispatch.NewPool(client, dispatch.Config{
		SpecStudyCap:   cfg.Dispatch.SpecStudyCap,
		SourceStudyCap: cfg.Dispatch.SourceStudyCap,
		JobTimeout:     cfg.Dispatch.JobTimeout,
	}, dispatch.WithLogger(logger))

	app.Graph = graph.New(reg, logger)
	app.Library = library.NewManager(cfg.Repo.Path)

	executor := git.NewExecutor(cfg.Repo.Path).WithLogger(logger)
	if !executor.IsRepo() {
		app.Close()
		return nil, fmt.Errorf("%s: %w", cfg.Repo.Path, git.ErrNotARepo)
	}
	app.Gate = publish.NewGate(executor, reg, app.Library, logger)

	validator := validate.New(
		validate.WithCanonicalResolver(reg),
		validate.WithLogger(logger))

	watcher, err := watch.NewWatcher(watch.Config{}, app.Library.SpecsPath(), logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("build watcher: %w", err)
	}
	app.Watcher = watcher

	app.Orchestrator = orchestrate.New(reg, app.Graph, app.Pool, validator, app.Gate, app.Library,
		orchestrate.WithPlanningNotes(notes.NewPlanning(app.Library.PlanningNotesPath())),
		orchestrate.WithSource(corpus.SourceRef{Root: cfg.Repo.Path}),
		orchestrate.WithHashRecorder(watcher),
		orchestrate.WithLogger(logger))

	return app, nil
}

// buildStore connects the registry to NATS JetStream KV when a server is
// configured, falling back to in-memory state otherwise.
func (a *App) buildStore(ctx context.Context) (registry.Store, error) {
	if a.Config.NATS.URL == "" {
		a.logger.Debug("no NATS URL configured, using in-memory registry store")
		return registry.NewMemoryStore(), nil
	}

	nc, err := nats.Connect(a.Config.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	a.nc = nc

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	store, err := registry.NewKVStore(ctx, js)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create KV store: %w", err)
	}
	return store, nil
}

// Close releases the dispatcher, watcher, and the NATS connection.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.Watcher != nil {
		a.Watcher.Stop()
	}
	if a.nc != nil {
		a.nc.Close()
	}
}
