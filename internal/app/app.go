// Package app wires the themeagent services from configuration. Both the
// server and the command line build their runtime here.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/themeagent/internal/arc"
	"github.com/fyrsmithlabs/themeagent/internal/archive"
	"github.com/fyrsmithlabs/themeagent/internal/config"
	"github.com/fyrsmithlabs/themeagent/internal/coordinator"
	"github.com/fyrsmithlabs/themeagent/internal/events"
	"github.com/fyrsmithlabs/themeagent/internal/filestore"
	"github.com/fyrsmithlabs/themeagent/internal/ignore"
	"github.com/fyrsmithlabs/themeagent/internal/llm"
	"github.com/fyrsmithlabs/themeagent/internal/logging"
	"github.com/fyrsmithlabs/themeagent/internal/plan"
	"github.com/fyrsmithlabs/themeagent/internal/planner"
	"github.com/fyrsmithlabs/themeagent/internal/routing"
	"github.com/fyrsmithlabs/themeagent/internal/runs"
	"github.com/fyrsmithlabs/themeagent/internal/scout"
	"github.com/fyrsmithlabs/themeagent/internal/secrets"
	"github.com/fyrsmithlabs/themeagent/internal/services"
	"github.com/fyrsmithlabs/themeagent/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/themeagent"

// Options configures New.
type Options struct {
	Config    *config.Config
	Logger    *logging.Logger
	Telemetry *telemetry.Telemetry
	// Planner overrides the LLM planner built from Config.LLM.
	Planner planner.Planner
	// Store overrides the directory store rooted at Config.Workspace.Root.
	Store filestore.Store
}

// App holds the wired runtime.
type App struct {
	Config      *config.Config
	Store       filestore.Store
	Coordinator *coordinator.Coordinator
	Runs        *runs.Manager
	Archive     archive.Service
	Arcs        *arc.Tracker
	Scrubber    secrets.Scrubber

	index  *scout.Index
	nc     *nats.Conn
	logger *logging.Logger
}

// New builds every service. Optional infrastructure (NATS, the archive, the
// scout index) is skipped when disabled in configuration; a NATS connection
// failure is logged and the run stream stays in process.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	a := &App{Config: cfg, Arcs: arc.NewTracker(), logger: logger}

	store := opts.Store
	if store == nil {
		ig, err := ignore.NewParser(ignore.DefaultFiles, ignore.DefaultPatterns).Load(cfg.Workspace.Root)
		if err != nil {
			return nil, fmt.Errorf("reading ignore files: %w", err)
		}
		ds, err := filestore.NewDirStore(cfg.Workspace.Root, filestore.WithIgnore(ig))
		if err != nil {
			return nil, fmt.Errorf("opening workspace: %w", err)
		}
		store = ds
	}
	a.Store = store

	scrubber, err := secrets.NewGitleaks()
	if err != nil {
		logger.Warn(ctx, "secret scrubbing disabled", zap.Error(err))
		a.Scrubber = secrets.Nop{}
	} else {
		a.Scrubber = scrubber
	}

	p := opts.Planner
	if p == nil {
		provider, err := llm.New(cfg.LLM, logger)
		if err != nil {
			return nil, fmt.Errorf("creating llm provider: %w", err)
		}
		p = planner.NewLLM(provider, cfg.LLM.MaxTokens)
	}

	router, err := routing.NewRouter(cfg.Routing)
	if err != nil {
		return nil, fmt.Errorf("creating router: %w", err)
	}

	deps := coordinator.Deps{
		Config:   cfg,
		Store:    store,
		Planner:  p,
		Router:   router,
		Arcs:     a.Arcs,
		Scrubber: a.Scrubber,
		Logger:   logger,
		Tracer:   opts.Telemetry.Tracer(instrumentationName),
		Meter:    opts.Telemetry.Meter(instrumentationName),
	}
	if cfg.Workspace.PlanFile != "" && cfg.Workspace.Root != "" {
		deps.Plans = plan.NewFileStore(filepath.Join(cfg.Workspace.Root, cfg.Workspace.PlanFile))
	}
	if cfg.Workspace.Versioning && cfg.Workspace.Root != "" {
		v, err := filestore.NewGitVersioner(cfg.Workspace.Root)
		if err != nil {
			logger.Warn(ctx, "versioning disabled", zap.Error(err))
		} else {
			deps.Versioner = v
		}
	}
	if !cfg.Scout.Disabled {
		a.index = scout.NewIndex(store, logger)
		deps.Scout = a.index
	}

	a.Coordinator, err = coordinator.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating coordinator: %w", err)
	}

	runOpts := []runs.Option{runs.WithLogger(logger)}
	if !cfg.Archive.Disabled {
		a.Archive, err = archive.Open(cfg.Archive.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("opening archive: %w", err)
		}
		runOpts = append(runOpts, runs.WithArchive(a.Archive))
	}
	if cfg.Events.NATSURL != "" {
		nc, err := nats.Connect(cfg.Events.NATSURL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(1*time.Second),
		)
		if err != nil {
			logger.Warn(ctx, "event forwarding disabled", zap.String("url", cfg.Events.NATSURL), zap.Error(err))
		} else {
			a.nc = nc
			runOpts = append(runOpts, runs.WithSink(events.NewNATSPublisher(nc, cfg.Events.SubjectPrefix)))
			logger.Info(ctx, "connected to NATS", zap.String("url", cfg.Events.NATSURL))
		}
	}
	a.Runs = runs.NewManager(a.Coordinator, runOpts...)
	return a, nil
}

// Registry exposes the services to the HTTP layer.
func (a *App) Registry() services.Registry {
	return services.NewRegistry(services.Options{
		Runs:     a.Runs,
		Archive:  a.Archive,
		Arcs:     a.Arcs,
		Scrubber: a.Scrubber,
	})
}

// Watch keeps the scout index fresh while ctx is live. It returns at once
// when watching is disabled or there is no workspace directory.
func (a *App) Watch(ctx context.Context) error {
	if a.index == nil || !a.Config.Scout.Watch || a.Config.Workspace.Root == "" {
		return nil
	}
	return a.index.Watch(ctx, a.Config.Workspace.Root)
}

// Close stops accepting runs, waits for active ones and releases
// infrastructure.
func (a *App) Close(ctx context.Context) error {
	err := a.Runs.Shutdown(ctx)
	if a.nc != nil {
		if derr := a.nc.Drain(); derr != nil {
			a.logger.Warn(ctx, "draining NATS connection failed", zap.Error(derr))
		}
	}
	if a.Archive != nil {
		if cerr := a.Archive.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
