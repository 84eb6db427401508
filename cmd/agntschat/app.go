package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"agntschat/internal/adapter/backend"
	"agntschat/internal/adapter/source"
	"agntschat/internal/adapter/store"
	"agntschat/internal/domain"
	"agntschat/internal/infra/config"
	"agntschat/internal/infra/logger"
	"agntschat/internal/infra/tracer"
	"agntschat/internal/usecase"
	"agntschat/internal/usecase/eventbus"
	"agntschat/internal/usecase/runtime"
	"agntschat/internal/usecase/scheduling"
)

// app holds the wired services shared by every command.
type app struct {
	cfg *config.Config
	log *slog.Logger

	db      *store.DB
	agents  *store.AgentRepository
	sources *store.SourceRepository
	chatlog *store.ChatLogRepository

	bus        *eventbus.Bus
	aggregator *usecase.SourceAggregator
	catalog    *usecase.SourceCatalog
	runtime    *runtime.Runtime
	chat       *usecase.ChatService
	scheduler  *scheduling.Scheduler

	closers []func()
}

// openOptions tunes how the app is brought up for a command.
type openOptions struct {
	// stdioBusy redirects console logging to a file because stdout or the
	// terminal is owned by the command.
	stdioBusy bool
	// schedule starts the source revalidation scheduler.
	schedule bool
}

// openApp loads the configuration and wires the store, the context sources
// and the agent pipeline. The backend is created lazily on first use.
func openApp(ctx context.Context, cli *CLI, opts openOptions) (*app, error) {
	// 1. Config
	cfg, err := config.Load(cli.configPath())
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cli.LogLevel != "" {
		cfg.Logger.Level = cli.LogLevel
	}
	if opts.stdioBusy && isConsole(cfg.Logger.Output) {
		cfg.Logger.Output = filepath.Join(filepath.Dir(cfg.Store.Path), "agntschat.log")
		if err := os.MkdirAll(filepath.Dir(cfg.Logger.Output), 0o700); err != nil {
			return nil, fmt.Errorf("logger: %w", err)
		}
	}

	a := &app{cfg: cfg}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a.log = log
	a.closers = append(a.closers, func() { _ = logCloser() })

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("tracer: %w", err)
	}
	a.closers = append(a.closers, func() { _ = tracerShutdown(context.Background()) })

	// 3. Store
	db, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("store: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, func() { _ = db.Close() })
	a.agents = store.NewAgentRepository(db)
	a.sources = store.NewSourceRepository(db)
	a.chatlog = store.NewChatLogRepository(db)

	if cfg.Agents.ImportPath != "" {
		n, err := a.agents.ImportJSON(ctx, cfg.Agents.ImportPath)
		if err != nil {
			log.Warn("agent import failed", "path", cfg.Agents.ImportPath, "error", err)
		} else if n > 0 {
			log.Info("imported agents", "count", n, "path", cfg.Agents.ImportPath)
		}
	}

	// 4. Event bus; chat log persistence is its only built-in subscriber
	a.bus = eventbus.New(log)
	unsubscribe := usecase.SubscribeChatLog(a.bus, a.chatlog, log)
	a.closers = append(a.closers, func() {
		a.bus.Flush()
		unsubscribe()
		a.bus.Close()
	})

	// 5. Context sources
	factory := source.NewFactory(log)
	validator, err := source.NewValidator(factory)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("sources: %w", err)
	}
	a.aggregator = usecase.NewSourceAggregator(a.sources, factory, usecase.SourceAggregatorConfig{
		Timeout:        cfg.Sources.SearchTimeout,
		MaxConcurrency: cfg.Sources.MaxConcurrency,
	}, log)
	if err := a.aggregator.Refresh(ctx); err != nil {
		log.Warn("loading context sources failed", "error", err)
	}
	a.catalog = usecase.NewSourceCatalog(a.sources, validator, a.aggregator, a.bus, log)

	// 6. Agent runtime and pipeline
	prompts := backend.NewPromptLibrary(cfg.Templates.Dir)
	a.runtime = runtime.New(func(context.Context) (*runtime.Environment, error) {
		b, err := backend.New(cfg.Backend, prompts, log)
		if err != nil {
			return nil, err
		}
		return &runtime.Environment{Backend: b}, nil
	}, log)
	a.closers = append(a.closers, func() {
		if err := a.runtime.Stop(context.Background()); err != nil {
			log.Warn("runtime stop", "error", err)
		}
	})

	coord := usecase.NewCoordinator(a.runtime, a.bus, usecase.CoordinatorConfig{Deadline: cfg.Orchestration.Deadline}, log)
	policy := usecase.NewDegradationPolicy(coord, cfg.Orchestration.DegradationNotice, a.bus, log)
	a.chat = usecase.NewChatService(a.aggregator, policy, usecase.NewConversation(), a.bus,
		usecase.ChatServiceConfig{NotifyEvery: cfg.Orchestration.NotifyEvery}, log)

	// 7. Scheduler
	if opts.schedule && cfg.Sources.RevalidateSchedule != "" {
		if err := a.startScheduler(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	return a, nil
}

func (a *app) startScheduler(ctx context.Context) error {
	a.scheduler = scheduling.NewScheduler(scheduling.DefaultTaskTimeout, a.log)
	a.scheduler.RegisterAction(scheduling.ActionSourceRevalidate, scheduling.RevalidateSources(a.catalog, a.log))
	if err := a.scheduler.AddTask(scheduling.ScheduledTask{
		Name:     "revalidate-sources",
		Schedule: a.cfg.Sources.RevalidateSchedule,
		Action:   scheduling.ActionSourceRevalidate,
	}); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	a.closers = append(a.closers, func() { _ = a.scheduler.Stop() })
	return nil
}

// Close releases everything in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// resolveAgents looks up the named agents in pipeline order. With no names
// the first stored agent is used.
func (a *app) resolveAgents(ctx context.Context, names []string) ([]domain.AgentDescriptor, error) {
	if len(names) == 0 {
		all, err := a.agents.GetAll(ctx)
		if err != nil {
			return nil, err
		}
		if len(all) == 0 {
			return nil, errors.New("no agents configured; add one with 'agntschat agents add'")
		}
		return all[:1], nil
	}
	return a.agents.FindByNames(ctx, names)
}

func isConsole(output string) bool {
	switch strings.ToLower(output) {
	case "", "stdout", "stderr":
		return true
	}
	return false
}
