// Package server provides the public entry point for initializing the
// outreach control plane.
//
// It lives in pkg/ so programs can embed the control plane and swap its
// collaborators (channels, enrichment, analysis, company directory):
//
//	srv, err := server.New(ctx, server.Options{Channels: &myChannels})
//	go srv.Run(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fleetflow/outreach/control-plane/internal/analytics"
	"github.com/fleetflow/outreach/control-plane/internal/api"
	"github.com/fleetflow/outreach/control-plane/internal/api/handlers"
	"github.com/fleetflow/outreach/control-plane/internal/auth"
	"github.com/fleetflow/outreach/control-plane/internal/channels"
	"github.com/fleetflow/outreach/control-plane/internal/config"
	"github.com/fleetflow/outreach/control-plane/internal/deriver"
	"github.com/fleetflow/outreach/control-plane/internal/executor"
	"github.com/fleetflow/outreach/control-plane/internal/intel"
	"github.com/fleetflow/outreach/control-plane/internal/orchestrator"
	"github.com/fleetflow/outreach/control-plane/internal/quota"
	"github.com/fleetflow/outreach/control-plane/internal/retention"
	"github.com/fleetflow/outreach/control-plane/internal/scheduler"
	"github.com/fleetflow/outreach/control-plane/internal/store"
	"github.com/fleetflow/outreach/control-plane/internal/telemetry"
	"github.com/fleetflow/outreach/control-plane/internal/templates"
	"github.com/fleetflow/outreach/control-plane/pkg/contracts"
	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

// Options overrides parts of the environment configuration. Nil fields keep
// the built-in collaborators.
type Options struct {
	Port      int
	Channels  *contracts.Channels
	Enricher  contracts.Enricher
	Analyzer  contracts.Analyzer
	Directory contracts.CompanyDirectory
}

// Server holds the initialized control plane.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	Store        store.Store
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *scheduler.Scheduler
	Templates    *templates.Engine
	// Janitor is nil when action retention is disabled.
	Janitor *retention.Janitor

	// AuthChain accepts additional providers after construction.
	AuthChain contracts.AuthProviderChain

	Port    int
	Version string

	closers  []func() error
	shutdown func(context.Context) error
}

// New initializes all control plane components from the environment.
func New(ctx context.Context, opts Options) (_ *Server, err error) {
	cfg := config.Load()
	if opts.Port > 0 {
		cfg.Port = opts.Port
	}

	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	srv := &Server{Port: cfg.Port, Version: cfg.Version, shutdown: shutdown}
	defer func() {
		if err != nil {
			_ = srv.Close(context.WithoutCancel(ctx))
		}
	}()

	dataStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	srv.Store = dataStore
	srv.closers = append(srv.closers, dataStore.Close)

	calls := openCallCounter(ctx, cfg.Redis)
	if rc, ok := calls.(*quota.RedisCounter); ok {
		srv.closers = append(srv.closers, rc.Close)
	}

	engine := templates.NewEngine(dataStore)
	if cfg.TemplateSeed != "" {
		n, err := engine.LoadSeedFile(ctx, cfg.TemplateSeed, "default")
		if err != nil {
			return nil, err
		}
		log.Info().Int("created", n).Str("path", cfg.TemplateSeed).Msg("✅ Template seed loaded")
	}
	srv.Templates = engine

	chans := channels.Build(channels.Config{URLs: cfg.Channels.URLs, Secret: cfg.Channels.Secret, RPS: cfg.Channels.RPS})
	if opts.Channels != nil {
		chans = *opts.Channels
	}

	var enricher contracts.Enricher = intel.LocalEnricher{}
	if opts.Enricher != nil {
		enricher = opts.Enricher
	}
	var analyzer contracts.Analyzer = intel.HeuristicAnalyzer{}
	if opts.Analyzer != nil {
		analyzer = opts.Analyzer
	}
	var directory contracts.CompanyDirectory = deriver.StaticDirectory{Company: cfg.Company}
	if opts.Directory != nil {
		directory = opts.Directory
	}

	recorder := analytics.NewRecorder(analytics.DefaultCapacity)
	exec := executor.New(dataStore, dataStore, engine, chans, calls, recorder,
		executor.WithConfig(executor.Config{
			ChannelTimeout:   cfg.Executor.ChannelTimeout,
			RetryMaxAttempts: cfg.Executor.RetryMaxAttempts,
			RetryInitial:     cfg.Executor.RetryInitial,
		}))
	log.Info().Msg("✅ Action executor initialized")

	sched := scheduler.New(dataStore, dataStore, exec, scheduler.Config{
		TickInterval:      cfg.Scheduler.TickInterval,
		MaxParallelAgents: cfg.Scheduler.MaxParallelAgents,
		PendingMaxAge:     cfg.Scheduler.PendingMaxAge,
	})
	srv.Scheduler = sched

	scorer := intel.NewScorer(enricher, analyzer, intel.WithTimeout(cfg.AnalyzerTimeout))
	srv.Orchestrator = orchestrator.New(dataStore, scorer, directory, sched, recorder,
		orchestrator.Config{ImmediateDrain: cfg.ImmediateDrain})
	log.Info().Bool("immediate_drain", cfg.ImmediateDrain).Msg("✅ Orchestrator initialized")

	if cfg.Retention.Age > 0 {
		var archiver retention.Archiver
		if retention.Mode(cfg.Retention.Mode) != retention.ModePurgeOnly {
			local := retention.NewLocalFileArchiver(cfg.Retention.ArchiveDir, cfg.Retention.Compress)
			if err := local.HealthCheck(ctx); err != nil {
				return nil, fmt.Errorf("action archive: %w", err)
			}
			archiver = local
		}
		srv.Janitor = retention.NewJanitor(dataStore, dataStore, archiver, retention.Config{
			Interval:  cfg.Retention.Interval,
			Retention: cfg.Retention.Age,
			Mode:      retention.Mode(cfg.Retention.Mode),
		})
	}

	chain := auth.NewProviderChain()
	chain.RegisterProvider(auth.NewAPIKeyProvider(cfg.Auth.APIKeys))
	srv.AuthChain = chain
	log.Info().Strs("providers", chain.Providers()).Bool("require_auth", cfg.Auth.RequireAuth).Msg("✅ Auth chain ready")

	h := handlers.New(srv.Orchestrator, engine, sched)
	srv.Handler = api.NewRouter(cfg, h, chain)
	return srv, nil
}

// Run drives the background scheduler, and the retention janitor when
// enabled, until ctx is canceled.
func (s *Server) Run(ctx context.Context) {
	if s.Janitor == nil {
		s.Scheduler.Start(ctx)
		return
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Janitor.Start(ctx)
	}()
	s.Scheduler.Start(ctx)
	wg.Wait()
}

// Close flushes telemetry and releases the store and call counter.
func (s *Server) Close(ctx context.Context) error {
	var first error
	if err := s.shutdown(ctx); err != nil {
		first = err
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("✅ SQLite store initialized")
		return s, nil
	case "memory", "":
		s := store.NewMemoryStore(cfg.DataDir)
		log.Info().Str("data_dir", cfg.DataDir).Msg("✅ In-memory store initialized")
		return s, nil
	}
	return nil, &models.ValidationError{Issues: []string{fmt.Sprintf("unknown store driver %q", cfg.Driver)}}
}

// openCallCounter uses Redis when configured and reachable, else the
// in-process counter.
func openCallCounter(ctx context.Context, cfg config.RedisConfig) contracts.CallCounter {
	if cfg.Addr == "" {
		return quota.NewMemoryCounter()
	}
	rc := quota.NewRedisCounter(cfg.Addr, cfg.Password, cfg.DB)
	if err := rc.Ping(ctx); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Addr).Msg("Redis unreachable, daily call quota kept in memory")
		_ = rc.Close()
		return quota.NewMemoryCounter()
	}
	log.Info().Str("addr", cfg.Addr).Msg("✅ Redis call counter initialized")
	return rc
}
