package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rs/cors"

	"github.com/clipforge/clipforge/internal/adapters/duckdb"
	"github.com/clipforge/clipforge/internal/adapters/store"
	appconfig "github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/core/services"
	"github.com/clipforge/clipforge/pkg/api"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("starting clipforge")

	configPath := flag.String("config", "", "path to clipforge.yaml")
	flag.Parse()

	if err := run(logger, *configPath); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, configPath string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.MaterializeCookies(); err != nil {
		return fmt.Errorf("materialize cookies: %w", err)
	}

	// An unusable workspace root aborts startup rather than failing per-job.
	workspaceMgr, err := services.NewWorkspaceManager(logger, cfg.WorkspaceRoot)
	if err != nil {
		return err
	}

	// Reconciliation sweep: reclaim workspaces orphaned by a crashed
	// previous process before accepting new work.
	if removed, err := workspaceMgr.SweepStale(cfg.StaleWorkspaceGrace.Get()); err != nil {
		return fmt.Errorf("stale workspace sweep: %w", err)
	} else if removed > 0 {
		logger.Info("reclaimed orphaned workspaces", "count", removed)
	}

	repo, err := duckdb.NewRepository(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repo.Close()

	artifactStore, err := store.NewLocalStore(logger, cfg.OutputDir)
	if err != nil {
		return fmt.Errorf("init artifact store: %w", err)
	}

	eventBus := services.NewEventBus(logger)
	registry := services.NewJobRegistry()
	invoker := services.NewToolInvoker(logger)

	scheduler := services.NewJobScheduler(logger, services.SchedulerConfig{
		MaxConcurrentJobs: int64(cfg.MaxConcurrentJobs),
		MaxQueueDepth:     cfg.MaxQueueDepth,
		MaxQueueWait:      cfg.MaxQueueWait.Get(),
	})

	commands := services.CommandBuilder{
		FetchBin:     cfg.FetchBin,
		TranscodeBin: cfg.TranscodeBin,
		CookiesFile:  cfg.CookiesFile,
		Timeout:      cfg.PerInvocationTimeout.Get(),
	}

	lifecycle := services.NewJobLifecycle(
		ctx, logger, scheduler, registry, workspaceMgr, invoker, repo, artifactStore, eventBus, commands,
		services.LifecycleConfig{
			PerJobTimeout:  cfg.PerJobTimeout.Get(),
			ForceTranscode: cfg.ForceTranscode,
		},
	)

	apiServer := api.NewServer(logger, lifecycle, registry, scheduler, eventBus, repo, artifactStore)

	c := cors.New(cors.Options{
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: c.Handler(apiServer.Handler()),
	}

	// The dispatch loop must be running before the API accepts submits.
	lifecycle.Run()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("api server listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("stopping api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
