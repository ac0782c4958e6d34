package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/proxyvet/proxyvet/internal/api"
	"github.com/proxyvet/proxyvet/internal/assertion"
	"github.com/proxyvet/proxyvet/internal/checkdef"
	"github.com/proxyvet/proxyvet/internal/config"
	"github.com/proxyvet/proxyvet/internal/ingest"
	"github.com/proxyvet/proxyvet/internal/manager"
	"github.com/proxyvet/proxyvet/internal/probe"
	"github.com/proxyvet/proxyvet/internal/store"
	"github.com/proxyvet/proxyvet/internal/worker"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the checking service with its HTTP control plane",
	RunE:  runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.LoadEnvConfig()
	if err != nil {
		return err
	}

	if cfg.AdminToken == "" {
		log.Printf("[init] PROXYVET_ADMIN_TOKEN is empty, control plane runs without auth")
	} else if config.IsWeakToken(cfg.AdminToken) {
		log.Printf("[init] PROXYVET_ADMIN_TOKEN looks weak, consider a longer random token")
	}

	checkdef.DefaultTimeout = cfg.DefaultTimeout

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	st, err := store.Open(filepath.Join(cfg.StateDir, "proxyvet.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	var defaults []int64
	if cfg.ChecksFile != "" {
		bundle, err := ingest.LoadChecksFile(cfg.ChecksFile)
		if err != nil {
			return err
		}
		defaults, err = ingest.EnsureChecks(st, bundle)
		if err != nil {
			return err
		}
		log.Printf("[init] loaded %d default checks from %s", len(defaults), cfg.ChecksFile)
	}

	prober := probe.New(assertion.Policy{RequireAliveMatch: cfg.RequireAliveMatch})

	workers := make([]*worker.Worker, 0, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		w := worker.New(worker.Config{
			Store:         st,
			Prober:        prober,
			MaxInFlight:   cfg.MaxInFlight,
			RecordRetries: cfg.RecordRetries,
		})
		w.Start()
		workers = append(workers, w)
	}
	log.Printf("[init] started %d workers, %d probes in flight each", cfg.Workers, cfg.MaxInFlight)

	mgr := manager.New(manager.Config{
		Store:        st,
		Workers:      workers,
		TickInterval: cfg.TickInterval,
		SyncInterval: cfg.SyncInterval,
	})
	mgr.Start()

	pruner := cron.New()
	if _, err := pruner.AddFunc(cfg.ResultPruneSchedule, func() {
		n, err := st.PruneResults(cfg.ResultKeepPerPair)
		if err != nil {
			log.Printf("[pruner] %v", err)
			return
		}
		if n > 0 {
			log.Printf("[pruner] removed %d old results", n)
		}
	}); err != nil {
		return fmt.Errorf("schedule pruner: %w", err)
	}
	pruner.Start()

	ingestor := ingest.New(st, mgr, defaults)
	srv := api.NewServer(cfg.ListenAddress, cfg.Port, cfg.AdminToken, st, ingestor)
	go func() {
		log.Printf("[init] control plane listening on %s:%d", cfg.ListenAddress, cfg.Port)
		if err := srv.Start(); err != nil {
			log.Printf("[api] server stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("[init] received %s, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[api] shutdown: %v", err)
	}

	pruner.Stop()
	mgr.Stop()
	mgr.WaitStop()

	for _, w := range workers {
		w.Stop()
	}
	for _, w := range workers {
		if err := w.WaitStop(); err != nil {
			log.Printf("[worker] stopped with error: %v", err)
		}
	}

	log.Printf("[init] bye")
	return nil
}
