package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/opsforge/fleet-orchestrator/internal/catalog"
	"github.com/opsforge/fleet-orchestrator/internal/jobstore"
	"github.com/opsforge/fleet-orchestrator/internal/notify"
	"github.com/opsforge/fleet-orchestrator/internal/orchestrator"
	"github.com/opsforge/fleet-orchestrator/internal/runnerpool"
	"github.com/opsforge/fleet-orchestrator/internal/schedule"
	"github.com/opsforge/fleet-orchestrator/web/api"
	"github.com/spf13/cobra"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Web.Host = serveHost
	}
	if servePort != 0 {
		cfg.Web.Port = servePort
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	if err := os.MkdirAll(filepath.Dir(cfg.General.DatabasePath), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	store, err := jobstore.Open(cfg.General.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	// Playbook and inventory catalog, reloaded on file changes
	cat, err := catalog.Load(cfg.General.PlaybookDir, cfg.General.InventoryPath)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	watcher, err := catalog.NewWatcher(cat)
	if err != nil {
		log.Printf("catalog watcher disabled: %v", err)
	} else {
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	// Runner pool with optional embedded local fallback
	var local *runnerpool.LocalRunner
	var localRun runnerpool.LocalRunFunc
	if cfg.Runners.LocalFallback {
		local = runnerpool.NewLocalRunner(runnerpool.LocalConfig{
			PlaybookDir:   cfg.General.PlaybookDir,
			AnsibleBinary: cfg.Runners.AnsibleBinary,
			MaxRuns:       cfg.Runners.LocalMaxRuns,
		})
		localRun = local.Run
	}
	registry := runnerpool.NewRegistry()
	queue := runnerpool.NewQueue(registry, localRun)
	pool := runnerpool.NewPool(runnerpool.PoolConfig{}, registry, queue)
	pool.StartHeartbeats(ctx)
	exec := runnerpool.NewExecutor(pool, local, cat, store)

	// Notifications
	var notifiers []notify.Notifier
	if cfg.Notifications.Log {
		notifiers = append(notifiers, notify.LogNotifier{})
	}
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}
	var notifier notify.Notifier
	if len(notifiers) > 0 {
		notifier = notify.NewMultiNotifier(notifiers...)
	}

	coord := orchestrator.NewCoordinator(store, cat, exec, notifier)

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	server := api.NewServer(coord, store, cat, pool, addr)
	coord.SetEventSink(server.EventSink())

	// Recurring batches
	scheduleCfg, err := schedule.LoadScheduleConfig(cfg.General.SchedulePath)
	if err != nil {
		return fmt.Errorf("loading schedule: %w", err)
	}
	if len(scheduleCfg.Batches) > 0 {
		sched, err := schedule.NewScheduler(scheduleCfg.Batches)
		if err != nil {
			return fmt.Errorf("building scheduler: %w", err)
		}
		go sched.Start(func(b schedule.RecurringBatch) error {
			batch, err := coord.Submit(b.Playbook, b.Targets, b.Policy())
			if err != nil {
				return err
			}
			log.Printf("recurring batch %s submitted as %s", b.Name, batch.ID)
			return nil
		})
		defer sched.Stop()
		log.Printf("scheduler running %d recurring batches", len(scheduleCfg.Batches))
	}

	// Log retention
	sweeper := schedule.NewLogSweeper(store, cfg.General.LogRetention, 0)
	sweeper.Start(ctx)

	log.Printf("fleet-orch serving on http://%s", addr)
	return server.Start()
}
