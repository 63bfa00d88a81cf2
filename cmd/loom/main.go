package main

import (
	"log"
	"os"
	"time"

	"github.com/stackmesh/loom/internal/api"
	"github.com/stackmesh/loom/internal/config"
	"github.com/stackmesh/loom/internal/modelcache"
	"github.com/stackmesh/loom/internal/slot"
	"github.com/stackmesh/loom/internal/store"
	"github.com/stackmesh/loom/internal/task"
	"github.com/stackmesh/loom/internal/venv"
	"github.com/stackmesh/loom/internal/workflow"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("loom: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"runtimes_dir", cfg.RuntimesDir,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	tasks := task.NewRegistry(logger)
	broker := task.NewEventBroker(tasks)
	cache := modelcache.New(cfg.CacheCapacity, cfg.CacheTTL, logger)
	defer cache.Clear()
	slots := slot.NewRegistry(logger)
	channel := venv.NewChannel(cfg.RuntimesDir, cfg.WorkerScript, logger)

	pool := workflow.NewPool(cfg.WorkflowWorkers, cfg.WorkflowQueue, logger)
	eng := workflow.NewEngine(tasks, channel, cache, slots, db, pool,
		cfg.ExecTimeout, cfg.InstallTimeout, logger)
	defer eng.Close()

	// Finished tasks are retained for polling, then swept periodically.
	stopReaper := make(chan struct{})
	defer close(stopReaper)
	go func() {
		ticker := time.NewTicker(cfg.TaskRetention / 4)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := tasks.Reap(cfg.TaskRetention); n > 0 {
					logger.Info("reaped finished tasks", "count", n)
				}
			case <-stopReaper:
				return
			}
		}
	}()

	srv := api.NewServer(cfg.ListenAddr, tasks, broker, eng, channel, cache, slots, cfg.ExecTimeout, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
