package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/assessly/codermill/batch"
	"github.com/assessly/codermill/cache"
	"github.com/assessly/codermill/config"
	"github.com/assessly/codermill/jobs"
	"github.com/assessly/codermill/logger"
)

var serveWorkersFlag int

// ServeCmd starts the background job worker in foreground mode.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the background job worker",
	Long: `Start the background job worker in foreground mode.

The worker polls the background job queue and executes automatic coding
runs until interrupted (Ctrl+C). Coding defaults are hot-reloaded when
the config file changes.

Example:
  codermill serve              # Start with configured worker count
  codermill serve --workers 3  # Start with 3 concurrent workers`,
	RunE: runServe,
}

func init() {
	ServeCmd.Flags().IntVar(&serveWorkersFlag, "workers", 0, "Number of concurrent workers (0 = use config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	workers := cfg.Worker.Workers
	if serveWorkersFlag > 0 {
		workers = serveWorkersFlag
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	responseCache := cache.New()
	defer responseCache.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poolCfg := jobs.WorkerPoolConfig{
		Workers:           workers,
		PollInterval:      cfg.Worker.PollInterval(),
		DispatchPerSecond: cfg.Worker.DispatchPerSecond,
	}
	pool := jobs.NewWorkerPool(ctx, database, poolCfg, logger.Logger)

	pipeline := batch.NewPipeline(database, responseCache, logger.Named("batch"),
		cfg.Coding.SubBatchSize, cfg.Coding.CacheTTL())
	handler := batch.NewHandler(pool.Queue(), pipeline, logger.Named("batch"), cfg.Coding.ChunkSize)
	pool.Registry().Register(handler)

	pool.Start()

	// Hot-reload coding defaults when the config file changes; worker
	// count and database path stay fixed until restart
	if configPath := config.FindConfigFile(); configPath != "" {
		watcher, err := config.NewWatcher(configPath)
		if err != nil {
			logger.Warnw("Config watcher unavailable, continuing without hot reload", "error", err)
		} else {
			watcher.OnReload(func(updated *config.Config) error {
				logger.Infow("Coding defaults updated",
					"matching_mode", updated.Coding.MatchingMode,
					"chunk_size", updated.Coding.ChunkSize)
				return nil
			})
			watcher.Start()
			defer watcher.Stop()
		}
	}

	fmt.Println("codermill worker started")
	fmt.Printf("  Workers:       %d\n", workers)
	fmt.Printf("  Poll interval: %v\n", poolCfg.PollInterval)
	fmt.Printf("  Dispatch rate: %.1f/s\n", poolCfg.DispatchPerSecond)
	fmt.Println("\nPress Ctrl+C for graceful shutdown")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	pool.Stop()
	cancel()

	fmt.Println("codermill worker stopped")
	return nil
}
