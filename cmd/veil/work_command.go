package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"veil/internal/processing"
	"veil/internal/queue"
	"veil/internal/services"
)

func newWorkCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "work",
		Short: "Run the background worker pool until interrupted",
		Long:  "Drains the background job queue (cache optimization, quality variant generation, video preloading) and monitors memory pressure. Only one worker process may run per cache directory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			lock := flock.New(filepath.Join(cfg.Paths.CacheDir, "veil-worker.lock"))
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire worker lock: %w", err)
			}
			if !locked {
				return fmt.Errorf("another veil worker already holds %s", lock.Path())
			}
			defer lock.Unlock()

			store, err := queue.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			processor := processing.New(cfg, logger)
			processor.Cache().StartPressureMonitor(runCtx, nil)

			pool := queue.NewPool(cfg, store, logger)
			registerHandlers(pool, processor)

			fmt.Fprintln(cmd.OutOrStdout(), "Worker pool running. Press Ctrl+C to stop.")
			pool.Run(runCtx)
			fmt.Fprintln(cmd.OutOrStdout(), "Worker pool stopped.")
			return nil
		},
	}
}

type variantPayload struct {
	Source  string `json:"source"`
	Quality string `json:"quality"`
}

type preloadPayload struct {
	URI string `json:"uri"`
}

func registerHandlers(pool *queue.Pool, processor *processing.Processor) {
	pool.Register(queue.TypeCacheOptimization, func(ctx context.Context, _ *queue.Job) error {
		processor.Cache().ForceCleanup()
		return nil
	})

	pool.Register(queue.TypeQualityVariant, func(ctx context.Context, job *queue.Job) error {
		var payload variantPayload
		if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
			return services.Wrap(services.ErrMalformedInput, "queue", "variant payload", "", err)
		}
		_, err := processor.Process(ctx, payload.Source, processing.Options{Quality: payload.Quality})
		return err
	})

	pool.Register(queue.TypeVideoPreloading, func(ctx context.Context, job *queue.Job) error {
		var payload preloadPayload
		if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
			return services.Wrap(services.ErrMalformedInput, "queue", "preload payload", "", err)
		}
		info, err := os.Stat(payload.URI)
		if err != nil {
			return services.Wrap(services.ErrMalformedInput, "queue", "preload", "artifact missing", err)
		}
		processor.Cache().Record(payload.URI, info.Size())
		return nil
	})
}
