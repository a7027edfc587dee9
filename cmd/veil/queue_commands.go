package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"veil/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Background job queue operations",
	}

	queueCmd.AddCommand(newQueueEnqueueCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func (c *commandContext) withStore(fn func(*queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func newQueueEnqueueCommand(ctx *commandContext) *cobra.Command {
	var priority string
	var payload string

	cmd := &cobra.Command{
		Use:   "enqueue <type>",
		Short: "Add a background job",
		Long:  "Job types: cache_optimization, quality_variant_generation, video_preloading.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobType, err := queue.ParseType(args[0])
			if err != nil {
				return err
			}
			jobPriority, err := queue.ParsePriority(priority)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				job, err := store.Enqueue(cmd.Context(), jobType, payload, jobPriority)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %s job %s (priority %s)\n", job.Type, job.ID, job.Priority)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&priority, "priority", "normal", "Job priority: low, normal, or high")
	cmd.Flags().StringVar(&payload, "payload", "", "Job payload JSON")
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				jobs, err := store.List(cmd.Context(), queue.Status(status))
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty.")
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						job.ID[:8],
						string(job.Type),
						string(job.Priority),
						string(job.Status),
						fmt.Sprintf("%d/%d", job.Attempts, job.MaxAttempts),
						job.ErrorMessage,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Type", "Priority", "Status", "Attempts", "Error"}, rows, 4))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status: queued, running, completed, or failed")
	return cmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				rows := [][]string{
					{"Pending", strconv.Itoa(stats.Pending)},
					{"Processing", strconv.Itoa(stats.Processing)},
					{"Completed", strconv.Itoa(stats.Completed)},
					{"Failed", strconv.Itoa(stats.Failed)},
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"State", "Jobs"}, rows, 1))
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove completed and failed jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				removed, err := store.Clear(cmd.Context(), all)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d job(s).\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Remove every job regardless of state")
	return cmd
}
