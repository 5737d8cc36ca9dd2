package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-mailevents/adapters/gojob"
	"github.com/goliatone/go-mailevents/core"
)

// runOnce loads config, wires the app, runs one engine job and prints its
// result as JSON.
func runOnce(cmd *cobra.Command, root *rootOptions, build func(core.Config) *job.ExecutionMessage) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger, provider := newLogger(root, cmd.ErrOrStderr())
	cfg, err := core.LoadConfig(ctx, root.configPath, core.Config{})
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, logger, provider, appOptions{migrate: true})
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.runner.Run(ctx, build(a.cfg))
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), result)
}

func newProcessCmd(root *rootOptions) *cobra.Command {
	var limit int
	var eventType string
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process pending events once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd, root, func(cfg core.Config) *job.ExecutionMessage {
				if limit == 0 {
					limit = cfg.Processing.BatchSize
				}
				return gojob.ProcessPendingMessage(limit, eventType, time.Time{})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum events to process (defaults to processing.batch_size)")
	cmd.Flags().StringVar(&eventType, "event-type", "", "only process events of this type")
	return cmd
}

func newRetryCmd(root *rootOptions) *cobra.Command {
	var limit int
	var maxRetries int
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Retry failed events below the retry bound",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd, root, func(cfg core.Config) *job.ExecutionMessage {
				if limit == 0 {
					limit = cfg.Processing.BatchSize
				}
				if maxRetries == 0 {
					maxRetries = cfg.Processing.MaxRetries
				}
				return gojob.RetryFailedMessage(limit, maxRetries, time.Time{})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum events to retry (defaults to processing.batch_size)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "retry bound (defaults to processing.max_retries)")
	return cmd
}

func newReclaimCmd(root *rootOptions) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Return events stuck in processing to pending",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd, root, func(cfg core.Config) *job.ExecutionMessage {
				if olderThan == 0 {
					olderThan = cfg.StaleAfter()
				}
				return gojob.ReclaimStaleMessage(olderThan, time.Time{})
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "staleness window (defaults to processing.stale_after_seconds)")
	return cmd
}

func newMigrateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			logger, _ := newLogger(root, cmd.ErrOrStderr())
			cfg, err := core.LoadConfig(ctx, root.configPath, core.Config{})
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			client, err := openDatabase(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := client.Migrate(ctx); err != nil {
				return fmt.Errorf("mailevents: migrate: %w", err)
			}
			logger.Info("migrations applied", "driver", cfg.Database.Driver)
			return writeJSON(cmd.OutOrStdout(), map[string]any{"status": "migrated", "driver": cfg.Database.Driver})
		},
	}
}

func writeJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
