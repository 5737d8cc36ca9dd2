package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron/v2"
	job "github.com/goliatone/go-job"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-mailevents/adapters/gojob"
	"github.com/goliatone/go-mailevents/adapters/gologger"
	"github.com/goliatone/go-mailevents/core"
	"github.com/goliatone/go-mailevents/httpapi"
)

const shutdownTimeout = 15 * time.Second

type serveOptions struct {
	noScheduler bool
	noMigrate   bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver, admin API and processing scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, root, opts, cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.noScheduler, "no-scheduler", false, "do not run scheduled process/retry/reclaim jobs")
	cmd.Flags().BoolVar(&opts.noMigrate, "no-migrate", false, "skip applying migrations on start")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, opts *serveOptions, cmd *cobra.Command) error {
	logger, provider := newLogger(root, cmd.ErrOrStderr())
	cfg, err := core.LoadConfig(ctx, root.configPath, core.Config{})
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a, err := buildApp(ctx, cfg, logger, provider, appOptions{registry: registry, migrate: !opts.noMigrate})
	if err != nil {
		return err
	}
	defer a.Close()

	gin.SetMode(gin.ReleaseMode)
	router, err := httpapi.NewRouter(httpapi.RouterConfig{
		Config:   a.cfg,
		Receiver: a.receiver,
		Facade:   a.facade,
		Metrics:  a.metrics.Handler(),
		Logger:   gologger.Component(provider, logger, "http"),
	})
	if err != nil {
		return err
	}
	server := httpapi.NewServer(a.cfg.HTTP.Address, router, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if !opts.noScheduler {
		g.Go(func() error {
			return runScheduler(ctx, a)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("mailevents stopped with error", "error", err)
		return err
	}
	logger.Info("mailevents shut down")
	return nil
}

// runScheduler drives the engine jobs on fixed intervals until ctx ends.
// Singleton mode keeps a slow run from overlapping the next tick.
func runScheduler(ctx context.Context, a *app) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	log := gologger.Component(a.provider, a.logger, "scheduler")
	cfg := a.cfg

	schedule := func(every time.Duration, build func(time.Time) *job.ExecutionMessage) error {
		if every <= 0 {
			return nil
		}
		_, err := scheduler.NewJob(
			gocron.DurationJob(every),
			gocron.NewTask(func() {
				msg := build(time.Now().UTC().Truncate(every))
				result, err := a.runner.Run(ctx, msg)
				if err != nil {
					log.Error("scheduled job failed", "job_id", msg.JobID, "error", err)
					return
				}
				log.Debug("scheduled job finished",
					"job_id", result.JobID,
					"total", result.Stats.Total,
					"processed", result.Stats.Processed,
					"failed", result.Stats.Failed,
					"skipped", result.Stats.Skipped,
					"reclaimed", result.Reclaimed,
				)
			}),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		return err
	}

	if err := schedule(cfg.ScheduleInterval(), func(window time.Time) *job.ExecutionMessage {
		return gojob.ProcessPendingMessage(cfg.Processing.BatchSize, "", window)
	}); err != nil {
		return err
	}
	if err := schedule(cfg.RetryInterval(), func(window time.Time) *job.ExecutionMessage {
		return gojob.RetryFailedMessage(cfg.Processing.BatchSize, cfg.Processing.MaxRetries, window)
	}); err != nil {
		return err
	}
	if stale := cfg.StaleAfter(); stale > 0 {
		if err := schedule(stale, func(window time.Time) *job.ExecutionMessage {
			return gojob.ReclaimStaleMessage(stale, window)
		}); err != nil {
			return err
		}
	}

	scheduler.Start()
	log.Info("scheduler started",
		"process_interval", cfg.ScheduleInterval().String(),
		"retry_interval", cfg.RetryInterval().String(),
		"stale_after", cfg.StaleAfter().String(),
	)
	<-ctx.Done()
	return scheduler.Shutdown()
}
