package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/dispatch"
	"github.com/c360studio/trawler/scheduler"
	"github.com/c360studio/trawler/storage"
)

func newDaemonCommand(r *root) *cobra.Command {
	var (
		continueCrawl bool
		stepSize      int
		stepPeriod    time.Duration
		progress      bool
	)

	cmd := &cobra.Command{
		Use:   "daemon <series-id>",
		Short: "Schedule a series' targets into the work queues",
		Long: `Daemon runs the static scheduler for one series: it drains the
eligible targets in paced steps, creates an execution token per target
and submits the crawl tasks. With an embedded NATS server the workers
run in process; against an external server start them separately with
"trawler worker".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			app, err := newApp(ctx, r.cfg, r.logger)
			if err != nil {
				return err
			}
			defer app.Shutdown(context.Background())

			series, err := app.store.SeriesByID(ctx, args[0])
			if err != nil {
				return fmt.Errorf("load series: %w", err)
			}
			crawl, err := resolveCrawl(ctx, app.store, series, continueCrawl)
			if err != nil {
				return err
			}
			r.logger.Info("scheduling crawl",
				"series", series.Name, "crawl", crawl.Name, "iteration", crawl.Iteration)

			// An embedded server has no external consumers, so the
			// queues are worked in process.
			if app.embeddedServer != nil {
				registry, err := app.registerHandlers()
				if err != nil {
					return err
				}
				workers, err := app.startWorkers(ctx, registry, dispatch.Queues)
				if err != nil {
					return err
				}
				defer stopWorkers(workers)
			}

			cfg := scheduler.Config{
				StepSize:   r.cfg.Scheduler.StepSize,
				StepPeriod: r.cfg.Scheduler.StepPeriod,
				Progress:   r.cfg.Scheduler.Progress,
			}
			if stepSize > 0 {
				cfg.StepSize = stepSize
			}
			if stepPeriod > 0 {
				cfg.StepPeriod = stepPeriod
			}
			if progress {
				cfg.Progress = true
			}

			sched, err := scheduler.NewStatic(app.store, app.dispatcher, crawl, cfg, r.logger)
			if err != nil {
				return err
			}
			return sched.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&continueCrawl, "continue_crawl", true, "Resume the series' last crawl instead of starting a new one")
	cmd.Flags().IntVar(&stepSize, "step_size", 0, "Targets per scheduling step (overrides config)")
	cmd.Flags().DurationVar(&stepPeriod, "step_period", 0, "Pacing interval between steps (overrides config)")
	cmd.Flags().BoolVar(&progress, "progress", false, "Render a live progress display")
	return cmd
}

// resolveCrawl picks the crawl the daemon drives: the most recent one
// when resuming, otherwise a fresh iteration of the series.
func resolveCrawl(ctx context.Context, store storage.MetadataStore, series *core.Series, continueCrawl bool) (*core.Crawl, error) {
	if continueCrawl {
		crawl, err := store.LastCrawl(ctx, series.ID)
		if err == nil {
			return crawl, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("load last crawl: %w", err)
		}
	}
	crawl := series.NewCrawl(uuid.NewString(), time.Now().UTC())
	if err := store.InsertCrawl(ctx, crawl); err != nil {
		return nil, fmt.Errorf("insert crawl: %w", err)
	}
	if err := store.SaveSeries(ctx, series); err != nil {
		return nil, fmt.Errorf("save series: %w", err)
	}
	return crawl, nil
}
