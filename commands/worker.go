package commands

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/trawler/dispatch"
)

func newWorkerCommand(r *root) *cobra.Command {
	var queues []string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run task workers against the dispatch queues",
		Long: `Worker consumes the dispatch queues and executes the registered task
handlers: crawl stages, pipelines, callbacks, terminators and the Play
Store requests. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			selected := queues
			if len(selected) == 0 {
				selected = r.cfg.Worker.Queues
			}
			if len(selected) == 0 {
				selected = dispatch.Queues
			}
			if err := validateQueues(selected); err != nil {
				return err
			}

			app, err := newApp(ctx, r.cfg, r.logger)
			if err != nil {
				return err
			}
			defer app.Shutdown(context.Background())

			registry, err := app.registerHandlers()
			if err != nil {
				return err
			}
			workers, err := app.startWorkers(ctx, registry, selected)
			if err != nil {
				return err
			}
			defer stopWorkers(workers)

			r.logger.Info("workers running",
				"queues", strings.Join(selected, ","), "tasks", len(registry.Tasks()))
			<-ctx.Done()
			r.logger.Info("shutting down workers")
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&queues, "queues", nil, "Queues to consume (default: all configured)")
	return cmd
}

// validateQueues rejects names outside the known queue set.
func validateQueues(queues []string) error {
	known := make(map[string]bool, len(dispatch.Queues))
	for _, queue := range dispatch.Queues {
		known[queue] = true
	}
	for _, queue := range queues {
		if !known[queue] {
			return fmt.Errorf("unknown queue %q, known queues are %s",
				queue, strings.Join(dispatch.Queues, ", "))
		}
	}
	return nil
}
