package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/trawler/spool"
)

func newSpoolCommand(r *root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spool [dir]",
		Short: "Watch a directory and import dropped target files",
		Long: `Spool watches a drop directory. Every file appearing in it is read as
a JSON array of app ids and imported with the setup-targets semantics;
handled files are renamed with a .done or .err suffix. The directory
comes from the argument or from spool.dir in the configuration.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := r.cfg.Spool.Dir
			if len(args) == 1 {
				dir = args[0]
			}
			if dir == "" {
				return errors.New("no spool directory given")
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			store, err := connectStore(ctx, r.cfg)
			if err != nil {
				return err
			}
			defer store.Close(context.Background())

			if err := store.EnsureIndexes(ctx); err != nil {
				return fmt.Errorf("ensure indexes: %w", err)
			}

			importer := spool.NewImporter(store, r.logger)
			watcher, err := spool.NewWatcher(spool.Config{
				Dir:           dir,
				Languages:     r.cfg.Spool.Languages,
				Tags:          r.cfg.Spool.Tags,
				DebounceDelay: r.cfg.Spool.Debounce,
				BucketSize:    r.cfg.Spool.BucketSize,
			}, importer, r.logger)
			if err != nil {
				return err
			}
			if err := watcher.Start(ctx); err != nil {
				return err
			}
			defer watcher.Stop()

			r.logger.Info("watching spool directory", "dir", dir)
			<-ctx.Done()
			return nil
		},
	}
	return cmd
}
