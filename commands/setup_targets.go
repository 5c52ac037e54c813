package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360studio/trawler/spool"
)

func newSetupTargetsCommand(r *root) *cobra.Command {
	var (
		tags            []string
		upsertTags      bool
		continueOnError bool
		bucketSize      int
	)

	cmd := &cobra.Command{
		Use:   "setup-targets <file> <lang>...",
		Short: "Bulk import app ids as crawl targets",
		Long: `Setup-targets reads a JSON array of app ids and inserts one target
per id and language. Targets that already exist are skipped, or have
the given tags merged in with --upsert_tags.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := connectStore(ctx, r.cfg)
			if err != nil {
				return err
			}
			defer store.Close(ctx)

			if err := store.EnsureIndexes(ctx); err != nil {
				return fmt.Errorf("ensure indexes: %w", err)
			}

			importer := spool.NewImporter(store, r.logger)
			stats, err := importer.ImportFile(ctx, args[0], spool.ImportOptions{
				Languages:       args[1:],
				Tags:            tags,
				UpsertTags:      upsertTags,
				ContinueOnError: continueOnError,
				BucketSize:      bucketSize,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Import finished: %s.\n", stats)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&tags, "tag", nil, "Tag stamped onto every imported target (repeatable)")
	cmd.Flags().BoolVar(&upsertTags, "upsert_tags", false, "Merge the tags into targets that already exist")
	cmd.Flags().BoolVar(&continueOnError, "continue_on_error", false, "Count ambiguous targets instead of aborting")
	cmd.Flags().IntVar(&bucketSize, "bucket_size", 0, "Targets per bulk insert")
	return cmd
}
