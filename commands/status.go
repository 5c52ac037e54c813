package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/storage"
)

// maxTokenRows caps the open token listing per crawl.
const maxTokenRows = 20

func newStatusCommand(r *root) *cobra.Command {
	var seriesID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show crawl counters and open execution tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := connectStore(ctx, r.cfg)
			if err != nil {
				return err
			}
			defer store.Close(ctx)
			return printStatus(ctx, cmd.OutOrStdout(), store, seriesID)
		},
	}

	cmd.Flags().StringVar(&seriesID, "series", "", "Limit the report to one series id")
	return cmd
}

// printStatus renders one block per series: its crawls with their
// counters, and the open tokens of the newest crawl with their ages.
func printStatus(ctx context.Context, out io.Writer, store storage.MetadataStore, seriesID string) error {
	var listed []core.Series
	if seriesID != "" {
		series, err := store.SeriesByID(ctx, seriesID)
		if err != nil {
			return fmt.Errorf("load series: %w", err)
		}
		listed = []core.Series{*series}
	} else {
		var err error
		listed, err = store.ListSeries(ctx)
		if err != nil {
			return fmt.Errorf("list series: %w", err)
		}
	}
	if len(listed) == 0 {
		fmt.Fprintln(out, "No series configured.")
		return nil
	}

	for i := range listed {
		if err := printSeriesStatus(ctx, out, store, &listed[i]); err != nil {
			return err
		}
	}
	return nil
}

func printSeriesStatus(ctx context.Context, out io.Writer, store storage.MetadataStore, series *core.Series) error {
	fmt.Fprintf(out, "Series %s (%s), %d stages, %d iterations\n",
		series.Name, series.ID, len(series.Stages), series.Iterations)

	crawls, err := store.ListCrawls(ctx, series.ID)
	if err != nil {
		return fmt.Errorf("list crawls: %w", err)
	}
	if len(crawls) == 0 {
		fmt.Fprintln(out, "no crawls yet")
		return nil
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"Crawl", "Started", "Scheduled", "Finished", "Failed", "Retried", "Backpressure", "Open Tokens"})
	for i := range crawls {
		crawl := &crawls[i]
		open, err := store.CountOpenTokens(ctx, crawl.ID)
		if err != nil {
			return fmt.Errorf("count open tokens: %w", err)
		}
		tw.AppendRow(table.Row{
			crawl.Name,
			humanize.Time(crawl.Started),
			humanize.Comma(int64(crawl.TargetsScheduled)),
			humanize.Comma(int64(crawl.TargetsFinished)),
			humanize.Comma(int64(crawl.TargetsFailed)),
			humanize.Comma(int64(crawl.TargetsRetried)),
			humanize.Comma(int64(crawl.TargetsScheduled - crawl.TargetsFinished)),
			humanize.Comma(open),
		})
	}
	tw.Render()

	newest := &crawls[len(crawls)-1]
	return printOpenTokens(ctx, out, store, newest)
}

// printOpenTokens lists the crawl's open tokens oldest first, exposing
// tasks stuck before their first start.
func printOpenTokens(ctx context.Context, out io.Writer, store storage.TokenStore, crawl *core.Crawl) error {
	tokens, err := store.OpenTokens(ctx, crawl.ID)
	if err != nil {
		return fmt.Errorf("list open tokens: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	fmt.Fprintf(out, "Open tokens of crawl %s:\n", crawl.Name)
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"Token", "Created", "State", "Retries"})
	for i := range tokens {
		if i == maxTokenRows {
			break
		}
		token := &tokens[i]
		state := "started"
		if token.Started.IsZero() {
			state = "created"
		}
		tw.AppendRow(table.Row{
			token.ID,
			humanize.Time(token.Created),
			state,
			token.Retries,
		})
	}
	tw.Render()
	if len(tokens) > maxTokenRows {
		fmt.Fprintf(out, "... and %d more\n", len(tokens)-maxTokenRows)
	}
	return nil
}
