package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/crawler"
	"github.com/c360studio/trawler/storage"
)

func newSetupSeriesCommand(r *root) *cobra.Command {
	var (
		description string
		stageFlags  []string
		filterPath  string
	)

	cmd := &cobra.Command{
		Use:   "setup-series <name>",
		Short: "Create or replace a crawl series",
		Long: `Setup-series assembles a series from stage files and stores it under
the given name. Stage files are validated against the stage schema and
their task names are checked against the registered handlers; an
existing series keeps its crawl history and only has its configuration
replaced, after confirmation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := connectStore(ctx, r.cfg)
			if err != nil {
				return err
			}
			defer store.Close(ctx)

			registry, err := buildRegistry(store, store, crawler.Dependencies{Logger: r.logger}, r.cfg, r.logger)
			if err != nil {
				return err
			}
			known := make(map[string]bool)
			for _, task := range registry.Tasks() {
				known[task] = true
			}

			paths, err := expandStagePatterns(stageFlags)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return errors.New("no stage files given, use --stage")
			}

			stages, err := loadStages(paths, known, stdinConfirm)
			if err != nil {
				return err
			}
			fmt.Printf("Successfully loaded %d stages!\n", len(stages))

			filter, err := loadFilter(ctx, cmd.OutOrStdout(), store, filterPath)
			if err != nil {
				return err
			}

			series := &core.Series{
				Name:        storage.SanitizeKey(args[0]),
				Description: description,
				Stages:      stages,
				Filter:      filter,
			}
			id, err := writeSeries(ctx, store, series, stdinConfirm)
			if err != nil {
				return err
			}
			fmt.Printf("Series %q saved with id %s.\n", series.Name, id)
			return nil
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "Description stored with the series")
	cmd.Flags().StringArrayVar(&stageFlags, "stage", nil, "Stage file, glob patterns allowed (repeatable, in order)")
	cmd.Flags().StringVar(&filterPath, "filter", "", "File holding a target filter document")
	return cmd
}

// confirmFunc answers a yes/no prompt. Commands pass stdinConfirm,
// tests substitute canned answers.
type confirmFunc func(prompt string) bool

func stdinConfirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// expandStagePatterns resolves the --stage arguments, which may be
// literal paths or doublestar glob patterns. Matches of one pattern
// are sorted; across patterns the argument order is kept, so globs
// compose with explicitly ordered files.
func expandStagePatterns(patterns []string) ([]string, error) {
	var paths []string
	seen := make(map[string]bool)
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("expand stage pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("stage pattern %q matches no files", pattern)
		}
		sort.Strings(matches)
		for _, match := range matches {
			if !seen[match] {
				seen[match] = true
				paths = append(paths, match)
			}
		}
	}
	return paths, nil
}

// loadStages reads, validates and decodes the stage files in order.
func loadStages(paths []string, known map[string]bool, confirm confirmFunc) ([]core.Stage, error) {
	stages := make([]core.Stage, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read stage file: %w", err)
		}
		violations, err := core.ValidateStageDocument(data)
		if err != nil {
			return nil, fmt.Errorf("stage file %s: %w", path, err)
		}
		if len(violations) > 0 {
			return nil, fmt.Errorf("stage file %s violates the stage schema: %s",
				path, strings.Join(violations, "; "))
		}
		stage, err := core.StageFromJSON(data)
		if err != nil {
			return nil, fmt.Errorf("stage file %s: %w", path, err)
		}
		if err := checkStageTasks(stage, known, confirm); err != nil {
			return nil, fmt.Errorf("stage file %s: %w", path, err)
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

// checkStageTasks compares every task signature of a stage against the
// registered task names. A stage may reference tasks served by foreign
// workers, so unknown names are confirmed instead of rejected.
func checkStageTasks(stage core.Stage, known map[string]bool, confirm confirmFunc) error {
	var unknown []string
	seen := make(map[string]bool)
	collect := func(sig core.TaskSignature) {
		if sig.Task != "" && !known[sig.Task] && !seen[sig.Task] {
			seen[sig.Task] = true
			unknown = append(unknown, sig.Task)
		}
	}
	collect(stage.Request)
	for _, sig := range stage.Pipelines {
		collect(sig)
	}
	for _, sig := range stage.Terminators {
		collect(sig)
	}
	for _, sig := range stage.Callbacks {
		collect(sig)
	}
	if len(unknown) == 0 {
		return nil
	}
	prompt := fmt.Sprintf("stage %q references unregistered tasks (%s), continue anyway?",
		stage.Name, strings.Join(unknown, ", "))
	if !confirm(prompt) {
		return fmt.Errorf("aborted: unregistered tasks %s", strings.Join(unknown, ", "))
	}
	return nil
}

// loadFilter reads the filter file and has the store validate it by
// counting the targets it matches.
func loadFilter(ctx context.Context, out io.Writer, store storage.TargetStore, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read filter file: %w", err)
	}
	var filter map[string]any
	if err := json.Unmarshal(data, &filter); err != nil {
		return "", fmt.Errorf("filter file %s holds no JSON document: %w", path, err)
	}
	count, err := store.CountTargets(ctx, filter)
	if err != nil {
		return "", fmt.Errorf("store does not accept the filter: %w", err)
	}
	fmt.Fprintf(out, "Filter is valid. %d targets match the filter.\n", count)
	return strings.TrimSpace(string(data)), nil
}

// writeSeries upserts the series by name. An existing series keeps its
// crawl history; only the description, stages and filter are replaced,
// after confirmation.
func writeSeries(ctx context.Context, store storage.SeriesStore, series *core.Series, confirm confirmFunc) (string, error) {
	existing, err := store.SeriesByName(ctx, series.Name)
	switch {
	case err == nil:
		if !confirm(fmt.Sprintf("series %q already exists, replace its configuration?", series.Name)) {
			return "", errors.New("aborted: series exists")
		}
		existing.Description = series.Description
		existing.Stages = series.Stages
		existing.Filter = series.Filter
		if err := store.SaveSeries(ctx, existing); err != nil {
			return "", fmt.Errorf("save series: %w", err)
		}
		return existing.ID, nil
	case errors.Is(err, storage.ErrNotFound):
		if err := store.InsertSeries(ctx, series); err != nil {
			return "", fmt.Errorf("insert series: %w", err)
		}
		return series.ID, nil
	default:
		return "", fmt.Errorf("look up series: %w", err)
	}
}
