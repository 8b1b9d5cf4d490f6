package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/journal-crawler/internal/app"
	"github.com/JakeFAU/journal-crawler/internal/journal"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the latest run and per-source fetch status counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(e *env, a *app.App) error {
				return printStats(cmd.Context(), e, a.Store())
			})
		},
	}
}

func printStats(ctx context.Context, e *env, store journal.Store) error {
	version, err := store.CurrentVersion(ctx)
	if errors.Is(err, journal.ErrNotFound) {
		_, err = fmt.Fprintln(e.out, "no crawl has run yet")
		return err
	}
	if err != nil {
		return fmt.Errorf("current version: %w", err)
	}
	count, err := store.CountJournals(ctx)
	if err != nil {
		return fmt.Errorf("count journals: %w", err)
	}
	stats, err := store.SourceStats(ctx, version)
	if err != nil {
		return fmt.Errorf("source stats: %w", err)
	}

	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "version\t%s\n", version)
	fmt.Fprintf(tw, "journals\t%d\n", count)
	if run, err := store.LatestRun(ctx); err == nil {
		fmt.Fprintf(tw, "latest run\t%s (%s, %s)\n", run.ID, run.Type, run.Status)
		if run.Paused() {
			fmt.Fprintf(tw, "paused\t%s\n", run.PauseReason)
		}
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "SOURCE\tPENDING\tSUCCESS\tNO DATA\tFAILED")
	for _, st := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", st.Source, st.Pending, st.Success, st.NoData, st.Failed)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write stats: %w", err)
	}
	return nil
}
