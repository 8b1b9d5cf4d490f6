package cmd

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/journal-crawler/internal/app"
	"github.com/JakeFAU/journal-crawler/internal/journal"
	"github.com/JakeFAU/journal-crawler/internal/pipeline"
)

func newCrawlCmd() *cobra.Command {
	var runType, filter string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl in the foreground",
		Long: `Runs a crawl to completion, pause or interruption and prints the final
run as JSON. --type full starts over, continue resumes the latest run, and
retry reworks fetch statuses matching --filter (default failed).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := parseRunFlags(runType, filter)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(e *env, a *app.App) error {
				run, err := a.Runner().Execute(ctx, req)
				if err != nil {
					return fmt.Errorf("crawl: %w", err)
				}
				e.logger.Info("crawl finished",
					zap.String("run_id", run.ID),
					zap.String("status", string(run.Status)),
					zap.Bool("paused", run.Paused()),
				)
				enc := json.NewEncoder(e.out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(run); err != nil {
					return fmt.Errorf("write run: %w", err)
				}
				if run.Status == journal.RunFailed {
					return fmt.Errorf("run %s failed: %s", run.ID, run.LastError)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runType, "type", string(journal.RunFull), "run type: full, continue or retry")
	cmd.Flags().StringVar(&filter, "filter", "", "fetch state reworked by a retry run")
	return cmd
}

func parseRunFlags(runType, filter string) (pipeline.RunRequest, error) {
	rt, err := journal.ParseRunType(runType)
	if err != nil {
		return pipeline.RunRequest{}, err
	}
	req := pipeline.RunRequest{Type: rt}
	if filter != "" {
		if rt != journal.RunRetry {
			return pipeline.RunRequest{}, fmt.Errorf("--filter only applies to retry runs")
		}
		if req.Filter, err = journal.ParseFetchState(filter); err != nil {
			return pipeline.RunRequest{}, err
		}
	}
	return req, nil
}
