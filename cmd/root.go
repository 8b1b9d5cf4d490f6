// Package cmd defines the journalcrawler command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/journal-crawler/internal/app"
	"github.com/JakeFAU/journal-crawler/internal/config"
	"github.com/JakeFAU/journal-crawler/internal/logging"
)

type ctxKey struct{}

// env is what the root command prepares for every subcommand.
type env struct {
	configPath string
	cfg        config.Config
	logger     *zap.Logger
	out        io.Writer
}

// newApp is the application factory; tests swap it for one with an isolated
// metrics registry.
var newApp = func(ctx context.Context, e *env) (*app.App, error) {
	return app.New(ctx, e.cfg, app.Options{ConfigPath: e.configPath, Logger: e.logger})
}

func newRootCmd() *cobra.Command {
	e := &env{}
	cmd := &cobra.Command{
		Use:           "journalcrawler",
		Short:         "Collects journal metadata and enriches it from secondary sources.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(e.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			e.cfg, e.logger, e.out = cfg, logger, cmd.OutOrStdout()
			cmd.SetContext(context.WithValue(cmd.Context(), ctxKey{}, e))
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if e.logger != nil {
				_ = e.logger.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&e.configPath, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newServeCmd(), newCrawlCmd(), newStatsCmd(), newImportJCRCmd())
	return cmd
}

func envFrom(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(ctxKey{}).(*env)
	if !ok || e == nil {
		return nil, errors.New("command environment not initialized")
	}
	return e, nil
}

// withApp builds the application, runs fn and closes it.
func withApp(ctx context.Context, fn func(*env, *app.App) error) error {
	e, err := envFrom(ctx)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, e)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer func() {
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
			e.logger.Warn("close application failed", zap.Error(cerr))
		}
	}()
	return fn(e, a)
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
