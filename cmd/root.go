// Package cmd defines and implements the CLI commands for the interpelli
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/interpelli-crawler/internal/api"
	"github.com/JakeFAU/interpelli-crawler/internal/app"
	"github.com/JakeFAU/interpelli-crawler/internal/config"
	"github.com/JakeFAU/interpelli-crawler/internal/harvest"
	"github.com/JakeFAU/interpelli-crawler/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use. Tests inject a
// fake through newApp.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	Notices() app.NoticeStore
	Runs() app.RunHistory
	Server() *api.Server
	Harvest(ctx context.Context, req app.HarvestRequest) (harvest.Summary, error)
}

// cliApp syncs the process logger once the services are closed.
type cliApp struct {
	*app.App
}

func (c cliApp) Close() {
	c.App.Close()
	_ = c.Logger().Sync()
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return cliApp{a}, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "interpelli",
		Short: "Harvests substitute-teacher notices published by regional school offices.",
		Long: `interpelli scans the notice listings of the configured regional school
offices, follows every notice to its document, extracts the vacancies with a
language model and stores them for querying.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(
		newHarvestCmd(),
		newQueryCmd(),
		newWipeCmd(),
		newServeCmd(),
		newScheduleCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command
// context so a running harvest can stop gracefully.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
