// Package cmd defines and implements the CLI commands for the harvester
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-harvester/internal/config"
	"github.com/JakeFAU/site-harvester/internal/crawler"
	"github.com/JakeFAU/site-harvester/internal/logging"
	"github.com/JakeFAU/site-harvester/internal/server"
)

// envKeyType is the key for storing the command environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// Runtime is the application surface the commands drive. It is satisfied by
// *server.App and replaced by a fake in tests.
type Runtime interface {
	Start(ctx context.Context)
	Submit(ctx context.Context, params crawler.JobParameters) (string, error)
	Cancel(ids []string)
	Wait(ctx context.Context) error
	Job(ctx context.Context, id string) (crawler.Job, error)
	Run(ctx context.Context) error
	Close(ctx context.Context) error
}

type env struct {
	cfg     config.Config
	logger  *zap.Logger
	runtime Runtime
}

// runtimeFactory builds the application once config and logging are ready.
// Tests pass a factory returning a fake.
type runtimeFactory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runtime, error)

func buildRuntime(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runtime, error) {
	return server.Build(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd(newRuntime runtimeFactory) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Discover a company's website and fold its pages into one structured record.",
		Long: `harvester walks a site breadth-first (sitemaps plus links), ranks the URLs it
finds, labels them, and streams the useful ones through a fetch and extraction
pipeline that accumulates a single company snapshot per site.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			rt, err := newRuntime(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{cfg: cfg, logger: logger, runtime: rt}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newHarvestCmd())
	cmd.AddCommand(newBatchCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// shutdown releases the runtime and flushes the logger. Commands defer it
// so it runs on failure too.
func (e *env) shutdown(ctx context.Context) {
	if err := e.runtime.Close(context.WithoutCancel(ctx)); err != nil {
		e.logger.Warn("shutdown failed", zap.Error(err))
	}
	_ = e.logger.Sync()
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("application services not initialized")
	}
	return e, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd(buildRuntime).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
