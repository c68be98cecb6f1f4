// Package cmd defines the CLI commands of the scout executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/gumgenie-scout/internal/app"
	"github.com/JakeFAU/gumgenie-scout/internal/config"
	"github.com/JakeFAU/gumgenie-scout/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

const closeTimeout = 10 * time.Second

// newApp is the application factory. Tests replace it.
var newApp = app.Build

type rootFlags struct {
	configFile string
	envFile    string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	cmd := &cobra.Command{
		Use:   "scout",
		Short: "Competitive research for Gumroad digital-product niches.",
		Long: `scout discovers Gumroad listings for a set of product categories, scrapes
them through remote actors in bounded batches, and aggregates the results
into a per-category insights report.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Config, logger and services are built once, before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnv(flags.envFile); err != nil {
				return err
			}
			cfg, err := config.Load(flags.configFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			appInstance, ok := cmd.Context().Value(appKey).(*app.App)
			if !ok || appInstance == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), closeTimeout)
			defer cancel()
			if err := appInstance.Close(ctx); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "close: %v\n", err)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "dotenv file with credentials (default .env when present)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newMergeCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

// loadEnv reads a dotenv file into the process environment. A missing
// default .env is not an error; a missing explicit file is.
func loadEnv(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command with SIGINT/SIGTERM wired to cancellation.
func Execute() {
	os.Exit(execute(os.Args[1:]))
}

// ExecuteServe runs the serve subcommand; process arguments become its flags.
func ExecuteServe() {
	os.Exit(execute(append([]string{"serve"}, os.Args[1:]...)))
}

func execute(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "scout: %v\n", err)
		return 1
	}
	return 0
}
