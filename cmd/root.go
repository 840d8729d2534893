// Package cmd defines and implements the CLI commands for the prodscout executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/prodscout/internal/config"
	"github.com/JakeFAU/prodscout/internal/pipeline"
	"github.com/JakeFAU/prodscout/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use, so tests can
// inject a fake.
type App interface {
	Logger() *zap.Logger
	Config() config.Config
	Execute(ctx context.Context, req pipeline.Request, sink pipeline.ProgressSink) (pipeline.Result, error)
	Serve(ctx context.Context) error
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgFile string) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build app: %w", err)
	}
	return app, nil
}

// newRootCmd creates the root command. The App built by PersistentPreRunE is
// recorded in built so the caller can close it even when the subcommand fails.
func newRootCmd(built *App) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "prodscout",
		Short: "Find production-grade GitHub repositories behind Replit deployments.",
		Long: `prodscout searches for Replit-hosted pages, follows their links to GitHub,
enriches each repository through the GitHub API, scores it against production
signals and persists the results.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			*built = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML); env vars use the PRODSCOUT_ prefix")
	cmd.AddCommand(newRunCmd(), newServeCmd())
	return cmd
}

// run executes the command line in args and closes the App afterwards.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var built App
	root := newRootCmd(&built)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if built != nil {
		if cerr := built.Close(context.Background()); cerr != nil {
			fmt.Fprintf(stderr, "shutdown failed: %v\n", cerr)
		}
	}
	if err != nil {
		return fmt.Errorf("prodscout: %w", err)
	}
	return nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command with ctx and exits non-zero on failure.
func Execute(ctx context.Context) {
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}
