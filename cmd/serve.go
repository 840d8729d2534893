package cmd

import (
	"github.com/spf13/cobra"
)

// newServeCmd creates the 'serve' subcommand, which runs the HTTP API until
// interrupted.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API for starting and tracking runs",
		Long: `Starts the HTTP API. Runs started over the API execute in the background;
progress is available as Server-Sent Events under /v1/runs/{run_id}/events.
SIGINT or SIGTERM cancels in-flight runs and drains the server.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Serve(cmd.Context())
		},
	}
}
