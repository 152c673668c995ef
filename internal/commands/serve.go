package commands

import (
	"github.com/spf13/cobra"

	"inspector/internal/app"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API over an existing record store",
		Long: `Starts only the query API: records, images, defect statistics and logs.
No frames are captured; the pipeline stats endpoint answers 503.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, app.ModeServe, port)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (overrides PORT)")

	return cmd
}
