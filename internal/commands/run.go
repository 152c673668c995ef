package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"inspector/internal/app"
	"inspector/internal/models"
)

// ExitFatal is the process exit code when the pipeline stops because its
// source or model became unusable.
const ExitFatal = 2

// ExitCode maps an error returned by the root command to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case models.IsFatal(err):
		return ExitFatal
	default:
		return 1
	}
}

func newRunCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the inspection pipeline and the dashboard API",
		Example: `  # Fake detector on a generated test pattern
  SOURCE_URI=synthetic://640x480?fps=15 MODEL_BACKEND=fake inspector run

  # First local camera with the DNN backend (build with -tags gocv)
  SOURCE_URI=0 MODEL_BACKEND=dnn inspector run --port 9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, app.ModePipeline, port)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (overrides PORT)")

	return cmd
}

func runApp(cmd *cobra.Command, mode app.Mode, port int) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Close()

	if port > 0 {
		cfg.Port = port
	}

	a, err := app.NewApp(cfg, log, mode)
	if err != nil {
		log.Error("Failed to start: %v", err)
		return err
	}
	defer a.Close()

	if err := a.Run(cmd.Context()); err != nil {
		if models.IsFatal(err) {
			log.Error("🛑 Pipeline stopped on fatal error: %v", err)
			return fmt.Errorf("fatal: %w", err)
		}
		return err
	}
	return nil
}
