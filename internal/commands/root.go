package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"inspector/internal/config"
	"inspector/internal/logger"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspector",
		Short: "Camera defect inspection pipeline",
		Long: `Inspector captures frames from a camera or stream, runs an object-detection
model on them and stores every result as an annotated image plus a queryable
record.

Configuration is read from the environment, an optional .env file and the
YAML file named by CONFIG_FILE.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}

	cmd.AddCommand(
		newRunCmd(),
		newServeCmd(),
		newSimulateCmd(),
		newExportCmd(),
		newReconcileCmd(),
	)

	return cmd
}

// setup loads the configuration and opens the file logger.
func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.NewLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
