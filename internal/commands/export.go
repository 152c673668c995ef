package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"inspector/internal/export"
	"inspector/internal/repository"
	"inspector/internal/repository/sqlite"
)

func newExportCmd() *cobra.Command {
	var (
		out          string
		since, until string
		filter       repository.RecordFilter
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export detection records to a Parquet file",
		Example: `  # Every defect recorded in August
  inspector export --out august.parquet --defect-only --since 2026-08-01 --until 2026-09-01`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Close()

			if filter.Since, err = parseDate(since); err != nil {
				return err
			}
			if filter.Until, err = parseDate(until); err != nil {
				return err
			}

			db, err := sqlite.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := export.Export(cmd.Context(), sqlite.NewRecordRepository(db), filter, out)
			if err != nil {
				return err
			}

			log.Info("📦 Exported %d record(s) to %s", n, out)
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d record(s) to %s\n", n, out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "records.parquet", "Output file")
	cmd.Flags().BoolVar(&filter.DefectOnly, "defect-only", false, "Only records with a defect")
	cmd.Flags().StringVar(&filter.DefectType, "defect-type", "", "Only records of this defect type")
	cmd.Flags().StringVar(&since, "since", "", "Earliest timestamp, YYYY-MM-DD or RFC 3339")
	cmd.Flags().StringVar(&until, "until", "", "Timestamp upper bound (exclusive), YYYY-MM-DD or RFC 3339")

	return cmd
}

func parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD or RFC 3339", v)
	}
	return t, nil
}
