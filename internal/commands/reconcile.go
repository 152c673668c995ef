package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"inspector/internal/repository/sqlite"
	"inspector/internal/services/storage"
)

func newReconcileCmd() *cobra.Command {
	var (
		remove bool
		minAge time.Duration
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Find image files that have no detection record",
		Long: `Walks STORAGE_ROOT and compares every image file with the records in the
store. Images left behind by a failed record insert (orphans) and temporary
files from interrupted writes are listed, and removed with --delete. Files
modified within --min-age are skipped, since a running pipeline may not have
inserted their record yet. Records whose image file is gone are reported but
never modified.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Close()

			db, err := sqlite.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			known, err := sqlite.NewRecordRepository(db).ImagePaths(cmd.Context())
			if err != nil {
				return err
			}

			orphans, err := storage.FindOrphans(cmd.Context(), cfg.StorageRoot, known, minAge)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Scanned %d image(s) under %s\n", orphans.Scanned, cfg.StorageRoot)
			for _, p := range orphans.Files {
				fmt.Fprintf(out, "orphan   %s\n", p)
			}
			for _, p := range orphans.Temp {
				fmt.Fprintf(out, "partial  %s\n", p)
			}
			for _, p := range orphans.Missing {
				fmt.Fprintf(out, "missing  %s\n", p)
			}
			if n := len(orphans.Recent); n > 0 {
				fmt.Fprintf(out, "Skipped %d file(s) newer than %s\n", n, minAge)
			}
			fmt.Fprintf(out, "%d orphan(s), %d partial write(s), %d record(s) without image\n",
				len(orphans.Files), len(orphans.Temp), len(orphans.Missing))

			if !remove {
				return nil
			}
			removed, err := storage.RemoveOrphans(orphans)
			log.Info("🧹 Reconcile removed %d file(s) under %s", removed, cfg.StorageRoot)
			fmt.Fprintf(out, "✅ Removed %d file(s)\n", removed)
			return err
		},
	}

	cmd.Flags().BoolVar(&remove, "delete", false, "Delete orphaned and partial files")
	cmd.Flags().DurationVar(&minAge, "min-age", 5*time.Minute, "Ignore files modified more recently than this")

	return cmd
}
