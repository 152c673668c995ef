package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"inspector/internal/services/events"
	"inspector/internal/services/simulate"
)

func newSimulateCmd() *cobra.Command {
	var (
		opts simulate.Options
		rate  float64
		seed  int64
		batch int
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Push generated frames through the fake detector into the store",
		Long: `Runs preprocessing, the fake detector, annotation and the detection logger
on generated frames, then reads the store back and reports how many records,
defects and image files were produced.

The fake detector marks exactly round(frames * rate) frames of every batch as
defective, so the report is reproducible for a given seed.`,
		Example: `  # 10 frames at a 75% defect rate yield 8 defects
  inspector simulate --frames 10 --rate 0.75`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Close()

			if cmd.Flags().Changed("rate") {
				cfg.FakeDefectRate = rate
			}
			if cmd.Flags().Changed("seed") {
				cfg.FakeSeed = seed
			}
			cfg.FakeBatch = opts.Frames
			if batch > 0 {
				cfg.FakeBatch = batch
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			bus := events.NewBus(cfg.EventBuffer, log)
			bus.Subscribe(events.NewLogSink(log))
			bus.Start()
			defer bus.Close()

			report, err := simulate.New(cfg, log, bus).Run(cmd.Context(), opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Frames:   %d\n", report.Frames)
			fmt.Fprintf(out, "Records:  %d\n", report.Records)
			fmt.Fprintf(out, "Defects:  %d\n", report.Defects)
			fmt.Fprintf(out, "Images:   %d (under %s, date %s)\n", report.Files, cfg.StorageRoot, report.Date)
			for _, c := range report.ByType {
				fmt.Fprintf(out, "  %-12s %d\n", c.DefectType, c.Count)
			}

			if report.Errored > 0 || report.Lost > 0 || report.Records != report.Frames {
				return fmt.Errorf("simulation incomplete: %d errored, %d lost, %d/%d records",
					report.Errored, report.Lost, report.Records, report.Frames)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.Frames, "frames", "n", 10, "Number of frames to generate")
	cmd.Flags().IntVar(&opts.Width, "width", 320, "Frame width")
	cmd.Flags().IntVar(&opts.Height, "height", 240, "Frame height")
	cmd.Flags().Float64Var(&rate, "rate", 0.25, "Fake defect rate (overrides FAKE_DEFECT_RATE)")
	cmd.Flags().Int64Var(&seed, "seed", 1, "Fake detector seed (overrides FAKE_SEED)")
	cmd.Flags().IntVar(&batch, "batch", 0, "Fake detector batch size (default: one batch per run)")

	return cmd
}
