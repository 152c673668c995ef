// Package simulate runs the full persistence chain on generated frames with
// the fake detector, so defect ratios and the on-disk layout can be checked
// without a camera or model.
package simulate

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"inspector/internal/config"
	"inspector/internal/logger"
	"inspector/internal/models"
	"inspector/internal/repository"
	"inspector/internal/repository/sqlite"
	"inspector/internal/services"
	"inspector/internal/services/ai"
	"inspector/internal/services/capture"
	"inspector/internal/services/events"
	"inspector/internal/services/preprocess"
	"inspector/internal/services/storage"
)

// SourceID is stamped on every generated frame.
const SourceID = "simulate"

type Options struct {
	Frames int
	Width  int
	Height int
}

// Report summarises one harness run. Counts cover this run only.
type Report struct {
	Frames  int                      `json:"frames"`
	Records int                      `json:"records"`
	Defects int                      `json:"defects"`
	Files   int                      `json:"files"`
	Errored uint64                   `json:"errored"`
	Lost    uint64                   `json:"lost"`
	Date    string                   `json:"date"`
	ByType  []models.DefectTypeCount `json:"by_type"`
	Paths   []string                 `json:"paths"`
}

type Harness struct {
	cfg     *config.Config
	logger  *logger.Logger
	emitter events.Emitter
}

func New(cfg *config.Config, logger *logger.Logger, emitter events.Emitter) *Harness {
	if emitter == nil {
		emitter = events.Nop{}
	}
	return &Harness{cfg: cfg, logger: logger, emitter: emitter}
}

// Run pushes opts.Frames generated frames through preprocess, the fake
// detector, annotation and the detection logger, then reads the store back.
func (h *Harness) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Frames <= 0 {
		return nil, fmt.Errorf("frame count must be positive, got %d", opts.Frames)
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 320, 240
	}

	db, err := sqlite.New(h.cfg.DBPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	repo := sqlite.NewRecordRepository(db)

	preOpts, err := preprocess.OptionsFromConfig(h.cfg)
	if err != nil {
		return nil, err
	}
	pre, err := preprocess.NewPreprocessor(preOpts)
	if err != nil {
		return nil, err
	}
	detector, err := ai.NewFakeDetector(ai.SettingsFromConfig(h.cfg), ai.FakeOptions{
		Rate:    h.cfg.FakeDefectRate,
		Seed:    h.cfg.FakeSeed,
		Batch:   h.cfg.FakeBatch,
		Latency: h.cfg.FakeLatency,
	})
	if err != nil {
		return nil, err
	}
	annotator, err := ai.NewAnnotator(h.cfg.ImageFormat)
	if err != nil {
		return nil, err
	}

	// every generated frame must reach the store
	logOpts := storage.OptionsFromConfig(h.cfg)
	logOpts.QueueDepth = max(logOpts.QueueDepth, opts.Frames)
	dl := storage.NewDetectionLogger(logOpts, repo, nil, h.logger, h.emitter)
	orch := services.NewOrchestrator(nil, pre, detector, annotator, dl, services.Options{
		FlushTimeout: h.cfg.FlushTimeout,
	}, h.logger, h.emitter)

	before, err := repo.Count(ctx)
	if err != nil {
		return nil, err
	}

	h.logger.Info("🧪 Simulating %d frames (%dx%d, rate %.2f, seed %d)", opts.Frames, opts.Width, opts.Height, h.cfg.FakeDefectRate, h.cfg.FakeSeed)
	if err := dl.Open(); err != nil {
		return nil, err
	}

	start := time.Now().UTC()
	for i := 1; i <= opts.Frames; i++ {
		if ctx.Err() != nil {
			break
		}
		f := capture.SyntheticFrame(opts.Width, opts.Height, i)
		f.Seq = uint64(i)
		f.SourceID = SourceID
		f.CapturedAt = time.Now().UTC()
		orch.Process(ctx, f)
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), h.cfg.FlushTimeout)
	defer cancel()
	if err := dl.Close(flushCtx); err != nil {
		return nil, fmt.Errorf("flush detection logger: %w", err)
	}

	after, err := repo.Count(ctx)
	if err != nil {
		return nil, err
	}
	newRecords, err := repo.List(ctx, repository.RecordFilter{Since: start})
	if err != nil {
		return nil, err
	}

	report := &Report{
		Frames:  opts.Frames,
		Records: after - before,
		Date:    start.Format("2006-01-02"),
	}
	byType := map[string]int{}
	for _, r := range newRecords {
		if r.DefectDetected {
			report.Defects++
		}
		byType[r.DefectType]++
		report.Paths = append(report.Paths, r.ImagePath)
		if _, err := os.Stat(r.ImagePath); err == nil {
			report.Files++
		}
	}
	for t, n := range byType {
		report.ByType = append(report.ByType, models.DefectTypeCount{DefectType: t, Count: n})
	}
	slices.SortFunc(report.ByType, func(a, b models.DefectTypeCount) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return strings.Compare(a.DefectType, b.DefectType)
	})

	s := orch.Stats()
	report.Errored = s.Errored
	report.Lost = s.Logger.Dropped + s.Logger.ImageFailures + s.Logger.RecordFailures

	h.logger.Info("🧪 Simulation done: %d records, %d defects, %d files", report.Records, report.Defects, report.Files)
	return report, nil
}

// CountImages returns the number of image files below root.
func CountImages(root string) (int, error) {
	n := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && (filepath.Ext(path) == ".jpg" || filepath.Ext(path) == ".png") {
			n++
		}
		return nil
	})
	if os.IsNotExist(err) {
		return 0, nil
	}
	return n, err
}
