package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"inspector/internal/config"
	"inspector/internal/handlers"
	"inspector/internal/logger"
	"inspector/internal/repository/sqlite"
	"inspector/internal/routes"
	"inspector/internal/services"
	"inspector/internal/services/ai"
	"inspector/internal/services/capture"
	"inspector/internal/services/events"
	"inspector/internal/services/notify"
	"inspector/internal/services/preprocess"
	"inspector/internal/services/storage"
	"inspector/internal/services/websocket"
)

const shutdownTimeout = 5 * time.Second

// Mode selects what NewApp builds.
type Mode int

const (
	// ModePipeline runs capture, inference and persistence next to the API.
	ModePipeline Mode = iota
	// ModeServe runs the dashboard API over an existing store only.
	ModeServe
)

type App struct {
	config *config.Config
	logger *logger.Logger

	db           *sqlite.DB
	records      *sqlite.RecordRepository
	bus          *events.Bus
	hubService   *websocket.HubService
	mqtt         *notify.MQTTSink
	detector     ai.Detector
	writes       *storage.DetectionLogger
	orchestrator *services.Orchestrator
}

func NewApp(cfg *config.Config, log *logger.Logger, mode Mode) (*App, error) {
	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	a := &App{
		config:     cfg,
		logger:     log,
		db:         db,
		records:    sqlite.NewRecordRepository(db),
		bus:        events.NewBus(cfg.EventBuffer, log),
		hubService: websocket.NewHubService(cfg, log),
	}
	a.bus.Subscribe(events.NewLogSink(log))
	a.bus.Subscribe(a.hubService)
	a.setupNotifiers()

	if mode == ModePipeline {
		if err := a.setupPipeline(); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// setupNotifiers subscribes the optional MQTT and Telegram sinks. A sink that
// cannot be reached is skipped; the pipeline does not depend on it.
func (a *App) setupNotifiers() {
	if a.config.MQTTBroker != "" {
		sink, err := notify.NewMQTTSink(a.config, a.logger)
		if err != nil {
			a.logger.Warning("MQTT sink disabled: %v", err)
		} else {
			a.mqtt = sink
			a.bus.Subscribe(sink)
		}
	}

	if a.config.TelegramToken != "" {
		sink, err := notify.NewTelegramSink(a.config.TelegramToken, a.config.TelegramChatID, a.logger)
		if err != nil {
			a.logger.Warning("Telegram sink disabled: %v", err)
		} else {
			a.bus.Subscribe(sink)
		}
	}
}

func (a *App) setupPipeline() error {
	cfg := a.config

	backend, err := capture.OpenBackend(cfg.SourceURI)
	if err != nil {
		return err
	}
	source := capture.NewFrameSource(backend, capture.Options{
		SourceID:    cfg.SourceID,
		ReadTimeout: cfg.CaptureReadTimeout,
		Reconnect: capture.ReconnectConfig{
			MaxRetries:    cfg.ReconnectMaxRetries,
			RetryDelay:    cfg.ReconnectInitialDelay,
			MaxRetryDelay: cfg.ReconnectMaxDelay,
		},
	}, a.logger, a.bus)

	preOpts, err := preprocess.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	pre, err := preprocess.NewPreprocessor(preOpts)
	if err != nil {
		return err
	}

	detector, err := ai.NewDetector(cfg, a.logger)
	if err != nil {
		return err
	}
	a.detector = detector

	annotator, err := ai.NewAnnotator(cfg.ImageFormat)
	if err != nil {
		return err
	}

	a.writes = storage.NewDetectionLogger(storage.OptionsFromConfig(cfg), a.records, nil, a.logger, a.bus)
	a.orchestrator = services.NewOrchestrator(source, pre, detector, annotator, a.writes,
		services.OptionsFromConfig(cfg), a.logger, a.bus)
	return nil
}

// Run serves the API and, in pipeline mode, runs the orchestrator until ctx
// is cancelled or the source fails fatally.
func (a *App) Run(ctx context.Context) error {
	a.bus.Start()
	defer a.bus.Close()

	deps := routes.Dependencies{
		Config:  a.config,
		Logger:  a.logger,
		Records: a.records,
		Hub:     a.hubService,
	}
	if a.orchestrator != nil {
		deps.Pipeline = handlers.StatsProvider(a.orchestrator)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Port),
		Handler:           routes.SetupRoutes(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hubService.Run(gctx)
		return nil
	})

	g.Go(func() error {
		a.logger.Info("🚀 Inspector API on http://localhost%s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("Server shutdown failed: %v", err)
			return err
		}
		return nil
	})

	if a.orchestrator != nil {
		a.logger.Info("📷 Source: %s", a.config.SourceURI)
		a.logger.Info("🤖 Model: %s %s (%s)", a.config.ModelName, a.config.ModelVersion, a.config.ModelBackend)
		a.logger.Info("📁 Images: %s", a.config.StorageRoot)
		g.Go(func() error {
			if err := a.orchestrator.Run(gctx); err != nil {
				a.logger.Error("Pipeline failed: %v", err)
				return err
			}
			return nil
		})
	}

	err := g.Wait()
	if s := a.Stats(); s != nil {
		a.logger.Info("Pipeline stopped: %d processed, %d done, %d dropped, %d errored",
			s.Processed, s.Done, s.Dropped, s.Errored)
	}
	return err
}

// Stats returns the pipeline counters, or nil in serve mode.
func (a *App) Stats() *services.Stats {
	if a.orchestrator == nil {
		return nil
	}
	s := a.orchestrator.Stats()
	return &s
}

// Close releases the detector, the notifiers and the database.
func (a *App) Close() {
	if a.detector != nil {
		if err := a.detector.Close(); err != nil {
			a.logger.Warning("Failed to close detector: %v", err)
		}
	}
	if a.mqtt != nil {
		a.mqtt.Close()
	}
	// a write that outlived the flush timeout still needs the database
	if a.writes != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.config.FlushTimeout)
		if err := a.writes.Wait(ctx); err != nil {
			a.logger.Warning("Closing database with a write still in flight: %v", err)
		}
		cancel()
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warning("Failed to close database: %v", err)
	}
}
