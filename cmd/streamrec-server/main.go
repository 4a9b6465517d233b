package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Guilhem-Bonnet/streamrec/internal/adapters/ffmpeg"
	"github.com/Guilhem-Bonnet/streamrec/internal/adapters/httpapi"
	"github.com/Guilhem-Bonnet/streamrec/internal/adapters/memorybus"
	"github.com/Guilhem-Bonnet/streamrec/internal/adapters/sqlite"
	"github.com/Guilhem-Bonnet/streamrec/internal/app"
	"github.com/Guilhem-Bonnet/streamrec/internal/buildinfo"
	"github.com/Guilhem-Bonnet/streamrec/internal/config"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("streamrec-server failed")
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("STREAMREC_CONFIG"), "Fichier de configuration TOML (optionnel)")
	addr := flag.String("addr", "", "Adresse d'écoute (écrase la config)")
	dbPath := flag.String("db", "", "Chemin SQLite (écrase la config)")
	recordingDir := flag.String("recordings", "", "Dossier des enregistrements (écrase la config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *recordingDir != "" {
		cfg.RecordingDir = *recordingDir
	}

	logger := newLogger(cfg, os.Stdout)
	log.Logger = logger
	logger.Info().Interface("build", buildinfo.Current()).Str("db", cfg.DBPath).Msg("starting")

	lock, err := app.AcquireInstanceLock(cfg.LockPath())
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	if err := os.MkdirAll(cfg.RecordingDir, 0o755); err != nil {
		return err
	}

	ctx := context.Background()
	db, err := sqlite.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	runner, err := ffmpeg.New(ffmpeg.Options{
		Binary:    cfg.FFmpegBinary,
		ExtraArgs: cfg.FFmpegArgs,
		Ceiling:   cfg.FFmpegCeiling,
	})
	if err != nil {
		return err
	}

	bus := memorybus.New()
	defer bus.Close()
	stationsRepo := sqlite.NewStationsRepository(db.SQL)
	scheduleRepo := sqlite.NewScheduleRepository(db.SQL)
	stationsSvc := app.NewStationService(stationsRepo, bus)
	scheduleSvc := app.NewScheduleService(scheduleRepo, stationsRepo, bus)

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Scheduler : une seule boucle, propriétaire des captures en cours.
	scheduler := app.NewScheduler(logger.With().Str("component", "scheduler").Logger(), scheduleRepo, runner, bus, app.SchedulerOptions{
		TickInterval:    cfg.TickInterval,
		IdleBackoff:     cfg.IdleBackoff,
		RecordingDir:    cfg.RecordingDir,
		StopGrace:       cfg.StopGrace,
		ShutdownTimeout: cfg.ShutdownTimeout,
		LogLines:        cfg.LogLines,
		MinFreeBytes:    cfg.MinFreeBytes,
	})
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		if err := scheduler.Run(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("scheduler stopped with error")
			stop()
		}
	}()

	// Planner : replanifie les entrées à règle de répétition.
	planner := app.NewRepeatPlanner(logger.With().Str("component", "repeat-planner").Logger(), bus, scheduleRepo)
	go planner.Run(shutdownCtx)

	srv := httpapi.NewServer(logger, stationsSvc, scheduleSvc, scheduler, bus, cfg.RecordingDir)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server crashed")
			stop()
		}
	}()

	<-shutdownCtx.Done()
	logger.Info().Msg("shutting down")

	httpCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(httpCtx)

	<-schedulerDone
	logger.Info().Msg("bye")
	return nil
}

func newLogger(cfg config.Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("app", "streamrec-server").Logger()
}
