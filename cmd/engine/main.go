package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/winmix/engine/config"
	"github.com/winmix/engine/internal/api"
	"github.com/winmix/engine/internal/client"
	"github.com/winmix/engine/internal/database"
	"github.com/winmix/engine/internal/detect"
	"github.com/winmix/engine/internal/ensemble"
	"github.com/winmix/engine/internal/notify"
	"github.com/winmix/engine/internal/pipeline"
	"github.com/winmix/engine/internal/scheduler"
	"github.com/winmix/engine/models"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration load failed")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	db, err := database.New(database.ConnectionParams{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	predictor, err := ensemble.New()
	if err != nil {
		log.Fatal().Err(err).Msg("predictor init failed")
	}
	pipe := pipeline.New(db, predictor, detect.Options{})

	// With no downstream endpoint configured, prediction jobs run matches
	// through the in-process pipeline.
	var runner scheduler.Runner
	if cfg.AnalyzeEndpoint != "" {
		runner = client.New(client.Options{
			Endpoint:       cfg.AnalyzeEndpoint,
			Token:          cfg.AnalyzeToken,
			Timeout:        cfg.RequestTimeout,
			RequestsPerSec: cfg.RequestsPerSec,
		})
		log.Info().Str("endpoint", cfg.AnalyzeEndpoint).Msg("using downstream analysis")
	} else {
		runner = localRunner{pipe: pipe}
		log.Info().Msg("using in-process analysis")
	}

	var notifier scheduler.Notifier = notify.Noop{}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != 0 {
		telegram, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			log.Fatal().Err(err).Msg("telegram notifier init failed")
		}
		notifier = telegram
	}

	sched := scheduler.New(db, runner, notifier, scheduler.Options{
		SweepInterval:    cfg.SweepInterval,
		JobTimeout:       cfg.JobTimeout,
		MatchCallTimeout: cfg.MatchCallTimeout,
		MatchParallelism: cfg.MatchParallelism,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("scheduler stopped")
		}
	}()

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewServer(db, sched, pipe).Router(),
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
		os.Exit(1)
	}
}

// localRunner adapts the pipeline to the scheduler's per-match runner.
type localRunner struct {
	pipe *pipeline.Pipeline
}

func (r localRunner) Analyze(ctx context.Context, matchID string) error {
	_, _, err := r.pipe.Run(ctx, matchID, models.System)
	return err
}
