// Command predict runs the prediction pipeline for a single match and prints
// the stored prediction as JSON. Useful for backfills and spot checks.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/winmix/engine/config"
	"github.com/winmix/engine/internal/database"
	"github.com/winmix/engine/internal/detect"
	"github.com/winmix/engine/internal/ensemble"
	"github.com/winmix/engine/internal/pipeline"
	"github.com/winmix/engine/models"
)

func main() {
	matchID := flag.String("match", "", "match id to analyze")
	reconcile := flag.Bool("reconcile", false, "reconcile the prediction against the final score instead")
	timeout := flag.Duration("timeout", 30*time.Second, "overall timeout")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	if *matchID == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration load failed")
	}

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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	predictor, err := ensemble.New()
	if err != nil {
		log.Fatal().Err(err).Msg("predictor init failed")
	}
	pipe := pipeline.New(db, predictor, detect.Options{})
	actor := models.Actor{ID: "cli", Role: "operator"}

	var prediction *models.Prediction
	if *reconcile {
		prediction, err = pipe.Reconcile(ctx, *matchID, "", actor)
	} else {
		prediction, _, err = pipe.Run(ctx, *matchID, actor)
	}
	if err != nil {
		log.Fatal().Err(err).Str("match_id", *matchID).Msg("pipeline failed")
	}

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	if err := out.Encode(prediction); err != nil {
		log.Fatal().Err(err).Msg("encode failed")
	}
}
