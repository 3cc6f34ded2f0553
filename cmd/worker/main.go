package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sentinel/fraud-engine/configs"
	"github.com/sentinel/fraud-engine/internal/clock"
	"github.com/sentinel/fraud-engine/internal/feedback"
	"github.com/sentinel/fraud-engine/internal/queue"
	"github.com/sentinel/fraud-engine/internal/repositories"
	"github.com/sentinel/fraud-engine/internal/scoring/consortium"
)

// cmd/worker runs C10's learning loop: the single consumer of the
// feedback stream, applying rule-accuracy and consortium updates that
// the API process only publishes (internal/queue, internal/feedback).
func main() {
	_ = godotenv.Load()

	cfg := configs.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Msg("starting feedback learning-loop worker")

	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	stream, err := queue.NewFeedbackStream(cfg.Redis.URL, cfg.Worker.RetryAttempts)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to feedback stream")
	}
	defer stream.Close()

	txRepo := repositories.NewTransactionRepository(db)
	accuracyRepo := repositories.NewRuleAccuracyRepository(db)
	consortiumRepo := repositories.NewConsortiumRepository(db)
	aggregator := consortium.NewAggregator(consortiumRepo, cfg.Scoring.EnableConsortium)

	handler := feedback.NewHandler(txRepo, accuracyRepo, aggregator, clock.SystemClock{}, stream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumerName := "feedback-worker-" + hostnameOrPID()

	done := make(chan struct{})
	go func() {
		handler.Run(ctx, consumerName)
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	cancel()
	<-done

	log.Info().Msg("worker shutdown complete")
}

func hostnameOrPID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return strconv.Itoa(os.Getpid())
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
