package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sentinel/fraud-engine/configs"
	"github.com/sentinel/fraud-engine/internal/api"
	"github.com/sentinel/fraud-engine/internal/auth"
	"github.com/sentinel/fraud-engine/internal/cache"
	"github.com/sentinel/fraud-engine/internal/clock"
	"github.com/sentinel/fraud-engine/internal/feedback"
	"github.com/sentinel/fraud-engine/internal/idempotency"
	"github.com/sentinel/fraud-engine/internal/queue"
	"github.com/sentinel/fraud-engine/internal/ratelimit"
	"github.com/sentinel/fraud-engine/internal/repositories"
	"github.com/sentinel/fraud-engine/internal/scoring/consortium"
	"github.com/sentinel/fraud-engine/internal/scoring/mlscorer"
	"github.com/sentinel/fraud-engine/internal/scoring/orchestrator"
	"github.com/sentinel/fraud-engine/internal/scoring/rules"
	"github.com/sentinel/fraud-engine/internal/velocity"
	"github.com/sentinel/fraud-engine/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	cfg := configs.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("starting fraud scoring API server")

	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	store, err := cache.NewRedisStore(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer store.Close()

	feedbackStream, err := queue.NewFeedbackStream(cfg.Redis.URL, cfg.Worker.RetryAttempts)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to feedback stream")
	}
	defer feedbackStream.Close()

	clk := clock.SystemClock{}

	tenantRepo := repositories.NewTenantRepository(db)
	txRepo := repositories.NewTransactionRepository(db)
	accuracyRepo := repositories.NewRuleAccuracyRepository(db)
	consortiumRepo := repositories.NewConsortiumRepository(db)

	tracker := velocity.NewTracker(store, clk)
	idemChecker := idempotency.NewChecker(store, txRepo, cfg.Scoring.CacheTTL)
	ruleEngine := rules.NewEngine()
	mlScorer := mlscorer.NewLinearEnsemble(cfg.Scoring.MLModelPath != "")
	aggregator := consortium.NewAggregator(consortiumRepo, cfg.Scoring.EnableConsortium)

	dispatcher := webhook.NewDispatcher(webhook.Config{
		QueueSize:      cfg.Webhook.QueueSize,
		Workers:        cfg.Webhook.Workers,
		RequestTimeout: cfg.Webhook.RequestTimeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		BackoffBase:    cfg.Webhook.BackoffBase,
		BackoffCap:     cfg.Webhook.BackoffCap,
	}, clk)
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	dispatcher.Start(dispatcherCtx)
	defer func() {
		cancelDispatcher()
		dispatcher.Stop()
	}()

	orch := orchestrator.New(
		idemChecker,
		tracker,
		txRepo,
		accuracyRepo,
		ruleEngine,
		mlScorer,
		aggregator,
		dispatcher,
		store,
		clk,
		orchestrator.Thresholds{
			HighThreshold:   cfg.Scoring.RiskThresholdHigh,
			MediumThreshold: cfg.Scoring.RiskThresholdMedium,
		},
	)

	feedbackHandler := feedback.NewHandler(txRepo, accuracyRepo, aggregator, clk, feedbackStream)
	resolver := auth.NewResolver(tenantRepo)
	limiter := ratelimit.NewLimiter(store, clk)
	callCounter := api.NewCallCounter(store)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := api.NewRouter(api.Deps{
		Orchestrator: orch,
		Feedback:     feedbackHandler,
		Resolver:     resolver,
		RateLimiter:  limiter,
		CallCounter:  callCounter,
		Transactions: txRepo,
		Consortium:   consortiumRepo,
		DB:           db,
		Cache:        store,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited")
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
