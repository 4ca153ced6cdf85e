package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	"tick-oracle/internal/bot"
	"tick-oracle/internal/cache"
	"tick-oracle/internal/config"
	"tick-oracle/internal/db"
	"tick-oracle/internal/handler"
	"tick-oracle/internal/job"
	"tick-oracle/internal/metrics"
	"tick-oracle/internal/monitor"
	"tick-oracle/internal/provider"
	"tick-oracle/internal/repository"
	"tick-oracle/pkg/logger"
	"tick-oracle/pkg/tracing"

	_ "tick-oracle/docs"
)

const stopTimeout = 5 * time.Second

var (
	loadEnvFunc        = godotenv.Load
	loadConfigFunc     = config.Load
	initLoggerFunc     = logger.Init
	initPostgresFunc   = db.InitPostgres
	initRedisFunc      = cache.InitRedis
	initTracerFunc     = tracing.InitTracer
	newQuoteSourceFunc = func(tracer trace.Tracer, cfg *config.Config) job.QuoteFetcher {
		return provider.NewRouter(
			provider.NewFinnhubProvider(tracer, cfg.FinnhubAPIKey),
			provider.NewBinanceProvider(tracer),
		)
	}
	startTelegramBotFunc   = bot.StartTelegramBot
	newRouterFunc          = gin.Default
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// @title           tick-oracle API
// @version         1.0
// @description     Short-horizon price forecasting with a Kalman ensemble, prediction tracking and trading signals.

// @host      localhost:8080
// @BasePath  /
func main() {
	_ = loadEnvFunc()

	cfg := loadConfigFunc()
	initLoggerFunc(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Postgres and Redis are optional; the service runs in-memory without them.
	os.Setenv("DATABASE_URL", cfg.DatabaseURL)
	os.Setenv("REDIS_URL", cfg.RedisURL)
	if err := initPostgresFunc(ctx); err != nil {
		log.Error().Err(err).Msg("postgres unavailable, prediction archive disabled")
	}
	defer db.Close()
	defer cache.Close()
	if err := initRedisFunc(ctx); err != nil {
		log.Error().Err(err).Msg("redis unavailable, snapshot cache disabled")
	}

	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer")
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("error shutting down tracer provider")
		}
	}()

	deps := monitor.Deps{Metrics: metrics.Default()}
	var archive *repository.PredictionRepository
	if db.Pool != nil {
		archive = repository.NewPredictionRepository(db.Pool, tracer)
		if err := archive.RunMigrations(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		deps.Archive = archive
	}
	if cache.Client != nil {
		deps.Snapshots = cache.NewSnapshotStore(cache.Client, tracer, cache.DefaultSnapshotTTL)
	}

	registry, err := monitor.NewRegistryFromConfig(tracer, cfg, deps)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build monitors")
	}
	for _, m := range registry.All() {
		if restored, err := m.Restore(ctx); err != nil {
			log.Warn().Err(err).Str("symbol", m.Symbol()).Msg("snapshot restore failed")
		} else if restored {
			log.Info().Str("symbol", m.Symbol()).Msg("restored cached forecasts")
		}
	}

	poller := job.NewPricePoller(tracer, newQuoteSourceFunc(tracer, cfg), registry, cfg.PollInterval(), deps.Metrics)
	forecaster := job.NewForecastJob(tracer, registry, cfg.ForecastInterval(), cfg.PredictionMaxAge())
	go poller.Start(ctx)
	go forecaster.Start(ctx)

	if err := startTelegramBotFunc(ctx, cfg.TelegramBotToken, registry); err != nil {
		log.Error().Err(err).Msg("telegram bot disabled")
	}

	h := handler.New(tracer, registry, cfg.APIKey)
	if archive != nil {
		h.SetPredictionArchive(archive)
	}

	r := newRouterFunc()
	r.Use(otelgin.Middleware("tick-oracle"))

	h.RegisterRoutes(r)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: r,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen failed")
		}
	}()
	log.Info().Str("addr", srv.Addr).Strs("symbols", registry.Symbols()).Msg("server started")

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Info().Msg("shutting down server")

	cancel()
	if !poller.Wait(stopTimeout) {
		log.Warn().Msg("price poller did not stop in time")
	}
	if !forecaster.Wait(stopTimeout) {
		log.Warn().Msg("forecast job did not stop in time")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exiting")
}
