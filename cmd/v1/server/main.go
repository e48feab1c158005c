package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/gambitlive/backend/internal/v1/analytics"
	"github.com/gambitlive/backend/internal/v1/auth"
	"github.com/gambitlive/backend/internal/v1/bot"
	"github.com/gambitlive/backend/internal/v1/chat"
	"github.com/gambitlive/backend/internal/v1/clock"
	"github.com/gambitlive/backend/internal/v1/config"
	"github.com/gambitlive/backend/internal/v1/game"
	"github.com/gambitlive/backend/internal/v1/health"
	"github.com/gambitlive/backend/internal/v1/logging"
	"github.com/gambitlive/backend/internal/v1/ratelimit"
	"github.com/gambitlive/backend/internal/v1/room"
	"github.com/gambitlive/backend/internal/v1/rules"
	"github.com/gambitlive/backend/internal/v1/store"
	"github.com/gambitlive/backend/internal/v1/tracing"
	"github.com/gambitlive/backend/internal/v1/transport"
)

func main() {
	// Load .env for local development; containers rely on real env vars.
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}
	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(!cfg.IsProduction()); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer func() { _ = logging.GetLogger().Sync() }()
	ctx := context.Background()

	// --- Tracing (optional) ---
	if collectorAddr := os.Getenv("OTEL_COLLECTOR_ADDR"); collectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "chess-core", collectorAddr)
		if err != nil {
			slog.Error("Failed to initialize tracing", "error", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	// --- State stores ---
	hot, err := store.NewHot(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		slog.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer hot.Close()

	durable, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to postgres", "error", err)
		os.Exit(1)
	}

	// --- Token validation ---
	var validator auth.TokenValidator
	if cfg.IsProduction() {
		v, err := auth.NewValidator(cfg.JWTSecret)
		if err != nil {
			slog.Error("Failed to create token validator", "error", err)
			os.Exit(1)
		}
		validator = v
	} else {
		slog.Warn("⚠️ Development mode: accepting mock tokens - DO NOT USE IN PRODUCTION")
		validator = &auth.MockValidator{}
	}

	// --- Rate limiting ---
	limiter, err := ratelimit.NewRateLimiter(cfg, hot.Client())
	if err != nil {
		slog.Error("Failed to create rate limiter", "error", err)
		os.Exit(1)
	}

	// --- Analytics (optional) ---
	var producer game.Analytics
	var kafkaProducer *analytics.Producer
	if cfg.KafkaBrokers != "" {
		kafkaProducer = analytics.NewProducer(strings.Split(cfg.KafkaBrokers, ","))
		producer = kafkaProducer
		slog.Info("✅ Kafka analytics producer initialized", "brokers", cfg.KafkaBrokers)
	} else {
		slog.Info("Analytics disabled (KAFKA_BROKERS not set)")
	}

	// --- Core services ---
	// The registry is the Broadcaster every service fans out through; the
	// dispatcher closes the loop from inbound frames back to the services.
	allowedOrigins := auth.GetAllowedOriginsFromEnv("FRONTEND_ORIGIN", []string{"http://localhost:3000"})

	oracle := rules.NewOracle()
	scheduler := clock.NewScheduler(time.Second)
	registry := transport.NewRegistry(validator, allowedOrigins, cfg.IsProduction())

	gameSvc := game.New(hot, durable, oracle, registry, scheduler, producer)
	roomSvc := room.New(hot, durable, registry, gameSvc)
	chatSvc := chat.New(gameSvc, limiter, registry)

	registry.SetPresence(roomSvc)
	registry.SetDispatcher(transport.NewDispatcher(roomSvc, gameSvc, chatSvc, limiter))

	botController := bot.New(gameSvc, oracle, nil)
	gameSvc.SetObserver(botController.Observe)

	tickCtx, stopTicks := context.WithCancel(ctx)
	go scheduler.Run(tickCtx, gameSvc)

	// --- HTTP server ---
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("chess-core"))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	router.Use(cors.New(corsConfig))

	router.GET("/ws", registry.ServeWs)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := health.NewHandler(hot, durable)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		slog.Info("Chess core starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopTicks()
	roomSvc.Close()
	botController.Shutdown()
	registry.Shutdown(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			slog.Error("Failed to close analytics producer:", "error", err)
		}
	}

	slog.Info("Server exiting")
}
