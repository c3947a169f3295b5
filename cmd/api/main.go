package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/01moynul/zyra-golang/internal/ai"
	"github.com/01moynul/zyra-golang/internal/auth"
	"github.com/01moynul/zyra-golang/internal/config"
	"github.com/01moynul/zyra-golang/internal/database"
	"github.com/01moynul/zyra-golang/internal/events"
	"github.com/01moynul/zyra-golang/internal/handlers"
	"github.com/01moynul/zyra-golang/internal/idempotency"
	"github.com/01moynul/zyra-golang/internal/jobs"
	"github.com/01moynul/zyra-golang/internal/logger"
	"github.com/01moynul/zyra-golang/internal/middleware"
	"github.com/01moynul/zyra-golang/internal/realtime"
	"github.com/01moynul/zyra-golang/internal/routes"
)

func main() {
	// 0. --- Load Configuration (.env + environment) ---
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", true)
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. --- Main Database Connection (Read/Write) ---
	db, err := database.Open(ctx, cfg.PrimaryDSN, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to primary database")
	}
	defer db.Close()

	if cfg.MigrateOnStart {
		if err := database.Migrate(db.DB); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
		log.Info().Msg("database schema is up to date")
	}

	app := &handlers.Handlers{
		DB:        db,
		Tokens:    auth.NewManager(cfg.JWTSecret, cfg.JWTTTL),
		Events:    events.Noop{},
		Log:       log,
		UploadDir: cfg.UploadDir,
		BaseURL:   cfg.BaseURL,
	}

	// 2. --- AI Assistant (optional, read-only connection) ---
	if cfg.AIEnabled() {
		dbReadOnly, err := database.Open(ctx, cfg.ReadOnlyDSN, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to AI read-only database")
		}
		defer dbReadOnly.Close()

		aiService, err := ai.NewAIService(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, dbReadOnly, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize AI service")
		}
		defer aiService.Close()
		app.AIService = aiService
	} else {
		log.Info().Msg("AI assistant disabled (GEMINI_API_KEY or DB_DSN_READONLY not set)")
	}

	// 3. --- Realtime hub ---
	hub := realtime.NewHub(log, handlers.NewOwnership(db), cfg.CORSOrigin)
	app.Realtime = hub

	// 4. --- Redis: idempotency keys + realtime fan-out ---
	var memoryKeys *idempotency.MemoryStore
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect to redis")
		}
		app.Idempotency = idempotency.NewRedisStore(rdb, idempotency.DefaultTTL)
		hub.UseRedis(rdb)
		go hub.Listen(ctx)
	} else {
		memoryKeys = idempotency.NewMemoryStore(idempotency.DefaultTTL)
		app.Idempotency = memoryKeys
		log.Info().Msg("redis disabled, idempotency keys and realtime stay in this process")
	}

	// 5. --- Kafka order events ---
	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer publisher.Close()
		app.Events = publisher
	}

	// 6. --- Background Workers (Cron) ---
	limiter := middleware.NewRateLimiter(float64(cfg.RateLimitRPS), cfg.RateLimitBurst)
	scheduler := jobs.New(log)
	if err := jobs.Register(scheduler, app, cfg.StaleOrderAfter, limiter); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule jobs")
	}
	if memoryKeys != nil {
		err := scheduler.Add("idempotency_sweep", "@every 30m", func(context.Context) error {
			memoryKeys.Sweep()
			return nil
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to schedule jobs")
		}
	}
	scheduler.Start()

	// --- Router Setup ---
	router := routes.SetupRouter(app, routes.Options{
		CORSOrigin: cfg.CORSOrigin,
		Limiter:    limiter,
	})

	// --- Start Server ---
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.Port).Msg("starting Zyra API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	shutdown(srv, scheduler, hub, log)
}

// shutdown stops background work first, then drains HTTP requests.
func shutdown(srv *http.Server, scheduler *jobs.Scheduler, hub *realtime.Hub, log zerolog.Logger) {
	log.Info().Msg("shutting down")
	scheduler.Stop()
	hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
