package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/timebank/timebank-api/internal/config"
	"github.com/timebank/timebank-api/internal/domain/admin"
	"github.com/timebank/timebank-api/internal/domain/credit"
	"github.com/timebank/timebank-api/internal/domain/escrow"
	"github.com/timebank/timebank-api/internal/domain/member"
	"github.com/timebank/timebank-api/internal/domain/notification"
	"github.com/timebank/timebank-api/internal/domain/offer"
	"github.com/timebank/timebank-api/internal/domain/request"
	"github.com/timebank/timebank-api/internal/jobs"
	"github.com/timebank/timebank-api/internal/middleware"
	"github.com/timebank/timebank-api/internal/pkg/database"
	"github.com/timebank/timebank-api/internal/pkg/jwt"
	"github.com/timebank/timebank-api/internal/pkg/logger"
	"github.com/timebank/timebank-api/internal/pkg/metrics"
	pkgresponse "github.com/timebank/timebank-api/internal/pkg/response"
	"github.com/timebank/timebank-api/internal/pkg/storage"
)

type handlers struct {
	member       *member.Handler
	offer        *offer.Handler
	request      *request.Handler
	escrow       *escrow.Handler
	notification *notification.Handler
	admin        *admin.Handler
	jobs         *jobs.Handler
}

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Str("db_driver", cfg.DBDriver).
		Msg("Starting TimeBank API")

	if cfg.MigrateOnStart {
		if err := database.Migrate(cfg.DBDriver, cfg.DatabaseURL); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
	}

	db, err := database.NewPostgres(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.New(ctx, storage.Config{
		Backend:     cfg.StorageBackend,
		S3Endpoint:  cfg.S3Endpoint,
		S3Region:    cfg.S3Region,
		S3Bucket:    cfg.S3Bucket,
		S3AccessKey: cfg.S3AccessKey,
		S3SecretKey: cfg.S3SecretKey,
		LocalDir:    cfg.LocalStorageDir,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create report storage")
	}

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	// ---------- WebSocket hub ----------
	hub := notification.NewHub(redis)
	go hub.Run()
	defer hub.Shutdown()

	// ---------- Services ----------
	credits := credit.NewService(db)
	memberService := member.NewService(db, member.NewRepository(db), credits, cfg.RegistrationBonus)
	offerRepo := offer.NewRepository(db)
	offerService := offer.NewService(offerRepo, memberService)
	requestService := request.NewService(db, request.NewRepository(db), offerRepo, memberService)
	engine := escrow.NewEngine(db, escrow.Config{
		HoldPeriod: cfg.EscrowHoldPeriod,
		OpTimeout:  cfg.LedgerOpTimeout,
	}, hub)
	adminService := admin.NewService(admin.NewRepository(db), engine, credits, memberService)
	runner := jobs.NewLedgerRunner(cfg, db, redis, store, engine)

	h := handlers{
		member:       member.NewHandler(memberService, credits),
		offer:        offer.NewHandler(offerService),
		request:      request.NewHandler(requestService),
		escrow:       escrow.NewHandler(engine),
		notification: notification.NewHandler(hub, cfg.AllowedOrigins),
		admin:        admin.NewHandler(adminService),
		jobs:         jobs.NewHandler(runner),
	}

	if cfg.JobsEnabled {
		stopJobs, err := runner.Start(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start job scheduler")
		}
		defer stopJobs()
		go runner.ListenTriggers(ctx)
	}

	limiter := middleware.NewRateLimiter(float64(cfg.RateLimitRPS), cfg.RateLimitBurst)
	limiter.StartCleanup(5*time.Minute, ctx.Done())

	r := newRouter(cfg, jwtService, limiter, h, func(ctx context.Context) error {
		return db.PingContext(ctx)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

func newRouter(cfg *config.Config, jwtService *jwt.Service, limiter *middleware.RateLimiter, h handlers, ping func(context.Context) error) chi.Router {
	authMiddleware := middleware.Auth(jwtService)

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))
	r.Use(metrics.InstrumentHandler)

	// WebSocket endpoint, token may come from ?token=
	r.With(authMiddleware).Get("/ws", h.notification.WebSocket)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				log.Warn().Err(err).Msg("Health check failed")
				pkgresponse.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Mount("/cron", h.jobs.Routes(cfg.CronSecret))

	r.Route("/api/v1", func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Handler)
		}

		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			pkgresponse.OK(w, map[string]string{"message": "pong"})
		})

		r.Mount("/offers", h.offer.Routes(authMiddleware))

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Mount("/members", h.member.Routes())
			r.Mount("/requests", h.request.Routes(h.escrow.Accept))
			r.Mount("/escrow", h.escrow.Routes())
		})
	})

	r.Mount("/api/admin", h.admin.Routes(authMiddleware))

	return r
}
