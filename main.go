package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ShahidDS/game-time-tracker/config"
	"github.com/ShahidDS/game-time-tracker/handlers"
	"github.com/ShahidDS/game-time-tracker/logging"
	"github.com/ShahidDS/game-time-tracker/metrics"
	"github.com/ShahidDS/game-time-tracker/models"
	"github.com/ShahidDS/game-time-tracker/routes"
	"github.com/ShahidDS/game-time-tracker/services"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server_exit", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	// .env is optional
	_ = godotenv.Load()

	cfg := config.Load()
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := config.InitDB(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	redisClient := config.InitRedis(cfg)
	if redisClient != nil {
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis_unavailable", slog.Any("error", err))
		}
	}

	m := metrics.New()
	hub := services.NewHub(logger)
	leaderboard := services.NewLeaderboard(db, redisClient, logger)
	gameService := services.NewGameService(db, redisClient, leaderboard, cfg.StatsWindow, logger)
	sessionService := services.NewSessionService(db, logger, leaderboard, gameService, hub, m)
	userService := services.NewUserService(db, leaderboard, logger, gameService)
	statsService := services.NewStatisticsService(db, cfg.StatsWindow)
	reconciler := services.NewReconciler(db, leaderboard, logger, gameService)
	authService := services.NewAuthService(cfg.JWTSecret, cfg.AdminUsername, cfg.AdminPasswordHash, cfg.TokenTTL)
	if !authService.Enabled() {
		logger.Warn("admin_auth_disabled", slog.String("reason", "JWT_SECRET or ADMIN_PASSWORD_HASH not set"))
	}

	scheduler, err := services.NewScheduler(reconciler, cfg.ReconcileInterval, logger)
	if err != nil {
		return err
	}

	router := routes.NewRouter(routes.Dependencies{
		Config:      cfg,
		Logger:      logger,
		Metrics:     m,
		Users:       handlers.NewUserHandler(userService),
		Games:       handlers.NewGameHandler(gameService),
		Sessions:    handlers.NewSessionHandler(sessionService),
		Statistics:  handlers.NewStatisticsHandler(statsService, leaderboard),
		Admin:       handlers.NewAdminHandler(authService, reconciler),
		System:      handlers.NewSystemHandler(db, redisClient, cfg),
		Live:        handlers.NewLiveHandler(hub, logger),
		AuthService: authService,
	})

	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error {
		logger.Info("server_start",
			slog.String("addr", server.Addr),
			slog.String("environment", cfg.Environment),
			slog.String("db_driver", cfg.DBDriver),
			slog.Any("allowed_origins", cfg.AllowedOrigins),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server_shutdown")
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
