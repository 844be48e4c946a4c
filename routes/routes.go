package routes

import (
	"log/slog"

	"github.com/ShahidDS/game-time-tracker/config"
	"github.com/ShahidDS/game-time-tracker/handlers"
	"github.com/ShahidDS/game-time-tracker/metrics"
	"github.com/ShahidDS/game-time-tracker/middleware"
	"github.com/ShahidDS/game-time-tracker/services"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// Dependencies carries everything the router wires into handlers.
type Dependencies struct {
	Config      *config.Config
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Users       *handlers.UserHandler
	Games       *handlers.GameHandler
	Sessions    *handlers.SessionHandler
	Statistics  *handlers.StatisticsHandler
	Admin       *handlers.AdminHandler
	System      *handlers.SystemHandler
	Live        *handlers.LiveHandler
	AuthService *services.AuthService
}

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(services.JSONFieldName)
	}
}

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(deps Dependencies) *gin.Engine {
	cfg := deps.Config
	router := gin.New()
	router.HandleMethodNotAllowed = false

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(deps.Logger, cfg.IsDevelopment()))
	if cfg.EnableLogging {
		router.Use(middleware.RequestLogger(deps.Logger))
	}
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
	}
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPathsRegexs([]string{"^/ws/"})))
	router.Use(middleware.BodyLimit(cfg.BodyLimitBytes))
	router.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))

	SetupRoutes(router, deps)
	return router
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	admin := middleware.AdminAuth(deps.AuthService, deps.Logger)

	api := router.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", deps.Admin.Login)
		}

		users := api.Group("/users")
		{
			users.GET("", deps.Users.ListUsers)
			users.POST("", deps.Users.CreateUser)
			users.GET("/:id", deps.Users.GetUser)
			users.PUT("/:id", deps.Users.UpdateUser)
			users.DELETE("/:id", deps.Users.DeleteUser)
		}

		games := api.Group("/games")
		{
			games.GET("", deps.Games.ListGames)
			games.GET("/stats", deps.Games.GameOverview)
			games.GET("/:id", deps.Games.GetGame)
			games.GET("/:id/stats", deps.Games.GameDetail)
			games.POST("", admin, deps.Games.CreateGame)
			games.PUT("/:id", admin, deps.Games.UpdateGame)
			games.DELETE("/:id", admin, deps.Games.DeleteGame)
		}

		sessions := api.Group("/sessions")
		{
			sessions.POST("", deps.Sessions.RecordSession)
			sessions.GET("", deps.Sessions.ListSessions)
			sessions.GET("/:userId", deps.Sessions.ListUserSessions)
			sessions.DELETE("/:id", deps.Sessions.DeleteSession)
		}

		statistics := api.Group("/statistics")
		{
			statistics.GET("/games/:gameId", deps.Statistics.GameStatistics)
			statistics.GET("/topPlayer/:gameId", deps.Statistics.TopPlayer)
			statistics.GET("/leaderboard/:gameId", deps.Statistics.Leaderboard)
			statistics.GET("/:id", deps.Statistics.UserStatistics)
			statistics.GET("/:id/:gameId", deps.Statistics.UserGameStatistics)
		}

		adminGroup := api.Group("/admin", admin)
		{
			adminGroup.POST("/reconcile", deps.Admin.Reconcile)
		}
	}

	if deps.Live != nil {
		router.GET("/ws/sessions", deps.Live.Sessions)
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	router.GET("/health", deps.System.Health)
	router.GET("/", deps.System.Index)
	router.NoRoute(deps.System.NotFound)
}
