package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ShahidDS/game-time-tracker/config"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type SystemHandler struct {
	db    *gorm.DB
	redis *redis.Client
	cfg   *config.Config
}

func NewSystemHandler(db *gorm.DB, redis *redis.Client, cfg *config.Config) *SystemHandler {
	return &SystemHandler{db: db, redis: redis, cfg: cfg}
}

func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	now := time.Now().UTC().Format(time.RFC3339)
	body := gin.H{
		"timestamp":   now,
		"environment": h.cfg.Environment,
		"version":     config.Version,
	}

	if err := h.pingDB(ctx); err != nil {
		_ = c.Error(err)
		body["status"] = "ERROR"
		body["database"] = "disconnected"
		body["error"] = "Database connection failed"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}

	body["status"] = "OK"
	body["database"] = "connected"
	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			body["cache"] = "unavailable"
		} else {
			body["cache"] = "connected"
		}
	}
	c.JSON(http.StatusOK, body)
}

func (h *SystemHandler) pingDB(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (h *SystemHandler) Index(c *gin.Context) {
	database := "not configured"
	if h.cfg.DatabaseURL != "" || h.cfg.DBHost != "" || h.cfg.SQLitePath != "" {
		database = "configured"
	}
	c.JSON(http.StatusOK, gin.H{
		"message":     "Game Time Tracker API",
		"version":     config.Version,
		"environment": h.cfg.Environment,
		"database":    database,
		"endpoints": gin.H{
			"health":     "/health",
			"users":      "/api/users",
			"games":      "/api/games",
			"sessions":   "/api/sessions",
			"statistics": "/api/statistics",
			"live":       "/ws/sessions",
		},
	})
}

func (h *SystemHandler) NotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"error":  "Route not found",
		"path":   c.Request.URL.Path,
		"method": c.Request.Method,
	})
}
