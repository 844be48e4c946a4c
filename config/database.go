package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	dbConnectAttempts = 5
	dbBaseDelay       = 2 * time.Second
	dbMaxDelay        = 30 * time.Second
)

func (c *Config) dialector() (gorm.Dialector, error) {
	switch c.DBDriver {
	case "postgres", "postgresql", "":
		dsn := c.DatabaseURL
		if dsn == "" {
			dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
				c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
		}
		return postgres.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(c.SQLitePath), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
}

// InitDB opens the database, retrying with exponential backoff while the
// server comes up.
func InitDB(ctx context.Context, cfg *Config, log *slog.Logger) (*gorm.DB, error) {
	dialector, err := cfg.dialector()
	if err != nil {
		return nil, err
	}

	gormCfg := &gorm.Config{
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}

	var lastErr error
	for attempt := 0; attempt < dbConnectAttempts; attempt++ {
		db, err := gorm.Open(dialector, gormCfg)
		if err == nil {
			if err = ping(ctx, db); err == nil {
				if attempt > 0 {
					log.Info("db_connect_success_after_retry", slog.Int("attempts", attempt+1))
				}
				return db, nil
			}
		}
		lastErr = err

		if attempt == dbConnectAttempts-1 {
			break
		}
		delay := dbBaseDelay * time.Duration(1<<uint(attempt))
		if delay > dbMaxDelay {
			delay = dbMaxDelay
		}
		log.Warn("db_connect_retry",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("failed to connect to database: %w", lastErr)
}

func ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(pingCtx)
}

// InitRedis returns nil when Redis is disabled.
func InitRedis(cfg *Config) *redis.Client {
	if !cfg.RedisEnabled {
		return nil
	}

	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}
