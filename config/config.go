package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Version is reported by the index and health endpoints.
const Version = "1.0.0"

type Config struct {
	Port        string
	BindAddress string
	Environment string

	DBDriver    string
	DatabaseURL string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	SQLitePath  string

	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	JWTSecret         string
	AdminUsername     string
	AdminPasswordHash string
	TokenTTL          time.Duration

	AllowedOrigins    []string
	BodyLimitBytes    int64
	RateLimitRPS      float64
	RateLimitBurst    int
	EnableLogging     bool
	StatsWindow       time.Duration
	ReconcileInterval time.Duration

	Logging LoggingConfig
}

type LoggingConfig struct {
	Level      string
	LogDir     string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "3000"),
		BindAddress: getEnv("BIND_ADDRESS", ""),
		Environment: getEnv("APP_ENV", "development"),

		DBDriver:    strings.ToLower(getEnv("DB_DRIVER", "postgres")),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "gametracker"),
		DBPassword:  getEnv("DB_PASSWORD", "gametracker"),
		DBName:      getEnv("DB_NAME", "gametracker"),
		SQLitePath:  getEnv("SQLITE_PATH", "gametracker.db"),

		RedisEnabled:  getEnvBool("REDIS_ENABLED", false),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		JWTSecret:         getEnv("JWT_SECRET", ""),
		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		TokenTTL:          getEnvDuration("ADMIN_TOKEN_TTL", 12*time.Hour),

		AllowedOrigins:    getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		BodyLimitBytes:    int64(getEnvInt("BODY_LIMIT_BYTES", 10<<20)),
		RateLimitRPS:      getEnvFloat("RATE_LIMIT_RPS", 0),
		RateLimitBurst:    getEnvInt("RATE_LIMIT_BURST", 20),
		EnableLogging:     getEnvBool("ENABLE_LOGGING", true),
		StatsWindow:       time.Duration(getEnvInt("STATS_WINDOW_DAYS", 30)) * 24 * time.Hour,
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", time.Hour),

		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			LogDir:     getEnv("LOG_DIR", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 50),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 14),
			Compress:   getEnvBool("LOG_COMPRESS", true),
		},
	}
}

// IsDevelopment reports whether internal error details may be returned to clients.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// AdminAuthEnabled reports whether admin-only routes are protected.
func (c *Config) AdminAuthEnabled() bool {
	return c.JWTSecret != "" && c.AdminPasswordHash != ""
}

func (c *Config) ListenAddr() string {
	return c.BindAddress + ":" + c.Port
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvBool(key string, defaultValue bool) bool {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func getEnvList(key string, defaultValue []string) []string {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
