package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	JWT          JWTConfig
	Firebase     FirebaseConfig
	Redis        RedisConfig
	Notification NotificationConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// JWTConfig holds the secret shared with the auth service that issues access tokens.
type JWTConfig struct {
	AccessSecret string
	AccessExpiry time.Duration
	Issuer       string
}

type FirebaseConfig struct {
	ServiceAccountPath string
}

// RedisConfig enables the cross-instance realtime bridge and the scheduler lease when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

type NotificationConfig struct {
	SchedulerInterval time.Duration
	SweepTimeout      time.Duration
	ItemTimeout       time.Duration
	SweepBatchLimit   int
	OfflineQueueSize  int
	PushMaxAttempts   int
	PushBaseBackoff   time.Duration
	PushMaxBackoff    time.Duration
	PushBatchSize     int
	PushConcurrency   int
	PushTimeout       time.Duration
	PresenceTTL       time.Duration
	LeaseKey          string
}

// Load reads .env (if present) and builds the config from defaults overridden by the environment.
func Load() *Config {
	_ = godotenv.Load()
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8099"),
			Env:          getEnv("APP_ENV", "development"),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			DSN:             getEnv("DATABASE_DSN", "tvcast:tvcast@tcp(localhost:3306)/tvcast?charset=utf8mb4&parseTime=True&loc=UTC"),
			MaxIdleConns:    getInt("DATABASE_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getInt("DATABASE_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getDuration("DATABASE_CONN_MAX_LIFETIME", time.Hour),
		},
		JWT: JWTConfig{
			AccessSecret: getEnv("JWT_ACCESS_SECRET", "change-me-in-production"),
			AccessExpiry: getDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
			Issuer:       getEnv("JWT_ISSUER", "tvcast"),
		},
		Firebase: FirebaseConfig{
			ServiceAccountPath: getEnv("FIREBASE_SERVICE_ACCOUNT_PATH", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
			Channel:  getEnv("REDIS_REALTIME_CHANNEL", "tvcast:realtime"),
		},
		Notification: NotificationConfig{
			SchedulerInterval: getDuration("SCHEDULER_INTERVAL", 30*time.Second),
			SweepTimeout:      getDuration("SCHEDULER_SWEEP_TIMEOUT", 2*time.Minute),
			ItemTimeout:       getDuration("SCHEDULER_ITEM_TIMEOUT", 45*time.Second),
			SweepBatchLimit:   getInt("SCHEDULER_BATCH_LIMIT", 100),
			OfflineQueueSize:  getInt("OFFLINE_QUEUE_SIZE", 50),
			PushMaxAttempts:   getInt("PUSH_MAX_ATTEMPTS", 3),
			PushBaseBackoff:   getDuration("PUSH_BASE_BACKOFF", 500*time.Millisecond),
			PushMaxBackoff:    getDuration("PUSH_MAX_BACKOFF", 5*time.Second),
			PushBatchSize:     getInt("PUSH_BATCH_SIZE", 500),
			PushConcurrency:   getInt("PUSH_CONCURRENCY", 4),
			PushTimeout:       getDuration("PUSH_TIMEOUT", 15*time.Second),
			PresenceTTL:       getDuration("PRESENCE_TTL", 2*time.Minute),
			LeaseKey:          getEnv("SCHEDULER_LEASE_KEY", "tvcast:scheduler:sweep"),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getDuration accepts Go duration strings ("30s", "2m").
func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
