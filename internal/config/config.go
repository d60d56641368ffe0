package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Database DatabaseConfig
	SQLite   SQLiteConfig
	Redis    RedisConfig
	Keys     KeysConfig
}

type ServerConfig struct {
	Port               string
	Env                string
	LogLevel           string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	ShutdownTimeout    time.Duration
	RateLimitPerMinute int
	TrustedProxies     []string
	CORSAllowedOrigins []string
}

type StorageConfig struct {
	Backend     string
	AutoMigrate bool
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type SQLiteConfig struct {
	// Path to the database file. Empty means in-memory.
	Path        string
	BusyTimeout time.Duration
}

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	KeyPrefix   string
	TTL         time.Duration
	DialTimeout time.Duration
}

type KeysConfig struct {
	Prefix             string
	HeaderName         string
	BootstrapAdminKey  string
	BootstrapAdminName string
	CleanupInterval    time.Duration
	ExpiredRetention   time.Duration
	LastUsedTimeout    time.Duration
	// Minimum duration and jitter of a rejected authentication
	FailureDelay  time.Duration
	FailureJitter time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			Env:                getEnv("ENV", "development"),
			LogLevel:           getEnv("LOG_LEVEL", "info"),
			ReadTimeout:        getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:       getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:        getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout:    getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 60),
			TrustedProxies:     getEnvAsSlice("TRUSTED_PROXIES", nil),
			CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", nil),
		},
		Storage: StorageConfig{
			Backend:     strings.ToLower(getEnv("STORAGE_BACKEND", BackendMemory)),
			AutoMigrate: getEnvAsBool("AUTO_MIGRATE", true),
		},
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "keyward"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		SQLite: SQLiteConfig{
			Path:        getEnv("SQLITE_PATH", "keyward.db"),
			BusyTimeout: getEnvAsDuration("SQLITE_BUSY_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			Addr:        getEnv("REDIS_ADDR", "localhost:6379"),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvAsInt("REDIS_DB", 0),
			KeyPrefix:   getEnv("REDIS_KEY_PREFIX", "api_key:"),
			TTL:         getEnvAsDuration("REDIS_TTL", 0),
			DialTimeout: getEnvAsDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		},
		Keys: KeysConfig{
			Prefix:             getEnv("API_KEY_PREFIX", "kw_"),
			HeaderName:         getEnv("API_KEY_HEADER", "X-API-Key"),
			BootstrapAdminKey:  getEnv("BOOTSTRAP_ADMIN_KEY", ""),
			BootstrapAdminName: getEnv("BOOTSTRAP_ADMIN_NAME", "bootstrap-admin"),
			CleanupInterval:    getEnvAsDuration("KEY_CLEANUP_INTERVAL", 1*time.Hour),
			ExpiredRetention:   getEnvAsDuration("KEY_EXPIRED_RETENTION", 30*24*time.Hour),
			LastUsedTimeout:    getEnvAsDuration("KEY_LAST_USED_TIMEOUT", 5*time.Second),
			FailureDelay:       getEnvAsDuration("AUTH_FAILURE_DELAY", 0),
			FailureJitter:      getEnvAsDuration("AUTH_FAILURE_JITTER", 0),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendSQLite, BackendRedis:
	case BackendPostgres:
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q (want memory, postgres, sqlite or redis)", c.Storage.Backend)
	}

	if c.Keys.Prefix == "" || !strings.HasSuffix(c.Keys.Prefix, "_") {
		return fmt.Errorf("API_KEY_PREFIX must be non-empty and end with \"_\" (got %q)", c.Keys.Prefix)
	}
	if c.Keys.HeaderName == "" {
		return fmt.Errorf("API_KEY_HEADER cannot be empty")
	}
	if c.Keys.CleanupInterval <= 0 {
		return fmt.Errorf("KEY_CLEANUP_INTERVAL must be positive")
	}
	if c.Keys.ExpiredRetention < 0 {
		return fmt.Errorf("KEY_EXPIRED_RETENTION cannot be negative")
	}
	if c.Keys.FailureDelay < 0 || c.Keys.FailureJitter < 0 {
		return fmt.Errorf("AUTH_FAILURE_DELAY and AUTH_FAILURE_JITTER cannot be negative")
	}
	if k := c.Keys.BootstrapAdminKey; k != "" {
		if !strings.HasPrefix(k, c.Keys.Prefix) || len(k) < len(c.Keys.Prefix)+32 {
			return fmt.Errorf("BOOTSTRAP_ADMIN_KEY must start with %q and carry at least 32 characters after it", c.Keys.Prefix)
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// DSN builds the modernc sqlite connection string
func (c *SQLiteConfig) DSN() string {
	busy := c.BusyTimeout.Milliseconds()
	if c.Path == "" || c.Path == ":memory:" {
		return fmt.Sprintf(":memory:?_pragma=busy_timeout(%d)", busy)
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", c.Path, busy)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsSlice(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
