package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/dreamauth/internal/session"
	"github.com/joho/godotenv"
)

type Config struct {
	Port       string
	DBAdapter  string
	SQLiteFile string
	LogLevel   string
	// PostgreSQL connection settings
	PostgresDSN      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Session settings
	SessionStore         string
	RedisURL             string
	SessionTTL           time.Duration
	SessionTokenBytes    int
	PasswordHashCost     int
	SessionSliding       bool
	SessionSingle        bool
	SessionPurgeInterval time.Duration

	LoginRatePerMinute  int
	AllowedOrigins      []string
	BackendTokenSecret  string
	BackendTokenTTL     time.Duration
	ExposeAuthErrorKind bool
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components or returns the provided DSN
func (c *Config) BuildPostgresDSN() (string, error) {
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}

	if c.PostgresHost == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	port := c.PostgresPort
	if port == "" {
		port = "5432"
	}

	sslMode := c.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable" // local development
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, port, c.PostgresUser, c.PostgresDB, sslMode)

	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}

	return dsn, nil
}

// SessionConfig returns the authenticator settings.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		TTL:           c.SessionTTL,
		TokenBytes:    c.SessionTokenBytes,
		HashCost:      c.PasswordHashCost,
		Sliding:       c.SessionSliding,
		SingleSession: c.SessionSingle,
	}
}

// New reads the configuration from the environment, after loading a .env
// file from the working directory when one exists.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	def := session.DefaultConfig()
	c := &Config{
		Port:       getenv("PORT", "8080"),
		DBAdapter:  getenv("DB_ADAPTER", "postgres"),
		SQLiteFile: getenv("SQLITE_FILE", "./data/dreamauth.db"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		// PostgreSQL settings
		PostgresDSN:      getenv("POSTGRES_DSN", ""),
		PostgresHost:     getenv("POSTGRES_HOST", getenv("DB_HOST", "localhost")),
		PostgresPort:     getenv("POSTGRES_PORT", getenv("DB_PORT", "5432")),
		PostgresUser:     getenv("POSTGRES_USER", getenv("DB_USER", "dreamauth")),
		PostgresPassword: getenv("POSTGRES_PASSWORD", getenv("DB_PASSWORD", "")),
		PostgresDB:       getenv("POSTGRES_DB", getenv("DB_NAME", "dreamauth")),
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", getenv("DB_SSLMODE", "disable")),

		SessionStore:       getenv("SESSION_STORE", "db"),
		RedisURL:           getenv("REDIS_URL", "redis://localhost:6379/0"),
		AllowedOrigins:     splitList(getenv("ALLOWED_ORIGINS", "")),
		BackendTokenSecret: getenv("BACKEND_TOKEN_SECRET", ""),
	}

	var err error
	if c.SessionTTL, err = getDuration("SESSION_TTL", def.TTL); err != nil {
		return nil, err
	}
	if c.SessionPurgeInterval, err = getDuration("SESSION_PURGE_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}
	if c.BackendTokenTTL, err = getDuration("BACKEND_TOKEN_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if c.SessionTokenBytes, err = getInt("SESSION_TOKEN_BYTES", def.TokenBytes); err != nil {
		return nil, err
	}
	if c.PasswordHashCost, err = getInt("PASSWORD_HASH_COST", def.HashCost); err != nil {
		return nil, err
	}
	if c.LoginRatePerMinute, err = getInt("LOGIN_RATE_PER_MINUTE", 30); err != nil {
		return nil, err
	}
	if c.SessionSliding, err = getBool("SESSION_SLIDING", false); err != nil {
		return nil, err
	}
	if c.SessionSingle, err = getBool("SESSION_SINGLE", false); err != nil {
		return nil, err
	}
	if c.ExposeAuthErrorKind, err = getBool("EXPOSE_AUTH_ERROR_KIND", false); err != nil {
		return nil, err
	}

	switch c.DBAdapter {
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return nil, fmt.Errorf("postgres configuration error: %w", err)
		}
		c.PostgresDSN = dsn
	case "sqlite":
		if c.SQLiteFile == "" {
			return nil, errors.New("SQLITE_FILE must be set when DB_ADAPTER=sqlite")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}

	switch c.SessionStore {
	case "db", "memory":
	case "redis":
		if c.RedisURL == "" {
			return nil, errors.New("REDIS_URL must be set when SESSION_STORE=redis")
		}
	default:
		return nil, fmt.Errorf("unsupported SESSION_STORE: %s (supported: db, memory, redis)", c.SessionStore)
	}

	if err := c.SessionConfig().Validate(); err != nil {
		return nil, fmt.Errorf("session configuration error: %w", err)
	}
	if c.SessionPurgeInterval <= 0 {
		return nil, errors.New("SESSION_PURGE_INTERVAL must be positive")
	}
	if c.LoginRatePerMinute <= 0 {
		return nil, errors.New("LOGIN_RATE_PER_MINUTE must be positive")
	}

	env := strings.ToLower(getenv("APP_ENV", getenv("ENV", "")))
	if (env == "production" || env == "prod") && c.SessionStore == "memory" {
		return nil, errors.New("SESSION_STORE=memory is not allowed in production")
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		return nil, fmt.Errorf("invalid PORT: %s", c.Port)
	}

	return c, nil
}
